package worker

import (
	"context"
	"fmt"

	"go.fileflow.dev/internal/common/lock"
	downloadops "go.fileflow.dev/internal/download/operations"
	"go.fileflow.dev/internal/queue"
)

// ExternalDownloadConsumerName labels the external download consumer in
// metrics and logs.
const ExternalDownloadConsumerName = "external-download"

// NewExternalDownloadConsumer consumes ExternalDownloadMessage: each message
// drives one fetch-and-store attempt under the download's task lock.
//
// The aggregate's own retry state machine decides between redelivery and
// terminal failure: a retryable outcome delays the redelivery by the
// aggregate's backoff, a terminal one acknowledges.
func NewExternalDownloadConsumer(consumer queue.Consumer, locks lock.Coordinator, uc *downloadops.ProcessExternalDownloadUseCase) *LockedConsumer {
	keyFn := func(msg queue.Message) (string, error) {
		m, err := decodeDownloadMessage(msg)
		if err != nil {
			return "", err
		}
		return "external-download:" + m.ExternalDownloadID, nil
	}

	handle := func(ctx context.Context, msg queue.Message) (Outcome, error) {
		m, err := decodeDownloadMessage(msg)
		if err != nil {
			return Outcome{Ack: true}, nil
		}

		result := uc.Execute(ctx, m.ExternalDownloadID)
		if !result.IsSuccess() {
			if result.Error.IsClientError() {
				// Redelivery cannot fix a missing or mis-stated aggregate
				return Outcome{Ack: true}, nil
			}
			return Outcome{}, result.Error
		}

		if result.Value.Retry {
			return Outcome{RetryDelay: result.Value.Download.RetryDelay()}, nil
		}
		return Outcome{Ack: true}, nil
	}

	return NewLockedConsumer(ExternalDownloadConsumerName, consumer, locks, DownloadLease, keyFn, handle)
}

func decodeDownloadMessage(msg queue.Message) (*queue.ExternalDownloadMessage, error) {
	var m queue.ExternalDownloadMessage
	if err := queue.DecodeMessage(msg.Data(), &m); err != nil {
		return nil, fmt.Errorf("decode external download message: %w", err)
	}
	if m.ExternalDownloadID == "" {
		return nil, fmt.Errorf("external download message %s has no download id", msg.ID())
	}
	return &m, nil
}
