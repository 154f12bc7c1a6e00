package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.fileflow.dev/internal/common/lock"
	"go.fileflow.dev/internal/core/common"
	downloadops "go.fileflow.dev/internal/download/operations"
	"go.fileflow.dev/internal/queue"
)

// CrawlConsumerName labels the crawl task consumer in metrics and logs.
const CrawlConsumerName = "crawl-task"

// crawlListing is the JSON body a seller endpoint returns: the files the
// crawl should pull in.
type crawlListing struct {
	Files []crawlFile `json:"files"`
}

type crawlFile struct {
	SourceURL  string `json:"sourceUrl"`
	StorageKey string `json:"storageKey"`
}

// CrawlTaskHandler fetches a seller endpoint's file listing and requests an
// external download for each listed file. The downloads themselves run later
// on the download consumer; a crawl task only seeds them.
type CrawlTaskHandler struct {
	requestDownload *downloadops.RequestExternalDownloadUseCase
	client          *http.Client
	bucket          string
	logger          *slog.Logger
}

// NewCrawlTaskHandler creates a crawl task handler storing fetched files in
// the given bucket.
func NewCrawlTaskHandler(requestDownload *downloadops.RequestExternalDownloadUseCase, bucket string, timeout time.Duration) *CrawlTaskHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CrawlTaskHandler{
		requestDownload: requestDownload,
		client:          &http.Client{Timeout: timeout},
		bucket:          bucket,
		logger:          slog.Default().With("consumer", CrawlConsumerName),
	}
}

// NewCrawlTaskConsumer consumes CrawlTaskPayload under the task lock.
func NewCrawlTaskConsumer(consumer queue.Consumer, locks lock.Coordinator, handler *CrawlTaskHandler) *LockedConsumer {
	keyFn := func(msg queue.Message) (string, error) {
		m, err := decodeCrawlPayload(msg)
		if err != nil {
			return "", err
		}
		return "crawl-task:" + m.TaskID, nil
	}

	return NewLockedConsumer(CrawlConsumerName, consumer, locks, CrawlLease, keyFn, handler.Handle)
}

// Handle fetches the listing and seeds one download request per file.
// Requesting the same file twice is absorbed by the download idempotency key,
// so a redelivered crawl task never duplicates downloads.
func (h *CrawlTaskHandler) Handle(ctx context.Context, msg queue.Message) (Outcome, error) {
	m, err := decodeCrawlPayload(msg)
	if err != nil {
		return Outcome{Ack: true}, nil
	}

	listing, err := h.fetchListing(ctx, m.Endpoint)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetch listing for task %s: %w", m.TaskID, err)
	}

	seeded := 0
	for _, f := range listing.Files {
		// The crawl task is the owning aggregate for files it discovers
		result := h.requestDownload.Execute(ctx, downloadops.RequestExternalDownloadCommand{
			SessionID:      m.TaskID,
			SourceURL:      f.SourceURL,
			Bucket:         h.bucket,
			StorageKey:     f.StorageKey,
			IdempotencyKey: fmt.Sprintf("crawl:%s:%s", m.TaskID, f.StorageKey),
		})
		if !result.IsSuccess() {
			if result.Error.Kind == common.ErrorKindValidation {
				h.logger.Warn("Skipping invalid listed file",
					"taskId", m.TaskID,
					"sourceUrl", f.SourceURL,
					"error", result.Error)
				continue
			}
			return Outcome{}, result.Error
		}
		seeded++
	}

	h.logger.Info("Crawl task seeded downloads",
		"taskId", m.TaskID,
		"sellerId", m.SellerID,
		"listed", len(listing.Files),
		"seeded", seeded)
	return Outcome{Ack: true}, nil
}

func (h *CrawlTaskHandler) fetchListing(ctx context.Context, endpoint string) (*crawlListing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing endpoint returned status %d", resp.StatusCode)
	}

	var listing crawlListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	return &listing, nil
}

func decodeCrawlPayload(msg queue.Message) (*queue.CrawlTaskPayload, error) {
	var m queue.CrawlTaskPayload
	if err := queue.DecodeMessage(msg.Data(), &m); err != nil {
		return nil, fmt.Errorf("decode crawl task payload: %w", err)
	}
	if m.TaskID == "" || m.Endpoint == "" {
		return nil, fmt.Errorf("crawl task payload %s missing task id or endpoint", msg.ID())
	}
	return &m, nil
}
