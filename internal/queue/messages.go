package queue

import "encoding/json"

// Queue message shapes. Each is consumed by exactly one consumer; producers
// are the outbox dispatcher (via outbox record payloads) and the scheduler.

// ExternalDownloadMessage instructs a worker to fetch a remote file into the
// object store.
type ExternalDownloadMessage struct {
	ExternalDownloadID string `json:"externalDownloadId"`
	SourceURL          string `json:"sourceUrl"`
}

// FileProcessingMessage instructs a worker to run post-upload processing for
// a stored file.
type FileProcessingMessage struct {
	FileAssetID string `json:"fileAssetId"`
	OutboxID    string `json:"outboxId"`
	EventType   string `json:"eventType"`
}

// CrawlTaskPayload instructs a worker to run a scheduled crawl task against a
// seller endpoint.
type CrawlTaskPayload struct {
	TaskID      string `json:"taskId"`
	SchedulerID string `json:"schedulerId"`
	SellerID    string `json:"sellerId"`
	TaskType    string `json:"taskType"`
	Endpoint    string `json:"endpoint"`
}

// Subjects route messages within a shared NATS stream and label SQS sends.
const (
	SubjectExternalDownload = "fileflow.download.requested"
	SubjectFileProcessing   = "fileflow.processing.requested"
	SubjectCrawlTask        = "fileflow.crawl.task"
)

// EncodeMessage serializes a message payload to JSON.
func EncodeMessage(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeMessage deserializes a message payload from JSON.
func DecodeMessage(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
