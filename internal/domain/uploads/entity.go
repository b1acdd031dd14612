package uploads

import "time"

// UploadID identifier type
type UploadID string

// Status enum: queued -> processing -> complete | failed
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Upload is one specimen image attached to a case. ObjectKey is the
// location in the image store; ImageURL is what the detector is given.
type Upload struct {
	ID          UploadID   `json:"id"`
	CaseID      string     `json:"case_id"`
	OwnerID     string     `json:"owner_id"`
	ObjectKey   string     `json:"object_key"`
	ImageURL    string     `json:"image_url"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Status      Status     `json:"status"`
	FailReason  string     `json:"fail_reason,omitempty"`
	QueuedAt    time.Time  `json:"queued_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
