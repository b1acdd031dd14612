package detecterrors

import "time"

// DetectError represents a persisted detection failure entry
type DetectError struct {
	ID        int64     `json:"id"`
	UploadID  string    `json:"upload_id"`
	Phase     string    `json:"phase,omitempty"` // detect | parse | store
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
