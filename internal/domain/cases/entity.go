package cases

import "time"

// CaseID identifier type
type CaseID string

// Status enum
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusClosed      Status = "closed"
)

// Aggregate root: Case groups one forensic incident's uploads, location
// and analysis results.
type Case struct {
	ID            CaseID    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	SceneLocation string    `json:"scene_location,omitempty"`
	// SceneTempC is the ambient temperature recorded at the scene; the
	// accumulated degree-hour PMI model divides by it.
	SceneTempC   float64   `json:"scene_temp_c"`
	DiscoveredAt time.Time `json:"discovered_at"`
	Status       Status    `json:"status"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ValidStatus reports whether s is a known case status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusUnderReview, StatusClosed:
		return true
	}
	return false
}
