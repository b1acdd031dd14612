package analysis

import (
	"time"

	"github.com/entomolab/casetrace/internal/domain/detections"
)

// EstimateID identifier type
type EstimateID string

// MethodADHv1 tags estimates produced by the accumulated degree-hour model.
const MethodADHv1 = "adh-v1"

// Estimate is one computed post-mortem interval for a case.
type Estimate struct {
	ID             EstimateID           `json:"id"`
	CaseID         string               `json:"case_id"`
	PMIHoursMin    float64              `json:"pmi_hours_min"`
	PMIHoursMax    float64              `json:"pmi_hours_max"`
	OldestStage    detections.LifeStage `json:"oldest_stage"`
	MeanConfidence float64              `json:"mean_confidence"`
	Method         string               `json:"method"`
	// Suspect is set when the scene temperature sat at or below the
	// development floor and the divisor had to be clamped.
	Suspect    bool      `json:"suspect"`
	ComputedAt time.Time `json:"computed_at"`
}
