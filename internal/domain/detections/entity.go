package detections

import "time"

// DetectionID identifier type
type DetectionID string

// LifeStage enum, ordered by development: the index doubles as the
// development rank used when picking the oldest observed stage.
type LifeStage string

const (
	StageEgg     LifeStage = "egg"
	StageInstar1 LifeStage = "instar1"
	StageInstar2 LifeStage = "instar2"
	StageInstar3 LifeStage = "instar3"
	StagePupa    LifeStage = "pupa"
	StageAdult   LifeStage = "adult"
)

// stageRank orders stages by development progress.
var stageRank = map[LifeStage]int{
	StageEgg:     0,
	StageInstar1: 1,
	StageInstar2: 2,
	StageInstar3: 3,
	StagePupa:    4,
	StageAdult:   5,
}

// ValidStage reports whether s is a known life stage.
func ValidStage(s LifeStage) bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the development order of s (egg=0 .. adult=5), -1 if unknown.
func Rank(s LifeStage) int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// Older reports whether a indicates more development time than b.
func Older(a, b LifeStage) bool {
	return Rank(a) > Rank(b)
}

// Verification enum
type Verification string

const (
	VerificationPending   Verification = "pending"
	VerificationConfirmed Verification = "confirmed"
	VerificationCorrected Verification = "corrected"
	VerificationRejected  Verification = "rejected"
)

// ValidVerification reports whether v is a known verification status.
func ValidVerification(v Verification) bool {
	switch v {
	case VerificationPending, VerificationConfirmed, VerificationCorrected, VerificationRejected:
		return true
	}
	return false
}

// BoundingBox locates a specimen within the image, pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one identified specimen/life-stage instance within an
// uploaded image.
type Detection struct {
	ID             DetectionID  `json:"id"`
	UploadID       string       `json:"upload_id"`
	CaseID         string       `json:"case_id"`
	Stage          LifeStage    `json:"stage"`
	SpeciesHint    string       `json:"species_hint,omitempty"`
	Confidence     float64      `json:"confidence"`
	Box            BoundingBox  `json:"box"`
	Verification   Verification `json:"verification"`
	CorrectedStage LifeStage    `json:"corrected_stage,omitempty"`
	VerifiedBy     string       `json:"verified_by,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	VerifiedAt     *time.Time   `json:"verified_at,omitempty"`
}

// EffectiveStage returns the corrected stage when the detection was
// corrected during review, otherwise the detected stage.
func (d *Detection) EffectiveStage() LifeStage {
	if d.Verification == VerificationCorrected && d.CorrectedStage != "" {
		return d.CorrectedStage
	}
	return d.Stage
}

// StageCounts value object
type StageCounts struct {
	Egg     int `json:"egg"`
	Instar1 int `json:"instar1"`
	Instar2 int `json:"instar2"`
	Instar3 int `json:"instar3"`
	Pupa    int `json:"pupa"`
	Adult   int `json:"adult"`
	Total   int `json:"total"`
}

// Add increments the counter for stage s.
func (c *StageCounts) Add(s LifeStage) {
	switch s {
	case StageEgg:
		c.Egg++
	case StageInstar1:
		c.Instar1++
	case StageInstar2:
		c.Instar2++
	case StageInstar3:
		c.Instar3++
	case StagePupa:
		c.Pupa++
	case StageAdult:
		c.Adult++
	default:
		return
	}
	c.Total++
}

// ConfidenceBuckets value object for the dashboard distribution:
// low < 0.5, 0.5 <= medium <= 0.8, high > 0.8.
type ConfidenceBuckets struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}
