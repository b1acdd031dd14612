package analysis

import (
	"github.com/entomolab/casetrace/internal/domain/detections"
)

// Accumulated degree-hour PMI model for Calliphoridae.
//
// Development is modelled as heat accumulation above a base temperature:
// reaching a given life stage requires a minimum number of degree-hours
// (sum over time of ambient temperature minus base). Dividing the stage's
// degree-hour window by the effective scene temperature yields an elapsed
// time window, which is the PMI estimate.

const (
	// BaseTempC is the development threshold below which blowfly
	// development effectively stops.
	BaseTempC = 6.0
	// MinEffectiveTempC floors the divisor so estimates stay finite at
	// scene temperatures near the development threshold.
	MinEffectiveTempC = 1.0
)

// adhWindow is the [min, max] accumulated degree-hours during which a
// stage is observable. Values follow published Calliphora development
// data at constant rearing temperatures.
type adhWindow struct {
	lo float64
	hi float64
}

var stageADH = map[detections.LifeStage]adhWindow{
	detections.StageEgg:     {0, 270},
	detections.StageInstar1: {270, 470},
	detections.StageInstar2: {470, 810},
	detections.StageInstar3: {810, 1950},
	detections.StagePupa:    {1950, 5820},
	// emergence onward; the upper bound covers the post-emergence window
	// during which adults remain associated with the remains
	detections.StageAdult: {5820, 8730},
}

// EstimatePMI converts the oldest observed stage and the scene
// temperature into a PMI window in hours. The second return value is
// true when the divisor had to be clamped, which makes the estimate
// suspect.
func EstimatePMI(oldest detections.LifeStage, sceneTempC float64) (minHours, maxHours float64, suspect bool) {
	w, ok := stageADH[oldest]
	if !ok {
		return 0, 0, true
	}
	eff := sceneTempC - BaseTempC
	if eff < MinEffectiveTempC {
		eff = MinEffectiveTempC
		suspect = true
	}
	return w.lo / eff, w.hi / eff, suspect
}
