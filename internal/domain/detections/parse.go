package detections

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawDetection mirrors the JSON the detector is instructed to emit.
// Field aliases cover the variants vision models actually produce.
type rawDetection struct {
	Stage       string  `json:"stage"`
	LifeStage   string  `json:"life_stage"`
	Species     string  `json:"species"`
	SpeciesHint string  `json:"species_hint"`
	Confidence  float64 `json:"confidence"`
	Box         struct {
		X int `json:"x"`
		Y int `json:"y"`
		W int `json:"w"`
		H int `json:"h"`
	} `json:"box"`
	BBox []int `json:"bbox"`
}

// stage name aliases the detector occasionally emits
var stageAliases = map[string]LifeStage{
	"egg":           StageEgg,
	"eggs":          StageEgg,
	"instar1":       StageInstar1,
	"first instar":  StageInstar1,
	"1st instar":    StageInstar1,
	"instar2":       StageInstar2,
	"second instar": StageInstar2,
	"2nd instar":    StageInstar2,
	"instar3":       StageInstar3,
	"third instar":  StageInstar3,
	"3rd instar":    StageInstar3,
	"larva":         StageInstar1,
	"pupa":          StagePupa,
	"pupae":         StagePupa,
	"puparium":      StagePupa,
	"adult":         StageAdult,
	"imago":         StageAdult,
	"fly":           StageAdult,
}

// ParseDetections decodes raw detector output into detections. The
// parser is deliberately tolerant: it accepts either a top-level array
// or an object with a "detections" key, normalizes stage aliases, clamps
// confidence into [0,1] and silently drops entries whose stage it cannot
// map. An empty result with no error means the image had no specimens.
func ParseDetections(raw string) ([]Detection, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty detector output")
	}

	var items []rawDetection
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		var obj struct {
			Detections []rawDetection `json:"detections"`
		}
		if err2 := json.Unmarshal([]byte(raw), &obj); err2 != nil {
			return nil, fmt.Errorf("decoding detector output: %w", err)
		}
		items = obj.Detections
	}

	var out []Detection
	for _, it := range items {
		name := it.Stage
		if name == "" {
			name = it.LifeStage
		}
		stage, ok := stageAliases[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}

		conf := it.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			// some models answer in percent
			if conf <= 100 {
				conf = conf / 100
			} else {
				conf = 1
			}
		}

		d := Detection{
			Stage:        stage,
			SpeciesHint:  firstNonEmpty(it.SpeciesHint, it.Species),
			Confidence:   conf,
			Verification: VerificationPending,
		}
		if len(it.BBox) == 4 {
			d.Box = BoundingBox{X: it.BBox[0], Y: it.BBox[1], W: it.BBox[2], H: it.BBox[3]}
		} else {
			d.Box = BoundingBox{X: it.Box.X, Y: it.Box.Y, W: it.Box.W, H: it.Box.H}
		}
		out = append(out, d)
	}
	return out, nil
}

// CountStages tallies effective stages over a detection set, skipping
// rejected entries.
func CountStages(ds []*Detection) StageCounts {
	var c StageCounts
	for _, d := range ds {
		if d.Verification == VerificationRejected {
			continue
		}
		c.Add(d.EffectiveStage())
	}
	return c
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
