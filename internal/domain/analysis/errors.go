package analysis

import "errors"

var (
	// ErrNotFound indicates no estimate exists for the case yet.
	ErrNotFound = errors.New("no analysis for case")
	// ErrNoDetections indicates the case has no usable detections to
	// estimate from.
	ErrNoDetections = errors.New("case has no detections to analyze")
)
