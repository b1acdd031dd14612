package detections

import "errors"

var (
	// ErrNotFound indicates the detection does not exist for the owner.
	ErrNotFound = errors.New("detection not found")
	// ErrQuotaExceeded indicates the detector provider returned a
	// quota/limit error (HTTP 429 or similar).
	ErrQuotaExceeded = errors.New("detector quota exceeded")
	// ErrBadCorrection indicates a "corrected" verification whose
	// corrected stage is missing or equal to the detected stage.
	ErrBadCorrection = errors.New("corrected stage must differ from detected stage")
	// ErrBadVerdict indicates a verification value that is not a verdict.
	ErrBadVerdict = errors.New("verdict must be confirmed, corrected or rejected")
)
