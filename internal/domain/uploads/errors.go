package uploads

import "errors"

var (
	// ErrNotFound indicates the upload does not exist for the owner.
	ErrNotFound = errors.New("upload not found")
	// ErrUnsupportedType indicates a content type the detector cannot read.
	ErrUnsupportedType = errors.New("unsupported image content type")
	// ErrTooLarge indicates the image exceeds the configured size cap.
	ErrTooLarge = errors.New("image exceeds maximum upload size")
	// ErrNotQueued indicates a detect request for an upload that is not
	// awaiting detection: another worker holds the claim or the upload
	// already completed.
	ErrNotQueued = errors.New("upload is not queued for detection")
)
