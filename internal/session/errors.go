package session

import "errors"

var (
	// ErrCameraNotReady means no frame has arrived yet. The operator retries.
	ErrCameraNotReady = errors.New("camera not ready")
	// ErrEncoding means the cropped region could not be encoded.
	ErrEncoding = errors.New("image encoding failed")
	// ErrInvalidState means the action is not valid in the current state,
	// e.g. capturing after all 30 slots are done.
	ErrInvalidState = errors.New("invalid session state")
	// ErrSubjectRequired means the subject name or gender is missing.
	ErrSubjectRequired = errors.New("subject name and gender are required")
)
