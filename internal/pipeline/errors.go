package pipeline

import (
	"errors"
	"fmt"

	"github.com/bobarin/talkinghead/internal/models"
)

var (
	// ErrBusy is returned for input changes and triggers while a stage is in flight.
	ErrBusy = errors.New("pipeline is busy")
	// ErrInvalidStage is returned for triggers the current stage does not accept.
	ErrInvalidStage = errors.New("action not allowed in the current stage")
)

// ValidationError rejects a trigger before any remote call. It never changes
// the stage.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func wrongStage(action string, stage models.Stage) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidStage, action, stage)
}

// thumbnailError marks a video that was generated and downloaded but could
// not be turned into a history item.
type thumbnailError struct{ err error }

func (e *thumbnailError) Error() string {
	return "the video was created but could not be prepared for display: " + e.err.Error()
}

func (e *thumbnailError) Unwrap() error { return e.err }
