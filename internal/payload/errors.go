package payload

import (
	"errors"
	"fmt"
)

// Stage names the codec step that rejected the input.
type Stage string

const (
	StageDecode     Stage = "decode"
	StageDecompress Stage = "decompress"
	StageParse      Stage = "parse"
	StageValidate   Stage = "validate"
	StageSize       Stage = "size"
)

// Error is returned by every codec operation.
type Error struct {
	Stage Stage
	// Field is set for validation failures.
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("payload %s", e.Stage)
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsStage reports whether err is a codec error raised at stage.
func IsStage(err error, stage Stage) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Stage == stage
}

func invalid(field, reason string) *Error {
	return &Error{Stage: StageValidate, Field: field, Reason: reason}
}
