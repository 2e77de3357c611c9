// Package apperr defines the classified errors returned by the transcription
// pipeline. Every error carries a machine-readable kind and the HTTP status
// class it maps to.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindFileTooLarge      Kind = "file_too_large"
	KindUnsupportedFormat Kind = "invalid_file_format"
	KindCorruptedFile     Kind = "invalid_audio_file"
	KindDurationExceeded  Kind = "file_too_long"
	KindServerBusy        Kind = "server_busy"
	KindModelLoad         Kind = "model_load_error"
	KindTranscription     Kind = "server_error"
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// FileTooLarge reports an upload exceeding the configured size limit.
func FileTooLarge(size, maxSize int64) *Error {
	return &Error{
		Kind:   KindFileTooLarge,
		Status: 413,
		Message: fmt.Sprintf("Audio file too large: %.1fMB (max: %.1fMB)",
			float64(size)/(1024*1024), float64(maxSize)/(1024*1024)),
	}
}

// UnsupportedFormat reports a file whose format matched no detection tier.
func UnsupportedFormat(detected string, allowed []string) *Error {
	return &Error{
		Kind:   KindUnsupportedFormat,
		Status: 400,
		Message: fmt.Sprintf("Unsupported file format: %s. Allowed formats: %s",
			detected, strings.Join(allowed, ", ")),
	}
}

// CorruptedFile reports a file that failed the integrity check.
func CorruptedFile(reason string) *Error {
	return &Error{
		Kind:    KindCorruptedFile,
		Status:  422,
		Message: "Invalid audio file: " + reason,
	}
}

// DurationExceeded reports audio longer than the configured duration limit.
func DurationExceeded(duration, maxDuration float64) *Error {
	return &Error{
		Kind:   KindDurationExceeded,
		Status: 413,
		Message: fmt.Sprintf("Audio file too long: %.1f minutes (max: %.1f minutes)",
			duration/60, maxDuration/60),
	}
}

// ServerBusy reports that the pool is at capacity.
func ServerBusy(capacity int) *Error {
	return &Error{
		Kind:    KindServerBusy,
		Status:  503,
		Message: fmt.Sprintf("Server busy. Maximum %d concurrent requests.", capacity),
	}
}

// ModelLoad reports a failed engine model load.
func ModelLoad(modelName string, cause error) *Error {
	return &Error{
		Kind:    KindModelLoad,
		Status:  500,
		Message: fmt.Sprintf("Failed to load model %s: %v", modelName, cause),
		cause:   cause,
	}
}

// Transcription reports an engine failure during job execution.
func Transcription(cause error) *Error {
	return &Error{
		Kind:    KindTranscription,
		Status:  500,
		Message: fmt.Sprintf("Transcription failed: %v", cause),
		cause:   cause,
	}
}

// As unwraps err to a classified *Error, if it is one.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of a classified error, or KindTranscription for
// anything unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindTranscription
}

// StatusOf returns the HTTP status a classified error maps to, defaulting
// to 500 for unclassified errors.
func StatusOf(err error) int {
	if e, ok := As(err); ok {
		return e.Status
	}
	return 500
}
