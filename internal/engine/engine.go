// Package engine defines the transcription engine interface and its
// whisper.cpp subprocess implementation.
package engine

import (
	"context"

	"whisperd/internal/model"
)

// Request describes one transcription run.
type Request struct {
	AudioPath   string
	Model       model.Ref
	Language    string
	Temperature float64
}

// Segment is one timed slice of the transcript.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a completed transcription.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}

// Engine runs a transcription against a loaded model. Implementations may
// return any error; the worker wraps it into a classified failure.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (Result, error)
}
