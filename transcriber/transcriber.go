// Package transcriber turns an audio file into a transcript and its
// Whisper-style timestamped segments. A Transcriber performs exactly one
// attempt per call; the scheduler owns retry policy and timeouts.
package transcriber

import (
	"context"

	"transcribepipeline/core"
)

// Result is one Transcriber.Transcribe outcome.
type Result struct {
	Transcript string
	Language   string
	Segments   []core.Segment
}

// Transcriber converts audio at a local file path into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (Result, error)
}
