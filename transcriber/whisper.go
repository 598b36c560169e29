package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"

	"transcribepipeline/core"
	"transcribepipeline/errs"
)

// WhisperExecTranscriber shells out to a whisper-compatible executable
// that writes one JSON object to stdout, holding a "language" string and a
// "segments" array of {start,end,text} objects, the same contract the pack's scripts/whisper_transcribe.py script
// honored for LocalWhisperASR.
type WhisperExecTranscriber struct {
	// BinaryPath is the whisper-compatible executable to invoke.
	BinaryPath string
	// ModelSize is passed through as a --model flag.
	ModelSize string
}

// NewWhisperExecTranscriber builds a WhisperExecTranscriber.
func NewWhisperExecTranscriber(binaryPath, modelSize string) *WhisperExecTranscriber {
	return &WhisperExecTranscriber{BinaryPath: binaryPath, ModelSize: modelSize}
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type whisperOutput struct {
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

func (w *WhisperExecTranscriber) Transcribe(ctx context.Context, audioPath string) (Result, error) {
	if _, err := os.Stat(audioPath); err != nil {
		if os.IsNotExist(err) {
			return Result{}, errs.Permanentf("audio file missing: %s", audioPath)
		}
		return Result{}, errs.Wrap(err, "stat audio file %s", audioPath)
	}

	cmd := exec.CommandContext(ctx, w.BinaryPath, "--model", w.ModelSize, audioPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, errs.Wrap(ctx.Err(), "transcription timed out")
		}
		return Result{}, errs.Transientf("whisper process failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out whisperOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, errs.Transientf("decode whisper output: %v", err)
	}

	segments := make([]core.Segment, len(out.Segments))
	var sb strings.Builder
	for i, s := range out.Segments {
		segments[i] = core.Segment{Start: s.Start, End: s.End, Text: s.Text}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strings.TrimSpace(s.Text))
	}

	return Result{
		Transcript: sb.String(),
		Language:   out.Language,
		Segments:   segments,
	}, nil
}
