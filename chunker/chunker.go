// Package chunker splits a job's transcript into contiguous, topic-coherent
// chunks. The primary strategy delegates topic boundaries to a TopicOracle
// (normally an LLM); a gap/overlap validator repairs small inconsistencies
// in what it returns, and a sentence-grouping fallback takes over once the
// primary strategy has failed too many times.
package chunker

import (
	"context"
	"sort"
	"strings"

	"transcribepipeline/core"
	"transcribepipeline/errs"
)

// Proposal is one candidate chunk boundary returned by a TopicOracle, in
// character offsets into the full transcript text.
type Proposal struct {
	TopicSummary string
	Keywords     []string
	Confidence   float64
	StartCharPos int
	EndCharPos   int
}

// TopicOracle proposes topic-coherent chunk boundaries for a transcript.
type TopicOracle interface {
	ProposeChunks(ctx context.Context, transcript string) ([]Proposal, error)
}

// Chunker turns a transcript and its timestamped segments into chunks,
// preferring oracle-proposed topic boundaries and falling back to fixed-size
// sentence grouping when the oracle is unavailable or its output cannot be
// repaired into a valid, transcript-covering partition.
type Chunker struct {
	oracle        TopicOracle
	oracleRetries int
	fallback      *SentenceChunker
}

// New builds a Chunker. oracle may be nil, in which case the sentence
// fallback is used unconditionally.
func New(oracle TopicOracle, oracleRetries int, fallback *SentenceChunker) *Chunker {
	if oracleRetries < 0 {
		oracleRetries = 0
	}
	return &Chunker{oracle: oracle, oracleRetries: oracleRetries, fallback: fallback}
}

// Chunk produces the final chunk set for a job's transcript.
func (c *Chunker) Chunk(ctx context.Context, transcript string, segments []core.Segment) ([]core.Chunk, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, nil
	}

	if c.oracle != nil {
		var lastErr error
		for attempt := 0; attempt <= c.oracleRetries; attempt++ {
			proposals, err := c.oracle.ProposeChunks(ctx, transcript)
			if err != nil {
				lastErr = err
				continue
			}
			repaired, ok := validate(proposals, len(transcript))
			if !ok {
				lastErr = errs.Transientf("chunker: oracle output could not be repaired into a valid partition")
				continue
			}
			return c.toChunks(repaired, transcript, segments), nil
		}
		_ = lastErr
	}

	return c.fallback.Chunk(transcript, segments), nil
}

// validate repairs gaps and overlaps in proposed char ranges so the result
// is a contiguous, non-overlapping partition of [0, textLen). Proposals
// are sorted by StartCharPos first. Returns ok=false if the proposal set
// is too degenerate to repair (empty, or a single proposal covering none
// of the text).
func validate(proposals []Proposal, textLen int) ([]Proposal, bool) {
	if len(proposals) == 0 || textLen == 0 {
		return nil, false
	}

	sorted := make([]Proposal, len(proposals))
	copy(sorted, proposals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartCharPos < sorted[j].StartCharPos })

	out := make([]Proposal, 0, len(sorted))
	cursor := 0
	for _, p := range sorted {
		start := p.StartCharPos
		end := p.EndCharPos
		if end <= start {
			continue // degenerate proposal, drop it
		}
		if start < cursor {
			start = cursor // repair overlap by trimming the later proposal
		}
		if start > cursor {
			// repair a gap by extending the previous proposal, or this one
			// backward if it's the first.
			if len(out) > 0 {
				out[len(out)-1].EndCharPos = start
			} else {
				start = cursor
			}
		}
		if start >= end {
			continue
		}
		p.StartCharPos = start
		p.EndCharPos = end
		out = append(out, p)
		cursor = end
	}

	if len(out) == 0 {
		return nil, false
	}
	if cursor < textLen {
		out[len(out)-1].EndCharPos = textLen
	}
	return out, true
}

func (c *Chunker) toChunks(proposals []Proposal, transcript string, segments []core.Segment) []core.Chunk {
	chunks := make([]core.Chunk, len(proposals))
	for i, p := range proposals {
		start, end := clampRange(p.StartCharPos, p.EndCharPos, len(transcript))
		text := transcript[start:end]
		st, et := mapCharRangeToTime(segments, start, end)
		chunks[i] = core.Chunk{
			ChunkIndex:   i,
			Text:         text,
			TopicSummary: p.TopicSummary,
			Keywords:     p.Keywords,
			Confidence:   p.Confidence,
			StartTime:    st,
			EndTime:      et,
			StartCharPos: start,
			EndCharPos:   end,
		}
	}
	return chunks
}

func clampRange(start, end, max int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > max {
		end = max
	}
	if start > end {
		start = end
	}
	return start, end
}

// mapCharRangeToTime finds the timestamp span covering transcript char
// offsets [start, end) by locating it against the concatenation of
// trimmed segment texts joined by single spaces, the same way the
// transcriber builds the transcript.
func mapCharRangeToTime(segments []core.Segment, start, end int) (float64, float64) {
	if len(segments) == 0 {
		return 0, 0
	}
	var startTime, endTime float64
	found := false
	cursor := 0
	for _, seg := range segments {
		segStart := cursor
		segEnd := cursor + len(strings.TrimSpace(seg.Text))
		cursor = segEnd + 1 // +1 for the joining space

		if segEnd <= start || segStart >= end {
			continue
		}
		if !found {
			startTime = seg.Start
			found = true
		}
		endTime = seg.End
	}
	if !found {
		return segments[0].Start, segments[len(segments)-1].End
	}
	return startTime, endTime
}
