package chunker

import (
	"regexp"
	"strings"

	"transcribepipeline/core"
)

var sentenceSplitter = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)

// SentenceChunker groups transcript sentences into fixed-size, lightly
// overlapping chunks. It never fails and never requires a remote call,
// which is what makes it the fallback of last resort when the TopicOracle
// is unavailable or its output cannot be repaired.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
}

// NewSentenceChunker builds a SentenceChunker grouping sentencesPerChunk
// sentences per chunk with overlapSentences sentences repeated across the
// boundary for continuity.
func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 3
	}
	if overlapSentences < 0 || overlapSentences >= sentencesPerChunk {
		overlapSentences = 0
	}
	return &SentenceChunker{sentencesPerChunk: sentencesPerChunk, overlapSentences: overlapSentences}
}

// Chunk splits transcript into sentences and groups them into chunks,
// mapping each chunk's span back onto segments for timestamps.
func (c *SentenceChunker) Chunk(transcript string, segments []core.Segment) []core.Chunk {
	sentences := sentenceSplitter.FindAllStringIndex(transcript, -1)
	if len(sentences) == 0 {
		trimmed := strings.TrimSpace(transcript)
		if trimmed == "" {
			return nil
		}
		sentences = [][]int{{0, len(transcript)}}
	}

	var chunks []core.Chunk
	i := 0
	idx := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		startChar := sentences[i][0]
		endChar := sentences[end-1][1]
		text := strings.TrimSpace(transcript[startChar:endChar])

		st, et := mapCharRangeToTime(segments, startChar, endChar)
		chunks = append(chunks, core.Chunk{
			ChunkIndex:   idx,
			Text:         text,
			StartTime:    st,
			EndTime:      et,
			StartCharPos: startChar,
			EndCharPos:   endChar,
			Confidence:   0,
		})

		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
		if i < 0 {
			i = 0
		}
		idx++
	}
	return chunks
}
