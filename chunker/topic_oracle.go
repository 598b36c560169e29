package chunker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

// HTTPTopicOracle asks a chat-completion model to partition a transcript
// into topic-coherent spans, given as character offset ranges plus a short
// summary and keyword list per span.
type HTTPTopicOracle struct {
	client *openai.Client
	model  string
}

// NewHTTPTopicOracle builds an HTTPTopicOracle around an OpenAI-compatible
// chat completion client.
func NewHTTPTopicOracle(apiKey, baseURL, model string) (*HTTPTopicOracle, error) {
	if apiKey == "" {
		return nil, errors.New("topic oracle: missing api key")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &HTTPTopicOracle{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

const topicOraclePrompt = `You are segmenting a transcript into topic-coherent chunks.
Given the transcript below, identify the character offset ranges [start, end)
(0-indexed, end-exclusive, into the exact text given) where the topic changes.
For each span, give a one-sentence summary, 3-5 keywords, and a confidence
score between 0 and 1.

Respond with strict JSON only, no prose, in this shape:
{"chunks": [{"start_char_pos": 0, "end_char_pos": 120, "topic_summary": "...", "keywords": ["..."], "confidence": 0.9}]}

Transcript:
%s`

type oracleChunk struct {
	StartCharPos int      `json:"start_char_pos"`
	EndCharPos   int      `json:"end_char_pos"`
	TopicSummary string   `json:"topic_summary"`
	Keywords     []string `json:"keywords"`
	Confidence   float64  `json:"confidence"`
}

type oracleResponse struct {
	Chunks []oracleChunk `json:"chunks"`
}

func (o *HTTPTopicOracle) ProposeChunks(ctx context.Context, transcript string) ([]Proposal, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(topicOraclePrompt, transcript)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, errors.Wrap(err, "topic oracle chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("topic oracle: empty response")
	}

	content := resp.Choices[0].Message.Content
	parsed, err := parseOracleResponse(content)
	if err != nil {
		return nil, errors.Wrap(err, "topic oracle: parse response")
	}

	out := make([]Proposal, len(parsed.Chunks))
	for i, c := range parsed.Chunks {
		out[i] = Proposal{
			TopicSummary: c.TopicSummary,
			Keywords:     c.Keywords,
			Confidence:   c.Confidence,
			StartCharPos: c.StartCharPos,
			EndCharPos:   c.EndCharPos,
		}
	}
	return out, nil
}

// parseOracleResponse tries a strict unmarshal first; chat models
// frequently wrap JSON in prose or code fences, so on failure it uses
// gjson to pull out the "chunks" array tolerantly from within the larger
// text before giving up.
func parseOracleResponse(content string) (oracleResponse, error) {
	var out oracleResponse
	if err := json.Unmarshal([]byte(content), &out); err == nil && len(out.Chunks) > 0 {
		return out, nil
	}

	result := gjson.Get(content, "chunks")
	if !result.Exists() || !result.IsArray() {
		return oracleResponse{}, errors.New("no chunks array found in oracle response")
	}

	var chunks []oracleChunk
	for _, item := range result.Array() {
		chunks = append(chunks, oracleChunk{
			StartCharPos: int(item.Get("start_char_pos").Int()),
			EndCharPos:   int(item.Get("end_char_pos").Int()),
			TopicSummary: item.Get("topic_summary").String(),
			Confidence:   item.Get("confidence").Float(),
			Keywords:     keywordsFromResult(item.Get("keywords")),
		})
	}
	if len(chunks) == 0 {
		return oracleResponse{}, errors.New("oracle response chunks array was empty")
	}
	return oracleResponse{Chunks: chunks}, nil
}

func keywordsFromResult(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	for _, k := range r.Array() {
		out = append(out, k.String())
	}
	return out
}
