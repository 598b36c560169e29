package embedder

import (
	"context"

	"github.com/cockroachdb/errors"
	openai "github.com/sashabaranov/go-openai"

	"transcribepipeline/core"
)

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint, batching
// requests and re-normalizing every returned vector to unit length (some
// OpenAI-compatible backends do not guarantee normalized output).
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder builds an Embedder around an OpenAI-compatible client.
// dim must equal core.EmbeddingDim; it is asserted once here rather than
// discovered per-call so a misconfigured model is caught at startup.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dim int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai embedder: missing api key")
	}
	if dim != core.EmbeddingDim {
		return nil, errors.Newf("openai embedder: dim %d does not match core.EmbeddingDim %d", dim, core.EmbeddingDim)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model, dim: dim}, nil
}

func (e *OpenAIEmbedder) ModelID() string { return e.model }
func (e *OpenAIEmbedder) Dimension() int  { return e.dim }

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, errors.Wrap(err, "openai embeddings request")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Newf("openai embeddings: expected %d vectors, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		v := normalize(d.Embedding)
		if err := checkDimension(v); err != nil {
			return nil, errors.Wrapf(err, "model %s", e.model)
		}
		out[d.Index] = v
	}
	return out, nil
}
