// Package search implements semantic search over a user's stored chunks:
// embed the query once, then rank the user's completed-job chunks by
// cosine similarity.
package search

import (
	"context"
	"strings"

	"transcribepipeline/core"
	"transcribepipeline/embedder"
	"transcribepipeline/errs"
	"transcribepipeline/store"
)

// Engine answers semantic search queries against a Store, using an
// Embedder to turn query text into the same vector space the stored
// chunks live in.
type Engine struct {
	store    store.Store
	embedder embedder.Embedder
}

// New builds a search Engine.
func New(s store.Store, e embedder.Embedder) *Engine {
	return &Engine{store: s, embedder: e}
}

// Search embeds queryText once and returns up to k chunks owned by userID,
// ranked by cosine similarity descending. Store enforces the completed-job
// and same-user scoping; Engine does not re-check it.
func (e *Engine) Search(ctx context.Context, userID, queryText string, k int) ([]core.SearchHit, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.Permanentf("search: user_id is required")
	}
	if k <= 0 {
		k = 10
	}

	vec, err := embedder.Embed(ctx, e.embedder, queryText)
	if err != nil {
		return nil, errs.Wrap(err, "embed query")
	}

	hits, err := e.store.SearchChunks(ctx, store.SearchQuery{UserID: userID, Embedding: vec, TopK: k})
	if err != nil {
		return nil, errs.Wrap(err, "search chunks")
	}
	return hits, nil
}
