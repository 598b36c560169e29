package search

import (
	"context"
	"testing"

	"transcribepipeline/core"
	"transcribepipeline/embedder"
	"transcribepipeline/store"
)

func seedCompletedJobWithChunk(t *testing.T, s store.Store, userID, text string) {
	t.Helper()
	ctx := context.Background()
	jobID, err := s.CreateJob(ctx, &core.Job{WorkflowRunID: "run-" + text, UserID: userID, Status: core.JobCompleted})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	marker := core.ActivityCompletionMarker{WorkflowRunID: "run-" + text, ActivityName: "chunk"}
	chunk := core.Chunk{Text: text, TopicSummary: text}
	if err := s.ReplaceChunks(ctx, jobID, []core.Chunk{chunk}, marker); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}

	chunks, err := s.ListChunks(ctx, jobID)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	emb := embedder.NewDeterministicEmbedder(core.EmbeddingDim)
	vec, err := embedder.Embed(ctx, emb, text)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	embeddings := map[int64][]float32{chunks[0].ID: vec}
	embedMarker := core.ActivityCompletionMarker{WorkflowRunID: "run-" + text, ActivityName: "embed"}
	if err := s.PatchChunkEmbeddings(ctx, jobID, embeddings, embedMarker); err != nil {
		t.Fatalf("patch embeddings: %v", err)
	}
}

func TestSearchRanksExactTextMatchFirst(t *testing.T) {
	s := store.NewMemoryStore()
	seedCompletedJobWithChunk(t, s, "user-u", "photosynthesis in plants")
	seedCompletedJobWithChunk(t, s, "user-u", "mitochondrial respiration")
	seedCompletedJobWithChunk(t, s, "user-u", "recipe for bread")

	emb := embedder.NewDeterministicEmbedder(core.EmbeddingDim)
	eng := New(s, emb)

	hits, err := eng.Search(context.Background(), "user-u", "photosynthesis in plants", 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Text != "photosynthesis in plants" {
		t.Errorf("expected exact-match chunk to rank first, got %q (score %f)", hits[0].Text, hits[0].Score)
	}
}

func TestSearchExcludesOtherUsersAndIncompleteJobs(t *testing.T) {
	s := store.NewMemoryStore()
	seedCompletedJobWithChunk(t, s, "user-u", "shared topic text")

	ctx := context.Background()
	otherJobID, err := s.CreateJob(ctx, &core.Job{WorkflowRunID: "run-other", UserID: "user-v", Status: core.JobCompleted})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	emb := embedder.NewDeterministicEmbedder(core.EmbeddingDim)
	vec, _ := embedder.Embed(ctx, emb, "shared topic text")
	marker := core.ActivityCompletionMarker{WorkflowRunID: "run-other", ActivityName: "chunk"}
	if err := s.ReplaceChunks(ctx, otherJobID, []core.Chunk{{Text: "shared topic text"}}, marker); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	otherChunks, _ := s.ListChunks(ctx, otherJobID)
	embedMarker := core.ActivityCompletionMarker{WorkflowRunID: "run-other", ActivityName: "embed"}
	_ = s.PatchChunkEmbeddings(ctx, otherJobID, map[int64][]float32{otherChunks[0].ID: vec}, embedMarker)

	incompleteJobID, err := s.CreateJob(ctx, &core.Job{WorkflowRunID: "run-pending", UserID: "user-u", Status: core.JobProcessing})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	pendingMarker := core.ActivityCompletionMarker{WorkflowRunID: "run-pending", ActivityName: "chunk"}
	if err := s.ReplaceChunks(ctx, incompleteJobID, []core.Chunk{{Text: "shared topic text"}}, pendingMarker); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
	pendingChunks, _ := s.ListChunks(ctx, incompleteJobID)
	pendingEmbedMarker := core.ActivityCompletionMarker{WorkflowRunID: "run-pending", ActivityName: "embed"}
	_ = s.PatchChunkEmbeddings(ctx, incompleteJobID, map[int64][]float32{pendingChunks[0].ID: vec}, pendingEmbedMarker)

	eng := New(s, emb)
	hits, err := eng.Search(ctx, "user-u", "shared topic text", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected exactly 1 hit (own completed job only), got %d", len(hits))
	}
}

func TestSearchRejectsEmptyUserID(t *testing.T) {
	s := store.NewMemoryStore()
	emb := embedder.NewDeterministicEmbedder(core.EmbeddingDim)
	eng := New(s, emb)

	if _, err := eng.Search(context.Background(), "", "query", 5); err == nil {
		t.Error("expected an error for empty user_id")
	}
}
