// Command transcribepipeline wires the durable transcription pipeline
// core's components and runs its worker pool. It has no HTTP surface of
// its own; an HTTP layer is expected to embed intake.API and wire it to
// whatever transport it needs.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"

	"transcribepipeline/chunker"
	"transcribepipeline/config"
	"transcribepipeline/embedder"
	"transcribepipeline/intake"
	"transcribepipeline/progressbus"
	"transcribepipeline/scheduler"
	"transcribepipeline/search"
	"transcribepipeline/store"
	"transcribepipeline/transcriber"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN}); err != nil {
			log.Printf("sentry init failed, continuing without error reporting: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("build store: %v", err)
	}
	defer func() {
		if err := s.Close(ctx); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	emb, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatalf("build embedder: %v", err)
	}

	tr := transcriber.NewWhisperExecTranscriber(whisperBinaryPath(), cfg.TranscribeModelSize)
	ch := buildChunker(cfg)
	bus := progressbus.NewBus()

	sched := scheduler.New(s, bus, cfg.WorkerPoolSize, cfg.HeartbeatInterval(),
		scheduler.NewTranscribeActivity(s, tr, bus),
		scheduler.NewChunkActivity(s, ch, bus),
		scheduler.NewEmbedActivity(s, emb, bus),
	)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	// api and engine are the collaborator boundaries an HTTP layer (out of
	// this core's scope) would embed; constructed here so startup fails
	// fast on misconfiguration rather than on first request.
	api := intake.New(s, sched, bus, dataRoot())
	engine := search.New(s, emb)

	log.Printf("transcribepipeline core running: workers=%d embedder=%s vector_backend=%s intake_data_root=%s search_ready=%t",
		cfg.WorkerPoolSize, cfg.EmbeddingBackend, cfg.VectorBackend, dataRoot(), engine != nil && api != nil)

	<-ctx.Done()
	log.Printf("shutting down")
}

func buildStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.VectorBackend {
	case config.VectorBackendMilvus:
		pg, err := store.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		milvus, err := store.NewMilvusStore(ctx, cfg.MilvusAddr, cfg.MilvusCollection, cfg.EmbeddingDim)
		if err != nil {
			return nil, err
		}
		return store.NewHybridStore(pg, milvus), nil
	case config.VectorBackendPostgres, "":
		return store.NewPostgresStore(ctx, cfg.PostgresURL)
	default:
		return nil, errUnknownBackend("vector_backend", string(cfg.VectorBackend))
	}
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbeddingBackend {
	case config.EmbeddingBackendOpenAI:
		return embedder.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
	case config.EmbeddingBackendDeterministic, "":
		return embedder.NewDeterministicEmbedder(cfg.EmbeddingDim), nil
	default:
		return nil, errUnknownBackend("embedding_backend", string(cfg.EmbeddingBackend))
	}
}

func buildChunker(cfg *config.Config) *chunker.Chunker {
	fallback := chunker.NewSentenceChunker(cfg.SentencesPerChunk, 1)

	if cfg.ChunkingStrategy != config.ChunkingSemantic || !cfg.HasValidAPI() {
		return chunker.New(nil, 0, fallback)
	}
	oracle, err := chunker.NewHTTPTopicOracle(cfg.APIKey, cfg.BaseURL, cfg.ChatModel)
	if err != nil {
		log.Printf("topic oracle unavailable, using sentence chunking only: %v", err)
		return chunker.New(nil, 0, fallback)
	}
	const oracleRetries = 2
	return chunker.New(oracle, oracleRetries, fallback)
}

func whisperBinaryPath() string {
	if v := os.Getenv("WHISPER_BINARY_PATH"); v != "" {
		return v
	}
	return "whisper"
}

func dataRoot() string {
	if v := os.Getenv("DATA_ROOT"); v != "" {
		return v
	}
	return "./data"
}

type errUnknownBackendType struct {
	field, value string
}

func errUnknownBackend(field, value string) error {
	return &errUnknownBackendType{field: field, value: value}
}

func (e *errUnknownBackendType) Error() string {
	return "unknown " + e.field + ": " + e.value
}
