package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	milvus "github.com/milvus-io/milvus-sdk-go/v2/client"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kalambet/vidrag/internal/api"
	"github.com/kalambet/vidrag/internal/catalog"
	"github.com/kalambet/vidrag/internal/composer"
	"github.com/kalambet/vidrag/internal/config"
	"github.com/kalambet/vidrag/internal/download"
	"github.com/kalambet/vidrag/internal/embedding"
	"github.com/kalambet/vidrag/internal/ingest"
	"github.com/kalambet/vidrag/internal/media"
	"github.com/kalambet/vidrag/internal/ollama"
	"github.com/kalambet/vidrag/internal/proxy"
	"github.com/kalambet/vidrag/internal/retrieval"
	"github.com/kalambet/vidrag/internal/storage"
	"github.com/kalambet/vidrag/internal/transcribe"
	"github.com/kalambet/vidrag/internal/vectorstore"
)

// services is everything serve and mcp need, built once from config.
type services struct {
	deps    api.Deps
	closers []func() error
}

func (s *services) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setupLogging(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	return logger
}

func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *services, err error) {
	svc := &services{}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	svc.onClose(store.Close)

	cat, err := openCatalog(ctx, cfg, store, svc)
	if err != nil {
		return nil, err
	}

	oa := proxy.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

	textModel, err := openTextEmbedder(ctx, cfg, oa)
	if err != nil {
		return nil, err
	}

	clip, err := embedding.NewCLIP(embedding.CLIPConfig{
		VisualModel: cfg.CLIP.VisualModel,
		TextModel:   cfg.CLIP.TextModel,
		Tokenizer:   cfg.CLIP.Tokenizer,
		SharedLib:   cfg.CLIP.ONNXLib,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("loading CLIP: %w", err)
	}
	svc.onClose(clip.Close)

	texts, images, err := openVectorStores(ctx, cfg, store, svc)
	if err != nil {
		return nil, err
	}

	pipeline := ingest.NewPipeline(ingest.Config{
		DataDir:      cfg.Storage.DataDir,
		FrameRate:    cfg.Ingest.FrameRate,
		ChunkSeconds: cfg.Ingest.ChunkSeconds,
		BatchSize:    cfg.Ingest.BatchSize,
		Workers:      cfg.Ingest.Workers,
	}, ingest.Deps{
		Downloader:  newDownloader(cfg.Ingest),
		Media:       media.New(cfg.Ingest.FFmpegBin, cfg.Ingest.FFprobeBin),
		Transcriber: transcribe.NewWhisper(oa, cfg.OpenAI.WhisperModel, ""),
		TextModel:   textModel,
		ImageModel:  clip,
		Texts:       texts,
		Images:      images,
		Catalog:     cat,
		Logger:      logger,
	})

	svc.deps = api.Deps{
		Importer:   pipeline,
		Retriever:  retrieval.NewEngine(textModel, clip, texts, images, cfg.Retrieval.TopK),
		Answerer:   composer.New(proxy.NewClient(oa, cfg.OpenAI.ChatModel, cfg.OpenAI.MaxTokens)),
		Catalog:    cat,
		CORSOrigin: cfg.Server.CORSOrigin,
		Logger:     logger,
	}
	return svc, nil
}

func openCatalog(ctx context.Context, cfg config.Config, store *storage.Store, svc *services) (catalog.Catalog, error) {
	switch cfg.Catalog.Backend {
	case "", "sqlite":
		return store, nil
	case "redis":
		c, err := catalog.NewRedisCatalog(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, err
		}
		svc.onClose(c.Close)
		return c, nil
	case "cassandra":
		c, err := catalog.NewCassandraCatalog(cfg.Cassandra.HostList(), cfg.Cassandra.Keyspace)
		if err != nil {
			return nil, err
		}
		svc.onClose(c.Close)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown catalog backend %q (want sqlite, redis or cassandra)", cfg.Catalog.Backend)
	}
}

func openTextEmbedder(ctx context.Context, cfg config.Config, oa *openai.Client) (embedding.TextEmbedder, error) {
	switch cfg.Embedding.TextProvider {
	case "", "openai":
		return embedding.NewOpenAI(oa, cfg.OpenAI.EmbedModel), nil
	case "ollama":
		c := ollama.New(cfg.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, c, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
			return nil, err
		}
		return embedding.NewOllama(c, cfg.Ollama.EmbedModel), nil
	default:
		return nil, fmt.Errorf("unknown text embedding provider %q (want openai or ollama)", cfg.Embedding.TextProvider)
	}
}

func openVectorStores(ctx context.Context, cfg config.Config, store *storage.Store, svc *services) (texts, images vectorstore.Store, err error) {
	textDim, imageDim := cfg.Embedding.TextDim, cfg.CLIP.Dim

	switch cfg.VectorStore.Backend {
	case "", "sqlite":
		t, err := vectorstore.NewSQLiteStore(store.DB(), storage.TextVectorsTable)
		if err != nil {
			return nil, nil, err
		}
		i, err := vectorstore.NewSQLiteStore(store.DB(), storage.ImageVectorsTable)
		if err != nil {
			return nil, nil, err
		}
		return t, i, nil

	case "qdrant":
		qc, err := vectorstore.NewQdrantClient(vectorstore.QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey,
			UseTLS: cfg.Qdrant.TLS,
		})
		if err != nil {
			return nil, nil, err
		}
		svc.onClose(qc.Close)
		t := vectorstore.NewQdrantStore(qc, "vidrag_"+vectorstore.TextCollection)
		if err := t.EnsureCollection(ctx, textDim); err != nil {
			return nil, nil, err
		}
		i := vectorstore.NewQdrantStore(qc, "vidrag_"+vectorstore.ImageCollection)
		if err := i.EnsureCollection(ctx, imageDim); err != nil {
			return nil, nil, err
		}
		return t, i, nil

	case "pgvector":
		if cfg.Postgres.DSN == "" {
			return nil, nil, fmt.Errorf("pgvector backend needs postgres.dsn (VIDRAG_POSTGRES_DSN)")
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		svc.onClose(func() error { pool.Close(); return nil })
		t, err := vectorstore.NewPGVectorStore(ctx, pool, vectorstore.TextCollection, textDim)
		if err != nil {
			return nil, nil, err
		}
		i, err := vectorstore.NewPGVectorStore(ctx, pool, vectorstore.ImageCollection, imageDim)
		if err != nil {
			return nil, nil, err
		}
		return t, i, nil

	case "milvus":
		mc, err := milvus.NewClient(ctx, milvus.Config{Address: cfg.Milvus.Address})
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to milvus: %w", err)
		}
		svc.onClose(mc.Close)
		t, err := vectorstore.NewMilvusStore(ctx, mc, vectorstore.TextCollection, textDim)
		if err != nil {
			return nil, nil, err
		}
		i, err := vectorstore.NewMilvusStore(ctx, mc, vectorstore.ImageCollection, imageDim)
		if err != nil {
			return nil, nil, err
		}
		return t, i, nil

	default:
		return nil, nil, fmt.Errorf("unknown vector store backend %q (want sqlite, qdrant, pgvector or milvus)", cfg.VectorStore.Backend)
	}
}

func newDownloader(cfg config.IngestConfig) download.Downloader {
	yt := &download.YTDLP{Bin: cfg.YTDLPBin}
	switch cfg.Downloader {
	case "ytdlp":
		return yt
	case "http":
		return download.NewHTTPDownloader()
	default:
		return download.Auto{YTDLP: yt, HTTP: download.NewHTTPDownloader()}
	}
}
