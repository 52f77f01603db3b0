package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "VIDRAG_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.cors_origin", typ: kString, env: "VIDRAG_SERVER_CORS_ORIGIN",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigin = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigin },
	},
	{
		key: "storage.data_dir", typ: kString, env: "VIDRAG_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "VIDRAG_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "ingest.frame_rate", typ: kFloat, env: "VIDRAG_INGEST_FRAME_RATE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FrameRate = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ingest.FrameRate },
	},
	{
		key: "ingest.chunk_seconds", typ: kFloat, env: "VIDRAG_INGEST_CHUNK_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSeconds = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSeconds },
	},
	{
		key: "ingest.batch_size", typ: kInt, env: "VIDRAG_INGEST_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.BatchSize },
	},
	{
		key: "ingest.workers", typ: kInt, env: "VIDRAG_INGEST_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Workers },
	},
	{
		key: "ingest.downloader", typ: kString, env: "VIDRAG_INGEST_DOWNLOADER",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Downloader = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.Downloader },
	},
	{
		key: "ingest.ytdlp_bin", typ: kString, env: "VIDRAG_INGEST_YTDLP_BIN",
		apply:   func(cfg *Config, v any) { cfg.Ingest.YTDLPBin = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.YTDLPBin },
	},
	{
		key: "ingest.ffmpeg_bin", typ: kString, env: "VIDRAG_INGEST_FFMPEG_BIN",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FFmpegBin = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.FFmpegBin },
	},
	{
		key: "ingest.ffprobe_bin", typ: kString, env: "VIDRAG_INGEST_FFPROBE_BIN",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FFprobeBin = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.FFprobeBin },
	},
	{
		key: "openai.api_key", typ: kString, env: "VIDRAG_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "openai.base_url", typ: kString, env: "VIDRAG_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.chat_model", typ: kString, env: "VIDRAG_OPENAI_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.ChatModel },
	},
	{
		key: "openai.max_tokens", typ: kInt, env: "VIDRAG_OPENAI_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.OpenAI.MaxTokens },
	},
	{
		key: "openai.embed_model", typ: kString, env: "VIDRAG_OPENAI_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.EmbedModel },
	},
	{
		key: "openai.whisper_model", typ: kString, env: "VIDRAG_OPENAI_WHISPER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.WhisperModel = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.WhisperModel },
	},
	{
		key: "embedding.text_provider", typ: kString, env: "VIDRAG_EMBEDDING_TEXT_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.TextProvider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.TextProvider },
	},
	{
		key: "embedding.text_dim", typ: kInt, env: "VIDRAG_EMBEDDING_TEXT_DIM",
		apply:   func(cfg *Config, v any) { cfg.Embedding.TextDim = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.TextDim },
	},
	{
		key: "ollama.base_url", typ: kString, env: "VIDRAG_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "VIDRAG_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "clip.visual_model", typ: kString, env: "VIDRAG_CLIP_VISUAL_MODEL",
		apply:   func(cfg *Config, v any) { cfg.CLIP.VisualModel = v.(string) },
		extract: func(cfg Config) any { return cfg.CLIP.VisualModel },
	},
	{
		key: "clip.text_model", typ: kString, env: "VIDRAG_CLIP_TEXT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.CLIP.TextModel = v.(string) },
		extract: func(cfg Config) any { return cfg.CLIP.TextModel },
	},
	{
		key: "clip.tokenizer", typ: kString, env: "VIDRAG_CLIP_TOKENIZER",
		apply:   func(cfg *Config, v any) { cfg.CLIP.Tokenizer = v.(string) },
		extract: func(cfg Config) any { return cfg.CLIP.Tokenizer },
	},
	{
		key: "clip.onnx_lib", typ: kString, env: "VIDRAG_CLIP_ONNX_LIB",
		apply:   func(cfg *Config, v any) { cfg.CLIP.ONNXLib = v.(string) },
		extract: func(cfg Config) any { return cfg.CLIP.ONNXLib },
	},
	{
		key: "clip.dim", typ: kInt, env: "VIDRAG_CLIP_DIM",
		apply:   func(cfg *Config, v any) { cfg.CLIP.Dim = v.(int) },
		extract: func(cfg Config) any { return cfg.CLIP.Dim },
	},
	{
		key: "vectorstore.backend", typ: kString, env: "VIDRAG_VECTORSTORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.Backend },
	},
	{
		key: "qdrant.host", typ: kString, env: "VIDRAG_QDRANT_HOST",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.Host },
	},
	{
		key: "qdrant.port", typ: kInt, env: "VIDRAG_QDRANT_PORT",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Qdrant.Port },
	},
	{
		key: "qdrant.tls", typ: kBool, env: "VIDRAG_QDRANT_TLS",
		apply:   func(cfg *Config, v any) { cfg.Qdrant.TLS = v.(bool) },
		extract: func(cfg Config) any { return cfg.Qdrant.TLS },
	},
	{
		key: "qdrant.api_key", typ: kString, env: "VIDRAG_QDRANT_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Qdrant.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Qdrant.APIKey },
	},
	{
		key: "postgres.dsn", typ: kString, env: "VIDRAG_POSTGRES_DSN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Postgres.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.Postgres.DSN },
	},
	{
		key: "milvus.address", typ: kString, env: "VIDRAG_MILVUS_ADDRESS",
		apply:   func(cfg *Config, v any) { cfg.Milvus.Address = v.(string) },
		extract: func(cfg Config) any { return cfg.Milvus.Address },
	},
	{
		key: "catalog.backend", typ: kString, env: "VIDRAG_CATALOG_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Catalog.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Catalog.Backend },
	},
	{
		key: "redis.addr", typ: kString, env: "VIDRAG_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Redis.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Redis.Addr },
	},
	{
		key: "cassandra.hosts", typ: kString, env: "VIDRAG_CASSANDRA_HOSTS",
		apply:   func(cfg *Config, v any) { cfg.Cassandra.Hosts = v.(string) },
		extract: func(cfg Config) any { return cfg.Cassandra.Hosts },
	},
	{
		key: "cassandra.keyspace", typ: kString, env: "VIDRAG_CASSANDRA_KEYSPACE",
		apply:   func(cfg *Config, v any) { cfg.Cassandra.Keyspace = v.(string) },
		extract: func(cfg Config) any { return cfg.Cassandra.Keyspace },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "VIDRAG_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetBool(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kFloat:
			v, ok, err := b.GetFloat(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
