package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	Ingest      IngestConfig
	OpenAI      OpenAIConfig
	Embedding   EmbeddingConfig
	Ollama      OllamaConfig
	CLIP        CLIPConfig
	VectorStore VectorStoreConfig
	Qdrant      QdrantConfig
	Postgres    PostgresConfig
	Milvus      MilvusConfig
	Catalog     CatalogConfig
	Redis       RedisConfig
	Cassandra   CassandraConfig
	Retrieval   RetrievalConfig
}

type ServerConfig struct {
	Port       int
	CORSOrigin string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type IngestConfig struct {
	FrameRate    float64
	ChunkSeconds float64
	BatchSize    int
	Workers      int
	Downloader   string // auto, ytdlp or http
	YTDLPBin     string
	FFmpegBin    string
	FFprobeBin   string
}

type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	MaxTokens    int
	EmbedModel   string
	WhisperModel string
}

type EmbeddingConfig struct {
	TextProvider string // openai or ollama
	TextDim      int
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type CLIPConfig struct {
	VisualModel string
	TextModel   string
	Tokenizer   string
	ONNXLib     string
	Dim         int
}

type VectorStoreConfig struct {
	Backend string // sqlite, qdrant, pgvector or milvus
}

// QdrantConfig addresses the gRPC port (6334 by default, not the 6333
// REST port).
type QdrantConfig struct {
	Host   string
	Port   int
	TLS    bool
	APIKey string
}

type PostgresConfig struct {
	DSN string
}

type MilvusConfig struct {
	Address string
}

type CatalogConfig struct {
	Backend string // sqlite, redis or cassandra
}

type RedisConfig struct {
	Addr string
}

type CassandraConfig struct {
	Hosts    string // comma separated
	Keyspace string
}

// HostList splits Hosts on commas.
func (c CassandraConfig) HostList() []string {
	var out []string
	for _, h := range strings.Split(c.Hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

type RetrievalConfig struct {
	TopK int
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port:       4000,
			CORSOrigin: "*",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
		Ingest: IngestConfig{
			FrameRate:    0.5,
			ChunkSeconds: 30,
			BatchSize:    8,
			Workers:      8,
			Downloader:   "auto",
			YTDLPBin:     "yt-dlp",
			FFmpegBin:    "ffmpeg",
			FFprobeBin:   "ffprobe",
		},
		OpenAI: OpenAIConfig{
			ChatModel:    "gpt-4o",
			MaxTokens:    500,
			EmbedModel:   "text-embedding-ada-002",
			WhisperModel: "whisper-1",
		},
		Embedding: EmbeddingConfig{
			TextProvider: "openai",
			TextDim:      1536,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		CLIP: CLIPConfig{
			VisualModel: filepath.Join(dataDir, "models", "clip", "visual.onnx"),
			TextModel:   filepath.Join(dataDir, "models", "clip", "textual.onnx"),
			Tokenizer:   filepath.Join(dataDir, "models", "clip", "tokenizer.json"),
			Dim:         512,
		},
		VectorStore: VectorStoreConfig{
			Backend: "sqlite",
		},
		Qdrant: QdrantConfig{
			Host: "localhost",
			Port: 6334,
		},
		Milvus: MilvusConfig{
			Address: "localhost:19530",
		},
		Catalog: CatalogConfig{
			Backend: "sqlite",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Cassandra: CassandraConfig{
			Hosts:    "127.0.0.1",
			Keyspace: "vidrag",
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.vidrag.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/vidrag/config.json
// and secrets come from environment variables or the local secrets file.
//
// Environment variables (VIDRAG_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, true)
}

// LoadClient is Load without the API key requirement, for commands that
// only talk to a running server.
func LoadClient() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{}, false)
}

// keychain abstracts Keychain access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

const keychainService = "vidrag"

// errSecretNotFound is returned by the secret stores when an entry is absent.
var errSecretNotFound = errors.New("secret not found")

// secretAccount maps a dotted key to its keychain account name,
// e.g. openai.api_key -> openai_api_key.
func secretAccount(key string) string {
	return strings.ReplaceAll(key, ".", "_")
}

func loadWith(b ConfigBackend, kc keychain, requireKey bool) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not set by env fall back to the platform secret store.
	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := kc.Get(keychainService, secretAccount(s.key)); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if requireKey && cfg.OpenAI.APIKey == "" && !cfg.selfHosted() {
		msg := "missing required config: OpenAI API key. " +
			"Set it via environment variable VIDRAG_OPENAI_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// selfHosted reports whether every OpenAI-shaped call goes to a custom
// endpoint that may not need a key.
func (c Config) selfHosted() bool {
	u := c.OpenAI.BaseURL
	return u != "" && !strings.Contains(u, "api.openai.com") && !strings.Contains(u, "openrouter.ai")
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainLookup(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
