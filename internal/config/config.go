package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"pdfrag/internal/chunker"
	"pdfrag/internal/domain"
)

var ErrInvalid = errors.New("invalid configuration")

// OllamaConfig holds connection details for an Ollama server.
type OllamaConfig struct {
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string       `yaml:"type"`
	Dimension int          `yaml:"dimension"`
	RateLimit float64      `yaml:"rate_limit"`
	Burst     int          `yaml:"burst"`
	Ollama    OllamaConfig `yaml:"ollama"`
	OpenAI    OpenAIConfig `yaml:"openai"`
}

// ChatConfig selects and configures the chat model used to answer queries.
type ChatConfig struct {
	Type   string       `yaml:"type"`
	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

// ChunkerConfig configures how pages are split into chunks.
type ChunkerConfig struct {
	ChunkSize int    `yaml:"chunk_size"`
	Overlap   int    `yaml:"overlap"`
	IDScheme  string `yaml:"id_scheme"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type       string       `yaml:"type"`
	Metric     string       `yaml:"metric"`
	Collection string       `yaml:"collection"` // memory store only
	SQLite     SQLiteConfig `yaml:"sqlite"`
	Qdrant     QdrantConfig `yaml:"qdrant"`
	Milvus     MilvusConfig `yaml:"milvus"`
}

// SQLiteConfig locates the local on-disk store.
type SQLiteConfig struct {
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MilvusConfig contains connection details for a Milvus vector store.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

type IngestConfig struct {
	Dir        string `yaml:"dir"`
	Reset      bool   `yaml:"reset"`
	Workers    int    `yaml:"workers"`
	QueueDepth int    `yaml:"queue_depth"`
}

type SearchConfig struct {
	TopK         int    `yaml:"top_k"`
	ContextStyle string `yaml:"context_style"`
}

// RetryConfig bounds retries around every external call.
type RetryConfig struct {
	MaxRetries  uint64 `yaml:"max_retries"`
	BaseDelayMS int    `yaml:"base_delay_ms"`
	MaxDelayMS  int    `yaml:"max_delay_ms"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chat        ChatConfig        `yaml:"chat"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Search      SearchConfig      `yaml:"search"`
	Retry       RetryConfig       `yaml:"retry"`
	Log         LogConfig         `yaml:"log"`
}

// envOverrides are applied on top of the YAML file. Numeric values are kept
// as strings so that a variable set to "" counts as unset.
type envOverrides struct {
	Store         string `envconfig:"PDFRAG_STORE"`
	NotesDir      string `envconfig:"PDFRAG_NOTES_DIR"`
	Embedder      string `envconfig:"PDFRAG_EMBEDDER"`
	EmbedModel    string `envconfig:"PDFRAG_EMBED_MODEL"`
	ChatModel     string `envconfig:"PDFRAG_CHAT_MODEL"`
	OllamaURL     string `envconfig:"PDFRAG_OLLAMA_URL"`
	OllamaHost    string `envconfig:"OLLAMA_HOST"`
	QdrantURL     string `envconfig:"PDFRAG_QDRANT_URL"`
	QdrantAPIKey  string `envconfig:"PDFRAG_QDRANT_API_KEY"`
	MilvusAddress string `envconfig:"PDFRAG_MILVUS_ADDRESS"`
	SqlitePath    string `envconfig:"PDFRAG_SQLITE_PATH"`
	Workers       string `envconfig:"PDFRAG_WORKERS"`
	TopK          string `envconfig:"PDFRAG_TOP_K"`
	LogLevel      string `envconfig:"PDFRAG_LOG_LEVEL"`
}

// Load reads a config from a specified path. If the file does not exist,
// defaults are used. Values from .env and the environment override the file.
func Load(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/pdfrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/pdfrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, Default()); err != nil {
			return nil, "", err
		}
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pdfrag", "config.yaml"), nil
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Type:      "ollama",
			Dimension: 768,
			Ollama:    OllamaConfig{URL: "http://localhost:11434", Model: "nomic-embed-text", TimeoutSecs: 60},
			OpenAI:    OpenAIConfig{BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY", Model: "text-embedding-3-small", TimeoutSecs: 30},
		},
		Chat: ChatConfig{
			Type:   "ollama",
			Ollama: OllamaConfig{URL: "http://localhost:11434", Model: "mistral:latest", TimeoutSecs: 300},
			OpenAI: OpenAIConfig{BaseURL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY", Model: "gpt-4o-mini", TimeoutSecs: 120},
		},
		Chunker: ChunkerConfig{
			ChunkSize: chunker.DefaultChunkSize,
			Overlap:   chunker.DefaultOverlap,
			IDScheme:  chunker.SchemeContent,
		},
		VectorStore: VectorStoreConfig{
			Type:       "sqlite",
			Metric:     string(domain.Cosine),
			Collection: "embedding_collection",
			SQLite:     SQLiteConfig{Path: "./vector_db/vectors.db", Collection: "embedding_collection"},
			Qdrant:     QdrantConfig{URL: "http://localhost:6333", Collection: "document_embeddings", TimeoutSecs: 15},
			Milvus:     MilvusConfig{Address: "localhost:19530", Collection: "document_embeddings"},
		},
		Ingest: IngestConfig{Dir: "../notes/", Reset: true, Workers: 4, QueueDepth: 16},
		Search: SearchConfig{TopK: 3, ContextStyle: "sources"},
		Retry:  RetryConfig{MaxRetries: 3, BaseDelayMS: 250, MaxDelayMS: 5000, TimeoutSecs: 120},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

func applyEnv(cfg *AppConfig) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.VectorStore.Type, env.Store)
	set(&cfg.Ingest.Dir, env.NotesDir)
	set(&cfg.Embedder.Type, env.Embedder)
	set(&cfg.Embedder.Ollama.Model, env.EmbedModel)
	set(&cfg.Chat.Ollama.Model, env.ChatModel)
	if env.OllamaHost != "" && env.OllamaURL == "" {
		env.OllamaURL = normalizeHost(env.OllamaHost)
	}
	set(&cfg.Embedder.Ollama.URL, env.OllamaURL)
	set(&cfg.Chat.Ollama.URL, env.OllamaURL)
	set(&cfg.VectorStore.Qdrant.URL, env.QdrantURL)
	set(&cfg.VectorStore.Qdrant.APIKey, env.QdrantAPIKey)
	set(&cfg.VectorStore.Milvus.Address, env.MilvusAddress)
	set(&cfg.VectorStore.SQLite.Path, env.SqlitePath)
	set(&cfg.Log.Level, env.LogLevel)
	if err := setInt(&cfg.Ingest.Workers, "PDFRAG_WORKERS", env.Workers); err != nil {
		return err
	}
	if err := setInt(&cfg.Search.TopK, "PDFRAG_TOP_K", env.TopK); err != nil {
		return err
	}
	return nil
}

// setInt parses v into dst when v is not blank.
func setInt(dst *int, key, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v)
	}
	*dst = n
	return nil
}

// normalizeHost turns OLLAMA_HOST values such as "0.0.0.0:11434" into URLs.
func normalizeHost(h string) string {
	if strings.Contains(h, "://") {
		return h
	}
	return "http://" + h
}

func applyConfigDefaults(cfg *AppConfig) {
	def := Default()
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = def.Embedder.Type
	}
	if cfg.Chat.Type == "" {
		cfg.Chat.Type = def.Chat.Type
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = def.VectorStore.Type
	}
	if cfg.VectorStore.Metric == "" {
		cfg.VectorStore.Metric = def.VectorStore.Metric
	}
	if cfg.Chunker.IDScheme == "" {
		cfg.Chunker.IDScheme = def.Chunker.IDScheme
	}
	if cfg.Search.ContextStyle == "" {
		cfg.Search.ContextStyle = def.Search.ContextStyle
	}
	if cfg.Ingest.QueueDepth == 0 {
		cfg.Ingest.QueueDepth = cfg.Ingest.Workers * 4
	}
}

// Validate rejects configurations that cannot work at runtime.
func (c *AppConfig) Validate() error {
	var errs []error
	if err := chunker.Validate(c.Chunker.ChunkSize, c.Chunker.Overlap); err != nil {
		errs = append(errs, err)
	}
	switch c.Chunker.IDScheme {
	case chunker.SchemeContent, chunker.SchemeSequential:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown id scheme %q", ErrInvalid, c.Chunker.IDScheme))
	}
	if c.Embedder.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("%w: embedder dimension must be positive", ErrInvalid))
	}
	if !oneOf(c.Embedder.Type, "ollama", "openai", "hashing") {
		errs = append(errs, fmt.Errorf("%w: unknown embedder %q", ErrInvalid, c.Embedder.Type))
	}
	if !oneOf(c.Chat.Type, "ollama", "openai") {
		errs = append(errs, fmt.Errorf("%w: unknown chat model %q", ErrInvalid, c.Chat.Type))
	}
	if !oneOf(c.VectorStore.Type, "memory", "sqlite", "qdrant", "milvus") {
		errs = append(errs, fmt.Errorf("%w: unknown vector store %q", ErrInvalid, c.VectorStore.Type))
	}
	if !oneOf(c.VectorStore.Metric, string(domain.Cosine), string(domain.Dot), string(domain.Euclidean)) {
		errs = append(errs, fmt.Errorf("%w: unknown metric %q", ErrInvalid, c.VectorStore.Metric))
	}
	if c.Search.TopK <= 0 {
		errs = append(errs, fmt.Errorf("%w: top_k must be positive", ErrInvalid))
	}
	if !oneOf(c.Search.ContextStyle, "sources", "summary") {
		errs = append(errs, fmt.Errorf("%w: unknown context style %q", ErrInvalid, c.Search.ContextStyle))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("%w: workers must be positive", ErrInvalid))
	}
	if c.Ingest.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("%w: queue_depth must be positive", ErrInvalid))
	}
	return errors.Join(errs...)
}

// CollectionName returns the collection name of the selected vector store.
func (c *VectorStoreConfig) CollectionName() string {
	switch c.Type {
	case "sqlite":
		return c.SQLite.Collection
	case "qdrant":
		return c.Qdrant.Collection
	case "milvus":
		return c.Milvus.Collection
	default:
		return c.Collection
	}
}

// Durations returns the backoff bounds and the per-attempt timeout.
func (r RetryConfig) Durations() (base, max, timeout time.Duration) {
	return time.Duration(r.BaseDelayMS) * time.Millisecond,
		time.Duration(r.MaxDelayMS) * time.Millisecond,
		time.Duration(r.TimeoutSecs) * time.Second
}

// Seconds converts a *_secs field.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
