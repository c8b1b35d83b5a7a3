package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RAG          RAGConfig      `yaml:"rag"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Cache        CacheConfig    `yaml:"cache"`
	Database     DatabaseConfig `yaml:"database"`
	Web          WebConfig      `yaml:"web"`
	Log          LogConfig      `yaml:"log"`
}

// RAGConfig covers chunking, retrieval and index persistence.
type RAGConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	ChunkSize         int      `yaml:"chunk_size"`
	ChunkOverlap      int      `yaml:"chunk_overlap"`
	TopK              int      `yaml:"top_k"`
	FetchK            int      `yaml:"fetch_k"`
	MMRLambda         float32  `yaml:"mmr_lambda"`
	VectorStoreDir    string   `yaml:"vector_store_dir"`
	Compress          bool     `yaml:"compress"`
	EncryptionKey     string   `yaml:"encryption_key"` // empty or 32 bytes
}

// LLMConfig describes a served model. Generation fields are ignored for
// embedding models.
type LLMConfig struct {
	Provider     string  `yaml:"provider"` // "ollama" | "openai"
	BaseURL      string  `yaml:"base_url"`
	Key          string  `yaml:"key"`
	Model        string  `yaml:"model"`
	Device       string  `yaml:"device"` // "auto" | "cpu" | "gpu"
	MaxNewTokens int     `yaml:"max_new_tokens,omitempty"`
	Temperature  float64 `yaml:"temperature,omitempty"`
	SkipWarmup   bool    `yaml:"skip_warmup,omitempty"`
}

type CacheConfig struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// DatabaseConfig selects where the embedding cache lives. An empty DSN means
// a SQLite file inside the cache directory.
type DatabaseConfig struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type WebConfig struct {
	Addr      string  `yaml:"addr"`
	UploadDir string  `yaml:"upload_dir"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceGPU  = "gpu"

	defaultChunkSize      = 1000
	defaultChunkOverlap   = 200
	defaultTopK           = 3
	defaultFetchK         = 20
	defaultMMRLambda      = 0.5
	defaultVectorStoreDir = "./vector_store"
	defaultEmbedModel     = "nomic-embed-text"
	defaultInferenceModel = "zephyr:7b-beta-q4_K_M"
	defaultMaxNewTokens   = 512
	defaultTemperature    = 0.7
	defaultCacheDir       = "~/.cache/document-qa"
	defaultWebAddr        = ":7860"
	defaultRateLimit      = 5
	defaultBurst          = 10
	defaultLogLevel       = "info"
)

// DefaultAllowedExtensions are the formats accepted when the config names none.
var DefaultAllowedExtensions = []string{".pdf", ".docx", ".txt", ".md"}

// LoadConfig reads the YAML file at path. A missing file is not an error:
// defaults are returned instead. A .env file in the working directory, if
// present, is loaded first so that keys can come from the environment.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := newConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return &cfg
}

// newConfig presets the fields for which zero is a meaningful setting, so
// that only a key absent from the YAML falls back to the default.
func newConfig() Config {
	var cfg Config
	cfg.RAG.MMRLambda = defaultMMRLambda
	cfg.InferenceLLM.Temperature = defaultTemperature
	return cfg
}

func (c *Config) applyEnv() {
	if c.EmbedLLM.Key == "" {
		c.EmbedLLM.Key = firstEnv("DOCQA_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	}
	if c.InferenceLLM.Key == "" {
		c.InferenceLLM.Key = firstEnv("DOCQA_LLM_API_KEY", "OPENAI_API_KEY")
	}
	if v := os.Getenv("DOCQA_DATABASE_DSN"); v != "" && c.Database.DSN == "" {
		c.Database.DSN = v
	}
}

func (c *Config) applyDefaults() {
	if len(c.RAG.AllowedExtensions) == 0 {
		c.RAG.AllowedExtensions = slices.Clone(DefaultAllowedExtensions)
	}
	for i, ext := range c.RAG.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.RAG.AllowedExtensions[i] = ext
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
	}
	if c.RAG.ChunkOverlap == 0 && c.RAG.ChunkSize > defaultChunkOverlap {
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.FetchK == 0 {
		c.RAG.FetchK = defaultFetchK
	}
	if c.RAG.FetchK < c.RAG.TopK {
		c.RAG.FetchK = c.RAG.TopK
	}
	if c.RAG.VectorStoreDir == "" {
		c.RAG.VectorStoreDir = defaultVectorStoreDir
	}
	c.RAG.VectorStoreDir = expandPath(c.RAG.VectorStoreDir)

	c.EmbedLLM.applyDefaults(defaultEmbedModel)
	c.InferenceLLM.applyDefaults(defaultInferenceModel)
	if c.InferenceLLM.MaxNewTokens == 0 {
		c.InferenceLLM.MaxNewTokens = defaultMaxNewTokens
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = defaultCacheDir
	}
	c.Cache.Dir = expandPath(c.Cache.Dir)

	if c.Web.Addr == "" {
		c.Web.Addr = defaultWebAddr
	}
	if c.Web.UploadDir == "" {
		c.Web.UploadDir = os.TempDir()
	}
	c.Web.UploadDir = expandPath(c.Web.UploadDir)
	if c.Web.RateLimit == 0 {
		c.Web.RateLimit = defaultRateLimit
	}
	if c.Web.Burst == 0 {
		c.Web.Burst = defaultBurst
	}

	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.File != "" {
		c.Log.File = expandPath(c.Log.File)
	}
}

func (l *LLMConfig) applyDefaults(model string) {
	if l.Provider == "" {
		l.Provider = ProviderOllama
	}
	if l.Model == "" {
		l.Model = model
	}
	if l.Device == "" {
		l.Device = DeviceAuto
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.MMRLambda < 0 || c.RAG.MMRLambda > 1 {
		return fmt.Errorf("rag.mmr_lambda must be in [0, 1], got %v", c.RAG.MMRLambda)
	}
	if n := len(c.RAG.EncryptionKey); n != 0 && n != 32 {
		return fmt.Errorf("rag.encryption_key must be empty or 32 bytes, got %d bytes", n)
	}
	for _, ext := range c.RAG.AllowedExtensions {
		if ext == "" || ext == "." {
			return errors.New("rag.allowed_extensions contains an empty extension")
		}
	}
	for name, l := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		if err := l.validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.InferenceLLM.Temperature < 0 {
		return fmt.Errorf("inference_llm.temperature must not be negative, got %v", c.InferenceLLM.Temperature)
	}
	if c.Web.RateLimit < 0 || c.Web.Burst < 0 {
		return errors.New("web.rate_limit and web.burst must not be negative")
	}
	return nil
}

func (l LLMConfig) validate() error {
	switch l.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q", l.Provider)
	}
	switch l.Device {
	case DeviceAuto, DeviceCPU, DeviceGPU:
	default:
		return fmt.Errorf("unknown device %q", l.Device)
	}
	return nil
}

// IsAllowed reports whether ext (with leading dot, any case) is in the allow-list.
func (c *RAGConfig) IsAllowed(ext string) bool {
	return slices.Contains(c.AllowedExtensions, strings.ToLower(ext))
}

// expandPath expands a leading ~ or $HOME to the user's home directory.
func expandPath(path string) string {
	var rest string
	switch {
	case path == "~" || path == "$HOME":
	case strings.HasPrefix(path, "~/"):
		rest = path[2:]
	case strings.HasPrefix(path, "$HOME/"):
		rest = path[6:]
	default:
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
