package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrConfiguration   = errors.New("invalid configuration")
	ErrMissingRequired = fmt.Errorf("%w: missing required configuration", ErrConfiguration)
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendFile     = "file"
	BackendWeaviate = "weaviate"

	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type Config struct {
	DataDir      string `envconfig:"DATA_DIR" default:"data"`
	CatalogPath  string `envconfig:"CATALOG_PATH" default:"data/metadata.json"`
	IndexDir     string `envconfig:"INDEX_DIR" default:"data/index"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	PromptsPath  string `envconfig:"PROMPTS_PATH"`

	DBDriver string `envconfig:"DB_DRIVER" default:"sqlite"`
	DBPath   string `envconfig:"DB_PATH" default:"data/papermind.db"`
	DBHost   string `envconfig:"DB_HOST" default:"postgres"`
	DBPort   int    `envconfig:"DB_PORT" default:"5432"`
	DBUser   string `envconfig:"DB_USER" default:"papermind"`
	DBPass   string `envconfig:"DB_PASS" default:"password"`
	DBName   string `envconfig:"DB_NAME" default:"papermind"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"file"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	EmbeddingProvider        string `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`
	EmbeddingModel           string `envconfig:"EMBEDDING_MODEL" default:"nomic-embed-text"`
	EmbedBatchSize           int    `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	CompletionProvider       string `envconfig:"COMPLETION_PROVIDER" default:"ollama"`
	CompletionModel          string `envconfig:"COMPLETION_MODEL" default:"llama3.2"`
	ReviewModel              string `envconfig:"REVIEW_MODEL"`
	CompletionTimeoutSeconds int    `envconfig:"COMPLETION_TIMEOUT_SECONDS" default:"120"`
	OllamaURL                string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	GeminiAPIKey             string `envconfig:"GEMINI_API_KEY"`

	// Chunking, in characters
	ChunkSize       int  `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int  `envconfig:"CHUNK_OVERLAP" default:"200"`
	StripReferences bool `envconfig:"STRIP_REFERENCES" default:"true"`

	TopKChat      int `envconfig:"TOP_K_CHAT" default:"5"`
	TopKReview    int `envconfig:"TOP_K_REVIEW" default:"7"`
	TopKSummary   int `envconfig:"TOP_K_SUMMARY" default:"3"`
	MaxHistory    int `envconfig:"MAX_HISTORY" default:"20"`
	HistoryWindow int `envconfig:"HISTORY_WINDOW" default:"4"`

	// Server
	ServerPort int    `envconfig:"SERVER_PORT" default:"8001"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; .env files only fill gaps.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("%w: DB_PATH", ErrMissingRequired)
		}
	case DriverPostgres:
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown DB_DRIVER %q", ErrConfiguration, c.DBDriver)
	}

	if c.IndexDir == "" {
		return fmt.Errorf("%w: INDEX_DIR", ErrMissingRequired)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: EMBEDDING_MODEL", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case BackendFile:
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ErrConfiguration, c.VectorBackend)
	}

	for _, p := range []struct{ key, val string }{
		{"EMBEDDING_PROVIDER", c.EmbeddingProvider},
		{"COMPLETION_PROVIDER", c.CompletionProvider},
	} {
		switch p.val {
		case ProviderOllama:
		case ProviderGemini:
			if c.GeminiAPIKey == "" {
				return fmt.Errorf("%w: GEMINI_API_KEY (required by %s=gemini)", ErrMissingRequired, p.key)
			}
		default:
			return fmt.Errorf("%w: unknown %s %q", ErrConfiguration, p.key, p.val)
		}
	}

	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must satisfy 0 <= overlap < CHUNK_SIZE (got size=%d overlap=%d)",
			ErrConfiguration, c.ChunkSize, c.ChunkOverlap)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be positive", ErrConfiguration)
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("%w: MAX_HISTORY must be positive", ErrConfiguration)
	}
	if c.HistoryWindow < 0 {
		return fmt.Errorf("%w: HISTORY_WINDOW must not be negative", ErrConfiguration)
	}
	if c.TopKChat <= 0 || c.TopKReview <= 0 || c.TopKSummary <= 0 {
		return fmt.Errorf("%w: TOP_K values must be positive", ErrConfiguration)
	}
	if c.CompletionTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: COMPLETION_TIMEOUT_SECONDS must be positive", ErrConfiguration)
	}
	return nil
}

// ReviewModelName falls back to the completion model when no dedicated
// review model is configured.
func (c *Config) ReviewModelName() string {
	if c.ReviewModel != "" {
		return c.ReviewModel
	}
	return c.CompletionModel
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) SQLiteDSN() string {
	return c.DBPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
