package config_test

import (
	"errors"
	"testing"

	"papermind/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBDriver:                 config.DriverSQLite,
		DBPath:                   "data/test.db",
		IndexDir:                 "data/index",
		VectorBackend:            config.BackendFile,
		EmbeddingProvider:        config.ProviderOllama,
		EmbeddingModel:           "nomic-embed-text",
		EmbedBatchSize:           32,
		CompletionProvider:       config.ProviderOllama,
		CompletionModel:          "llama3.2",
		CompletionTimeoutSeconds: 120,
		ChunkSize:                1000,
		ChunkOverlap:             200,
		TopKChat:                 5,
		TopKReview:               7,
		TopKSummary:              3,
		MaxHistory:               20,
		HistoryWindow:            4,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing DBPath",
			mutate:  func(c *config.Config) { c.DBPath = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Postgres Missing DBHost",
			mutate: func(c *config.Config) {
				c.DBDriver = config.DriverPostgres
				c.DBUser = "user"
				c.DBName = "db"
			},
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Postgres Valid",
			mutate: func(c *config.Config) {
				c.DBDriver = config.DriverPostgres
				c.DBHost = "localhost"
				c.DBUser = "user"
				c.DBName = "db"
			},
			wantErr: false,
		},
		{
			name:    "Unknown Driver",
			mutate:  func(c *config.Config) { c.DBDriver = "mysql" },
			wantErr: true,
			errIs:   config.ErrConfiguration,
		},
		{
			name:    "Unknown Vector Backend",
			mutate:  func(c *config.Config) { c.VectorBackend = "faiss" },
			wantErr: true,
			errIs:   config.ErrConfiguration,
		},
		{
			name:    "Gemini Without Key",
			mutate:  func(c *config.Config) { c.EmbeddingProvider = config.ProviderGemini },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Gemini With Key",
			mutate: func(c *config.Config) {
				c.CompletionProvider = config.ProviderGemini
				c.GeminiAPIKey = "key"
			},
			wantErr: false,
		},
		{
			name:    "Overlap Equals Size",
			mutate:  func(c *config.Config) { c.ChunkOverlap = c.ChunkSize },
			wantErr: true,
			errIs:   config.ErrConfiguration,
		},
		{
			name:    "Negative Overlap",
			mutate:  func(c *config.Config) { c.ChunkOverlap = -1 },
			wantErr: true,
			errIs:   config.ErrConfiguration,
		},
		{
			name:    "Zero Max History",
			mutate:  func(c *config.Config) { c.MaxHistory = 0 },
			wantErr: true,
			errIs:   config.ErrConfiguration,
		},
		{
			name:    "Zero TopK",
			mutate:  func(c *config.Config) { c.TopKReview = 0 },
			wantErr: true,
			errIs:   config.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMissingRequiredIsConfigurationError(t *testing.T) {
	assert.ErrorIs(t, config.ErrMissingRequired, config.ErrConfiguration)
}
