package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"papermind/internal/config"
	"papermind/migrations"
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client

	// SkipWeaviate leaves the vector database out for suites that only
	// need Postgres.
	SkipWeaviate bool

	pgHost       string
	pgPort       string
	weaviateHost string

	// Containers
	pgContainer       *postgres.PostgresContainer
	weaviateContainer testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	// 1. Postgres
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("papermind_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	s.pgHost, err = pgContainer.Host(ctx)
	require.NoError(s.T, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(s.T, err)
	s.pgPort = pgPort.Port()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, migrations.Up(s.DB, config.DriverPostgres))

	if s.SkipWeaviate {
		return
	}

	// 2. Weaviate
	req := testcontainers.ContainerRequest{
		Image:        "semitechnologies/weaviate:1.24.10",
		ExposedPorts: []string{"8080/tcp", "50051/tcp"},
		Env: map[string]string{
			"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
			"DEFAULT_VECTORIZER_MODULE":               "none",
			"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
		},
		WaitingFor: wait.ForHTTP("/v1/.well-known/ready").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
	}
	weaviateC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(s.T, err)
	s.weaviateContainer = weaviateC

	host, err := weaviateC.Host(ctx)
	require.NoError(s.T, err)
	port, err := weaviateC.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateHost, Scheme: "http"})
	require.NoError(s.T, err)
}

// GetAppConfig points a valid configuration at the suite's containers.
// File paths live in a per-test temp dir.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	dir := s.T.TempDir()
	port, _ := strconv.Atoi(s.pgPort)

	cfg := &config.Config{
		DataDir:                    dir,
		CatalogPath:                filepath.Join(dir, "metadata.json"),
		IndexDir:                   filepath.Join(dir, "index"),
		QueryLogPath:               filepath.Join(dir, "logs", "query.log"),
		DBDriver:                   config.DriverPostgres,
		DBHost:                     s.pgHost,
		DBPort:                     port,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "papermind_test",
		VectorBackend:              config.BackendFile,
		WeaviateScheme:             "http",
		EmbeddingProvider:          config.ProviderOllama,
		EmbeddingModel:             "nomic-embed-text",
		EmbedBatchSize:             32,
		CompletionProvider:         config.ProviderOllama,
		CompletionModel:            "llama3.2",
		CompletionTimeoutSeconds:   5,
		OllamaURL:                  "http://localhost:11434",
		ChunkSize:                  1000,
		ChunkOverlap:               200,
		StripReferences:            true,
		TopKChat:                   5,
		TopKReview:                 7,
		TopKSummary:                3,
		MaxHistory:                 20,
		HistoryWindow:              4,
		ServerPort:                 8001,
		LogLevel:                   "debug",
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
	if s.Weaviate != nil {
		cfg.VectorBackend = config.BackendWeaviate
		cfg.WeaviateHost = s.weaviateHost
	}
	return cfg
}

func (s *IntegrationSuite) Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.DB != nil {
		s.DB.Close()
	}
	if s.pgContainer != nil {
		s.pgContainer.Terminate(ctx)
	}
	if s.weaviateContainer != nil {
		s.weaviateContainer.Terminate(ctx)
	}
}
