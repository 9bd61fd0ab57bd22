// Package config loads ingestd configuration with koanf: built-in defaults,
// then an optional YAML file, then INGESTD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete ingestd configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	LLM         LLMConfig         `koanf:"llm"`
	SQL         SQLConfig         `koanf:"sql"`
	DocStore    DocStoreConfig    `koanf:"docstore"`
	Jira        JiraConfig        `koanf:"jira"`
	GitHub      GitHubConfig      `koanf:"github"`
	Events      EventsConfig      `koanf:"events"`
	Redaction   RedactionConfig   `koanf:"redaction"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Ingest      IngestConfig      `koanf:"ingest"`
	TestCases   TestCasesConfig   `koanf:"testcases"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`

	// APIToken, when set, is required as a bearer token on /api/v1.
	APIToken Secret `koanf:"api_token"`

	// MaxUploadMB caps request bodies.
	MaxUploadMB int `koanf:"max_upload_mb"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// VectorStoreConfig selects and configures the vector index backend.
type VectorStoreConfig struct {
	Provider  string        `koanf:"provider"` // qdrant or chromem
	Index     string        `koanf:"index"`
	Dimension int           `koanf:"dimension"`
	Metric    string        `koanf:"metric"`
	Qdrant    QdrantConfig  `koanf:"qdrant"`
	Chromem   ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// ChromemConfig holds embedded chromem-go settings. An empty path keeps
// the index in memory.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider  string   `koanf:"provider"` // tei, openai or fastembed
	Model     string   `koanf:"model"`
	BaseURL   string   `koanf:"base_url"`
	APIKey    Secret   `koanf:"api_key"`
	Dimension int      `koanf:"dimension"`
	BatchSize int      `koanf:"batch_size"`
	CacheSize int      `koanf:"cache_size"`
	CacheDir  string   `koanf:"cache_dir"`
	Timeout   Duration `koanf:"timeout"`
}

// LLMConfig configures the completion model used for answers and SQL.
type LLMConfig struct {
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
}

// SQLConfig configures the relational store that tables are indexed from.
type SQLConfig struct {
	Driver string `koanf:"driver"` // pgx or sqlite
	DSN    Secret `koanf:"dsn"`
}

// DocStoreConfig configures the uploaded document store.
type DocStoreConfig struct {
	Path string `koanf:"path"`
}

// JiraConfig configures the Jira work-item source.
type JiraConfig struct {
	BaseURL    string  `koanf:"base_url"`
	Email      string  `koanf:"email"`
	Token      Secret  `koanf:"token"`
	JQL        string  `koanf:"jql"`
	MaxResults int     `koanf:"max_results"`
	RateLimit  float64 `koanf:"rate_limit"` // requests per second
}

// GitHubConfig configures the GitHub issue source.
type GitHubConfig struct {
	Token      Secret `koanf:"token"`
	Query      string `koanf:"query"`
	MaxResults int    `koanf:"max_results"`
}

// EventsConfig configures NATS ingest event publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// RedactionConfig configures secret scrubbing before embedding.
type RedactionConfig struct {
	Enabled       bool   `koanf:"enabled"`
	AllowlistPath string `koanf:"allowlist_path"`
}

// RetrievalConfig tunes scatter-gather retrieval.
type RetrievalConfig struct {
	MaxConcurrency      int      `koanf:"max_concurrency"`
	CandidateMultiplier int      `koanf:"candidate_multiplier"`
	TopK                int      `koanf:"top_k"`
	Namespaces          []string `koanf:"namespaces"`
	LabelThreshold      float64  `koanf:"label_threshold"`
	Strategy            string   `koanf:"strategy"`
}

// IngestConfig holds ingestion defaults.
type IngestConfig struct {
	Namespace      string   `koanf:"namespace"`
	Source         string   `koanf:"source"`
	TableNamespace string   `koanf:"table_namespace"`
	RowsPerChunk   int      `koanf:"rows_per_chunk"`
	RepoNamespace  string   `koanf:"repo_namespace"`
	ExcludeTables  []string `koanf:"exclude_tables"`
	WatchDebounce  Duration `koanf:"watch_debounce"`
}

// TestCasesConfig holds test-case generation defaults.
type TestCasesConfig struct {
	OutputDir   string `koanf:"output_dir"`
	FixVersion  string `koanf:"fix_version"`
	Limit       int    `koanf:"limit"`
	Concurrency int    `koanf:"concurrency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8088,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxUploadMB:     32,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "ingestd",
			SampleRate:  1.0,
		},
		VectorStore: VectorStoreConfig{
			Provider:  "chromem",
			Index:     "ingestd",
			Dimension: 384,
			Metric:    "cosine",
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
			Chromem: ChromemConfig{
				Path: "~/.local/share/ingestd/vectors",
			},
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "tei",
			Model:     "BAAI/bge-small-en-v1.5",
			BaseURL:   "http://localhost:8080",
			Dimension: 384,
			BatchSize: 32,
			CacheSize: 1024,
			Timeout:   Duration(30 * time.Second),
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0,
		},
		SQL: SQLConfig{
			Driver: "pgx",
		},
		DocStore: DocStoreConfig{
			Path: "~/.local/share/ingestd/documents.db",
		},
		Jira: JiraConfig{
			JQL:        "issuetype = Story ORDER BY updated DESC",
			MaxResults: 200,
			RateLimit:  5,
		},
		GitHub: GitHubConfig{
			MaxResults: 100,
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "ingest",
		},
		Redaction: RedactionConfig{
			Enabled: true,
		},
		Retrieval: RetrievalConfig{
			MaxConcurrency:      8,
			CandidateMultiplier: 3,
			TopK:                5,
			LabelThreshold:      70,
			Strategy:            "project_and_any_label_or_component",
		},
		Ingest: IngestConfig{
			Namespace:      "mongodb-files",
			Source:         "mongodb",
			TableNamespace: "postgresql-data",
			RowsPerChunk:   5,
			RepoNamespace:  "github-repos",
			WatchDebounce:  Duration(500 * time.Millisecond),
		},
		TestCases: TestCasesConfig{
			OutputDir:   "output",
			Limit:       1,
			Concurrency: 4,
		},
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			errs = append(errs, errors.New("service name required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry protocol must be grpc or http, got %q", c.Telemetry.Protocol))
		}
	}

	switch c.VectorStore.Provider {
	case "chromem":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			errs = append(errs, errors.New("qdrant host required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported vectorstore provider: %q (supported: chromem, qdrant)", c.VectorStore.Provider))
	}
	if c.VectorStore.Index == "" {
		errs = append(errs, errors.New("vectorstore index name required"))
	}
	if c.VectorStore.Dimension <= 0 {
		errs = append(errs, errors.New("vectorstore dimension must be positive"))
	}

	switch c.Embeddings.Provider {
	case "tei", "openai", "fastembed":
	default:
		errs = append(errs, fmt.Errorf("unsupported embeddings provider: %q (supported: tei, openai, fastembed)", c.Embeddings.Provider))
	}
	if c.Embeddings.Provider == "openai" && !c.Embeddings.APIKey.IsSet() {
		errs = append(errs, errors.New("embeddings api key required for openai provider"))
	}
	if c.Embeddings.Dimension != c.VectorStore.Dimension {
		errs = append(errs, fmt.Errorf("embeddings dimension %d does not match vectorstore dimension %d",
			c.Embeddings.Dimension, c.VectorStore.Dimension))
	}

	if c.SQL.Driver != "pgx" && c.SQL.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("unsupported sql driver: %q (supported: pgx, sqlite)", c.SQL.Driver))
	}
	if c.Retrieval.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("retrieval max concurrency must be positive"))
	}
	if c.Retrieval.CandidateMultiplier <= 0 {
		errs = append(errs, errors.New("retrieval candidate multiplier must be positive"))
	}
	if c.Retrieval.LabelThreshold < 0 || c.Retrieval.LabelThreshold > 100 {
		errs = append(errs, fmt.Errorf("label threshold must be 0-100, got %v", c.Retrieval.LabelThreshold))
	}
	if c.Ingest.RowsPerChunk <= 0 {
		errs = append(errs, errors.New("ingest rows per chunk must be positive"))
	}
	if c.Ingest.Namespace == "" || c.Ingest.TableNamespace == "" || c.Ingest.RepoNamespace == "" {
		errs = append(errs, errors.New("ingest namespaces must not be empty"))
	}
	if c.TestCases.Limit < 0 || c.TestCases.Concurrency < 0 {
		errs = append(errs, errors.New("testcases limit and concurrency must not be negative"))
	}

	return errors.Join(errs...)
}
