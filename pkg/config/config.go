package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for sqlforge-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
//
// One Config is loaded at startup and passed by reference into each component
// at construction; it is never mutated afterwards.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// LLM inference endpoint
	LLM LLMConfig `yaml:"llm"`

	// Embedding endpoint
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Target datasource (the database questions are asked about)
	Datasource DatasourceConfig `yaml:"datasource"`

	// Knowledge base vector store
	VectorStore VectorStoreConfig `yaml:"vector_store"`

	// Retrieval tuning
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Generate/validate/repair loop tuning
	Repair RepairConfig `yaml:"repair"`

	// BusinessRulesPath points at the business rules YAML document (optional).
	BusinessRulesPath string `yaml:"business_rules_path" env:"BUSINESS_RULES_PATH" env-default:""`
}

// LLMConfig holds inference service settings.
type LLMConfig struct {
	// Provider selects the client implementation: "openai" (any
	// OpenAI-compatible endpoint, including local vLLM/Ollama) or "anthropic".
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"http://localhost:11434/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"qwen2.5-coder:32b"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"2048"`
	// TimeoutSeconds bounds a single inference call. A timeout counts as a
	// failed attempt in the repair loop, it does not get retried in place.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"LLM_TIMEOUT_SECONDS" env-default:"120"`
}

// EmbeddingConfig holds embedding service settings.
type EmbeddingConfig struct {
	Endpoint string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:""`
	Model    string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey   string `yaml:"-" env:"EMBEDDING_API_KEY"` // Secret - not in YAML
	// BatchConcurrency caps parallel embedding calls during a build.
	BatchConcurrency int `yaml:"batch_concurrency" env:"EMBEDDING_BATCH_CONCURRENCY" env-default:"4"`
}

// EffectiveEndpoint returns the embedding endpoint, falling back to the LLM
// endpoint when not set (single-server deployments).
func (c *EmbeddingConfig) EffectiveEndpoint(llm *LLMConfig) string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return llm.Endpoint
}

// EffectiveAPIKey returns the embedding API key, falling back to the LLM key.
func (c *EmbeddingConfig) EffectiveAPIKey(llm *LLMConfig) string {
	if c.APIKey != "" {
		return c.APIKey
	}
	return llm.APIKey
}

// DatasourceConfig holds the target database connection settings.
type DatasourceConfig struct {
	// Type is "postgres" or "mssql". With Type "file", SchemaPath supplies a
	// structural description feed instead of a live connection.
	Type       string `yaml:"type" env:"DS_TYPE" env-default:"postgres"`
	Host       string `yaml:"host" env:"DS_HOST" env-default:"localhost"`
	Port       int    `yaml:"port" env:"DS_PORT" env-default:"5432"`
	User       string `yaml:"user" env:"DS_USER" env-default:""`
	Password   string `yaml:"-" env:"DS_PASSWORD"` // Secret - not in YAML
	Database   string `yaml:"database" env:"DS_DATABASE" env-default:""`
	SSLMode    string `yaml:"ssl_mode" env:"DS_SSLMODE" env-default:"disable"`
	SchemaPath string `yaml:"schema_path" env:"DS_SCHEMA_PATH" env-default:""`
	// QueryTimeoutSeconds bounds execution of generated SQL.
	QueryTimeoutSeconds int `yaml:"query_timeout_seconds" env:"DS_QUERY_TIMEOUT_SECONDS" env-default:"30"`
	// MaxRows caps rows fetched from generated SELECTs.
	MaxRows int `yaml:"max_rows" env:"DS_MAX_ROWS" env-default:"1000"`
}

// ConnectionString returns a PostgreSQL keyword/value connection string.
func (c *DatasourceConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MSSQLConnectionString returns a SQL Server connection URL.
func (c *DatasourceConfig) MSSQLConnectionString() string {
	return fmt.Sprintf(
		"sqlserver://%s:%s@%s:%d?database=%s",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// Dialect returns the SQL dialect tag for generated statements.
func (c *DatasourceConfig) Dialect() string {
	switch c.Type {
	case "mssql":
		return "tsql"
	default:
		return "postgres"
	}
}

// VectorStoreConfig holds knowledge base storage settings.
type VectorStoreConfig struct {
	// Backend is "memory" (in-process index persisted via snapshots) or
	// "pgvector" (PostgreSQL with the pgvector extension).
	Backend      string `yaml:"backend" env:"VECTOR_BACKEND" env-default:"memory"`
	SnapshotPath string `yaml:"snapshot_path" env:"VECTOR_SNAPSHOT_PATH" env-default:"./knowledge.snapshot.json"`
	// PGVector connection (only used when Backend is "pgvector").
	PGHost     string `yaml:"pg_host" env:"VECTOR_PGHOST" env-default:"localhost"`
	PGPort     int    `yaml:"pg_port" env:"VECTOR_PGPORT" env-default:"5432"`
	PGUser     string `yaml:"pg_user" env:"VECTOR_PGUSER" env-default:"sqlforge"`
	PGPassword string `yaml:"-" env:"VECTOR_PGPASSWORD"` // Secret - not in YAML
	PGDatabase string `yaml:"pg_database" env:"VECTOR_PGDATABASE" env-default:"sqlforge_kb"`
}

// PGConnectionString returns the pgvector store connection string.
func (c *VectorStoreConfig) PGConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s",
		c.PGHost, c.PGPort, c.PGUser, c.PGPassword, c.PGDatabase,
	)
}

// RetrievalConfig tunes context retrieval.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"5"`
	ScoreThreshold float64 `yaml:"score_threshold" env:"RETRIEVAL_SCORE_THRESHOLD" env-default:"0.5"`
	// ContextBudgetChars bounds the schema context section of a prompt.
	// Lowest-relevance unpinned chunks are dropped first when over budget.
	ContextBudgetChars int `yaml:"context_budget_chars" env:"RETRIEVAL_CONTEXT_BUDGET_CHARS" env-default:"12000"`
}

// RepairConfig tunes the generate/validate/repair loop.
type RepairConfig struct {
	// MaxAttempts is the total generation budget per question, counting the
	// first generation as attempt 1. The loop never exceeds it.
	MaxAttempts int `yaml:"max_attempts" env:"REPAIR_MAX_ATTEMPTS" env-default:"3"`
	// ExecuteQueries controls whether syntactically valid SQL is run against
	// the datasource. When false the loop terminates at syntax-check success.
	ExecuteQueries bool `yaml:"execute_queries" env:"REPAIR_EXECUTE_QUERIES" env-default:"true"`
}

// Load reads configuration from the given YAML path with environment variable
// overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv reads configuration from environment variables only.
// Used by tests and deployments without a config file.
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Datasource.Type {
	case "postgres", "mssql", "file":
	default:
		return fmt.Errorf("unknown datasource type %q", c.Datasource.Type)
	}
	if c.Datasource.Type == "file" && c.Datasource.SchemaPath == "" {
		return fmt.Errorf("datasource type \"file\" requires schema_path")
	}

	switch c.VectorStore.Backend {
	case "memory", "pgvector":
	default:
		return fmt.Errorf("unknown vector store backend %q", c.VectorStore.Backend)
	}

	if c.Repair.MaxAttempts < 1 {
		return fmt.Errorf("repair max_attempts must be >= 1, got %d", c.Repair.MaxAttempts)
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be >= 1, got %d", c.Retrieval.TopK)
	}

	return nil
}
