// Package tsconfig loads the search engine's runtime configuration from
// environment variables (plus an optional YAML override file), the way
// pkg/config's LoadFromEnv does for the teacher's Neo4j-compatible settings
// — same getEnv*+strconv helper pattern, same "defaults first, env
// overrides, then an optional file layered on top" order, adapted from
// NEO4J_*/NORNICDB_* names to TENANTSEARCH_* names.
package tsconfig

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var logger = log.New(log.Writer(), "tsconfig: ", log.LstdFlags)

// HNSWConfig holds the index construction parameters (spec §4.2 Params).
type HNSWConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
}

// ServerConfig holds the HTTP API listener settings.
type ServerConfig struct {
	HTTPPort int    `yaml:"http_port"`
	HTTPAddr string `yaml:"http_addr"`
}

// StoreConfig selects and configures the chunk-persistence backend.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // "memory" or "badger"
	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`
}

// EmbeddingConfig configures the embedding collaborator.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // ollama, openai
	APIURL     string `yaml:"api_url"`
	APIKey     string `yaml:"api_key"` // openai only
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// LLMConfig configures the llmclient collaborator.
type LLMConfig struct {
	APIURL     string        `yaml:"api_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DenialConfig configures denial-observation logging.
type DenialConfig struct {
	LogPath   string `yaml:"log_path"`
	QueueSize int    `yaml:"queue_size"`
	RedisAddr string `yaml:"redis_addr"` // optional durable mirror
	RedisList string `yaml:"redis_list"`
}

// PipelineConfig bounds ingestion concurrency (spec §4.8).
type PipelineConfig struct {
	StageBuffer int `yaml:"stage_buffer"`
	Workers     int `yaml:"workers"`
}

// Config is the fully resolved, validated runtime configuration.
type Config struct {
	HNSW      HNSWConfig      `yaml:"hnsw"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Denial    DenialConfig    `yaml:"denial"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// LoadFromEnv builds a Config from TENANTSEARCH_* environment variables,
// falling back to sane defaults for anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{
		HNSW: HNSWConfig{
			M:              getEnvInt("TENANTSEARCH_HNSW_M", 16),
			EfConstruction: getEnvInt("TENANTSEARCH_HNSW_EF_CONSTRUCTION", 200),
		},
		Server: ServerConfig{
			HTTPPort: getEnvInt("TENANTSEARCH_HTTP_PORT", 8080),
			HTTPAddr: getEnv("TENANTSEARCH_HTTP_ADDR", "0.0.0.0"),
		},
		Store: StoreConfig{
			Backend:  getEnv("TENANTSEARCH_STORE_BACKEND", "memory"),
			DataDir:  getEnv("TENANTSEARCH_DATA_DIR", "./data"),
			InMemory: getEnvBool("TENANTSEARCH_STORE_IN_MEMORY", false),
		},
		Embedding: EmbeddingConfig{
			Provider:   getEnv("TENANTSEARCH_EMBEDDING_PROVIDER", "ollama"),
			APIURL:     getEnv("TENANTSEARCH_EMBEDDING_API_URL", "http://localhost:11434"),
			APIKey:     getEnv("TENANTSEARCH_EMBEDDING_API_KEY", ""),
			Model:      getEnv("TENANTSEARCH_EMBEDDING_MODEL", "mxbai-embed-large"),
			Dimensions: getEnvInt("TENANTSEARCH_EMBEDDING_DIMENSIONS", 1024),
		},
		LLM: LLMConfig{
			APIURL:     getEnv("TENANTSEARCH_LLM_API_URL", "http://localhost:11434"),
			Model:      getEnv("TENANTSEARCH_LLM_MODEL", "llama3.1"),
			Timeout:    getEnvDuration("TENANTSEARCH_LLM_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvInt("TENANTSEARCH_LLM_MAX_RETRIES", 3),
		},
		Denial: DenialConfig{
			LogPath:   getEnv("TENANTSEARCH_DENIAL_LOG_PATH", "./logs/denials.jsonl"),
			QueueSize: getEnvInt("TENANTSEARCH_DENIAL_QUEUE_SIZE", 1024),
			RedisAddr: getEnv("TENANTSEARCH_DENIAL_REDIS_ADDR", ""),
			RedisList: getEnv("TENANTSEARCH_DENIAL_REDIS_LIST", "tenantsearch:denials"),
		},
		Pipeline: PipelineConfig{
			StageBuffer: getEnvInt("TENANTSEARCH_PIPELINE_STAGE_BUFFER", 16),
			Workers:     getEnvInt("TENANTSEARCH_PIPELINE_WORKERS", 4),
		},
	}

	if path := os.Getenv("TENANTSEARCH_CONFIG_FILE"); path != "" {
		if err := cfg.mergeYAMLFile(path); err != nil {
			logger.Printf("ignoring config file %s: %v", path, err)
		}
	}

	return cfg
}

// mergeYAMLFile layers YAML overrides from path on top of cfg, matching
// pkg/config's "env vars first, explicit overrides second" precedence.
func (c *Config) mergeYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if c.HNSW.M < 4 {
		return fmt.Errorf("hnsw.m must be >= 4, got %d", c.HNSW.M)
	}
	if c.HNSW.EfConstruction < 1 {
		return fmt.Errorf("hnsw.ef_construction must be >= 1, got %d", c.HNSW.EfConstruction)
	}
	if c.Server.HTTPPort <= 0 {
		return fmt.Errorf("server.http_port must be positive, got %d", c.Server.HTTPPort)
	}
	if c.Store.Backend != "memory" && c.Store.Backend != "badger" {
		return fmt.Errorf("store.backend must be \"memory\" or \"badger\", got %q", c.Store.Backend)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
