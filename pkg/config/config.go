// Package config loads gateway configuration from the environment.
//
// Required values are validated at first use, not at startup, so the process
// stays bootable for partial operation (e.g. serving cached searches while
// the graph store is down).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/cjcelaya/mindgate/pkg/kberr"
)

// LLMConfig configures the chat/completions endpoint (OpenAI-compatible).
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// EmbedderConfig configures the embeddings endpoint (OpenAI-compatible).
type EmbedderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimension  int
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

// RerankerConfig configures the rerank endpoint (Cohere-compatible).
type RerankerConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// QdrantConfig configures the vector store connection.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// CompoundOrFilter reports whether the deployment's Qdrant accepts a
	// compound Or filter over sources. When false, the retrieval engine
	// batches per-source queries and merges.
	CompoundOrFilter bool
}

// Neo4jConfig configures the graph store connection.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// RedisConfig configures the cache connection.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ToolsConfig configures remote analytic tool endpoints.
type ToolsConfig struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string
	RateLimitPerMin int
	ShutdownTimeout time.Duration
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	KnowledgeBaseDir string
	MaxTokens        int
	Overlap          int
	EmbedBatchSize   int
	GraphThrottle    time.Duration
	MaxConcurrent    int
}

// ChatConfig configures the orchestrator.
type ChatConfig struct {
	SystemPrompt  string
	ContextLimit  int // retrieval results per turn
	ContextBudget int // token budget for the context block
}

// Config is the root configuration.
type Config struct {
	LLM      LLMConfig
	Embedder EmbedderConfig
	Reranker RerankerConfig
	Qdrant   QdrantConfig
	Neo4j    Neo4jConfig
	Redis    RedisConfig
	Tools    ToolsConfig
	Server   ServerConfig
	Ingest   IngestConfig
	Chat     ChatConfig
}

const defaultSystemPrompt = "You are a knowledgeable assistant answering questions " +
	"from a personal knowledge base. Ground every claim in the provided context and " +
	"cite sources as [source:section]. If the context does not cover the question, say so."

// Load reads configuration from the environment. An optional .env file is
// loaded first when present (missing files are not an error).
func Load(envFile string) *Config {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	return &Config{
		LLM: LLMConfig{
			BaseURL:     getEnv("MINDGATE_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:      os.Getenv("MINDGATE_LLM_API_KEY"),
			Model:       getEnv("MINDGATE_LLM_MODEL", "gpt-4o-mini"),
			Temperature: getFloat("MINDGATE_LLM_TEMPERATURE", 0.7),
			MaxTokens:   getInt("MINDGATE_LLM_MAX_TOKENS", 2048),
			Timeout:     getDuration("MINDGATE_LLM_TIMEOUT", 60*time.Second),
			MaxRetries:  getInt("MINDGATE_LLM_MAX_RETRIES", 3),
		},
		Embedder: EmbedderConfig{
			BaseURL:    getEnv("MINDGATE_EMBED_BASE_URL", "https://api.openai.com/v1"),
			APIKey:     os.Getenv("MINDGATE_EMBED_API_KEY"),
			Model:      getEnv("MINDGATE_EMBED_MODEL", "text-embedding-3-small"),
			Dimension:  getInt("MINDGATE_EMBED_DIMENSION", 1536),
			BatchSize:  getInt("MINDGATE_EMBED_BATCH_SIZE", 128),
			Timeout:    getDuration("MINDGATE_EMBED_TIMEOUT", 30*time.Second),
			MaxRetries: getInt("MINDGATE_EMBED_MAX_RETRIES", 3),
		},
		Reranker: RerankerConfig{
			BaseURL: getEnv("MINDGATE_RERANK_BASE_URL", "https://api.cohere.com/v2"),
			APIKey:  os.Getenv("MINDGATE_RERANK_API_KEY"),
			Model:   getEnv("MINDGATE_RERANK_MODEL", "rerank-v3.5"),
			Timeout: getDuration("MINDGATE_RERANK_TIMEOUT", 15*time.Second),
		},
		Qdrant: QdrantConfig{
			Host:             getEnv("MINDGATE_QDRANT_HOST", "localhost"),
			Port:             getInt("MINDGATE_QDRANT_PORT", 6334),
			APIKey:           os.Getenv("MINDGATE_QDRANT_API_KEY"),
			UseTLS:           getBool("MINDGATE_QDRANT_TLS", false),
			Collection:       getEnv("MINDGATE_QDRANT_COLLECTION", "knowledge"),
			CompoundOrFilter: getBool("MINDGATE_QDRANT_COMPOUND_OR", true),
		},
		Neo4j: Neo4jConfig{
			URI:      getEnv("MINDGATE_NEO4J_URI", "bolt://localhost:7687"),
			Username: getEnv("MINDGATE_NEO4J_USER", "neo4j"),
			Password: os.Getenv("MINDGATE_NEO4J_PASSWORD"),
			Database: getEnv("MINDGATE_NEO4J_DATABASE", "neo4j"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("MINDGATE_REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("MINDGATE_REDIS_PASSWORD"),
			DB:       getInt("MINDGATE_REDIS_DB", 0),
		},
		Tools: ToolsConfig{
			BaseURL:     os.Getenv("MINDGATE_TOOLS_BASE_URL"),
			BearerToken: os.Getenv("MINDGATE_TOOLS_BEARER_TOKEN"),
			Timeout:     getDuration("MINDGATE_TOOLS_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			Addr:            getEnv("MINDGATE_ADDR", ":8080"),
			RateLimitPerMin: getInt("MINDGATE_RATE_LIMIT_PER_MIN", 60),
			ShutdownTimeout: getDuration("MINDGATE_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Ingest: IngestConfig{
			KnowledgeBaseDir: getEnv("MINDGATE_KNOWLEDGEBASE_DIR", "./knowledgebase"),
			MaxTokens:        getInt("MINDGATE_CHUNK_MAX_TOKENS", 600),
			Overlap:          getInt("MINDGATE_CHUNK_OVERLAP", 100),
			EmbedBatchSize:   getInt("MINDGATE_EMBED_BATCH_SIZE", 128),
			GraphThrottle:    getDuration("MINDGATE_GRAPH_THROTTLE", time.Second),
			MaxConcurrent:    getInt("MINDGATE_INGEST_CONCURRENCY", 4),
		},
		Chat: ChatConfig{
			SystemPrompt:  getEnv("MINDGATE_SYSTEM_PROMPT", defaultSystemPrompt),
			ContextLimit:  getInt("MINDGATE_CONTEXT_LIMIT", 8),
			ContextBudget: getInt("MINDGATE_CONTEXT_BUDGET", 4000),
		},
	}
}

// RequireLLMKey validates the LLM credential at use time.
func (c *Config) RequireLLMKey() error {
	if c.LLM.APIKey == "" {
		return kberr.ConfigMissing("MINDGATE_LLM_API_KEY")
	}
	return nil
}

// RequireEmbedderKey validates the embedder credential at use time.
func (c *Config) RequireEmbedderKey() error {
	if c.Embedder.APIKey == "" {
		return kberr.ConfigMissing("MINDGATE_EMBED_API_KEY")
	}
	return nil
}

// RequireToolsEndpoint validates the remote tool endpoint at use time.
func (c *Config) RequireToolsEndpoint() error {
	if c.Tools.BaseURL == "" {
		return kberr.ConfigMissing("MINDGATE_TOOLS_BASE_URL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}
