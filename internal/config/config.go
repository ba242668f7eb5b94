// Package config loads the gateway's typed configuration from environment
// variables, optionally pre-populated from a local .env file via
// github.com/joho/godotenv (the same loading pattern the CLI tooling in the
// retrieval pack uses for local development).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Concurrency holds the backend concurrency settings. SemaphoreSize bounds
// in-flight backend calls; WorkerPoolSize is loaded but not consumed, since
// the backend client starts no worker pool.
type Concurrency struct {
	WorkerPoolSize int
	SemaphoreSize  int
}

// Timeouts configures backend call and stream deadlines.
type Timeouts struct {
	BackendRead    time.Duration
	BackendConnect time.Duration
	StreamDeadline time.Duration
}

// PTC configures the sandboxed code-execution subsystem.
type PTC struct {
	Enabled          bool
	SandboxImage     string
	SessionTimeout   time.Duration
	ExecutionTimeout time.Duration
	MemoryLimitMB    int64
	NetworkDisabled  bool
}

// Usage configures the usage-record retention policy.
type Usage struct {
	TTLDays int
}

// AWSConfig configures the Bedrock runtime client.
type AWSConfig struct {
	Region string
}

// DynamoDBConfig configures the collaborator store tables.
type DynamoDBConfig struct {
	Endpoint         string
	APIKeysTable     string
	UsageTable       string
	ModelMappingTable string
	ModelPricingTable string
	UsageStatsTable  string
}

// RedisConfig configures the cluster-aware rate-limit coordination map.
type RedisConfig struct {
	Addr string
}

// Config is the gateway's complete typed configuration.
type Config struct {
	HTTPAddr        string
	DefaultServiceTier string

	Concurrency Concurrency
	Timeouts    Timeouts
	PTC         PTC
	Usage       Usage
	AWS         AWSConfig
	DynamoDB    DynamoDBConfig
	Redis       RedisConfig

	ModelMappingDefaults map[string]string
}

// Load reads configuration from the environment, first loading a local .env
// file if present (errors loading .env are ignored, matching the pattern
// other_examples' CLI tooling and kadirpekel-hector use for optional local
// overrides).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:           getEnv("GATEWAY_HTTP_ADDR", ":8080"),
		DefaultServiceTier: getEnv("GATEWAY_DEFAULT_SERVICE_TIER", "default"),
		Concurrency: Concurrency{
			WorkerPoolSize: getEnvInt("GATEWAY_WORKER_POOL_SIZE", 15),
			SemaphoreSize:  getEnvInt("GATEWAY_SEMAPHORE_SIZE", 15),
		},
		Timeouts: Timeouts{
			BackendRead:    getEnvDuration("GATEWAY_BACKEND_READ_TIMEOUT", 60*time.Second),
			BackendConnect: getEnvDuration("GATEWAY_BACKEND_CONNECT_TIMEOUT", 5*time.Second),
			StreamDeadline: getEnvDuration("GATEWAY_STREAM_DEADLINE", 10*time.Minute),
		},
		PTC: PTC{
			Enabled:          getEnvBool("GATEWAY_PTC_ENABLED", true),
			SandboxImage:     getEnv("GATEWAY_PTC_SANDBOX_IMAGE", "bedrock-gateway/ptc-sandbox:latest"),
			SessionTimeout:   getEnvDuration("GATEWAY_PTC_SESSION_TIMEOUT", 15*time.Minute),
			ExecutionTimeout: getEnvDuration("GATEWAY_PTC_EXECUTION_TIMEOUT", 60*time.Second),
			MemoryLimitMB:    int64(getEnvInt("GATEWAY_PTC_MEMORY_LIMIT_MB", 512)),
			NetworkDisabled:  getEnvBool("GATEWAY_PTC_NETWORK_DISABLED", true),
		},
		Usage: Usage{
			TTLDays: getEnvInt("GATEWAY_USAGE_TTL_DAYS", 90),
		},
		AWS: AWSConfig{
			Region: getEnv("AWS_REGION", "us-east-1"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:          os.Getenv("GATEWAY_DYNAMODB_ENDPOINT"),
			APIKeysTable:      getEnv("GATEWAY_TABLE_API_KEYS", "api_keys"),
			UsageTable:        getEnv("GATEWAY_TABLE_USAGE", "usage"),
			ModelMappingTable: getEnv("GATEWAY_TABLE_MODEL_MAPPING", "model_mapping"),
			ModelPricingTable: getEnv("GATEWAY_TABLE_MODEL_PRICING", "model_pricing"),
			UsageStatsTable:   getEnv("GATEWAY_TABLE_USAGE_STATS", "usage_stats"),
		},
		Redis: RedisConfig{
			Addr: os.Getenv("GATEWAY_REDIS_ADDR"),
		},
		ModelMappingDefaults: parseMapping(os.Getenv("GATEWAY_MODEL_MAPPING_DEFAULTS")),
	}

	if cfg.Concurrency.WorkerPoolSize <= 0 {
		return nil, fmt.Errorf("config: GATEWAY_WORKER_POOL_SIZE must be positive")
	}
	if cfg.Concurrency.SemaphoreSize <= 0 {
		return nil, fmt.Errorf("config: GATEWAY_SEMAPHORE_SIZE must be positive")
	}
	return cfg, nil
}

// parseMapping decodes a "k1=v1,k2=v2" string into a map, used for the
// model-ID default mapping table (the config-default tier of model
// resolution, below the table-backed override and above bare passthrough).
func parseMapping(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
