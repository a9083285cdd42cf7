// Package config provides the configuration schema, loader, and defaulting
// rules for the cordon gateway.
package config

import (
	"os"
	"time"
)

// LogLevel controls log verbosity for the cordon server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for cordon.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Endpoints []Endpoint      `yaml:"endpoints"`
	Caches    CachesConfig    `yaml:"caches"`
	Streaming StreamingConfig `yaml:"streaming"`
	Relay     RelayConfig     `yaml:"relay"`
	Tools     ToolsConfig     `yaml:"tools"`
}

// ServerConfig holds network and logging settings for the cordon server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8085").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Endpoint describes one upstream provider endpoint: which adapter variant
// talks to it, how many calls may be in flight, how sessions are pooled, and
// the failure-handling knobs that guard it.
type Endpoint struct {
	// ID uniquely identifies this endpoint across the gateway. It is the key
	// used by the admission gate, the circuit breaker, the session pool set,
	// and dispatch requests.
	ID string `yaml:"id"`

	// Provider selects the adapter variant registered for this endpoint
	// (e.g., "openai", "anthropic", "ollama").
	Provider string `yaml:"provider"`

	// Model is the provider-specific model identifier (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never appears in the config file.
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxConcurrent is the admission gate ceiling: the number of calls that
	// may be past the gate for this endpoint at any instant.
	MaxConcurrent int64 `yaml:"max_concurrent"`

	// MaxSessions bounds the session pool for this endpoint.
	MaxSessions int32 `yaml:"max_sessions"`

	// KeepAliveExpiry is how long an idle pooled session stays reusable.
	// Sessions idle longer than this are torn down and replaced.
	KeepAliveExpiry time.Duration `yaml:"keep_alive_expiry"`

	// Timeouts holds the per-tier deadlines applied to each attempt.
	Timeouts Timeouts `yaml:"timeouts"`

	// Breaker configures the circuit breaker guarding this endpoint.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ResolveAPIKey reads the endpoint's API key from the environment.
// It returns the empty string when APIKeyEnv is unset or the variable is empty.
func (e Endpoint) ResolveAPIKey() string {
	if e.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(e.APIKeyEnv)
}

// Timeouts holds the four timeout tiers applied to a single call attempt.
type Timeouts struct {
	// Connect bounds transport dialing.
	Connect time.Duration `yaml:"connect"`

	// Read bounds the wait for response headers after the request is sent.
	Read time.Duration `yaml:"read"`

	// Write bounds sending the request body. Together with Connect and Read
	// it forms the attempt deadline covering the whole exchange.
	Write time.Duration `yaml:"write"`

	// PoolAcquire bounds the wait for a free session from the endpoint pool.
	PoolAcquire time.Duration `yaml:"pool_acquire"`
}

// Attempt returns the deadline for one full attempt: connect + write + read.
func (t Timeouts) Attempt() time.Duration {
	return t.Connect + t.Write + t.Read
}

// BreakerConfig holds circuit breaker thresholds for one endpoint.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive transient failures that
	// trips the breaker open.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the breaker stays open before admitting a
	// single half-open probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// CachesConfig sizes the gateway's named in-memory caches.
type CachesConfig struct {
	// SweepInterval is the period of the background TTL sweep. Zero defaults
	// to 5 minutes; a negative value disables the sweep entirely (expired
	// entries are then only removed lazily on access).
	SweepInterval time.Duration `yaml:"sweep_interval"`

	CostEstimate         CacheConfig `yaml:"cost_estimate"`
	GeneratedSchema      CacheConfig `yaml:"generated_schema"`
	EndpointValidation   CacheConfig `yaml:"endpoint_validation"`
	EndpointAvailability CacheConfig `yaml:"endpoint_availability"`
}

// CacheConfig sizes a single named cache.
type CacheConfig struct {
	// Capacity is the maximum number of entries before LRU eviction.
	Capacity int `yaml:"capacity"`

	// TTL is the default time-to-live for entries. Entries older than this
	// are treated as absent.
	TTL time.Duration `yaml:"ttl"`
}

// StreamingConfig bounds the shared streaming read path.
type StreamingConfig struct {
	// MaxConcurrentReads caps how many streaming sessions may be actively
	// reading at once; further sessions suspend until a slot frees.
	MaxConcurrentReads int64 `yaml:"max_concurrent_reads"`

	// ChunkSize is the number of bytes yielded per chunk.
	ChunkSize int `yaml:"chunk_size"`

	// MaxBytes caps the total bytes read per session. Sources longer than
	// this end the stream with a truncation error.
	MaxBytes int64 `yaml:"max_bytes"`
}

// RelayConfig tunes the retry loop wrapped around every provider call.
type RelayConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	// Zero defaults to 2; a negative value disables retries.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the delay before the first retry; it doubles per retry.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffCap caps the exponential backoff delay.
	BackoffCap time.Duration `yaml:"backoff_cap"`
}

// Retries returns the effective retry count after defaulting.
func (r RelayConfig) Retries() int {
	if r.MaxRetries < 0 {
		return 0
	}
	return r.MaxRetries
}

// ToolsConfig holds tool-layer settings.
type ToolsConfig struct {
	// MCPServers lists external Model Context Protocol servers whose tools
	// are bridged into the factory.
	MCPServers []MCPServerConfig `yaml:"mcp_servers"`
}

// MCPServerConfig describes how to reach a single MCP tool server.
type MCPServerConfig struct {
	// Name is a unique identifier for this server; the bridged tool is
	// exposed as "mcp:<name>".
	Name string `yaml:"name"`

	// URL is the server's streamable HTTP endpoint
	// (e.g., "http://localhost:9900/mcp").
	URL string `yaml:"url"`
}
