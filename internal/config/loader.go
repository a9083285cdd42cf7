package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults] when the corresponding field is zero.
const (
	DefaultListenAddr      = ":8085"
	DefaultMaxConcurrent   = 8
	DefaultMaxSessions     = 4
	DefaultKeepAliveExpiry = 90 * time.Second

	DefaultConnectTimeout     = 2 * time.Second
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultPoolAcquireTimeout = 10 * time.Second

	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second

	DefaultSweepInterval = 5 * time.Minute

	DefaultMaxConcurrentReads = 16
	DefaultChunkSize          = 64 * 1024
	DefaultMaxStreamBytes     = 32 * 1024 * 1024

	DefaultMaxRetries  = 2
	DefaultBackoffBase = 200 * time.Millisecond
	DefaultBackoffCap  = 5 * time.Second
)

// ValidProviderNames lists the adapter variants shipped with cordon.
// Used by [Validate] to warn about unrecognised provider names; unknown names
// are not an error because third-party constructors may be registered.
var ValidProviderNames = []string{
	"openai", "anthropic", "gemini", "ollama", "groq",
	"mistral", "deepseek", "llamacpp", "llamafile", "mock",
}

// Load reads the YAML configuration file at path, applies defaults, and
// returns a validated [Config]. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with the package defaults.
// Negative values are left untouched so that [Validate] can reject them
// (or, where documented, treat them as an explicit off switch).
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	for i := range cfg.Endpoints {
		ep := &cfg.Endpoints[i]
		if ep.MaxConcurrent == 0 {
			ep.MaxConcurrent = DefaultMaxConcurrent
		}
		if ep.MaxSessions == 0 {
			ep.MaxSessions = DefaultMaxSessions
		}
		if ep.KeepAliveExpiry == 0 {
			ep.KeepAliveExpiry = DefaultKeepAliveExpiry
		}
		if ep.Timeouts.Connect == 0 {
			ep.Timeouts.Connect = DefaultConnectTimeout
		}
		if ep.Timeouts.Read == 0 {
			ep.Timeouts.Read = DefaultReadTimeout
		}
		if ep.Timeouts.Write == 0 {
			ep.Timeouts.Write = DefaultWriteTimeout
		}
		if ep.Timeouts.PoolAcquire == 0 {
			ep.Timeouts.PoolAcquire = DefaultPoolAcquireTimeout
		}
		if ep.Breaker.FailureThreshold == 0 {
			ep.Breaker.FailureThreshold = DefaultFailureThreshold
		}
		if ep.Breaker.RecoveryTimeout == 0 {
			ep.Breaker.RecoveryTimeout = DefaultRecoveryTimeout
		}
	}

	if cfg.Caches.SweepInterval == 0 {
		cfg.Caches.SweepInterval = DefaultSweepInterval
	}
	applyCacheDefaults(&cfg.Caches.CostEstimate, 2048, 15*time.Minute)
	applyCacheDefaults(&cfg.Caches.GeneratedSchema, 256, time.Hour)
	applyCacheDefaults(&cfg.Caches.EndpointValidation, 64, 10*time.Minute)
	applyCacheDefaults(&cfg.Caches.EndpointAvailability, 64, 30*time.Second)

	if cfg.Streaming.MaxConcurrentReads == 0 {
		cfg.Streaming.MaxConcurrentReads = DefaultMaxConcurrentReads
	}
	if cfg.Streaming.ChunkSize == 0 {
		cfg.Streaming.ChunkSize = DefaultChunkSize
	}
	if cfg.Streaming.MaxBytes == 0 {
		cfg.Streaming.MaxBytes = DefaultMaxStreamBytes
	}

	if cfg.Relay.MaxRetries == 0 {
		cfg.Relay.MaxRetries = DefaultMaxRetries
	}
	if cfg.Relay.BackoffBase == 0 {
		cfg.Relay.BackoffBase = DefaultBackoffBase
	}
	if cfg.Relay.BackoffCap == 0 {
		cfg.Relay.BackoffCap = DefaultBackoffCap
	}
}

func applyCacheDefaults(c *CacheConfig, capacity int, ttl time.Duration) {
	if c.Capacity == 0 {
		c.Capacity = capacity
	}
	if c.TTL == 0 {
		c.TTL = ttl
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Endpoints
	if len(cfg.Endpoints) == 0 {
		errs = append(errs, errors.New("endpoints: at least one endpoint is required"))
	}
	idsSeen := make(map[string]int, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		prefix := fmt.Sprintf("endpoints[%d]", i)
		if ep.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[ep.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of endpoints[%d]", prefix, ep.ID, prev))
			}
			idsSeen[ep.ID] = i
		}
		if ep.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		} else if !slices.Contains(ValidProviderNames, ep.Provider) {
			slog.Warn("unknown provider name — may be a typo or third-party adapter",
				"endpoint", ep.ID,
				"provider", ep.Provider,
				"known", ValidProviderNames,
			)
		}
		if ep.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
		if ep.APIKeyEnv != "" && os.Getenv(ep.APIKeyEnv) == "" {
			slog.Warn("API key environment variable is not set; calls to this endpoint may be rejected",
				"endpoint", ep.ID,
				"env", ep.APIKeyEnv,
			)
		}
		if ep.MaxConcurrent < 0 {
			errs = append(errs, fmt.Errorf("%s.max_concurrent %d must be positive", prefix, ep.MaxConcurrent))
		}
		if ep.MaxSessions < 0 {
			errs = append(errs, fmt.Errorf("%s.max_sessions %d must be positive", prefix, ep.MaxSessions))
		}
		if ep.KeepAliveExpiry < 0 {
			errs = append(errs, fmt.Errorf("%s.keep_alive_expiry %v must be positive", prefix, ep.KeepAliveExpiry))
		}
		errs = appendTimeoutErrs(errs, prefix, ep.Timeouts)
		if ep.Breaker.FailureThreshold < 0 {
			errs = append(errs, fmt.Errorf("%s.breaker.failure_threshold %d must be positive", prefix, ep.Breaker.FailureThreshold))
		}
		if ep.Breaker.RecoveryTimeout < 0 {
			errs = append(errs, fmt.Errorf("%s.breaker.recovery_timeout %v must be positive", prefix, ep.Breaker.RecoveryTimeout))
		}
	}

	// Caches
	errs = appendCacheErrs(errs, "caches.cost_estimate", cfg.Caches.CostEstimate)
	errs = appendCacheErrs(errs, "caches.generated_schema", cfg.Caches.GeneratedSchema)
	errs = appendCacheErrs(errs, "caches.endpoint_validation", cfg.Caches.EndpointValidation)
	errs = appendCacheErrs(errs, "caches.endpoint_availability", cfg.Caches.EndpointAvailability)

	// Streaming
	if cfg.Streaming.MaxConcurrentReads < 0 {
		errs = append(errs, fmt.Errorf("streaming.max_concurrent_reads %d must be positive", cfg.Streaming.MaxConcurrentReads))
	}
	if cfg.Streaming.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("streaming.chunk_size %d must be positive", cfg.Streaming.ChunkSize))
	}
	if cfg.Streaming.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("streaming.max_bytes %d must be positive", cfg.Streaming.MaxBytes))
	}
	if cfg.Streaming.ChunkSize > 0 && cfg.Streaming.MaxBytes > 0 && int64(cfg.Streaming.ChunkSize) > cfg.Streaming.MaxBytes {
		slog.Warn("streaming.chunk_size exceeds streaming.max_bytes; every stream will truncate on its first chunk",
			"chunk_size", cfg.Streaming.ChunkSize,
			"max_bytes", cfg.Streaming.MaxBytes,
		)
	}

	// Relay
	if cfg.Relay.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("relay.backoff_base %v must be positive", cfg.Relay.BackoffBase))
	}
	if cfg.Relay.BackoffCap < cfg.Relay.BackoffBase {
		errs = append(errs, fmt.Errorf("relay.backoff_cap %v is below relay.backoff_base %v", cfg.Relay.BackoffCap, cfg.Relay.BackoffBase))
	}

	// MCP servers
	namesSeen := make(map[string]int, len(cfg.Tools.MCPServers))
	for i, srv := range cfg.Tools.MCPServers {
		prefix := fmt.Sprintf("tools.mcp_servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of tools.mcp_servers[%d]", prefix, srv.Name, prev))
			}
			namesSeen[srv.Name] = i
		}
		if srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required", prefix))
		} else if u, err := url.Parse(srv.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s.url %q must be an http(s) URL", prefix, srv.URL))
		}
	}

	return errors.Join(errs...)
}

func appendTimeoutErrs(errs []error, prefix string, t Timeouts) []error {
	for _, tier := range []struct {
		name string
		d    time.Duration
	}{
		{"connect", t.Connect},
		{"read", t.Read},
		{"write", t.Write},
		{"pool_acquire", t.PoolAcquire},
	} {
		if tier.d < 0 {
			errs = append(errs, fmt.Errorf("%s.timeouts.%s %v must be positive", prefix, tier.name, tier.d))
		}
	}
	return errs
}

func appendCacheErrs(errs []error, prefix string, c CacheConfig) []error {
	if c.Capacity < 0 {
		errs = append(errs, fmt.Errorf("%s.capacity %d must be positive", prefix, c.Capacity))
	}
	if c.TTL < 0 {
		errs = append(errs, fmt.Errorf("%s.ttl %v must be positive", prefix, c.TTL))
	}
	return errs
}
