// Package config defines the keeper's TOML configuration and its
// startup validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config is the root of the keeper-config.toml file.
type Config struct {
	Keeper     KeeperSettings     `toml:"keeper"`
	RPC        RPCSettings        `toml:"rpc"`
	Monitoring MonitoringSettings `toml:"monitoring"`
	Execution  ExecutionSettings  `toml:"execution"`
	Database   DatabaseSettings   `toml:"database"`
	Logging    LoggingSettings    `toml:"logging"`
	Metrics    MetricsSettings    `toml:"metrics"`
}

// KeeperSettings identify the signing wallet and stake.
type KeeperSettings struct {
	WalletPath  string `toml:"wallet_path" validate:"required"`
	StakeAmount uint64 `toml:"stake_amount"`
}

// RPCSettings configure the endpoint pool.
type RPCSettings struct {
	PrimaryURL       string   `toml:"primary_url" validate:"required"`
	FallbackURLs     []string `toml:"fallback_urls"`
	RequestTimeoutMS uint64   `toml:"request_timeout_ms"`
	MaxRetries       uint32   `toml:"max_retries"`
}

// MonitoringSettings configure the job monitor.
type MonitoringSettings struct {
	PollIntervalMS     uint64 `toml:"poll_interval_ms" validate:"min=100"`
	MaxConcurrentJobs  int    `toml:"max_concurrent_jobs" validate:"min=1"`
	JobCacheTTLSeconds uint64 `toml:"job_cache_ttl_seconds"`
	EnableWebsocket    *bool  `toml:"enable_websocket"`
}

// ExecutionSettings configure the executor.
type ExecutionSettings struct {
	PriorityFeePercentile uint32 `toml:"priority_fee_percentile" validate:"max=100"`
	MaxRetries            uint32 `toml:"max_retries"`
	RetryDelayMS          uint64 `toml:"retry_delay_ms"`
	MaxComputeUnits       uint32 `toml:"max_compute_units" validate:"max=1400000"`
	SimulationEnabled     *bool  `toml:"simulation_enabled"`
}

// DatabaseSettings configure the PostgreSQL pool.
type DatabaseSettings struct {
	URL                 string `toml:"url" validate:"required"`
	MaxConnections      uint32 `toml:"max_connections"`
	ConnectionTimeoutMS uint64 `toml:"connection_timeout_ms"`
}

// LoggingSettings configure slog output.
type LoggingSettings struct {
	Level    string `toml:"level"`
	FilePath string `toml:"file_path"`
}

// MetricsSettings configure the optional HTTP metrics endpoint.
type MetricsSettings struct {
	Enabled bool   `toml:"enabled"`
	Port    uint16 `toml:"port"`
}

// Load reads and validates a config file. Any out-of-range value is
// rejected here so the pipeline can assume a sane configuration.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("op=config.load: read %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.load: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate applies the struct tags plus the checks tags cannot express.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("op=config.validate: %w", err)
	}
	if strings.TrimSpace(c.RPC.PrimaryURL) == "" {
		return fmt.Errorf("op=config.validate: primary RPC URL cannot be empty")
	}
	if !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("op=config.validate: only PostgreSQL databases are supported")
	}
	return nil
}

// RPCURLs returns the primary endpoint followed by the fallbacks.
func (c Config) RPCURLs() []string {
	urls := make([]string, 0, 1+len(c.RPC.FallbackURLs))
	urls = append(urls, c.RPC.PrimaryURL)
	urls = append(urls, c.RPC.FallbackURLs...)
	return urls
}

// RequestTimeout returns the per-RPC-call timeout (default 30s).
func (c Config) RequestTimeout() time.Duration {
	if c.RPC.RequestTimeoutMS == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RPC.RequestTimeoutMS) * time.Millisecond
}

// MaxRPCRetries returns the RPC retry budget (default 3).
func (c Config) MaxRPCRetries() uint32 {
	if c.RPC.MaxRetries == 0 {
		return 3
	}
	return c.RPC.MaxRetries
}

// PollInterval returns the monitor cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Monitoring.PollIntervalMS) * time.Millisecond
}

// JobCacheTTL returns the cached-job staleness bound.
func (c Config) JobCacheTTL() time.Duration {
	return time.Duration(c.Monitoring.JobCacheTTLSeconds) * time.Second
}

// RetryDelay returns the executor's base retry delay.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Execution.RetryDelayMS) * time.Millisecond
}

// WebsocketEnabled reports whether the websocket subscription layer is
// enabled (default true).
func (c Config) WebsocketEnabled() bool {
	if c.Monitoring.EnableWebsocket == nil {
		return true
	}
	return *c.Monitoring.EnableWebsocket
}

// SimulationEnabled reports whether transactions are simulated before
// submission (default true).
func (c Config) SimulationEnabled() bool {
	if c.Execution.SimulationEnabled == nil {
		return true
	}
	return *c.Execution.SimulationEnabled
}

// MaxDBConnections returns the pool bound (default 10).
func (c Config) MaxDBConnections() uint32 {
	if c.Database.MaxConnections == 0 {
		return 10
	}
	return c.Database.MaxConnections
}

// DBTimeout returns the connection timeout (default 10s).
func (c Config) DBTimeout() time.Duration {
	if c.Database.ConnectionTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Database.ConnectionTimeoutMS) * time.Millisecond
}

// MetricsPort returns the metrics listener port (default 9090).
func (c Config) MetricsPort() uint16 {
	if c.Metrics.Port == 0 {
		return 9090
	}
	return c.Metrics.Port
}
