// Package config loads the persistent flowscribe configuration from a
// config.toml file, FLOWSCRIBE_* environment variables and defaults, in
// ascending precedence below CLI flags.
package config

// Config is the full flowscribe configuration. The TOML layout groups
// settings into sections.
type Config struct {
	Proxy  ProxyConfig  `mapstructure:"proxy" toml:"proxy"`
	Log    LogConfig    `mapstructure:"log" toml:"log"`
	Worker WorkerConfig `mapstructure:"worker" toml:"worker"`
}

// ProxyConfig holds the listener and upstream settings.
type ProxyConfig struct {
	// Listen is the proxy listen address, e.g. ":9000".
	Listen string `mapstructure:"listen" toml:"listen,omitempty"`

	// Upstream is the inference backend base URL, e.g. "http://localhost:8000".
	Upstream string `mapstructure:"upstream" toml:"upstream,omitempty"`

	// IdentityHeader names the request header carrying the caller
	// identity. An absent header means an anonymous caller.
	IdentityHeader string `mapstructure:"identity_header" toml:"identity_header,omitempty"`

	// TimeoutSeconds bounds the whole upstream exchange.
	TimeoutSeconds int `mapstructure:"timeout_seconds" toml:"timeout_seconds,omitempty"`

	// StatusIntervalSeconds is how often the proxy logs traffic totals.
	// Zero disables the status ticker.
	StatusIntervalSeconds int `mapstructure:"status_interval_seconds" toml:"status_interval_seconds,omitempty"`
}

// LogConfig selects and locates the record sink.
type LogConfig struct {
	// Sink is one of "jsonl", "sqlite" or "memory".
	Sink string `mapstructure:"sink" toml:"sink,omitempty"`

	// Path is the record file or database path, per sink.
	Path string `mapstructure:"path" toml:"path,omitempty"`
}

// WorkerConfig sizes the async append worker pool.
type WorkerConfig struct {
	Count     uint `mapstructure:"count" toml:"count,omitempty"`
	QueueSize uint `mapstructure:"queue_size" toml:"queue_size,omitempty"`
}

// Sink kinds accepted by LogConfig.Sink.
const (
	SinkJSONL  = "jsonl"
	SinkSQLite = "sqlite"
	SinkMemory = "memory"
)
