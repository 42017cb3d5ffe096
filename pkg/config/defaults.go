package config

const (
	defaultListen         = ":9000"
	defaultUpstream       = "http://localhost:8000"
	defaultIdentityHeader = "user_id"
	defaultTimeoutSecs    = 300
	defaultStatusSecs     = 60

	defaultSink     = SinkJSONL
	defaultLogPath  = "records.jsonl"
	defaultWorkers  = 3
	defaultQueueCap = 256
)

// NewDefaultConfig returns a Config with defaults for every field. It is the
// single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Listen:                defaultListen,
			Upstream:              defaultUpstream,
			IdentityHeader:        defaultIdentityHeader,
			TimeoutSeconds:        defaultTimeoutSecs,
			StatusIntervalSeconds: defaultStatusSecs,
		},
		Log: LogConfig{
			Sink: defaultSink,
			Path: defaultLogPath,
		},
		Worker: WorkerConfig{
			Count:     defaultWorkers,
			QueueSize: defaultQueueCap,
		},
	}
}
