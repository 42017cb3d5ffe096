package proxy

import "time"

// Config is the proxy server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g. ":9000").
	ListenAddr string

	// UpstreamURL is the inference backend base URL (e.g. "http://localhost:8000").
	UpstreamURL string

	// IdentityHeader names the request header carrying the caller
	// identity. An absent header means an anonymous caller ("").
	IdentityHeader string

	// UpstreamTimeout bounds the whole upstream exchange, streamed body
	// included. Chat completions can be slow, so the default is generous.
	UpstreamTimeout time.Duration

	// StatusInterval is how often traffic totals are logged. Zero
	// disables the status ticker.
	StatusInterval time.Duration

	// StallTimeout bounds a single chunk write to a streaming client.
	// A connected caller that stops draining its response is treated as
	// disconnected once a write has waited this long, so it cannot pin
	// the relay goroutine and the upstream connection.
	StallTimeout time.Duration

	// NumWorkers and QueueSize size the async append worker pool.
	// Zero values take the pool's defaults.
	NumWorkers uint
	QueueSize  uint
}

const (
	defaultIdentityHeader  = "user_id"
	defaultUpstreamTimeout = 5 * time.Minute
	defaultStallTimeout    = time.Minute
)

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.IdentityHeader == "" {
		c.IdentityHeader = defaultIdentityHeader
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = defaultUpstreamTimeout
	}
	if c.StallTimeout == 0 {
		c.StallTimeout = defaultStallTimeout
	}
	return c
}
