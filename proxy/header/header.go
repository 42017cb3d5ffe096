// Package header filters headers crossing the proxy.
//
//	Client <--> Proxy <--> Upstream backend
//
// Each leg negotiates its own transport concerns (connection reuse,
// compression, transfer encoding), so hop-by-hop headers must not leak from
// one leg to the other. Everything else, the caller's identity header
// included, passes through untouched.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler copies headers between the two proxy legs.
type Handler struct{}

// NewHandler creates a header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// skipRequest holds the request headers (client --> upstream) the proxy
// does not forward.
var skipRequest = map[string]struct{}{
	// Hop-by-hop: scoped to a single transport connection.
	"Connection": {},

	// Rewritten by Go's http.Transport to match the upstream URL.
	// Forwarding the client's Host would confuse virtual-hosted backends.
	"Host": {},

	// Stripped so http.Transport negotiates its own gzip and
	// transparently decompresses the upstream response.
	"Accept-Encoding": {},
}

// skipResponse holds the response headers (upstream --> client) the proxy
// does not copy back.
var skipResponse = map[string]struct{}{
	// Hop-by-hop: scoped to a single transport connection.
	"Connection": {},

	// fasthttp manages chunked transfer encoding for the client leg.
	"Transfer-Encoding": {},

	// The proxy reads a decompressed body; a stale Content-Encoding would
	// claim an encoding the body no longer has. Fiber's compress
	// middleware sets the right value if it re-compresses.
	"Content-Encoding": {},

	// The upstream length reflects the possibly-compressed upstream body.
	// Fiber computes the final value for the client leg.
	"Content-Length": {},
}

// CopyRequestHeaders copies inbound request headers from the Fiber context
// onto the outgoing upstream request, minus the skip set.
func (h *Handler) CopyRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, skip := skipRequest[k]; !skip {
			req.Header.Set(k, string(value))
		}
	})
}

// CopyResponseHeaders copies upstream response headers onto the Fiber
// context, minus the skip set.
func (h *Handler) CopyResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}
