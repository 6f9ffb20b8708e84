// Package identity derives the client key used for admission accounting.
// The key is opaque: the first forwarded-for hop when a proxy set one,
// otherwise the peer address without its port.
package identity

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const keyClient ctxKey = 0

// FromRequest extracts the client identity for a request.
func FromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// first hop is the originating client
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		if id := strings.TrimSpace(xff); id != "" {
			return id
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithClient injects the client identity into context.
func WithClient(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyClient, id)
}

// ClientFrom extracts the client identity from context (if present).
func ClientFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyClient)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}
