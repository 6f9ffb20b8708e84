package gateway

import "net/http"

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware listed is the outermost.
func Chain(h http.Handler, mw ...Middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
