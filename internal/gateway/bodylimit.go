package gateway

import "net/http"

// BodyLimit caps request body size. A declared Content-Length over the
// limit is rejected before any body bytes are read; chunked bodies are
// capped by the reader and fail inside the handler instead.
func BodyLimit(maxBytes int) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if r.ContentLength > int64(maxBytes) {
				writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "Request body exceeds limit", nil)
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
			}
			next.ServeHTTP(w, r)
		})
	}
}
