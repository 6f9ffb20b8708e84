package gateway

import (
	"encoding/json"
	"net/http"
)

// writeError renders the gateway's error envelope. extra fields are
// merged into the error object (e.g. tier, retry_after).
func writeError(w http.ResponseWriter, code int, errCode, msg string, extra map[string]any) {
	body := map[string]any{
		"code":    errCode,
		"message": msg,
	}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}
