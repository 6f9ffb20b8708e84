package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/stockpulse/gate/internal/admission"
	"github.com/stockpulse/gate/internal/identity"
)

// Admission gates every request through the decider. Denials become 429
// with Retry-After; internal failures fail closed as 503. Allowed
// requests carry the X-RateLimit-* headers and the client identity in
// context.
func Admission(
	dec *admission.Decider,
	skipPaths map[string]struct{},
	log zerolog.Logger,
	onDecision func(admission.Decision, time.Duration),
	onError func(),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// ops endpoints stay reachable no matter what
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			client := identity.FromRequest(r)
			start := time.Now()

			verdict, err := dec.Decide(r.Context(), client, r.URL.Path, start)
			if err != nil {
				// fail closed: the limiter exists to protect downstreams
				log.Error().Err(err).Str("client", client).Msg("admission failure")
				if onError != nil {
					onError()
				}
				writeError(w, http.StatusServiceUnavailable, "admission_unavailable", "admission check failed", nil)
				return
			}
			if onDecision != nil {
				onDecision(verdict, time.Since(start))
			}

			w.Header().Set("X-RateLimit-Tier", verdict.Tier.String())
			if verdict.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(verdict.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(verdict.Remaining, 0)))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(verdict.ResetAt.Unix(), 10))
			}

			if !verdict.Allowed {
				retry := ceilSeconds(verdict.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, string(verdict.Reason), "Too many requests", map[string]any{
					"tier":        verdict.Tier.String(),
					"retry_after": retry,
				})
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithClient(r.Context(), client)))
		})
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
