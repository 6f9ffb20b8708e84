package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockpulse/gate/internal/admission"
	"github.com/stockpulse/gate/internal/admission/memory"
	"github.com/stockpulse/gate/internal/gateway"
	"github.com/stockpulse/gate/internal/identity"
	"github.com/stockpulse/gate/internal/tier"
)

func testDecider(limits admission.Limits) *admission.Decider {
	return admission.New(memory.New(), limits)
}

func tightLimits() admission.Limits {
	l := admission.DefaultLimits()
	l.Tiers[tier.API] = admission.TierLimit{Sustained: 2, Burst: 0}
	return l
}

func TestAdmission_AllowSetsHeaders(t *testing.T) {
	var gotClient string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClient, _ = identity.ClientFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	h := gateway.Admission(testDecider(tightLimits()), nil, zerolog.Nop(), nil, nil)(next)

	r := httptest.NewRequest(http.MethodGet, "http://gate/api/orders", nil)
	r.RemoteAddr = "10.0.0.1:4444"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10.0.0.1", gotClient)
	assert.Equal(t, "api", w.Header().Get("X-RateLimit-Tier"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestAdmission_DenyIs429WithRetryAfter(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	h := gateway.Admission(testDecider(tightLimits()), nil, zerolog.Nop(), nil, nil)(next)

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://gate/api/orders", nil)
		r.RemoteAddr = "10.0.0.1:4444"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "http://gate/api/orders", nil)
	r.RemoteAddr = "10.0.0.1:4444"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 2, calls, "denied request must not reach the handler")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body struct {
		Error struct {
			Code       string `json:"code"`
			Tier       string `json:"tier"`
			RetryAfter int    `json:"retry_after"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "sustained_exceeded", body.Error.Code)
	assert.Equal(t, "api", body.Error.Tier)
	assert.Greater(t, body.Error.RetryAfter, 0)
}

func TestAdmission_SkipPaths(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	skip := map[string]struct{}{"/metrics": {}}
	h := gateway.Admission(testDecider(tightLimits()), skip, zerolog.Nop(), nil, nil)(next)

	for i := 0; i < 20; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://gate/metrics", nil)
		r.RemoteAddr = "10.0.0.1:4444"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Tier"))
	}
}

func TestAdmission_IdentityFromForwardedFor(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := gateway.Admission(testDecider(tightLimits()), nil, zerolog.Nop(), nil, nil)(next)

	// two proxies, one origin: the origin hop is the identity
	for i := 0; i < 3; i++ {
		r := httptest.NewRequest(http.MethodGet, "http://gate/api/orders", nil)
		r.RemoteAddr = "172.16.0.9:1000" // proxy address varies per hop
		r.Header.Set("X-Forwarded-For", "203.0.113.7, 172.16.0.9")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if i < 2 {
			require.Equal(t, http.StatusOK, w.Code)
		} else {
			require.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}
}

type failingStore struct{}

func (failingStore) IsBlocked(context.Context, string, time.Time) (bool, time.Time, error) {
	return false, time.Time{}, errors.New("state corrupted")
}
func (failingStore) Block(context.Context, string, time.Time, time.Time) error { return nil }
func (failingStore) Count(context.Context, string, tier.Tier, time.Time, time.Time) (int, time.Time, error) {
	return 0, time.Time{}, errors.New("state corrupted")
}
func (failingStore) Record(context.Context, string, tier.Tier, time.Time) error { return nil }
func (failingStore) Close() error                                               { return nil }

func TestAdmission_FailsClosedOnStoreError(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when admission fails")
	})

	errs := 0
	dec := admission.New(failingStore{}, admission.DefaultLimits())
	h := gateway.Admission(dec, nil, zerolog.Nop(), nil, func() { errs++ })(next)

	r := httptest.NewRequest(http.MethodGet, "http://gate/api/orders", nil)
	r.RemoteAddr = "10.0.0.1:4444"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, errs)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) gateway.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := gateway.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}), mk("outer"), mk("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://gate/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}
