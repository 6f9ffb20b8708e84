package identity

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"peer address", "192.0.2.4:5123", "", "192.0.2.4"},
		{"peer without port", "192.0.2.4", "", "192.0.2.4"},
		{"forwarded single", "10.0.0.1:80", "203.0.113.7", "203.0.113.7"},
		{"forwarded chain", "10.0.0.1:80", "203.0.113.7, 172.16.0.9, 10.0.0.1", "203.0.113.7"},
		{"forwarded padded", "10.0.0.1:80", "  203.0.113.7 , 172.16.0.9", "203.0.113.7"},
		{"forwarded empty falls back", "10.0.0.1:80", "   ", "10.0.0.1"},
		{"ipv6 peer", "[2001:db8::1]:443", "", "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "http://gate/", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, FromRequest(r))
		})
	}
}

func TestClientContext(t *testing.T) {
	ctx := WithClient(context.Background(), "203.0.113.7")
	id, ok := ClientFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "203.0.113.7", id)

	_, ok = ClientFrom(context.Background())
	assert.False(t, ok)
}
