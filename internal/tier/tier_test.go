package tier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromPath(t *testing.T) {
	cases := []struct {
		path string
		want Tier
	}{
		{"/health", Health},
		{"/healthz", Health},
		{"/health/live", Health},
		{"/api/ml/forecast", ML},
		{"/api/predictions", ML},
		{"/v2/predict", ML},
		{"/api/data/ohlc", Data},
		{"/api/stocks/AAPL", Data},
		{"/stocks", Data},
		{"/api/users", API},
		{"/api/", API},
		{"/", API},
		{"/version", API},
		{"", API},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, FromPath(tc.path), "path %q", tc.path)
		})
	}
}

func TestFromPath_Pure(t *testing.T) {
	for i := 0; i < 3; i++ {
		assert.Equal(t, ML, FromPath("/api/ml/forecast"))
	}
}

func TestFromPath_MLBeatsData(t *testing.T) {
	// a path matching both predict and stock rules lands in ml
	assert.Equal(t, ML, FromPath("/api/predict/stock"))
}

func TestString(t *testing.T) {
	assert.Equal(t, "health", Health.String())
	assert.Equal(t, "api", API.String())
	assert.Equal(t, "ml", ML.String())
	assert.Equal(t, "data", Data.String())
	assert.Equal(t, "global", Global.String())
	assert.Equal(t, "api", Tier(99).String())
}
