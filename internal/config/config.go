package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type TierLimit struct {
	Sustained int `yaml:"sustained"` // requests per 60s
	Burst     int `yaml:"burst"`     // requests per 10s
}

type Limits struct {
	Store                 string               `yaml:"store"` // "memory" or "redis"
	Tiers                 map[string]TierLimit `yaml:"tiers"` // health/api/ml/data
	Global                int                  `yaml:"global"`
	SustainedBlockSeconds int                  `yaml:"sustained_block_seconds"`
	GlobalBlockSeconds    int                  `yaml:"global_block_seconds"`
	Bypass                []string             `yaml:"bypass"`
	SweepSchedule         string               `yaml:"sweep_schedule"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type Upstream struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Limits        Limits        `yaml:"limits"`
	Redis         Redis         `yaml:"redis"`
	Upstream      Upstream      `yaml:"upstream"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (l Limits) SustainedBlock() time.Duration {
	return time.Duration(l.SustainedBlockSeconds) * time.Second
}

func (l Limits) GlobalBlock() time.Duration {
	return time.Duration(l.GlobalBlockSeconds) * time.Second
}

func (u Upstream) Timeout() time.Duration {
	return time.Duration(u.TimeoutMS) * time.Millisecond
}

var tierNames = []string{"health", "api", "ml", "data"}

func defaultTiers() map[string]TierLimit {
	return map[string]TierLimit{
		"health": {Sustained: 60, Burst: 20},
		"api":    {Sustained: 30, Burst: 10},
		"ml":     {Sustained: 10, Burst: 2},
		"data":   {Sustained: 20, Burst: 5},
	}
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Limits.Store == "" {
		cfg.Limits.Store = "memory"
	}
	if cfg.Limits.Tiers == nil {
		cfg.Limits.Tiers = map[string]TierLimit{}
	}
	for name, def := range defaultTiers() {
		if _, ok := cfg.Limits.Tiers[name]; !ok {
			cfg.Limits.Tiers[name] = def
		}
	}
	if cfg.Limits.Global <= 0 {
		cfg.Limits.Global = 100
	}
	if cfg.Limits.SustainedBlockSeconds <= 0 {
		cfg.Limits.SustainedBlockSeconds = 300
	}
	if cfg.Limits.GlobalBlockSeconds <= 0 {
		cfg.Limits.GlobalBlockSeconds = 600
	}
	if cfg.Limits.Bypass == nil {
		cfg.Limits.Bypass = []string{"127.0.0.1", "::1"}
	}
	if cfg.Limits.SweepSchedule == "" {
		cfg.Limits.SweepSchedule = "@every 1m"
	}
	if cfg.Upstream.TimeoutMS <= 0 {
		cfg.Upstream.TimeoutMS = 3000
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Root) Validate() error {
	switch c.Limits.Store {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("limits.store is redis but redis.addr is empty")
		}
	default:
		return fmt.Errorf("unknown limits.store %q (want memory or redis)", c.Limits.Store)
	}

	known := map[string]struct{}{}
	for _, n := range tierNames {
		known[n] = struct{}{}
	}
	for name, tl := range c.Limits.Tiers {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("unknown tier %q in limits.tiers", name)
		}
		if tl.Sustained <= 0 {
			return fmt.Errorf("tier %q: sustained limit must be positive", name)
		}
		if tl.Burst < 0 {
			return fmt.Errorf("tier %q: burst limit must not be negative", name)
		}
	}

	if c.Upstream.URL != "" {
		u, err := url.Parse(c.Upstream.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("upstream.url %q is not a valid absolute URL", c.Upstream.URL)
		}
	}
	return nil
}
