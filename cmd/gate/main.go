package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockpulse/gate/internal/admission"
	"github.com/stockpulse/gate/internal/admission/memory"
	"github.com/stockpulse/gate/internal/admission/redisstore"
	"github.com/stockpulse/gate/internal/config"
	"github.com/stockpulse/gate/internal/gateway"
	"github.com/stockpulse/gate/internal/obs"
	"github.com/stockpulse/gate/internal/proxy"
	"github.com/stockpulse/gate/internal/tier"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// each instance holds its own limiter state; the instance id makes
	// that visible when aggregating logs from a scaled deployment
	logger := obs.SetupLogger(cfg.Observability.LogLevel).
		With().Str("instance", uuid.NewString()).Logger()
	logger.Info().Str("store", cfg.Limits.Store).Msg("starting gate")

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	var store admission.Store
	var sweeper *memory.Sweeper
	switch cfg.Limits.Store {
	case "redis":
		store, err = redisstore.New(redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			log.Fatalf("redis store: %v", err)
		}
	default:
		mem := memory.New()
		sweeper, err = memory.NewSweeper(mem, cfg.Limits.SweepSchedule, logger)
		if err != nil {
			log.Fatalf("sweeper: %v", err)
		}
		sweeper.Start()
		store = mem
	}
	defer store.Close()

	decider := admission.New(store, buildLimits(cfg),
		admission.WithBypass(cfg.Limits.Bypass),
		admission.WithLogger(logger),
		admission.WithOnBlock(func(_ string, reason admission.Reason, _ time.Time) {
			metrics.BlocksTotal.WithLabelValues(string(reason)).Inc()
		}),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if cfg.Upstream.URL != "" {
		up, err := url.Parse(cfg.Upstream.URL)
		if err != nil {
			log.Fatalf("upstream url: %v", err)
		}
		mux.Handle("/", proxy.Handler(proxy.NewHTTPTransport(), up, cfg.Upstream.Timeout()))
	}

	skip := map[string]struct{}{
		"/health":  {},
		"/version": {},
	}
	skip[cfg.Observability.PrometheusPath] = struct{}{}

	handler := gateway.Chain(
		mux,
		obs.Logger(logger),
		metrics.Middleware(skip),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
		gateway.Admission(decider, skip, logger,
			metrics.ObserveDecision,
			func() { metrics.AdmissionErrors.Inc() },
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	go func() {
		// only the limit table hot-reloads; server settings need a restart
		err := config.Watch(watchCtx, *cfgPath, 500*time.Millisecond, logger, func(c *config.Root) {
			decider.SetLimits(buildLimits(c))
		})
		if err != nil {
			logger.Error().Err(err).Msg("config watcher exited")
		}
	}()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	stopWatch()
	if sweeper != nil {
		sweeper.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}

func buildLimits(cfg *config.Root) admission.Limits {
	byName := map[string]tier.Tier{
		"health": tier.Health,
		"api":    tier.API,
		"ml":     tier.ML,
		"data":   tier.Data,
	}
	tiers := map[tier.Tier]admission.TierLimit{}
	for name, tl := range cfg.Limits.Tiers {
		t, ok := byName[name]
		if !ok {
			continue
		}
		tiers[t] = admission.TierLimit{Sustained: tl.Sustained, Burst: tl.Burst}
	}
	return admission.Limits{
		Tiers:          tiers,
		Global:         cfg.Limits.Global,
		SustainedBlock: cfg.Limits.SustainedBlock(),
		GlobalBlock:    cfg.Limits.GlobalBlock(),
	}
}
