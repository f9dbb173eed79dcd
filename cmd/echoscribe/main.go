// echoscribe is the transcription service: it accepts audio payloads over
// HTTP, drives them through a remote speech-to-text provider with retries,
// circuit breaking, credential rotation, rate limiting, and result caching,
// and optionally summarizes and indexes the results.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/echoscribe/echoscribe/internal/api"
	"github.com/echoscribe/echoscribe/internal/breaker"
	"github.com/echoscribe/echoscribe/internal/cache"
	"github.com/echoscribe/echoscribe/internal/config"
	"github.com/echoscribe/echoscribe/internal/credentials"
	"github.com/echoscribe/echoscribe/internal/index"
	"github.com/echoscribe/echoscribe/internal/jobs"
	"github.com/echoscribe/echoscribe/internal/logger"
	"github.com/echoscribe/echoscribe/internal/metrics"
	"github.com/echoscribe/echoscribe/internal/profiling"
	"github.com/echoscribe/echoscribe/internal/provider"
	"github.com/echoscribe/echoscribe/internal/ratelimit"
	"github.com/echoscribe/echoscribe/internal/store"
	"github.com/echoscribe/echoscribe/internal/summary"
	"github.com/echoscribe/echoscribe/internal/transcribe"
)

const (
	sweepInterval = 5 * time.Minute
	jobMaxAge     = time.Hour
)

func main() {
	cfg, err := config.Load(config.Path("config.yml"))
	if err != nil {
		// Logger is not up yet.
		panic(err)
	}

	log := logger.Must(cfg.Logging)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profiling.StartPprofServer(log)
	profiler, err := profiling.StartPyroscope("api", log)
	if err != nil {
		log.Warn("continuous profiling unavailable", logger.Error(err))
	}
	defer func() { _ = profiler.Stop() }()

	// Redis backs the rate limiter and result cache. When it is unreachable
	// the service starts anyway on an in-process store: limits and cache
	// survive the process lifetime only, but transcription keeps working.
	var st store.Store
	redisStore, err := store.NewRedisStore(cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable, using in-memory store", logger.Error(err))
		st = store.NewMemoryStore()
	} else {
		st = redisStore
		defer func() { _ = redisStore.Close() }()
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	providerCred := credentials.NewRotator(cfg.Provider.APIKeys, cfg.Provider.Credentials, log)
	summaryCred := credentials.NewRotator(cfg.Summary.APIKeys, cfg.Summary.Credentials, log)

	onTransition := func(name string, from, to breaker.State) {
		m.BreakerTransition(name, to.String())
	}
	providerBreaker := newBreaker("transcription-provider", cfg.Provider.Breaker, onTransition, log)
	summaryBreaker := newBreaker("summary-llm", cfg.Summary.Breaker, onTransition, log)

	limiter := ratelimit.NewLimiter(st, cfg.Limits, log)
	resultCache := cache.New(st, cfg.Cache, log)
	providerClient := provider.NewHTTPClient(cfg.Provider.HTTPConfig, log)

	orchestrator := transcribe.NewOrchestrator(
		providerClient, resultCache, limiter, providerCred, providerBreaker,
		cfg.Provider.Job, log, m,
	)
	summarizer := summary.NewService(summaryCred, summaryBreaker, cfg.Summary.Config, log)

	indexer, err := index.NewWriter(cfg.Index, log)
	if err != nil {
		log.Warn("transcript index unavailable", logger.Error(err))
		indexer, _ = index.NewWriter(index.Config{}, log)
	}

	registry := jobs.NewRegistry()
	registry.StartSweeper(ctx, sweepInterval, jobMaxAge)

	handlers := api.NewHandlers(
		orchestrator, summarizer, registry, indexer, st,
		providerCred, summaryCred,
		[]*breaker.Breaker{providerBreaker, summaryBreaker},
		log,
	)

	server := api.NewServer(api.ServerConfig{
		Port:  cfg.Server.Port,
		Debug: cfg.Server.Debug,
	}, log, func(router *gin.Engine) {
		handlers.Register(router)
	})

	log.Info("echoscribe starting",
		logger.Int("port", cfg.Server.Port),
		logger.Int("provider_keys", providerCred.Size()),
		logger.Int("summary_keys", summaryCred.Size()),
		logger.String("index", indexState(indexer)),
	)

	if err := server.Run(ctx); err != nil {
		log.Error("server exited", logger.Error(err))
		os.Exit(1)
	}
	log.Info("echoscribe stopped")
}

func newBreaker(name string, cfg breaker.Config, onTransition func(name string, from, to breaker.State), log logger.Logger) *breaker.Breaker {
	cfg.OnStateChange = onTransition
	return breaker.New(name, cfg, log)
}

func indexState(w *index.Writer) string {
	if w.Enabled() {
		return "enabled"
	}
	return "disabled"
}
