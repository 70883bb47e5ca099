package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/config"
	"github.com/mohammad-safakhou/yurei/internal/domain"
	"github.com/mohammad-safakhou/yurei/internal/llm"
	"github.com/mohammad-safakhou/yurei/internal/logging"
	"github.com/mohammad-safakhou/yurei/internal/orchestrator"
	"github.com/mohammad-safakhou/yurei/internal/ratelimit"
	"github.com/mohammad-safakhou/yurei/internal/repair"
	"github.com/mohammad-safakhou/yurei/internal/sources"
	"github.com/mohammad-safakhou/yurei/internal/sources/exa"
	"github.com/mohammad-safakhou/yurei/internal/sources/hackernews"
	"github.com/mohammad-safakhou/yurei/internal/sources/youtube"
	"github.com/mohammad-safakhou/yurei/internal/telemetry"
	"github.com/mohammad-safakhou/yurei/internal/tools"
)

// app holds the long-lived collaborators shared by every request.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	llm     llm.Client
	domains *domain.Registry
	orch    *orchestrator.Orchestrator
	metrics *telemetry.Metrics
	redis   *redis.Client
}

func loadApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log)
	log := logging.WithService(logger, "yurei")

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New()
	}

	client := llm.NewOpenAIClient(llm.OpenAIOptions{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})

	src := cfg.Sources
	exaHTTP := sources.NewClient("exa", src.Exa.Timeout, sources.NewBreaker("exa", src.Breaker, log))
	hnHTTP := sources.NewClient("hackernews", src.HackerNews.Timeout, sources.NewBreaker("hackernews", src.Breaker, log))
	yt, err := youtube.New(ctx, youtube.Options{
		APIKey:   src.YouTube.APIKey,
		Endpoint: src.YouTube.BaseURL,
		Timeout:  src.YouTube.Timeout,
		Breaker:  sources.NewBreaker("youtube", src.Breaker, log),
	})
	if err != nil {
		return nil, err
	}

	reg, err := tools.Builtin(tools.SearchDeps{
		Exa:               exa.New(exaHTTP, src.Exa.APIKey, src.Exa.BaseURL),
		YouTube:           yt,
		HackerNews:        hackernews.New(hnHTTP, src.HackerNews.BaseURL),
		Logger:            log,
		RedditResults:     src.Exa.RedditResults,
		HackerNewsResults: src.Exa.HackerNewsResults,
		LinkedInResults:   src.Exa.LinkedInResults,
		YouTubeResults:    src.YouTube.MaxResults,
		MinHighlightScore: src.Exa.MinHighlightScore,
	}, client)
	if err != nil {
		return nil, fmt.Errorf("register tools: %w", err)
	}
	domains, err := domain.Builtin()
	if err != nil {
		return nil, err
	}
	for _, name := range domains.ToolNames() {
		if _, ok := reg.Lookup(name); !ok {
			return nil, fmt.Errorf("domain table names unregistered tool %q", name)
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		llm:     client,
		domains: domains,
		metrics: metrics,
	}
	a.orch = orchestrator.New(orchestrator.Options{
		LLM:       client,
		Domains:   domains,
		Tools:     reg,
		Repairer:  repair.New(client),
		Metrics:   metrics,
		Logger:    log,
		Timeout:   cfg.Server.RequestTimeout,
		WordDelay: cfg.LLM.SmoothingDelay,
	})
	return a, nil
}

// limiter connects to Redis when rate limiting is on. A nil limiter means
// every request is allowed.
func (a *app) limiter(ctx context.Context) (*ratelimit.Limiter, error) {
	if !a.cfg.RateLimit.Enabled {
		return nil, nil
	}
	rc := a.cfg.Redis
	a.redis = redis.NewClient(&redis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		DialTimeout:  rc.Timeout,
		ReadTimeout:  rc.Timeout,
		WriteTimeout: rc.Timeout,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", rc.Addr, err)
	}
	return ratelimit.New(a.redis, a.cfg.RateLimit), nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
