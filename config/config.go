package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the search service
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string        `mapstructure:"address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowOrigins   []string      `mapstructure:"allow_origins"`
}

// LLMConfig describes the OpenAI-compatible completion endpoint used for both turns.
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	Model          string        `mapstructure:"model"`
	Timeout        time.Duration `mapstructure:"timeout"`
	SmoothingDelay time.Duration `mapstructure:"smoothing_delay"`
}

// SourcesConfig contains upstream content provider settings
type SourcesConfig struct {
	Exa        ExaConfig        `mapstructure:"exa"`
	YouTube    YouTubeConfig    `mapstructure:"youtube"`
	HackerNews HackerNewsConfig `mapstructure:"hackernews"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
}

// ExaConfig contains keyword/neural search settings
type ExaConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RedditResults     int           `mapstructure:"reddit_results"`
	HackerNewsResults int           `mapstructure:"hackernews_results"`
	LinkedInResults   int           `mapstructure:"linkedin_results"`
	MinHighlightScore float64       `mapstructure:"min_highlight_score"`
}

// YouTubeConfig contains YouTube Data API settings
type YouTubeConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxResults int64         `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// HackerNewsConfig contains the item API endpoint
type HackerNewsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// BreakerConfig tunes the circuit breaker placed in front of each upstream.
type BreakerConfig struct {
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
	OpenTimeout  time.Duration `mapstructure:"open_timeout"`
}

// RateLimitConfig defines the per-caller fixed window
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Limit   int64         `mapstructure:"limit"`
	Window  time.Duration `mapstructure:"window"`
	Prefix  string        `mapstructure:"prefix"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig controls verification of tokens issued by the external identity provider.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Required  bool   `mapstructure:"required"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig toggles the prometheus endpoint
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return errors.New("llm.api_key required (XAI_API_KEY)")
	}
	if strings.TrimSpace(l.Model) == "" {
		return errors.New("llm.model required")
	}
	if l.SmoothingDelay < 0 {
		return errors.New("llm.smoothing_delay cannot be negative")
	}
	return nil
}

func (s SourcesConfig) Validate() error {
	if strings.TrimSpace(s.Exa.APIKey) == "" {
		return errors.New("sources.exa.api_key required (EXA_API_KEY)")
	}
	if strings.TrimSpace(s.YouTube.APIKey) == "" {
		return errors.New("sources.youtube.api_key required (YOUTUBE_API_KEY)")
	}
	if s.Exa.MinHighlightScore < 0 || s.Exa.MinHighlightScore > 1 {
		return fmt.Errorf("sources.exa.min_highlight_score must be within [0,1], got %v", s.Exa.MinHighlightScore)
	}
	if s.Breaker.FailureRatio < 0 || s.Breaker.FailureRatio > 1 {
		return fmt.Errorf("sources.breaker.failure_ratio must be within [0,1], got %v", s.Breaker.FailureRatio)
	}
	return nil
}

func (r RateLimitConfig) Validate(redisCfg RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	if r.Limit <= 0 {
		return errors.New("ratelimit.limit must be > 0")
	}
	if r.Window <= 0 {
		return errors.New("ratelimit.window must be > 0")
	}
	if strings.TrimSpace(redisCfg.Addr) == "" {
		return errors.New("redis.addr required when ratelimit is enabled")
	}
	return nil
}

func (a AuthConfig) Validate() error {
	if a.Required && strings.TrimSpace(a.JWTSecret) == "" {
		return errors.New("auth.jwt_secret required when auth.required is set")
	}
	return nil
}

// Validate checks every section; the first failure wins.
func (c *Config) Validate() error {
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be > 0")
	}
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Sources.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(c.Redis); err != nil {
		return err
	}
	return c.Auth.Validate()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":10001")
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.x.ai/v1")
	v.SetDefault("llm.model", "grok-2-1212")
	v.SetDefault("llm.timeout", 55*time.Second)
	v.SetDefault("llm.smoothing_delay", 2*time.Millisecond)
	v.SetDefault("sources.exa.base_url", "https://api.exa.ai")
	v.SetDefault("sources.exa.timeout", 20*time.Second)
	v.SetDefault("sources.exa.reddit_results", 15)
	v.SetDefault("sources.exa.hackernews_results", 10)
	v.SetDefault("sources.exa.linkedin_results", 10)
	v.SetDefault("sources.exa.min_highlight_score", 0)
	v.SetDefault("sources.youtube.max_results", 10)
	v.SetDefault("sources.youtube.timeout", 20*time.Second)
	v.SetDefault("sources.hackernews.base_url", "https://hacker-news.firebaseio.com/v0")
	v.SetDefault("sources.hackernews.timeout", 10*time.Second)
	v.SetDefault("sources.breaker.failure_ratio", 0.5)
	v.SetDefault("sources.breaker.min_requests", 10)
	v.SetDefault("sources.breaker.open_timeout", 15*time.Second)
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.limit", 3)
	v.SetDefault("ratelimit.window", 30*24*time.Hour)
	v.SetDefault("ratelimit.prefix", "yurei-beta_rate_limit")
	v.SetDefault("redis.timeout", 5*time.Second)
	v.SetDefault("auth.required", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.enabled", true)
}

// conventional variable names used by the hosted deployment
var envAliases = map[string]string{
	"llm.api_key":             "XAI_API_KEY",
	"sources.exa.api_key":     "EXA_API_KEY",
	"sources.youtube.api_key": "YOUTUBE_API_KEY",
	"redis.addr":              "REDIS_ADDR",
	"auth.jwt_secret":         "SUPABASE_JWT_SECRET",
}

// Load reads configuration from the given file (or the default search paths),
// overlays YUREI_* environment variables and validates the result. A missing
// config file is not an error; missing credentials are.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("YUREI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, "YUREI_"+strings.ToUpper(strings.NewReplacer(".", "_").Replace(key)), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
