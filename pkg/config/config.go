// Package config defines Sentinel's root configuration: one Config struct
// per component, registered with flag.FlagSet the way the teacher's
// cmd/tempo/app/config.go registers Tempo's modules, overridable by a YAML
// file and by the environment variables spec.md section 6 names.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log/level"
	"gopkg.in/yaml.v3"

	"github.com/grafana/sentinel/pkg/aggregator"
	"github.com/grafana/sentinel/pkg/alert"
	"github.com/grafana/sentinel/pkg/anomaly"
	"github.com/grafana/sentinel/pkg/changefeed"
	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/processor"
)

// Config is the root config for the sentinel binary.
type Config struct {
	DatabaseURL     string        `yaml:"database_url"`
	APIPort         int           `yaml:"api_port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	RateLimitMax    int           `yaml:"rate_limit_max"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
	CORSOrigins     []string      `yaml:"cors_origin"`
	LogLevel        string        `yaml:"log_level"`
	RedisAddr       string        `yaml:"redis_addr"`

	EmailProviderURL    string `yaml:"email_provider_url"`
	EmailProviderAPIKey string `yaml:"email_provider_api_key"`

	Aggregator aggregator.Config      `yaml:"aggregator"`
	Detector   anomaly.DetectorConfig `yaml:"detector"`
	Deduper    alert.DeduperConfig    `yaml:"deduper"`
	Dispatcher alert.DispatcherConfig `yaml:"dispatcher"`
	Listener   changefeed.Config     `yaml:"change_listener"`
	Processor  processor.Config      `yaml:"processor"`
}

// RegisterFlags registers every field with sensible defaults, matching the
// teacher's RegisterFlagsAndApplyDefaults convention. Call Validate after
// ApplyEnv to catch a missing DatabaseURL before starting.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	f.StringVar(&c.DatabaseURL, "database-url", "", "Postgres connection string (required).")
	f.IntVar(&c.APIPort, "api-port", 3000, "HTTP listen port for the ingestion/query/SSE surface.")
	f.DurationVar(&c.RequestTimeout, "request-timeout", 30*time.Second, "HTTP request handling timeout.")
	f.IntVar(&c.RateLimitMax, "rate-limit-max", 100, "Requests allowed per key/IP per rate limit window.")
	f.DurationVar(&c.RateLimitWindow, "rate-limit-window", 15*time.Minute, "Rate limit window duration.")
	f.StringVar(&c.LogLevel, "log-level", "info", "Log level: debug, info, warn, error.")
	f.StringVar(&c.RedisAddr, "redis-addr", "", "Redis address for the metrics read-through cache (optional).")
	f.StringVar(&c.EmailProviderURL, "email-provider-url", "", "Transactional email provider HTTP endpoint (optional fallback sink).")
	f.StringVar(&c.EmailProviderAPIKey, "email-provider-api-key", "", "API key for the email provider endpoint.")

	aggCfg := aggregator.DefaultConfig()
	f.IntVar(&aggCfg.WindowSeconds, "metric-window-seconds", aggCfg.WindowSeconds, "Tumbling metric window size W, in seconds.")
	f.IntVar(&aggCfg.GraceSeconds, "metric-grace-seconds", aggCfg.GraceSeconds, "Grace period past windowEnd before a window finalizes.")
	f.IntVar(&aggCfg.MaxLatencySamples, "metric-max-latency-samples", aggCfg.MaxLatencySamples, "Bound on latency samples retained per open window.")
	c.Aggregator = aggCfg

	detCfg := anomaly.DefaultDetectorConfig()
	f.IntVar(&detCfg.ErrorRate.BaselineBuckets, "baseline-window-buckets", detCfg.ErrorRate.BaselineBuckets, "Baseline window size N_b, in buckets (default 60 == 1h at 60s buckets).")
	f.Float64Var(&detCfg.ErrorRate.ZScoreThreshold, "z-score-threshold", detCfg.ErrorRate.ZScoreThreshold, "Z-score threshold Z for the baseline signal.")
	f.Float64Var(&detCfg.ErrorRate.RateChangeThreshold, "rate-change-threshold", detCfg.ErrorRate.RateChangeThreshold, "Rate-of-change threshold R.")
	f.DurationVar(&detCfg.ErrorRate.CooldownPerReason, "alert-cooldown", detCfg.ErrorRate.CooldownPerReason, "Per-reason cooldown between repeat ERROR_SPIKE signals.")
	f.Float64Var(&detCfg.LatencyThresholdMS, "latency-threshold-ms", detCfg.LatencyThresholdMS, "p95 latency threshold T_lat, in milliseconds.")
	f.DurationVar(&detCfg.ServiceDowntime, "service-downtime", detCfg.ServiceDowntime, "Liveness watchdog downtime threshold T_down.")
	c.Detector = detCfg

	c.Deduper = alert.DefaultDeduperConfig()
	c.Dispatcher = alert.DefaultDispatcherConfig()
	c.Listener = changefeed.DefaultConfig()
	c.Processor = processor.DefaultConfig()
}

// ApplyEnv overlays the spec.md section 6 environment variables onto c,
// taking precedence over flag/YAML defaults but not over explicit flags
// passed on the command line (callers apply env before parsing flags, or
// re-parse after, per their own precedence policy).
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	intv := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", model.ErrConfig, key, v)
		}
		*dst = n
		return nil
	}
	durMillis := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer millisecond count", model.ErrConfig, key, v)
		}
		*dst = time.Duration(ms) * time.Millisecond
		return nil
	}
	floatv := func(key string, dst *float64) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", model.ErrConfig, key, v)
		}
		*dst = f
		return nil
	}

	str("DATABASE_URL", &c.DatabaseURL)
	if v, ok := os.LookupEnv("CORS_ORIGIN"); ok {
		c.CORSOrigins = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		c.RedisAddr = v
	}
	str("EMAIL_PROVIDER_URL", &c.EmailProviderURL)
	str("EMAIL_PROVIDER_API_KEY", &c.EmailProviderAPIKey)

	for _, step := range []func() error{
		func() error { return intv("API_PORT", &c.APIPort) },
		func() error { return durMillis("REQUEST_TIMEOUT_MS", &c.RequestTimeout) },
		func() error { return intv("RATE_LIMIT_MAX", &c.RateLimitMax) },
		func() error { return durMillis("RATE_LIMIT_WINDOW_MS", &c.RateLimitWindow) },
		func() error { return intv("METRIC_WINDOW_SECONDS", &c.Aggregator.WindowSeconds) },
		func() error {
			minutes := 0
			if v, ok := os.LookupEnv("BASELINE_WINDOW_MINUTES"); ok {
				n, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("%w: BASELINE_WINDOW_MINUTES=%q is not an integer", model.ErrConfig, v)
				}
				minutes = n
				c.Detector.ErrorRate.BaselineBuckets = minutes * 60 / c.Detector.ErrorRate.BucketSeconds
			}
			return nil
		},
		func() error { return floatv("Z_SCORE_THRESHOLD", &c.Detector.ErrorRate.ZScoreThreshold) },
		func() error { return floatv("RATE_CHANGE_THRESHOLD", &c.Detector.ErrorRate.RateChangeThreshold) },
		func() error { return durMillis("ALERT_COOLDOWN_MS", &c.Detector.ErrorRate.CooldownPerReason) },
		func() error { return floatv("LATENCY_THRESHOLD_MS", &c.Detector.LatencyThresholdMS) },
		func() error {
			if v, ok := os.LookupEnv("SERVICE_DOWNTIME_MINUTES"); ok {
				n, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("%w: SERVICE_DOWNTIME_MINUTES=%q is not an integer", model.ErrConfig, v)
				}
				c.Detector.ServiceDowntime = time.Duration(n) * time.Minute
			}
			return nil
		},
	} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// LoadYAML unmarshals path's contents into c, overriding whatever defaults
// RegisterFlags set. A missing path is not an error: YAML overrides are
// optional.
func LoadYAML(c *Config, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: reading config file %s: %v", model.ErrConfig, path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("%w: parsing config file %s: %v", model.ErrConfig, path, err)
	}
	return nil
}

// Validate enforces the required fields spec.md section 6 documents.
// ConfigError from a missing required environment variable is fatal at
// startup.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", model.ErrConfig)
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("%w: api port %d out of range", model.ErrConfig, c.APIPort)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unrecognized log level %q", model.ErrConfig, c.LogLevel)
	}
	return nil
}

// ParseLevel maps the configured LogLevel string to a go-kit/log/level
// option, defaulting to info for an unrecognized value (Validate rejects
// those before this is reached in normal startup).
func ParseLevel(s string) level.Option {
	switch strings.ToLower(s) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
