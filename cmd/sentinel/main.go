package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/sentinel/cmd/sentinel/app"
	sentinelconfig "github.com/grafana/sentinel/pkg/config"
)

const appName = "sentinel"

func main() {
	configFile := flag.String("config.file", "", "YAML config file overlaying flag defaults (optional).")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit.")

	var cfg sentinelconfig.Config
	cfg.RegisterFlags(flag.CommandLine)

	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
	flag.Parse()

	if err := sentinelconfig.LoadYAML(&cfg, *configFile); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	logger = level.NewFilter(logger, sentinelconfig.ParseLevel(cfg.LogLevel))

	if *printConfig {
		printEffectiveConfig(cfg)
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	a, err := app.New(cfg, logger, reg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to initialize sentinel", "err", err)
		os.Exit(1)
	}

	if err := a.Run(context.Background()); err != nil {
		level.Error(logger).Log("msg", "sentinel exited with error", "err", err)
		os.Exit(1)
	}
}

// printEffectiveConfig renders the resolved config as a table, the way the
// corpus's CLI tooling reaches for go-pretty over a raw fmt.Printf dump.
func printEffectiveConfig(cfg sentinelconfig.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRows([]table.Row{
		{"database-url", cfg.DatabaseURL},
		{"api-port", cfg.APIPort},
		{"request-timeout", cfg.RequestTimeout},
		{"rate-limit-max", cfg.RateLimitMax},
		{"rate-limit-window", cfg.RateLimitWindow},
		{"log-level", cfg.LogLevel},
		{"redis-addr", cfg.RedisAddr},
		{"metric-window-seconds", cfg.Aggregator.WindowSeconds},
		{"baseline-window-buckets", cfg.Detector.ErrorRate.BaselineBuckets},
		{"z-score-threshold", cfg.Detector.ErrorRate.ZScoreThreshold},
		{"rate-change-threshold", cfg.Detector.ErrorRate.RateChangeThreshold},
		{"latency-threshold-ms", cfg.Detector.LatencyThresholdMS},
		{"service-downtime", cfg.Detector.ServiceDowntime},
	})
	t.Render()
}
