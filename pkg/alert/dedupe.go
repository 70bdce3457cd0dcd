// Package alert implements deduplication and rate-limited, batched dispatch
// of alerts.
package alert

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// DeduperConfig controls the dedupe time bucket.
type DeduperConfig struct {
	// BucketSeconds is W_d, default 5s.
	BucketSeconds int
	MaxRetries    int
	RetryBase     time.Duration
}

// DefaultDeduperConfig returns the standard bucket size and retry policy.
func DefaultDeduperConfig() DeduperConfig {
	return DeduperConfig{BucketSeconds: 5, MaxRetries: 3, RetryBase: 50 * time.Millisecond}
}

// Deduper is the AlertDeduper component.
type Deduper struct {
	cfg   DeduperConfig
	repo  store.AlertRepository
	log   log.Logger
	races prometheus.Counter
}

// NewDeduper constructs a Deduper. reg may be nil to skip metric registration.
func NewDeduper(cfg DeduperConfig, repo store.AlertRepository, logger log.Logger, reg prometheus.Registerer) *Deduper {
	d := &Deduper{
		cfg:  cfg,
		repo: repo,
		log:  logger,
		races: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel",
			Subsystem: "deduper",
			Name:      "unique_constraint_races_total",
			Help:      "UpsertDeduped conflicts resolved via the retry-and-lookup path.",
		}),
	}
	if reg != nil {
		reg.MustRegister(d.races)
	}
	return d
}

// InsertDeduped is the Deduper's public contract.
func (d *Deduper) InsertDeduped(ctx context.Context, alert model.Alert) (store.DedupeOutcome, model.Alert, error) {
	bucket := time.Duration(d.cfg.BucketSeconds) * time.Second
	alert.TimeBucket = alert.CreatedAt.Unix() / int64(bucket.Seconds())

	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		outcome, stored, err := d.repo.UpsertDeduped(ctx, alert)
		if err == nil {
			return outcome, stored, nil
		}
		if !errors.Is(err, model.ErrUniqueConstraint) {
			return "", model.Alert{}, err
		}
		lastErr = err
		d.races.Inc()
		level.Debug(d.log).Log("msg", "dedupe race, retrying", "attempt", attempt, "service", alert.Service, "alertType", alert.Type)
		d.backoff(ctx, attempt)
	}

	// Retries exhausted: fall back to the ±one-bucket lookup, tolerating
	// clock skew across the bucket boundary.
	found, ok, lookupErr := d.repo.FindByBucket(ctx, alert.DedupeKey(), alert.TimeBucket-1)
	if lookupErr != nil {
		return "", model.Alert{}, lookupErr
	}
	if ok {
		return store.DedupeSkipped, found, nil
	}
	return "", model.Alert{}, lastErr
}

func (d *Deduper) backoff(ctx context.Context, attempt int) {
	base := d.cfg.RetryBase * time.Duration(1<<attempt)
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	select {
	case <-time.After(base/2 + jitter/2):
	case <-ctx.Done():
	}
}
