// Package anomaly implements the hybrid anomaly detector:
// a per-service rolling-baseline z-score and rate-of-change error rate model,
// a latency threshold rule, and a service-liveness watchdog.
package anomaly

import (
	"fmt"
	"time"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/ringstats"
)

// ErrorRateConfig holds the detector's thresholds, all with their
// documented defaults.
type ErrorRateConfig struct {
	BucketSeconds       int     // B, default 60
	BaselineBuckets      int     // N_b, default 60 (1h)
	RecentBuckets        int     // N_r, default 5
	MinBaselineFill      int     // M, default 5
	ZScoreThreshold      float64 // Z, default 3.0
	MinStdDev            float64 // sigma_min
	MinAbsRateLift       float64 // delta_min, default 0.02
	MinTotal             int64   // minTotal, default 20
	MinErrorCount        int64   // minErrorCount, default 5
	MinErrorRate         float64 // minErrorRate, default 0.02
	RateChangeThreshold  float64 // R, default 0.5
	CooldownPerReason     time.Duration // default 2 minutes
}

// DefaultErrorRateConfig returns the standard threshold set.
func DefaultErrorRateConfig() ErrorRateConfig {
	return ErrorRateConfig{
		BucketSeconds:       60,
		BaselineBuckets:     60,
		RecentBuckets:       5,
		MinBaselineFill:     5,
		ZScoreThreshold:     3.0,
		MinStdDev:           0.01,
		MinAbsRateLift:      0.02,
		MinTotal:            20,
		MinErrorCount:       5,
		MinErrorRate:        0.02,
		RateChangeThreshold: 0.5,
		CooldownPerReason:   2 * time.Minute,
	}
}

func (c ErrorRateConfig) bucket() time.Duration { return time.Duration(c.BucketSeconds) * time.Second }

// SignalReason names which rule fired.
type SignalReason string

const (
	ReasonZScore       SignalReason = "zscore"
	ReasonRateOfChange SignalReason = "rate_of_change"
)

// Signal is one fired detection from ErrorRateModel.observe.
type Signal struct {
	Service  string
	Reason   SignalReason
	Rate     float64
	Severity model.Severity
	Message  string
	Partial  bool
	At       time.Time
}

type currentBucket struct {
	start      time.Time
	errorCount int64
	totalCount int64
}

func (b currentBucket) rate() float64 {
	if b.totalCount == 0 {
		return 0
	}
	return float64(b.errorCount) / float64(b.totalCount)
}

// ErrorRateModel is the per-service bucketed error-ratio detector of
// z-score and rate-of-change signals. It is not safe for concurrent use; AnomalyDetector serializes
// access per service.
type ErrorRateModel struct {
	cfg ErrorRateConfig

	service string
	started bool
	cur     currentBucket

	baseline *ringstats.Ring
	recent   *ringstats.Ring

	lastFire map[SignalReason]time.Time
	latched  map[SignalReason]bool
}

// NewErrorRateModel constructs a model for one service.
func NewErrorRateModel(service string, cfg ErrorRateConfig) *ErrorRateModel {
	return &ErrorRateModel{
		cfg:      cfg,
		service:  service,
		baseline: ringstats.NewRing(cfg.BaselineBuckets),
		recent:   ringstats.NewRing(cfg.RecentBuckets),
		lastFire: make(map[SignalReason]time.Time),
		latched:  make(map[SignalReason]bool),
	}
}

// Observe feeds one log observation (timestamp, isError) into the model
// and returns any signals fired as a result.
func (m *ErrorRateModel) Observe(timestamp time.Time, isError bool) []Signal {
	var out []Signal

	if !m.started {
		m.cur.start = m.alignBucket(timestamp)
		m.started = true
	}

	// Roll forward across any bucket boundaries the new timestamp crosses.
	for timestamp.Sub(m.cur.start) >= m.cfg.bucket() {
		gapBuckets := int64(timestamp.Sub(m.cur.start)/m.cfg.bucket())
		if gapBuckets > int64(m.cfg.BaselineBuckets+m.cfg.RecentBuckets) {
			m.reset(m.alignBucket(timestamp))
			break
		}
		out = append(out, m.closeBucket()...)
	}

	m.cur.totalCount++
	if isError {
		m.cur.errorCount++
	}

	out = append(out, m.evaluate(true, timestamp)...)
	return out
}

func (m *ErrorRateModel) alignBucket(ts time.Time) time.Time {
	b := m.cfg.bucket()
	return time.Unix(ts.Unix()/int64(b.Seconds())*int64(b.Seconds()), 0).UTC()
}

func (m *ErrorRateModel) reset(newStart time.Time) {
	m.baseline = ringstats.NewRing(m.cfg.BaselineBuckets)
	m.recent = ringstats.NewRing(m.cfg.RecentBuckets)
	m.lastFire = make(map[SignalReason]time.Time)
	m.latched = make(map[SignalReason]bool)
	m.cur = currentBucket{start: newStart}
}

// closeBucket evaluates the closing bucket with partial=false, rolls its
// rate into both rings, and opens the next bucket.
func (m *ErrorRateModel) closeBucket() []Signal {
	closeTime := m.cur.start.Add(m.cfg.bucket())
	signals := m.evaluate(false, closeTime)

	rate := m.cur.rate()
	m.baseline.Push(rate)
	m.recent.Push(rate)

	m.cur = currentBucket{start: closeTime}
	m.latched = make(map[SignalReason]bool)
	return signals
}

// evaluate runs both signal rules against the current bucket's state.
func (m *ErrorRateModel) evaluate(partial bool, now time.Time) []Signal {
	rate := m.cur.rate()

	volumeOK := m.cur.totalCount >= m.cfg.MinTotal ||
		(!partial && m.cur.errorCount >= m.cfg.MinErrorCount)
	if !volumeOK || rate < m.cfg.MinErrorRate {
		return nil
	}

	var out []Signal
	if s, ok := m.evalZScore(rate, partial, now); ok {
		out = append(out, s)
	}
	if s, ok := m.evalRateOfChange(rate, partial, now); ok {
		out = append(out, s)
	}
	return out
}

func (m *ErrorRateModel) canFire(reason SignalReason, now time.Time) bool {
	if m.latched[reason] {
		return false
	}
	if last, ok := m.lastFire[reason]; ok && now.Sub(last) < m.cfg.CooldownPerReason {
		return false
	}
	return true
}

func (m *ErrorRateModel) fire(reason SignalReason, now time.Time) {
	m.latched[reason] = true
	m.lastFire[reason] = now
}

func (m *ErrorRateModel) evalZScore(rate float64, partial bool, now time.Time) (Signal, bool) {
	if m.baseline.Filled() < m.cfg.MinBaselineFill {
		return Signal{}, false
	}
	if !m.canFire(ReasonZScore, now) {
		return Signal{}, false
	}

	mean := m.baseline.Mean()
	delta := rate - mean
	if delta <= 0 {
		return Signal{}, false
	}

	sigma := m.baseline.StdDev()
	var sev model.Severity
	var fired bool
	var detail string

	if sigma >= m.cfg.MinStdDev {
		z := delta / sigma
		if z >= m.cfg.ZScoreThreshold {
			fired = true
			switch {
			case z >= 6:
				sev = model.SeverityCritical
			case z >= 4:
				sev = model.SeverityHigh
			default:
				sev = model.SeverityMedium
			}
			detail = fmt.Sprintf("z-score %.2f (threshold %.2f)", z, m.cfg.ZScoreThreshold)
		}
	} else if delta >= m.cfg.MinAbsRateLift {
		fired = true
		switch {
		case delta >= 0.15:
			sev = model.SeverityCritical
		case delta >= 0.07:
			sev = model.SeverityHigh
		default:
			sev = model.SeverityMedium
		}
		detail = fmt.Sprintf("rate lift %.3f over near-zero baseline variance", delta)
	}

	if !fired {
		return Signal{}, false
	}
	m.fire(ReasonZScore, now)
	return Signal{
		Service:  m.service,
		Reason:   ReasonZScore,
		Rate:     rate,
		Severity: sev,
		Partial:  partial,
		At:       now,
		Message:  fmt.Sprintf("error rate %.3f for %s: %s (baseline mean %.3f)", rate, m.service, detail, mean),
	}, true
}

func (m *ErrorRateModel) evalRateOfChange(rate float64, partial bool, now time.Time) (Signal, bool) {
	if m.recent.Filled() < m.cfg.RecentBuckets {
		return Signal{}, false
	}
	if !m.canFire(ReasonRateOfChange, now) {
		return Signal{}, false
	}

	avg := m.recent.Mean()
	var sev model.Severity
	var fired bool
	var detail string

	if avg > 0 {
		ratio := rate/avg - 1
		if ratio >= m.cfg.RateChangeThreshold {
			fired = true
			switch {
			case ratio >= 2.0:
				sev = model.SeverityCritical
			case ratio >= 1.0:
				sev = model.SeverityHigh
			default:
				sev = model.SeverityMedium
			}
			detail = fmt.Sprintf("rate-of-change ratio +%.0f%% over recent average %.3f", ratio*100, avg)
		}
	} else if rate >= m.cfg.MinErrorRate {
		fired = true
		sev = model.SeverityCritical
		detail = "rate-of-change ratio = +Inf over a zero recent average"
	}

	if !fired {
		return Signal{}, false
	}
	m.fire(ReasonRateOfChange, now)
	return Signal{
		Service:  m.service,
		Reason:   ReasonRateOfChange,
		Rate:     rate,
		Severity: sev,
		Partial:  partial,
		At:       now,
		Message:  fmt.Sprintf("error rate %.3f for %s: %s", rate, m.service, detail),
	}, true
}
