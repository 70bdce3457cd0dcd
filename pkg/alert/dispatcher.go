package alert

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// DispatcherConfig holds the AlertDispatcher's per-severity cooldowns and
// batch window.
type DispatcherConfig struct {
	CooldownLow      time.Duration
	CooldownMedium   time.Duration
	CooldownHigh     time.Duration
	CooldownCritical time.Duration
	BatchWindow      time.Duration
	SinkDeadline     time.Duration
}

// DefaultDispatcherConfig returns the standard per-severity cooldowns and batch window.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		CooldownLow:      15 * time.Minute,
		CooldownMedium:   10 * time.Minute,
		CooldownHigh:     5 * time.Minute,
		CooldownCritical: time.Minute,
		BatchWindow:      5 * time.Minute,
		SinkDeadline:     10 * time.Second,
	}
}

func (c DispatcherConfig) cooldown(sev model.Severity) time.Duration {
	switch sev {
	case model.SeverityLow:
		return c.CooldownLow
	case model.SeverityMedium:
		return c.CooldownMedium
	case model.SeverityHigh:
		return c.CooldownHigh
	default:
		return c.CooldownCritical
	}
}

// SinkResolver maps an AlertChannel to the concrete Sink that delivers to
// it; constructing sinks (HTTP clients, breakers) is a setup-time concern
// kept out of the dispatcher's hot path.
type SinkResolver func(model.AlertChannel) (Sink, bool)

// Dispatcher is the AlertDispatcher component.
type Dispatcher struct {
	cfg      DispatcherConfig
	alerts   store.AlertRepository
	channels store.ChannelRepository
	projects store.ProjectRepository
	resolve  SinkResolver
	fallback func(project model.Project) (Sink, bool)
	log      log.Logger
	now      func() time.Time

	metricSent    *prometheus.CounterVec
	metricBatched prometheus.Counter
}

// NewDispatcher constructs a Dispatcher. fallback builds the email sink used
// when no channel matches but the project owner has an address on file.
// reg may be nil to skip metric registration.
func NewDispatcher(
	cfg DispatcherConfig,
	alerts store.AlertRepository,
	channels store.ChannelRepository,
	projects store.ProjectRepository,
	resolve SinkResolver,
	fallback func(model.Project) (Sink, bool),
	logger log.Logger,
	now func() time.Time,
	reg prometheus.Registerer,
) *Dispatcher {
	d := &Dispatcher{
		cfg: cfg, alerts: alerts, channels: channels, projects: projects,
		resolve: resolve, fallback: fallback, log: logger, now: now,
		metricSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sentinel", Subsystem: "dispatcher", Name: "delivered_total",
			Help: "Alerts successfully delivered, by channel kind.",
		}, []string{"kind"}),
		metricBatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sentinel", Subsystem: "dispatcher", Name: "batched_summaries_total",
			Help: "Batched alert summaries emitted instead of individual sends.",
		}),
	}
	if reg != nil {
		reg.MustRegister(d.metricSent, d.metricBatched)
	}
	return d
}

// Dispatch handles one newly-created-or-updated alert.
func (d *Dispatcher) Dispatch(ctx context.Context, projectID string, a model.Alert) error {
	last, ok, err := d.alerts.LastSentAt(ctx, a.Service, a.Type, projectID)
	if err != nil {
		return fmt.Errorf("looking up last sent time: %w", err)
	}
	cooldown := d.cfg.cooldown(a.Severity)
	if ok && d.now().Sub(last) < cooldown {
		level.Debug(d.log).Log("msg", "alert suppressed by cooldown", "service", a.Service, "alertType", a.Type)
		return nil
	}

	channels, err := d.channels.ListActiveForService(ctx, projectID, a.Service)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}

	unsent, err := d.alerts.UnsentSince(ctx, a.Service, a.Type, projectID, d.now().Add(-d.cfg.BatchWindow))
	if err != nil {
		return fmt.Errorf("listing unsent alerts: %w", err)
	}
	if !containsID(unsent, a.ID) {
		unsent = append(unsent, a)
	}

	var subject, body string
	var batchIDs []string
	if len(unsent) > 1 {
		subject, body = batchSummary(a.Service, a.Type, unsent)
		for _, u := range unsent {
			batchIDs = append(batchIDs, u.ID)
		}
		d.metricBatched.Inc()
	} else {
		subject = fmt.Sprintf("[%s] %s: %s", a.Severity, a.Service, a.Type)
		body = a.Message
		batchIDs = []string{a.ID}
	}

	sent, err := d.deliver(ctx, projectID, a.Service, channels, subject, body)
	if err != nil {
		return err
	}
	if !sent {
		return nil
	}

	if err := d.alerts.MarkSent(ctx, batchIDs, d.now()); err != nil {
		return fmt.Errorf("marking alerts sent: %w", err)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, projectID, service string, channels []model.AlertChannel, subject, body string) (bool, error) {
	sent := false
	for _, ch := range channels {
		if !ch.Matches(service) {
			continue
		}
		sink, ok := d.resolve(ch)
		if !ok {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, d.cfg.SinkDeadline)
		err := sink.Send(sctx, subject, body)
		cancel()
		if err != nil {
			level.Warn(d.log).Log("msg", "sink delivery failed", "channel", ch.ID, "err", err)
			continue
		}
		d.metricSent.WithLabelValues(string(ch.Kind)).Inc()
		sent = true
	}

	if sent || d.fallback == nil {
		return sent, nil
	}

	project, err := d.projects.Project(ctx, projectID)
	if err != nil || project.OwnerEmail == "" {
		return false, nil
	}
	sink, ok := d.fallback(project)
	if !ok {
		return false, nil
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SinkDeadline)
	defer cancel()
	if err := sink.Send(sctx, subject, body); err != nil {
		level.Warn(d.log).Log("msg", "fallback email delivery failed", "project", projectID, "err", err)
		return false, nil
	}
	d.metricSent.WithLabelValues("email-fallback").Inc()
	return true, nil
}

func containsID(alerts []model.Alert, id string) bool {
	for _, a := range alerts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// batchSummary builds the batched-summary subject/body: first/last
// timestamps, top-10 messages, total count.
func batchSummary(service string, alertType model.AlertType, alerts []model.Alert) (subject, body string) {
	sorted := append([]model.Alert(nil), alerts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	first, last := sorted[0].CreatedAt, sorted[len(sorted)-1].CreatedAt
	subject = fmt.Sprintf("[BATCH] %s: %s x%s", service, alertType, humanize.Comma(int64(len(sorted))))

	body = fmt.Sprintf("%s occurrences of %s for %s between %s and %s.\n\nTop messages:\n",
		humanize.Comma(int64(len(sorted))), alertType, service,
		first.Format(time.RFC3339), last.Format(time.RFC3339))

	top := sorted
	if len(top) > 10 {
		top = top[len(top)-10:]
	}
	for _, a := range top {
		body += fmt.Sprintf("- %s: %s\n", a.CreatedAt.Format(time.RFC3339), a.Message)
	}
	return subject, body
}
