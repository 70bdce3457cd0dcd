package alert

import (
	"context"
	"sync"
	"time"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

// fakeAlertRepo is an in-memory store.AlertRepository used to exercise
// Deduper/Dispatcher without a real database, mirroring the dedupe-index
// semantics.
type fakeAlertRepo struct {
	mu       sync.Mutex
	byKey    map[model.DedupeKey]*model.Alert
	nextID   int
	sent     map[string]time.Time
	lastSent map[string]time.Time // key: service|alertType|projectID
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{
		byKey:    make(map[model.DedupeKey]*model.Alert),
		sent:     make(map[string]time.Time),
		lastSent: make(map[string]time.Time),
	}
}

func (f *fakeAlertRepo) UpsertDeduped(_ context.Context, a model.Alert) (store.DedupeOutcome, model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := a.DedupeKey()
	if existing, ok := f.byKey[key]; ok {
		if a.Severity > existing.Severity {
			existing.Severity = a.Severity
			existing.Message = a.Message
			return store.DedupeUpdated, *existing, nil
		}
		return store.DedupeSkipped, *existing, nil
	}

	f.nextID++
	a.ID = keyToID(key, f.nextID)
	f.byKey[key] = &a
	return store.DedupeCreated, a, nil
}

func keyToID(key model.DedupeKey, n int) string {
	return key.Service + "/" + string(key.Type) + "/" + time.Unix(key.TimeBucket, 0).String()
}

func (f *fakeAlertRepo) FindByBucket(_ context.Context, key model.DedupeKey, previousBucket int64) (model.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.byKey[key]; ok {
		return *a, true, nil
	}
	prevKey := key
	prevKey.TimeBucket = previousBucket
	if a, ok := f.byKey[prevKey]; ok {
		return *a, true, nil
	}
	return model.Alert{}, false, nil
}

func (f *fakeAlertRepo) MarkSent(_ context.Context, ids []string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.sent[id] = sentAt
		for _, a := range f.byKey {
			if a.ID == id {
				a.Sent = true
				a.LastSentAt = sentAt
			}
		}
	}
	return nil
}

func (f *fakeAlertRepo) Resolve(context.Context, string, time.Time) error { return nil }

func (f *fakeAlertRepo) UnsentSince(_ context.Context, service string, alertType model.AlertType, _ string, since time.Time) ([]model.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Alert
	for _, a := range f.byKey {
		if a.Service == service && a.Type == alertType && !a.Sent && !a.CreatedAt.Before(since) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) LastSentAt(_ context.Context, service string, alertType model.AlertType, projectID string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.lastSent[service+"|"+string(alertType)+"|"+projectID]
	return t, ok, nil
}

func (f *fakeAlertRepo) Query(context.Context, string, time.Time, time.Time, int) ([]model.Alert, error) {
	return nil, nil
}

func (f *fakeAlertRepo) isSent(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sent[id]
	return ok
}

type fakeChannelRepo struct {
	channels []model.AlertChannel
}

func (f *fakeChannelRepo) ListActiveForService(context.Context, string, string) ([]model.AlertChannel, error) {
	return f.channels, nil
}

type fakeProjectRepo struct {
	project model.Project
}

func (f *fakeProjectRepo) ProjectByAPIKey(context.Context, string) (model.APIKey, error) {
	return model.APIKey{ProjectID: f.project.ID}, nil
}

func (f *fakeProjectRepo) Project(context.Context, string) (model.Project, error) {
	return f.project, nil
}

type fakeSink struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *fakeSink) Send(context.Context, string, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errFakeSink
	}
	return nil
}

var errFakeSink = &sinkErr{"fake sink failure"}

type sinkErr struct{ msg string }

func (e *sinkErr) Error() string { return e.msg }
