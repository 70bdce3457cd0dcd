package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/grafana/sentinel/pkg/model"
	"github.com/grafana/sentinel/pkg/store"
)

type fakeLogRepo struct {
	mu      sync.Mutex
	records []model.LogRecord
	nextID  int64
	failAll bool
}

func (f *fakeLogRepo) InsertBatch(_ context.Context, records []model.LogRecord) ([]int64, error) {
	if f.failAll {
		return nil, fmt.Errorf("storage unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(records))
	for i, r := range records {
		f.nextID++
		r.ID = f.nextID
		f.records = append(f.records, r)
		ids[i] = f.nextID
	}
	return ids, nil
}

func (f *fakeLogRepo) GetByID(_ context.Context, id int64) (model.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return r, nil
		}
	}
	return model.LogRecord{}, fmt.Errorf("not found")
}

func (f *fakeLogRepo) Query(context.Context, store.LogQuery) ([]model.LogRecord, error) { return nil, nil }
func (f *fakeLogRepo) RecentIDs(context.Context, int) ([]int64, error)                  { return nil, nil }

type fakeSpanRepo struct {
	mu    sync.Mutex
	spans []model.Span
}

func (f *fakeSpanRepo) InsertBatch(_ context.Context, spans []model.Span) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, spans...)
	return nil
}

func (f *fakeSpanRepo) GetTrace(context.Context, string) (model.Trace, error) { return model.Trace{}, nil }
func (f *fakeSpanRepo) ServiceMap(context.Context, time.Time) ([]store.ServiceMapEdge, error) {
	return nil, nil
}
