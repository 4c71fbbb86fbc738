package service

import (
	"context"
	"sort"
	"sync"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// RunStore persists one verdict record per (book, model).
type RunStore interface {
	// Get returns model.ErrRunNotFound when nothing is recorded.
	Get(ctx context.Context, bookID, modelName string) (*model.VerdictRecord, error)
	// Upsert merges rec over the stored record slot by slot. It returns
	// model.ErrStaleRun when the stored record has a sequence >= rec.Seq.
	Upsert(ctx context.Context, rec *model.VerdictRecord) error
	// List returns every record for a book ordered by model name.
	List(ctx context.Context, bookID string) ([]*model.VerdictRecord, error)
	// CountByVerdict returns {passed, failed} record counts per model.
	CountByVerdict(ctx context.Context) (map[string][2]int64, error)
}

// MemoryStore is a RunStore held in process memory. Used for tests and when
// no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]*model.VerdictRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]map[string]*model.VerdictRecord)}
}

func (m *MemoryStore) Get(_ context.Context, bookID, modelName string) (*model.VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[bookID][modelName]
	if !ok {
		return nil, model.ErrRunNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) Upsert(_ context.Context, rec *model.VerdictRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byModel, ok := m.records[rec.BookID]
	if !ok {
		byModel = make(map[string]*model.VerdictRecord)
		m.records[rec.BookID] = byModel
	}
	prior := byModel[rec.Model]
	if prior != nil && prior.Seq >= rec.Seq {
		return model.ErrStaleRun
	}
	byModel[rec.Model] = model.MergeRecord(prior, rec)
	return nil
}

func (m *MemoryStore) List(_ context.Context, bookID string) ([]*model.VerdictRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.VerdictRecord, 0, len(m.records[bookID]))
	for _, rec := range m.records[bookID] {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

func (m *MemoryStore) CountByVerdict(_ context.Context) (map[string][2]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][2]int64)
	for _, byModel := range m.records {
		for name, rec := range byModel {
			c := out[name]
			if rec.Passed {
				c[0]++
			} else {
				c[1]++
			}
			out[name] = c
		}
	}
	return out, nil
}
