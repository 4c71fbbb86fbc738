package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Fake is a deterministic provider for tests and local runs. Scores are
// looked up by unit key ("title", "chapter:2") and, for image units, by image
// reference; a chapter's image scores are aggregated like the classifier does.
type Fake struct {
	name string

	mu       sync.RWMutex
	scores   map[string]model.CategoryScores
	unitErrs map[string]error
	err      error

	calls atomic.Int64
}

// NewFake returns a fake provider that scores everything 0 until told otherwise.
func NewFake(name string) *Fake {
	return &Fake{
		name:     name,
		scores:   make(map[string]model.CategoryScores),
		unitErrs: make(map[string]error),
	}
}

func (f *Fake) Name() string       { return f.name }
func (f *Fake) Strategy() Strategy { return StrategyFake }

// Set scores a unit key or image reference.
func (f *Fake) Set(key string, scores model.CategoryScores) *Fake {
	f.mu.Lock()
	f.scores[key] = scores
	f.mu.Unlock()
	return f
}

// FailUnit makes one unit fail with err.
func (f *Fake) FailUnit(key string, err error) *Fake {
	f.mu.Lock()
	f.unitErrs[key] = err
	f.mu.Unlock()
	return f
}

// FailAll makes every Classify call return err.
func (f *Fake) FailAll(err error) *Fake {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	return f
}

// Calls returns how many times Classify ran.
func (f *Fake) Calls() int {
	return int(f.calls.Load())
}

func (f *Fake) Classify(ctx context.Context, units []model.Unit) ([]Result, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return nil, f.err
	}

	results := make([]Result, len(units))
	for i, u := range units {
		res := Result{Unit: u.UnitRef}
		if err, ok := f.unitErrs[u.Key()]; ok {
			res.Err = err
			results[i] = res
			continue
		}
		parts := []model.CategoryScores{f.scores[u.Key()]}
		for _, img := range u.Images {
			parts = append(parts, f.scores[img])
		}
		res.Scores = engine.Aggregate(parts...)
		results[i] = res
	}
	return results, nil
}
