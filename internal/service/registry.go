package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Verdict is the recorded outcome of one model for one book. Absence of a run
// is its own state and never reads as a failure.
type Verdict string

const (
	VerdictNotChecked Verdict = "not_checked"
	VerdictPassed     Verdict = "passed"
	VerdictFailed     Verdict = "failed"
)

// Ticket identifies a run in progress. Seq orders runs by start time.
type Ticket struct {
	BookID    string
	Model     string
	Seq       int64
	StartedAt time.Time
}

func (t Ticket) key() string {
	return t.BookID + "\x00" + t.Model
}

// RunRegistry keeps exactly one run per (book, model). Writers for the same
// key are serialized, and a run that started before the currently recorded
// one is rejected instead of overwriting it.
type RunRegistry struct {
	store RunStore
	cache *CacheService
	locks *keyLock
	log   zerolog.Logger

	seqMu   sync.Mutex
	lastSeq int64
	now     func() time.Time
}

// NewRunRegistry creates a registry over store. cache may be nil.
func NewRunRegistry(store RunStore, cache *CacheService, log zerolog.Logger) *RunRegistry {
	return &RunRegistry{
		store: store,
		cache: cache,
		locks: newKeyLock(),
		log:   log.With().Str("component", "registry").Logger(),
		now:   time.Now,
	}
}

// Begin stamps the start of a run. Sequences are strictly increasing within
// this process and track wall-clock nanoseconds so they also order runs
// started on different instances.
func (r *RunRegistry) Begin(bookID, modelName string) Ticket {
	now := r.now()
	r.seqMu.Lock()
	seq := now.UnixNano()
	if seq <= r.lastSeq {
		seq = r.lastSeq + 1
	}
	r.lastSeq = seq
	r.seqMu.Unlock()
	return Ticket{BookID: bookID, Model: modelName, Seq: seq, StartedAt: now}
}

// Commit records the run produced by build under the ticket's key. build
// receives the currently recorded run (nil if none) while the key is locked.
// If a run that started later has already been recorded, Commit returns
// model.ErrStaleRun without calling build.
func (r *RunRegistry) Commit(ctx context.Context, t Ticket, build func(prior *model.ModerationRun) (*model.ModerationRun, error)) (*model.ModerationRun, error) {
	unlock := r.locks.Lock(t.key())
	defer unlock()

	prior, err := r.load(ctx, t.BookID, t.Model)
	if err != nil && !errors.Is(err, model.ErrRunNotFound) {
		return nil, fmt.Errorf("load prior run: %w", err)
	}
	if prior != nil && prior.Seq >= t.Seq {
		return nil, model.ErrStaleRun
	}

	built, err := build(prior)
	if err != nil {
		return nil, err
	}
	run := *built
	run.BookID, run.Model, run.Seq = t.BookID, t.Model, t.Seq

	rec, err := model.NewVerdictRecord(&run)
	if err != nil {
		return nil, err
	}
	if err := r.store.Upsert(ctx, rec); err != nil {
		return nil, fmt.Errorf("store run: %w", err)
	}

	if err := r.cache.InvalidateRun(ctx, t.BookID, t.Model); err != nil {
		r.log.Warn().Err(err).Str("book_id", t.BookID).Str("model", t.Model).Msg("cache invalidate failed")
	}
	r.log.Debug().
		Str("book_id", t.BookID).
		Str("model", t.Model).
		Str("run_id", run.ID).
		Bool("passed", run.Passed).
		Msg("run recorded")
	return &run, nil
}

// Record inserts or replaces the (bookID, model) entry with run. Results for
// units run does not cover are kept from the recorded run, and Passed is
// recomputed over the combined results. run itself is not modified.
func (r *RunRegistry) Record(ctx context.Context, bookID, modelName string, run *model.ModerationRun) error {
	t := r.Begin(bookID, modelName)
	_, err := r.Commit(ctx, t, func(prior *model.ModerationRun) (*model.ModerationRun, error) {
		return model.Overlay(prior, run, nil), nil
	})
	return err
}

// Get returns the recorded run, or model.ErrRunNotFound.
func (r *RunRegistry) Get(ctx context.Context, bookID, modelName string) (*model.ModerationRun, error) {
	if run, err := r.cache.GetRun(ctx, bookID, modelName); err != nil {
		r.log.Warn().Err(err).Msg("cache read failed")
	} else if run != nil {
		return run, nil
	}

	run, err := r.load(ctx, bookID, modelName)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetRun(ctx, run); err != nil {
		r.log.Warn().Err(err).Msg("cache write failed")
	}
	return run, nil
}

// List returns every recorded run for a book, ordered by model name.
func (r *RunRegistry) List(ctx context.Context, bookID string) ([]*model.ModerationRun, error) {
	if runs, err := r.cache.GetRuns(ctx, bookID); err != nil {
		r.log.Warn().Err(err).Msg("cache read failed")
	} else if runs != nil {
		return runs, nil
	}

	recs, err := r.store.List(ctx, bookID)
	if err != nil {
		return nil, err
	}
	runs := make([]*model.ModerationRun, 0, len(recs))
	for _, rec := range recs {
		run, err := rec.Run()
		if err != nil {
			return nil, fmt.Errorf("decode run %s/%s: %w", rec.BookID, rec.Model, err)
		}
		runs = append(runs, run)
	}
	if err := r.cache.SetRuns(ctx, bookID, runs); err != nil {
		r.log.Warn().Err(err).Msg("cache write failed")
	}
	return runs, nil
}

// ListModels returns the models that have a recorded run for the book.
func (r *RunRegistry) ListModels(ctx context.Context, bookID string) ([]string, error) {
	runs, err := r.List(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Model)
	}
	return out, nil
}

// OverallPassed reports the recorded verdict of a model for a book.
func (r *RunRegistry) OverallPassed(ctx context.Context, bookID, modelName string) (Verdict, error) {
	run, err := r.Get(ctx, bookID, modelName)
	if errors.Is(err, model.ErrRunNotFound) {
		return VerdictNotChecked, nil
	}
	if err != nil {
		return "", err
	}
	if run.Passed {
		return VerdictPassed, nil
	}
	return VerdictFailed, nil
}

// ModelStats counts the recorded verdicts of one model across all books.
type ModelStats struct {
	Model  string `json:"model"`
	Books  int64  `json:"books"`
	Passed int64  `json:"passed"`
	Failed int64  `json:"failed"`
}

// Stats returns verdict counts per model, ordered by model name.
func (r *RunRegistry) Stats(ctx context.Context) ([]ModelStats, error) {
	counts, err := r.store.CountByVerdict(ctx)
	if err != nil {
		return nil, fmt.Errorf("count verdicts: %w", err)
	}
	out := make([]ModelStats, 0, len(counts))
	for name, c := range counts {
		out = append(out, ModelStats{Model: name, Books: c[0] + c[1], Passed: c[0], Failed: c[1]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out, nil
}

func (r *RunRegistry) load(ctx context.Context, bookID, modelName string) (*model.ModerationRun, error) {
	rec, err := r.store.Get(ctx, bookID, modelName)
	if err != nil {
		return nil, err
	}
	return rec.Run()
}
