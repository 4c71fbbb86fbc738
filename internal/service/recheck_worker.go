package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// DefaultRecheckWindow is how long requests for the same book and model are
// collected before they are classified as one run.
const DefaultRecheckWindow = 5 * time.Second

// RecheckWorker batches asynchronous moderation requests. If an editor saves
// chapter 3 and then chapter 5 of the same book within one window, the model
// runs once over both chapters.
type RecheckWorker struct {
	svc    *ModerationService
	window time.Duration
	log    zerolog.Logger

	mu      sync.Mutex
	pending map[string]ModerateRequest // keyed by book and model
	order   []string

	running sync.WaitGroup
}

// NewRecheckWorker creates a re-check worker. A window <= 0 uses the default.
func NewRecheckWorker(svc *ModerationService, window time.Duration, log zerolog.Logger) *RecheckWorker {
	if window <= 0 {
		window = DefaultRecheckWindow
	}
	return &RecheckWorker{
		svc:     svc,
		window:  window,
		log:     log.With().Str("component", "recheck-worker").Logger(),
		pending: make(map[string]ModerateRequest),
	}
}

// Enqueue schedules req, coalescing it with any pending request for the same
// book and model. It reports whether the request was merged into one already
// queued.
func (w *RecheckWorker) Enqueue(req ModerateRequest) bool {
	key := req.BookID + "\x00" + req.Model

	w.mu.Lock()
	defer w.mu.Unlock()
	prev, ok := w.pending[key]
	if !ok {
		w.pending[key] = req
		w.order = append(w.order, key)
		return false
	}
	w.pending[key] = coalesce(prev, req)
	return true
}

// Pending returns the number of queued (book, model) pairs.
func (w *RecheckWorker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// coalesce folds a newer request into an older one. The newest content and
// rating win; the selections are unioned so nothing either caller asked for
// is skipped.
func coalesce(prev, next ModerateRequest) ModerateRequest {
	out := next

	if len(prev.Options.ChapterIDs) == 0 || len(next.Options.ChapterIDs) == 0 {
		out.Options.ChapterIDs = nil
	} else {
		seen := make(map[model.ChapterID]bool)
		ids := make([]model.ChapterID, 0, len(prev.Options.ChapterIDs)+len(next.Options.ChapterIDs))
		for _, id := range append(append([]model.ChapterID(nil), prev.Options.ChapterIDs...), next.Options.ChapterIDs...) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		out.Options.ChapterIDs = ids
	}

	if prev.Options.IncludeBookInfo() || next.Options.IncludeBookInfo() {
		out.Options.ModerateBookInfo = nil
	}
	out.Options.OnlyChanged = prev.Options.OnlyChanged && next.Options.OnlyChanged
	return out
}

// Start launches the batching loop. It processes a batch every window until
// ctx is cancelled, then drains the queue once more and exits.
func (w *RecheckWorker) Start(ctx context.Context) {
	w.running.Add(1)
	go w.loop(ctx)
}

// Wait blocks until the loop started by Start has exited.
func (w *RecheckWorker) Wait() {
	w.running.Wait()
}

func (w *RecheckWorker) loop(ctx context.Context) {
	defer w.running.Done()
	w.log.Info().Dur("window", w.window).Msg("starting")

	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush(ctx)
		case <-ctx.Done():
			// Final flush before exit
			w.flush(context.WithoutCancel(ctx))
			w.log.Info().Msg("stopping (context cancelled)")
			return
		}
	}
}

// flush drains the pending set and runs each request once.
func (w *RecheckWorker) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	// Swap out the pending map
	batch, order := w.pending, w.order
	w.pending = make(map[string]ModerateRequest)
	w.order = nil
	w.mu.Unlock()

	done := 0
	for _, key := range order {
		req := batch[key]
		_, err := w.svc.Moderate(ctx, req)
		switch {
		case err == nil:
			done++
		case errors.Is(err, model.ErrStaleRun), errors.Is(err, model.ErrNothingToModerate):
			w.log.Debug().Err(err).Str("book_id", req.BookID).Str("model", req.Model).Msg("re-check skipped")
		default:
			w.log.Error().Err(err).Str("book_id", req.BookID).Str("model", req.Model).Msg("re-check failed")
		}
	}

	if done > 0 {
		w.log.Info().Int("runs", done).Int("batch", len(batch)).Msg("batch complete")
	}
}
