package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/provider"
)

// ModerateRequest asks one model to check a book against a rating.
type ModerateRequest struct {
	BookID  string              `json:"bookId"`
	Model   string              `json:"model"`
	Rating  model.AgeRating     `json:"rating"`
	Book    model.BookContent   `json:"book"`
	Options model.SelectOptions `json:"options"`
}

// ModerateResult is the merged run plus what this request actually did.
type ModerateResult struct {
	Run *model.ModerationRun `json:"run"`
	// Checked lists the unit keys classified by this request.
	Checked     []string            `json:"checked"`
	Diagnostics []engine.Diagnostic `json:"diagnostics,omitempty"`
	// Unchanged is true when a changed-only request found nothing to do and
	// returned the recorded run as is.
	Unchanged bool `json:"unchanged,omitempty"`
}

// RunOutcome describes a finished moderation attempt for metrics.
type RunOutcome struct {
	Model       string
	Strategy    provider.Strategy
	Passed      bool
	Err         error
	Units       int
	FailedUnits int
	Duration    time.Duration
}

// ModerationService runs the moderation pipeline: assemble units, classify
// them with the requested model, decide each against the rating, and merge
// the run into the registry.
type ModerationService struct {
	providers map[string]provider.Provider
	registry  *RunRegistry
	policy    engine.Policy
	log       zerolog.Logger

	// OnRun, when set, is called once per Moderate call.
	OnRun func(RunOutcome)
}

// NewModerationService wires the pipeline. Providers are keyed by Name().
func NewModerationService(providers []provider.Provider, registry *RunRegistry, policy engine.Policy, log zerolog.Logger) *ModerationService {
	byName := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &ModerationService{
		providers: byName,
		registry:  registry,
		policy:    policy,
		log:       log.With().Str("component", "moderation").Logger(),
	}
}

// Models returns the configured model names, sorted.
func (s *ModerationService) Models() []string {
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasModel reports whether name is a configured model.
func (s *ModerationService) HasModel(name string) bool {
	_, ok := s.providers[name]
	return ok
}

// Policy returns the decision policy in use.
func (s *ModerationService) Policy() engine.Policy {
	return s.policy
}

// Registry returns the run registry.
func (s *ModerationService) Registry() *RunRegistry {
	return s.registry
}

// Moderate classifies the selected units of a book and records the merged run.
//
// A provider failure that fails the batch leaves the registry untouched. When
// every classified unit failed individually the run fails the same way.
func (s *ModerationService) Moderate(ctx context.Context, req ModerateRequest) (res *ModerateResult, err error) {
	p, ok := s.providers[req.Model]
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownModel, req.Model)
	}
	if !req.Rating.Valid() {
		return nil, fmt.Errorf("invalid rating %d", int(req.Rating))
	}

	start := time.Now()
	outcome := RunOutcome{Model: req.Model, Strategy: p.Strategy()}
	defer func() {
		outcome.Err = err
		outcome.Duration = time.Since(start)
		if res != nil && res.Run != nil {
			outcome.Passed = res.Run.Passed
		}
		if s.OnRun != nil {
			s.OnRun(outcome)
		}
	}()

	log := s.log.With().Str("book_id", req.BookID).Str("model", req.Model).Logger()
	ticket := s.registry.Begin(req.BookID, req.Model)

	assembly := engine.Assemble(req.Book, req.Options)
	for _, d := range assembly.Diagnostics {
		log.Warn().Str("unit", d.Unit).Msg(d.Message)
	}

	units := assembly.Units
	var prior *model.ModerationRun
	if req.Options.OnlyChanged {
		prior, err = s.registry.Get(ctx, req.BookID, req.Model)
		if err != nil && !errors.Is(err, model.ErrRunNotFound) {
			return nil, fmt.Errorf("load prior run: %w", err)
		}
		err = nil
		units = changedUnits(units, assembly.Fingerprints, prior)
	}

	if len(units) == 0 {
		if prior == nil {
			return nil, model.ErrNothingToModerate
		}
		if prior.Rating == req.Rating {
			return &ModerateResult{Run: prior, Checked: []string{}, Diagnostics: assembly.Diagnostics, Unchanged: true}, nil
		}
	}

	var run *model.ModerationRun
	if len(units) > 0 {
		run, err = s.classify(ctx, p, units, req.Rating, assembly.Fingerprints, &outcome)
		if err != nil {
			log.Error().Err(err).Int("units", len(units)).Msg("moderation run failed")
			return nil, err
		}
	} else {
		// Nothing changed but the rating did: re-decide the recorded scores.
		run = s.newRun(req.Rating)
	}

	// The run is already paid for; record it even if the caller went away.
	merged, err := s.registry.Commit(context.WithoutCancel(ctx), ticket, func(prior *model.ModerationRun) (*model.ModerationRun, error) {
		return mergeRun(prior, run, s.policy), nil
	})
	if err != nil {
		if errors.Is(err, model.ErrStaleRun) {
			log.Info().Msg("discarding run superseded by a newer one")
		}
		return nil, err
	}

	checked := make([]string, len(units))
	for i, u := range units {
		checked[i] = u.Key()
	}
	log.Info().
		Str("run_id", merged.ID).
		Str("rating", req.Rating.String()).
		Int("units", len(units)).
		Int("failed_units", outcome.FailedUnits).
		Bool("passed", merged.Passed).
		Msg("moderation run recorded")

	return &ModerateResult{Run: merged, Checked: checked, Diagnostics: assembly.Diagnostics}, nil
}

func (s *ModerationService) newRun(rating model.AgeRating) *model.ModerationRun {
	return &model.ModerationRun{
		ID:           uuid.NewString(),
		Rating:       rating,
		CreatedAt:    time.Now().UTC(),
		Fingerprints: make(map[string]string),
	}
}

func (s *ModerationService) classify(ctx context.Context, p provider.Provider, units []model.Unit, rating model.AgeRating, fingerprints map[string]string, outcome *RunOutcome) (*model.ModerationRun, error) {
	results, err := p.Classify(ctx, units)
	if err != nil {
		return nil, fmt.Errorf("classify with %s: %w", p.Name(), err)
	}
	if len(results) != len(units) {
		return nil, fmt.Errorf("%w: %d results for %d units", model.ErrMalformedProviderResponse, len(results), len(units))
	}

	run := s.newRun(rating)
	var firstErr error
	for i, r := range results {
		key := units[i].Key()
		if r.Err != nil {
			outcome.FailedUnits++
			if firstErr == nil {
				firstErr = r.Err
			}
			s.log.Warn().Err(r.Err).Str("unit", key).Msg("unit classification failed")
			run.Put(s.policy.Failed(units[i].UnitRef, r.Err))
			continue
		}
		run.Put(s.policy.Evaluate(units[i].UnitRef, r.Scores, rating, r.Hint()))
		run.Fingerprints[key] = fingerprints[key]
	}
	outcome.Units = len(units)

	if outcome.FailedUnits == len(units) {
		return nil, fmt.Errorf("classify with %s: every unit failed: %w", p.Name(), firstErr)
	}
	run.Finalize()
	return run, nil
}

// changedUnits keeps the units whose content differs from what the prior run
// classified. Without a prior run everything counts as changed.
func changedUnits(units []model.Unit, current map[string]string, prior *model.ModerationRun) []model.Unit {
	if prior == nil {
		return units
	}
	out := make([]model.Unit, 0, len(units))
	for _, u := range units {
		key := u.Key()
		if prev, ok := prior.Fingerprints[key]; !ok || prev != current[key] {
			out = append(out, u)
		}
	}
	return out
}

// Compare returns the recorded run summary of every model for a book.
func (s *ModerationService) Compare(ctx context.Context, bookID string) ([]model.RunSummary, error) {
	runs, err := s.registry.List(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := make([]model.RunSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, run.Summary())
	}
	return out, nil
}

// VerdictReport answers "is this book compliant" for one model, and how it
// would fare at every tier, without reclassifying.
type VerdictReport struct {
	BookID         string                   `json:"bookId"`
	Model          string                   `json:"model"`
	Status         Verdict                  `json:"status"`
	RecordedRating *model.AgeRating         `json:"recordedRating,omitempty"`
	MinimumRating  *model.AgeRating         `json:"minimumRating,omitempty"`
	WouldPass      map[model.AgeRating]bool `json:"wouldPass,omitempty"`
	// Rating and PassesRating are set when a specific tier was asked about.
	Rating       *model.AgeRating `json:"rating,omitempty"`
	PassesRating *bool            `json:"passesRating,omitempty"`
	RunID        string           `json:"runId,omitempty"`
	CheckedAt    *time.Time       `json:"checkedAt,omitempty"`
}

// Verdict builds the report for (bookID, model). rating may be nil.
func (s *ModerationService) Verdict(ctx context.Context, bookID, modelName string, rating *model.AgeRating) (*VerdictReport, error) {
	report := &VerdictReport{BookID: bookID, Model: modelName, Status: VerdictNotChecked, Rating: rating}

	run, err := s.registry.Get(ctx, bookID, modelName)
	if errors.Is(err, model.ErrRunNotFound) {
		return report, nil
	}
	if err != nil {
		return nil, err
	}

	report.Status = VerdictFailed
	if run.Passed {
		report.Status = VerdictPassed
	}
	recorded := run.Rating
	report.RecordedRating = &recorded
	report.RunID = run.ID
	checkedAt := run.CreatedAt
	report.CheckedAt = &checkedAt

	report.WouldPass = make(map[model.AgeRating]bool, len(model.Ratings))
	for _, r := range model.Ratings {
		report.WouldPass[r] = s.runWouldPass(run, r)
	}
	for _, r := range model.Ratings {
		if report.WouldPass[r] {
			lowest := r
			report.MinimumRating = &lowest
			break
		}
	}
	if rating != nil {
		passes := report.WouldPass[*rating]
		report.PassesRating = &passes
	}
	return report, nil
}

func (s *ModerationService) runWouldPass(run *model.ModerationRun, r model.AgeRating) bool {
	for _, res := range run.Results() {
		if res.Failed() || !s.policy.WouldPass(res.Scores, r) {
			return false
		}
	}
	return true
}
