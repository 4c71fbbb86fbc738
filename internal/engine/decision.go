package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Thresholds holds the escalation threshold of each tier: the score at which
// content escalates into that tier. A tier without an entry has no threshold,
// so content declared one tier below it can never fail.
type Thresholds map[model.AgeRating]float64

// DefaultThresholds: EVERYONE content must stay below 0.10 in every category,
// TEEN content below 0.20, MATURE and ADULT content always pass.
func DefaultThresholds() Thresholds {
	return Thresholds{
		model.RatingTeen:   0.10,
		model.RatingMature: 0.20,
	}
}

// Policy is the threshold decision engine. It is a value type with no state
// beyond its thresholds; every method is a pure function of its arguments.
type Policy struct {
	escalation [4]float64
	set        [4]bool
}

// NewPolicy validates thresholds and builds a policy. Thresholds must lie in
// (0,1] and must not decrease as tiers get more permissive, so passing a
// stricter rating implies passing every looser one. Only TEEN and MATURE take
// a threshold: nothing escalates into EVERYONE, and ADULT has no ceiling, so
// MATURE content always passes.
func NewPolicy(t Thresholds) (Policy, error) {
	var p Policy
	for r, v := range t {
		if !r.Valid() {
			return Policy{}, fmt.Errorf("threshold for invalid rating %d", int(r))
		}
		if r == model.RatingEveryone {
			return Policy{}, errors.New("EVERYONE is the strictest tier and cannot have an escalation threshold")
		}
		if r == model.RatingAdult {
			return Policy{}, errors.New("ADULT has no ceiling and cannot have an escalation threshold")
		}
		if v <= 0 || v > 1 {
			return Policy{}, fmt.Errorf("threshold for %s must be in (0,1], got %v", r, v)
		}
		p.escalation[r] = v
		p.set[r] = true
	}

	unbounded := false
	var prev float64
	for _, r := range model.Ratings[1:] {
		if !p.set[r] {
			unbounded = true
			continue
		}
		if unbounded {
			return Policy{}, fmt.Errorf("threshold for %s is set but a stricter tier has none", r)
		}
		if p.escalation[r] < prev {
			return Policy{}, fmt.Errorf("threshold for %s (%v) is below the stricter tier's (%v)", r, p.escalation[r], prev)
		}
		prev = p.escalation[r]
	}
	return p, nil
}

// DefaultPolicy returns the policy built from DefaultThresholds.
func DefaultPolicy() Policy {
	p, err := NewPolicy(DefaultThresholds())
	if err != nil {
		panic(err)
	}
	return p
}

// Thresholds returns a copy of the configured escalation thresholds.
func (p Policy) Thresholds() Thresholds {
	out := make(Thresholds)
	for _, r := range model.Ratings {
		if p.set[r] {
			out[r] = p.escalation[r]
		}
	}
	return out
}

// Limit returns the ceiling every category score must stay below for content
// declared at rating r: the escalation threshold of the next less restrictive
// tier. ok is false when there is no ceiling. An invalid rating gets the
// strictest ceiling.
func (p Policy) Limit(r model.AgeRating) (limit float64, ok bool) {
	if !r.Valid() {
		r = model.RatingEveryone
	}
	next, exists := r.Next()
	if !exists || !p.set[next] {
		return 0, false
	}
	return p.escalation[next], true
}

// WouldPass reports whether scores comply with rating r.
func (p Policy) WouldPass(scores model.CategoryScores, r model.AgeRating) bool {
	limit, ok := p.Limit(r)
	if !ok {
		return true
	}
	for _, v := range scores {
		if v >= limit {
			return false
		}
	}
	return true
}

// Decision is the outcome of checking one set of scores against a rating.
type Decision struct {
	Rating    model.AgeRating `json:"rating"`
	Passed    bool            `json:"passed"`
	Limit     float64         `json:"limit,omitempty"`
	HasLimit  bool            `json:"hasLimit"`
	Offending []model.Offense `json:"offending,omitempty"`
}

// Decide checks scores against rating r. When the scores fail, Offending lists
// every category at or above the limit, highest score first.
func (p Policy) Decide(scores model.CategoryScores, r model.AgeRating) Decision {
	d := Decision{Rating: r, Passed: true}
	limit, ok := p.Limit(r)
	if !ok {
		return d
	}
	d.Limit, d.HasLimit = limit, true

	for _, e := range scores.Sorted() {
		if e.Score >= limit {
			d.Offending = append(d.Offending, model.Offense{
				Category:   e.Category,
				Score:      e.Score,
				Percentage: model.Percentage(e.Score),
			})
		}
	}
	d.Passed = len(d.Offending) == 0
	return d
}

// MinimumRating returns the most restrictive tier the scores comply with.
func (p Policy) MinimumRating(scores model.CategoryScores) model.AgeRating {
	for _, r := range model.Ratings {
		if p.WouldPass(scores, r) {
			return r
		}
	}
	return model.RatingAdult
}

// Hint carries provider-supplied context for a unit. It never changes the
// verdict; the score-derived decision is authoritative.
type Hint struct {
	Reason          string
	ProviderFlagged []model.Category
}

// Evaluate builds the immutable result for one unit.
func (p Policy) Evaluate(unit model.UnitRef, scores model.CategoryScores, r model.AgeRating, hint Hint) model.UnitResult {
	if scores == nil {
		scores = model.CategoryScores{}
	}
	d := p.Decide(scores, r)
	res := model.UnitResult{
		Unit:          unit,
		Scores:        scores,
		Flagged:       !d.Passed,
		Offending:     d.Offending,
		MinimumRating: p.MinimumRating(scores),
	}
	res.Reason = buildReason(d, hint)
	return res
}

// Failed builds the result for a unit that could not be classified. It is
// flagged so a run containing it never passes.
func (p Policy) Failed(unit model.UnitRef, err error) model.UnitResult {
	return model.UnitResult{
		Unit:          unit,
		Scores:        model.CategoryScores{},
		Flagged:       true,
		Reason:        "classification failed",
		MinimumRating: model.RatingAdult,
		Error:         err.Error(),
	}
}

// ThresholdReasonPrefix starts the part of a reason that reports a failed
// threshold check.
const ThresholdReasonPrefix = "exceeds "

func buildReason(d Decision, hint Hint) string {
	var parts []string
	if !d.Passed {
		offenders := make([]string, 0, len(d.Offending))
		for _, o := range d.Offending {
			offenders = append(offenders, fmt.Sprintf("%s %.2f%%", o.Category, o.Percentage))
		}
		parts = append(parts, fmt.Sprintf(ThresholdReasonPrefix+"%s limit of %.2f%%: %s",
			d.Rating, model.Percentage(d.Limit), strings.Join(offenders, ", ")))
	}
	if r := strings.TrimSpace(hint.Reason); r != "" {
		parts = append(parts, r)
	}
	if len(hint.ProviderFlagged) > 0 {
		names := make([]string, 0, len(hint.ProviderFlagged))
		for _, c := range hint.ProviderFlagged {
			names = append(names, string(c))
		}
		parts = append(parts, "provider flagged: "+strings.Join(names, ", "))
	}
	return strings.Join(parts, "; ")
}
