package service

import (
	"strings"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// mergeRun overlays a partial run on the previously recorded one. Units the
// new run classified replace their prior results; every other prior result is
// carried over. A carried result is re-decided from its stored scores when the
// rating changed, since its verdict was made against the old rating.
func mergeRun(prior, next *model.ModerationRun, policy engine.Policy) *model.ModerationRun {
	var carry func(model.UnitResult) model.UnitResult
	if prior != nil && prior.Rating != next.Rating {
		carry = func(res model.UnitResult) model.UnitResult {
			if res.Failed() {
				return res
			}
			return policy.Evaluate(res.Unit, res.Scores, next.Rating, engine.Hint{Reason: providerReason(res.Reason)})
		}
	}

	out := model.Overlay(prior, next, carry)

	// A unit that just failed must be picked up again by the next
	// changed-only run even if its content did not change.
	for _, res := range next.Results() {
		if res.Failed() {
			delete(out.Fingerprints, res.Unit.Key())
		}
	}
	return out
}

// providerReason strips the threshold verdict from a stored reason, leaving
// what the provider said about the unit.
func providerReason(reason string) string {
	var kept []string
	for _, part := range strings.Split(reason, "; ") {
		if part == "" || strings.HasPrefix(part, engine.ThresholdReasonPrefix) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "; ")
}
