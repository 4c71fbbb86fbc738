package engine

import "github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"

// Aggregate folds several per-image scores into one chapter score, keeping the
// maximum for every category. A chapter is only as safe as its least safe
// page. No inputs yields empty scores.
func Aggregate(scores ...model.CategoryScores) model.CategoryScores {
	out := make(model.CategoryScores)
	for _, s := range scores {
		for c, v := range s {
			if v > out[c] {
				out[c] = v
			}
		}
	}
	return out
}
