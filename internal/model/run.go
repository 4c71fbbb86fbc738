package model

import (
	"sort"
	"time"
)

// ModerationRun is the complete set of unit results one model produced for one
// book. Runs are recorded once and superseded, never edited.
type ModerationRun struct {
	ID          string            `json:"id"`
	BookID      string            `json:"bookId"`
	Model       string            `json:"model"`
	Rating      AgeRating         `json:"rating"`
	Seq         int64             `json:"seq"`
	CreatedAt   time.Time         `json:"createdAt"`
	Title       *UnitResult       `json:"title,omitempty"`
	Description *UnitResult       `json:"description,omitempty"`
	CoverImage  *UnitResult       `json:"coverImage,omitempty"`
	Chapters    []UnitResult      `json:"chapters,omitempty"`
	Passed      bool              `json:"passed"`
	// Fingerprints maps a unit key to the hash of the content it was run on.
	Fingerprints map[string]string `json:"fingerprints,omitempty"`
}

// Results returns every unit result in slot order: title, description,
// cover image, then chapters by number.
func (r *ModerationRun) Results() []UnitResult {
	if r == nil {
		return nil
	}
	out := make([]UnitResult, 0, 3+len(r.Chapters))
	for _, slot := range []*UnitResult{r.Title, r.Description, r.CoverImage} {
		if slot != nil {
			out = append(out, *slot)
		}
	}
	return append(out, r.Chapters...)
}

// Put places a result into the slot matching its unit kind. A chapter result
// replaces any existing result for the same chapter number.
func (r *ModerationRun) Put(res UnitResult) {
	switch res.Unit.Kind {
	case UnitTitle:
		r.Title = &res
	case UnitDescription:
		r.Description = &res
	case UnitCoverImage:
		r.CoverImage = &res
	case UnitChapter:
		for i := range r.Chapters {
			if r.Chapters[i].Unit.Chapter == res.Unit.Chapter {
				r.Chapters[i] = res
				return
			}
		}
		r.Chapters = append(r.Chapters, res)
		sort.SliceStable(r.Chapters, func(i, j int) bool {
			return r.Chapters[i].Unit.Chapter < r.Chapters[j].Unit.Chapter
		})
	}
}

// Chapter returns the result for chapter n.
func (r *ModerationRun) Chapter(n int) (UnitResult, bool) {
	for _, c := range r.Chapters {
		if c.Unit.Chapter == n {
			return c, true
		}
	}
	return UnitResult{}, false
}

// Finalize derives Passed: true only when no unit is flagged.
func (r *ModerationRun) Finalize() {
	r.Passed = true
	for _, res := range r.Results() {
		if res.Flagged {
			r.Passed = false
			return
		}
	}
}

// Overlay returns a copy of next completed from prior: every prior result for
// a unit next did not classify is carried over, passed through carry when it
// is non-nil. Fingerprints are merged with next winning, and Passed is derived
// from the combined results.
func Overlay(prior, next *ModerationRun, carry func(UnitResult) UnitResult) *ModerationRun {
	out := *next
	out.Chapters = append([]UnitResult(nil), next.Chapters...)
	out.Fingerprints = make(map[string]string, len(next.Fingerprints))

	if prior != nil {
		classified := make(map[string]bool)
		for _, res := range next.Results() {
			classified[res.Unit.Key()] = true
		}
		for _, res := range prior.Results() {
			if classified[res.Unit.Key()] {
				continue
			}
			if carry != nil {
				res = carry(res)
			}
			out.Put(res)
		}
		for k, v := range prior.Fingerprints {
			out.Fingerprints[k] = v
		}
	}
	for k, v := range next.Fingerprints {
		out.Fingerprints[k] = v
	}

	out.Finalize()
	return &out
}

// Offending collects every offending category across all units, keeping the
// highest score per category, sorted by score descending.
func (r *ModerationRun) Offending() []Offense {
	worst := make(CategoryScores)
	for _, res := range r.Results() {
		for _, o := range res.Offending {
			if o.Score > worst[o.Category] {
				worst[o.Category] = o.Score
			}
		}
	}
	out := make([]Offense, 0, len(worst))
	for _, e := range worst.Sorted() {
		out = append(out, Offense{Category: e.Category, Score: e.Score, Percentage: Percentage(e.Score)})
	}
	return out
}

// Percentage converts a score to a percentage rounded to two decimals.
func Percentage(score float64) float64 {
	return float64(int64(score*10000+0.5)) / 100
}

// RunSummary is the compact view used when comparing models side by side.
type RunSummary struct {
	Model     string    `json:"model"`
	RunID     string    `json:"runId"`
	Rating    AgeRating `json:"rating"`
	Passed    bool      `json:"passed"`
	CreatedAt time.Time `json:"createdAt"`
	Offending []Offense `json:"offending,omitempty"`
	Units     int       `json:"units"`
	Failed    int       `json:"failedUnits"`
}

// Summary builds the side-by-side view of a run.
func (r *ModerationRun) Summary() RunSummary {
	s := RunSummary{
		Model:     r.Model,
		RunID:     r.ID,
		Rating:    r.Rating,
		Passed:    r.Passed,
		CreatedAt: r.CreatedAt,
		Offending: r.Offending(),
	}
	for _, res := range r.Results() {
		s.Units++
		if res.Failed() {
			s.Failed++
		}
	}
	return s
}
