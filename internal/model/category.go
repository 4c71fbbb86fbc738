package model

import (
	"sort"
	"strings"
)

// Category is one kind of content violation. The set is closed.
type Category string

const (
	CategoryHarassment            Category = "harassment"
	CategoryHarassmentThreatening Category = "harassment/threatening"
	CategorySexual                Category = "sexual"
	CategorySexualMinors          Category = "sexual/minors"
	CategoryHate                  Category = "hate"
	CategoryHateThreatening       Category = "hate/threatening"
	CategoryViolence              Category = "violence"
	CategoryViolenceGraphic       Category = "violence/graphic"
	CategoryIllicit               Category = "illicit"
	CategoryIllicitViolent        Category = "illicit/violent"
	CategorySelfHarm              Category = "self-harm"
	CategorySelfHarmIntent        Category = "self-harm/intent"
	CategorySelfHarmInstructions  Category = "self-harm/instructions"
)

// Categories lists every known category in display order.
var Categories = []Category{
	CategoryHarassment,
	CategoryHarassmentThreatening,
	CategorySexual,
	CategorySexualMinors,
	CategoryHate,
	CategoryHateThreatening,
	CategoryViolence,
	CategoryViolenceGraphic,
	CategoryIllicit,
	CategoryIllicitViolent,
	CategorySelfHarm,
	CategorySelfHarmIntent,
	CategorySelfHarmInstructions,
}

// categoryAliases maps every accepted spelling onto its canonical category.
// Providers disagree on separators ("self-harm/intent", "self_harm_intent",
// "self-harm-intent"), so each canonical name is indexed under all of them.
var categoryAliases = func() map[string]Category {
	m := make(map[string]Category, len(Categories)*3)
	for _, c := range Categories {
		name := string(c)
		m[name] = c
		m[strings.ReplaceAll(name, "/", "-")] = c
		m[strings.NewReplacer("/", "_", "-", "_").Replace(name)] = c
	}
	return m
}()

// ParseCategory resolves a provider key to a known category.
func ParseCategory(key string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(key))]
	return c, ok
}

// CategoryScores maps a category to a severity score in [0,1].
// An absent category scores 0.
type CategoryScores map[Category]float64

// Get returns the score for c, or 0 when absent.
func (s CategoryScores) Get(c Category) float64 {
	if s == nil {
		return 0
	}
	return s[c]
}

// Max returns the highest score and its category. An empty set returns ("", 0).
func (s CategoryScores) Max() (Category, float64) {
	var (
		best  Category
		score float64
	)
	for _, e := range s.Sorted() {
		if e.Score > score {
			best, score = e.Category, e.Score
		}
	}
	return best, score
}

// Clone returns an independent copy.
func (s CategoryScores) Clone() CategoryScores {
	out := make(CategoryScores, len(s))
	for c, v := range s {
		out[c] = v
	}
	return out
}

// ScoreEntry is one (category, score) pair.
type ScoreEntry struct {
	Category Category `json:"category"`
	Score    float64  `json:"score"`
}

// Sorted returns the non-zero entries ordered by score descending, ties broken
// by category name so the order is stable across calls.
func (s CategoryScores) Sorted() []ScoreEntry {
	out := make([]ScoreEntry, 0, len(s))
	for c, v := range s {
		if v == 0 {
			continue
		}
		out = append(out, ScoreEntry{Category: c, Score: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Category < out[j].Category
	})
	return out
}
