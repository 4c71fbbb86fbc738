package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

func TestPolicy_DefaultLimits(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		rating   model.AgeRating
		limit    float64
		hasLimit bool
	}{
		{model.RatingEveryone, 0.10, true},
		{model.RatingTeen, 0.20, true},
		{model.RatingMature, 0, false},
		{model.RatingAdult, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.rating.String(), func(t *testing.T) {
			limit, ok := p.Limit(tt.rating)
			if ok != tt.hasLimit || limit != tt.limit {
				t.Errorf("Limit(%s) = (%v, %v), want (%v, %v)", tt.rating, limit, ok, tt.limit, tt.hasLimit)
			}
		})
	}
}

func TestPolicy_InvalidRatingUsesStrictestLimit(t *testing.T) {
	limit, ok := DefaultPolicy().Limit(model.AgeRating(9))
	if !ok || limit != 0.10 {
		t.Errorf("Limit(invalid) = (%v, %v), want (0.1, true)", limit, ok)
	}
}

func TestPolicy_ViolenceAcrossTiers(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name   string
		score  float64
		passes map[model.AgeRating]bool
	}{
		{"low", 0.05, map[model.AgeRating]bool{
			model.RatingEveryone: true, model.RatingTeen: true, model.RatingMature: true, model.RatingAdult: true,
		}},
		{"mild", 0.15, map[model.AgeRating]bool{
			model.RatingEveryone: false, model.RatingTeen: true, model.RatingMature: true, model.RatingAdult: true,
		}},
		{"strong", 0.55, map[model.AgeRating]bool{
			model.RatingEveryone: false, model.RatingTeen: false, model.RatingMature: true, model.RatingAdult: true,
		}},
		{"at the limit fails", 0.10, map[model.AgeRating]bool{
			model.RatingEveryone: false, model.RatingTeen: true, model.RatingMature: true, model.RatingAdult: true,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := model.CategoryScores{model.CategoryViolence: tt.score}
			for r, want := range tt.passes {
				if got := p.WouldPass(scores, r); got != want {
					t.Errorf("WouldPass(%v, %s) = %v, want %v", tt.score, r, got, want)
				}
			}
		})
	}
}

func TestPolicy_MonotonicPermissiveness(t *testing.T) {
	policies := []Thresholds{
		DefaultThresholds(),
		{model.RatingTeen: 0.1, model.RatingMature: 0.5},
		{model.RatingTeen: 0.3, model.RatingMature: 0.3},
		{model.RatingTeen: 0.2},
	}
	samples := []float64{0, 0.01, 0.09, 0.1, 0.15, 0.2, 0.3, 0.49, 0.5, 0.75, 1}

	for i, th := range policies {
		p, err := NewPolicy(th)
		if err != nil {
			t.Fatalf("policy %d: %v", i, err)
		}
		for _, s := range samples {
			scores := model.CategoryScores{model.CategoryHate: s}
			for _, r := range model.Ratings[:len(model.Ratings)-1] {
				next, _ := r.Next()
				if p.WouldPass(scores, r) && !p.WouldPass(scores, next) {
					t.Errorf("policy %d: score %v passes %s but fails %s", i, s, r, next)
				}
			}
		}
	}
}

func TestPolicy_DecideIsIdempotent(t *testing.T) {
	p := DefaultPolicy()
	scores := model.CategoryScores{model.CategoryViolence: 0.55, model.CategorySexual: 0.3, model.CategoryHate: 0.01}
	first := p.Decide(scores, model.RatingTeen)
	for i := 0; i < 5; i++ {
		if got := p.Decide(scores, model.RatingTeen); !reflect.DeepEqual(got, first) {
			t.Fatalf("decision %d = %+v, want %+v", i, got, first)
		}
	}
}

func TestPolicy_DecideOffendingOrder(t *testing.T) {
	d := DefaultPolicy().Decide(model.CategoryScores{
		model.CategoryViolence: 0.55,
		model.CategorySexual:   0.3,
		model.CategoryHate:     0.3,
		model.CategoryIllicit:  0.05,
	}, model.RatingTeen)

	if d.Passed {
		t.Fatal("expected failure")
	}
	want := []model.Offense{
		{Category: model.CategoryViolence, Score: 0.55, Percentage: 55},
		{Category: model.CategoryHate, Score: 0.3, Percentage: 30},
		{Category: model.CategorySexual, Score: 0.3, Percentage: 30},
	}
	if !reflect.DeepEqual(d.Offending, want) {
		t.Errorf("offending = %+v, want %+v", d.Offending, want)
	}
}

func TestPolicy_MinimumRating(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		score float64
		want  model.AgeRating
	}{
		{0, model.RatingEveryone},
		{0.09, model.RatingEveryone},
		{0.15, model.RatingTeen},
		{0.55, model.RatingMature},
	}
	for _, tt := range tests {
		got := p.MinimumRating(model.CategoryScores{model.CategoryViolence: tt.score})
		if got != tt.want {
			t.Errorf("MinimumRating(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestNewPolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		th   Thresholds
	}{
		{"everyone threshold", Thresholds{model.RatingEveryone: 0.05, model.RatingTeen: 0.1}},
		{"zero", Thresholds{model.RatingTeen: 0}},
		{"above one", Thresholds{model.RatingTeen: 1.5}},
		{"decreasing", Thresholds{model.RatingTeen: 0.3, model.RatingMature: 0.2}},
		{"gap", Thresholds{model.RatingMature: 0.5}},
		{"adult threshold", Thresholds{model.RatingTeen: 0.1, model.RatingMature: 0.2, model.RatingAdult: 0.5}},
		{"adult only", Thresholds{model.RatingAdult: 0.9}},
		{"invalid tier", Thresholds{model.AgeRating(7): 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPolicy(tt.th); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestPolicy_ThresholdsRoundTrip(t *testing.T) {
	th := Thresholds{model.RatingTeen: 0.1, model.RatingMature: 0.2}
	p, err := NewPolicy(th)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Thresholds(); !reflect.DeepEqual(got, th) {
		t.Errorf("Thresholds() = %v, want %v", got, th)
	}
}

func TestPolicy_EvaluateAndFailed(t *testing.T) {
	p := DefaultPolicy()
	ref := model.UnitRef{Kind: model.UnitChapter, Chapter: 2}

	res := p.Evaluate(ref, model.CategoryScores{model.CategoryViolence: 0.55}, model.RatingTeen, Hint{
		Reason:          "graphic fight scene",
		ProviderFlagged: []model.Category{model.CategoryViolence},
	})
	if !res.Flagged {
		t.Error("expected flagged result")
	}
	if res.MinimumRating != model.RatingMature {
		t.Errorf("minimum rating = %s, want MATURE", res.MinimumRating)
	}
	for _, part := range []string{"exceeds TEEN limit of 20.00%", "violence 55.00%", "graphic fight scene", "provider flagged: violence"} {
		if !strings.Contains(res.Reason, part) {
			t.Errorf("reason %q missing %q", res.Reason, part)
		}
	}

	// The provider's own flag never overrides a passing score.
	ok := p.Evaluate(ref, model.CategoryScores{model.CategoryViolence: 0.05}, model.RatingEveryone, Hint{
		ProviderFlagged: []model.Category{model.CategoryViolence},
	})
	if ok.Flagged {
		t.Error("provider flag should not fail a unit whose scores pass")
	}

	failed := p.Failed(ref, errors.New("timeout"))
	if !failed.Flagged || !failed.Failed() || failed.MinimumRating != model.RatingAdult {
		t.Errorf("failed result = %+v", failed)
	}
}

// Title scores sexual 0.05, chapter 1 scores violence 0.55.
func TestPolicy_EndToEndMatureAndTeen(t *testing.T) {
	p := DefaultPolicy()
	title := model.CategoryScores{model.CategorySexual: 0.05}
	chapter := Aggregate(
		model.CategoryScores{model.CategoryViolence: 0.2},
		model.CategoryScores{model.CategoryViolence: 0.55},
	)

	build := func(r model.AgeRating) *model.ModerationRun {
		run := &model.ModerationRun{Rating: r}
		run.Put(p.Evaluate(model.UnitRef{Kind: model.UnitTitle}, title, r, Hint{}))
		run.Put(p.Evaluate(model.UnitRef{Kind: model.UnitChapter, Chapter: 1}, chapter, r, Hint{}))
		run.Finalize()
		return run
	}

	mature := build(model.RatingMature)
	if !mature.Passed {
		t.Error("MATURE run should pass")
	}

	teen := build(model.RatingTeen)
	if teen.Passed {
		t.Fatal("TEEN run should fail")
	}
	if teen.Title.Flagged {
		t.Error("title should pass at TEEN")
	}
	want := []model.Offense{{Category: model.CategoryViolence, Score: 0.55, Percentage: 55}}
	if !reflect.DeepEqual(teen.Chapters[0].Offending, want) {
		t.Errorf("chapter offending = %+v, want %+v", teen.Chapters[0].Offending, want)
	}
}
