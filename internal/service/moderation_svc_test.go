package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/provider"
)

func newTestService(providers ...provider.Provider) *ModerationService {
	return NewModerationService(providers, newTestRegistry(), engine.DefaultPolicy(), zerolog.Nop())
}

func testBook() model.BookContent {
	return model.BookContent{
		Title: "Night Watch",
		Chapters: []model.ChapterInput{
			{Chapter: 1, Title: "One", Content: model.TextContent("quiet chapter")},
			{Chapter: 2, Title: "Two", Content: model.ImageContent("p1.png", "p2.png")},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestModerate_MatureAndTeen(t *testing.T) {
	fake := provider.NewFake("fake").
		Set("title", model.CategoryScores{model.CategorySexual: 0.05}).
		Set("p2.png", model.CategoryScores{model.CategoryViolence: 0.55})
	svc := newTestService(fake)
	ctx := context.Background()

	mature, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingMature, Book: testBook()})
	if err != nil {
		t.Fatal(err)
	}
	if !mature.Run.Passed {
		t.Error("MATURE run should pass")
	}

	teen, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook()})
	if err != nil {
		t.Fatal(err)
	}
	if teen.Run.Passed {
		t.Fatal("TEEN run should fail")
	}
	ch, _ := teen.Run.Chapter(2)
	if len(ch.Offending) != 1 || ch.Offending[0].Category != model.CategoryViolence || ch.Offending[0].Score != 0.55 {
		t.Errorf("chapter 2 offending = %+v", ch.Offending)
	}
	if teen.Run.Title.Flagged {
		t.Error("title should pass at TEEN")
	}
}

func TestModerate_SelectiveRecheckMerge(t *testing.T) {
	fake := provider.NewFake("fake").
		Set("title", model.CategoryScores{model.CategorySexual: 0.05}).
		Set("chapter:1", model.CategoryScores{model.CategoryHate: 0.02})
	svc := newTestService(fake)
	ctx := context.Background()

	first, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook()})
	if err != nil {
		t.Fatal(err)
	}
	if !first.Run.Passed {
		t.Fatal("first run should pass")
	}
	firstTitle := *first.Run.Title
	firstCh1, _ := first.Run.Chapter(1)

	// Chapter 2 gets a new page that is too violent for TEEN.
	book := testBook()
	book.Chapters[1].Content = model.ImageContent("p1.png", "p3.png")
	fake.Set("p3.png", model.CategoryScores{model.CategoryViolence: 0.4})

	second, err := svc.Moderate(ctx, ModerateRequest{
		BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: book,
		Options: model.SelectOptions{ChapterIDs: []model.ChapterID{"2"}, ModerateBookInfo: boolPtr(false)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Checked) != 1 || second.Checked[0] != "chapter:2" {
		t.Errorf("checked = %v, want only chapter:2", second.Checked)
	}

	run := second.Run
	if run.Passed {
		t.Error("merged run should fail on chapter 2")
	}
	if run.Title == nil || run.Title.Reason != firstTitle.Reason || run.Title.Flagged != firstTitle.Flagged {
		t.Errorf("title = %+v, want carried over %+v", run.Title, firstTitle)
	}
	ch1, ok := run.Chapter(1)
	if !ok || ch1.Scores[model.CategoryHate] != firstCh1.Scores[model.CategoryHate] {
		t.Errorf("chapter 1 = %+v, want carried over", ch1)
	}
	ch2, _ := run.Chapter(2)
	if !ch2.Flagged || ch2.Scores[model.CategoryViolence] != 0.4 {
		t.Errorf("chapter 2 = %+v", ch2)
	}
	if run.ID == first.Run.ID {
		t.Error("merged run should get a new id")
	}
}

func TestModerate_FailedRunKeepsPrior(t *testing.T) {
	fake := provider.NewFake("fake")
	svc := newTestService(fake)
	ctx := context.Background()

	first, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook()})
	if err != nil {
		t.Fatal(err)
	}

	fake.FailAll(model.ErrMalformedProviderResponse)
	if _, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook()}); !errors.Is(err, model.ErrMalformedProviderResponse) {
		t.Fatalf("err = %v, want ErrMalformedProviderResponse", err)
	}

	run, err := svc.Registry().Get(ctx, "b1", "fake")
	if err != nil || run.ID != first.Run.ID {
		t.Errorf("recorded run = %+v, %v, want the first run", run, err)
	}
}

func TestModerate_UnitFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("one unit fails", func(t *testing.T) {
		fake := provider.NewFake("fake").FailUnit("chapter:1", model.ErrProviderUnavailable)
		svc := newTestService(fake)
		res, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingAdult, Book: testBook()})
		if err != nil {
			t.Fatal(err)
		}
		if res.Run.Passed {
			t.Error("run with a failed unit must not pass")
		}
		ch1, _ := res.Run.Chapter(1)
		if !ch1.Failed() || !ch1.Flagged {
			t.Errorf("chapter 1 = %+v", ch1)
		}
		if _, ok := res.Run.Fingerprints["chapter:1"]; ok {
			t.Error("failed unit should not be fingerprinted")
		}
	})

	t.Run("every unit fails", func(t *testing.T) {
		fake := provider.NewFake("fake")
		for _, k := range []string{"title", "chapter:1", "chapter:2"} {
			fake.FailUnit(k, model.ErrProviderUnavailable)
		}
		svc := newTestService(fake)
		_, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingAdult, Book: testBook()})
		if !errors.Is(err, model.ErrProviderUnavailable) {
			t.Fatalf("err = %v, want ErrProviderUnavailable", err)
		}
		if v, _ := svc.Registry().OverallPassed(ctx, "b1", "fake"); v != VerdictNotChecked {
			t.Errorf("verdict = %q, want not_checked", v)
		}
	})
}

func TestModerate_Errors(t *testing.T) {
	svc := newTestService(provider.NewFake("fake"))
	ctx := context.Background()

	if _, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "nope", Book: testBook()}); !errors.Is(err, model.ErrUnknownModel) {
		t.Errorf("unknown model err = %v", err)
	}
	if _, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Book: model.BookContent{}}); !errors.Is(err, model.ErrNothingToModerate) {
		t.Errorf("empty book err = %v", err)
	}
	if _, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.AgeRating(8), Book: testBook()}); err == nil {
		t.Error("expected error for invalid rating")
	}
}

func TestModerate_OnlyChanged(t *testing.T) {
	fake := provider.NewFake("fake")
	svc := newTestService(fake)
	ctx := context.Background()
	only := model.SelectOptions{OnlyChanged: true}

	first, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook(), Options: only})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Checked) != 3 {
		t.Errorf("first run checked %v, want every unit", first.Checked)
	}

	same, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook(), Options: only})
	if err != nil {
		t.Fatal(err)
	}
	if !same.Unchanged || same.Run.ID != first.Run.ID {
		t.Errorf("unchanged book should reuse the run, got %+v", same)
	}
	if fake.Calls() != 1 {
		t.Errorf("provider called %d times, want 1", fake.Calls())
	}

	edited := testBook()
	edited.Chapters[0].Content = model.TextContent("a louder chapter")
	changed, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: edited, Options: only})
	if err != nil {
		t.Fatal(err)
	}
	if len(changed.Checked) != 1 || changed.Checked[0] != "chapter:1" {
		t.Errorf("checked = %v, want only chapter:1", changed.Checked)
	}
}

func TestModerate_RatingChangeRedecidesCarriedResults(t *testing.T) {
	fake := provider.NewFake("fake").Set("title", model.CategoryScores{model.CategoryViolence: 0.15})
	svc := newTestService(fake)
	ctx := context.Background()
	only := model.SelectOptions{OnlyChanged: true}

	first, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook(), Options: only})
	if err != nil || !first.Run.Passed {
		t.Fatalf("TEEN run = %+v, %v", first, err)
	}

	stricter, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingEveryone, Book: testBook(), Options: only})
	if err != nil {
		t.Fatal(err)
	}
	if fake.Calls() != 1 {
		t.Errorf("provider called %d times, want 1", fake.Calls())
	}
	if stricter.Run.Passed || !stricter.Run.Title.Flagged || stricter.Run.Rating != model.RatingEveryone {
		t.Errorf("EVERYONE run = %+v", stricter.Run)
	}
}

func TestModerate_OnRunHook(t *testing.T) {
	svc := newTestService(provider.NewFake("fake"))
	var got []RunOutcome
	svc.OnRun = func(o RunOutcome) { got = append(got, o) }

	svc.Moderate(context.Background(), ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook()})
	if len(got) != 1 || got[0].Units != 3 || !got[0].Passed || got[0].Err != nil || got[0].Strategy != provider.StrategyFake {
		t.Errorf("outcomes = %+v", got)
	}
}

func TestVerdictAndCompare(t *testing.T) {
	strict := provider.NewFake("strict").Set("chapter:1", model.CategoryScores{model.CategoryViolence: 0.15})
	lenient := provider.NewFake("lenient")
	svc := newTestService(strict, lenient)
	ctx := context.Background()

	for _, m := range []string{"strict", "lenient"} {
		if _, err := svc.Moderate(ctx, ModerateRequest{BookID: "b1", Model: m, Rating: model.RatingEveryone, Book: testBook()}); err != nil {
			t.Fatal(err)
		}
	}

	teen := model.RatingTeen
	report, err := svc.Verdict(ctx, "b1", "strict", &teen)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != VerdictFailed {
		t.Errorf("status = %q, want failed", report.Status)
	}
	if report.WouldPass[model.RatingEveryone] || !report.WouldPass[model.RatingTeen] {
		t.Errorf("wouldPass = %v", report.WouldPass)
	}
	if report.MinimumRating == nil || *report.MinimumRating != model.RatingTeen {
		t.Errorf("minimum rating = %v", report.MinimumRating)
	}
	if report.PassesRating == nil || !*report.PassesRating {
		t.Error("should pass at TEEN")
	}

	missing, err := svc.Verdict(ctx, "b1", "other", nil)
	if err != nil || missing.Status != VerdictNotChecked || missing.WouldPass != nil {
		t.Errorf("missing report = %+v, %v", missing, err)
	}

	summaries, err := svc.Compare(ctx, "b1")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 || summaries[0].Model != "lenient" || !summaries[0].Passed || summaries[1].Passed {
		t.Errorf("summaries = %+v", summaries)
	}
}

func TestRecheckWorker_Coalesces(t *testing.T) {
	fake := provider.NewFake("fake")
	svc := newTestService(fake)
	w := NewRecheckWorker(svc, time.Hour, zerolog.Nop())

	off := boolPtr(false)
	if w.Enqueue(ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook(),
		Options: model.SelectOptions{ChapterIDs: []model.ChapterID{"1"}, ModerateBookInfo: off}}) {
		t.Error("first request should not be merged")
	}
	if !w.Enqueue(ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingMature, Book: testBook(),
		Options: model.SelectOptions{ChapterIDs: []model.ChapterID{"2", "1"}, ModerateBookInfo: off}}) {
		t.Error("second request should be merged")
	}
	w.Enqueue(ModerateRequest{BookID: "b2", Model: "fake", Rating: model.RatingTeen, Book: testBook()})

	if w.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", w.Pending())
	}

	w.flush(context.Background())
	if fake.Calls() != 2 {
		t.Errorf("provider called %d times, want 2", fake.Calls())
	}
	run, err := svc.Registry().Get(context.Background(), "b1", "fake")
	if err != nil {
		t.Fatal(err)
	}
	if run.Rating != model.RatingMature || len(run.Chapters) != 2 || run.Title != nil {
		t.Errorf("coalesced run = %+v", run)
	}
	if w.Pending() != 0 {
		t.Errorf("pending after flush = %d", w.Pending())
	}
}

func TestRecheckWorker_DrainsOnShutdown(t *testing.T) {
	fake := provider.NewFake("fake")
	svc := newTestService(fake)
	w := NewRecheckWorker(svc, time.Hour, zerolog.Nop())
	w.Enqueue(ModerateRequest{BookID: "b1", Model: "fake", Rating: model.RatingTeen, Book: testBook()})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	cancel()
	w.Wait()

	if fake.Calls() != 1 {
		t.Errorf("provider called %d times, want 1", fake.Calls())
	}
	if _, err := svc.Registry().Get(context.Background(), "b1", "fake"); err != nil {
		t.Errorf("queued request not recorded: %v", err)
	}
}

func TestCoalesce(t *testing.T) {
	off := boolPtr(false)
	tests := []struct {
		name      string
		prev      model.SelectOptions
		next      model.SelectOptions
		wantIDs   int
		wantInfo  bool
		wantDelta bool
	}{
		{"union", model.SelectOptions{ChapterIDs: []model.ChapterID{"1"}, ModerateBookInfo: off}, model.SelectOptions{ChapterIDs: []model.ChapterID{"2", "1"}, ModerateBookInfo: off}, 2, false, false},
		{"all chapters wins", model.SelectOptions{ChapterIDs: []model.ChapterID{"1"}}, model.SelectOptions{}, 0, true, false},
		{"book info if either asked", model.SelectOptions{ModerateBookInfo: off}, model.SelectOptions{}, 0, true, false},
		{"only changed needs both", model.SelectOptions{OnlyChanged: true}, model.SelectOptions{OnlyChanged: true}, 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coalesce(ModerateRequest{Options: tt.prev}, ModerateRequest{Options: tt.next}).Options
			if len(got.ChapterIDs) != tt.wantIDs || got.IncludeBookInfo() != tt.wantInfo || got.OnlyChanged != tt.wantDelta {
				t.Errorf("coalesced = %+v", got)
			}
		})
	}
}
