package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

const defaultConcurrency = 8

// Classifier calls an OpenAI-compatible /moderations endpoint once per text
// unit and once per image, folding a chapter's image scores with Aggregate.
type Classifier struct {
	name        string
	client      *openAIClient
	normalizer  engine.Normalizer
	concurrency int
}

// NewClassifier builds a classifier for the named moderation model.
func NewClassifier(name string, opts Options) *Classifier {
	n := opts.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	return &Classifier{
		name:        name,
		client:      newOpenAIClient(opts),
		normalizer:  engine.Normalizer{Strict: opts.StrictCategories},
		concurrency: n,
	}
}

func (c *Classifier) Name() string       { return c.name }
func (c *Classifier) Strategy() Strategy { return StrategyClassifier }

type moderationRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type moderationInputPart struct {
	Type     string       `json:"type"`
	ImageURL *imageURLRef `json:"image_url,omitempty"`
}

type imageURLRef struct {
	URL string `json:"url"`
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged        bool            `json:"flagged"`
	Categories     map[string]bool `json:"categories"`
	CategoryScores map[string]any  `json:"category_scores"`
}

// call is one /moderations request: a text unit or a single image of one.
type call struct {
	unit  int
	image int
	input any
}

type callOutcome struct {
	scores  model.CategoryScores
	flagged []string
	err     error
}

// Classify fans out every call under a shared concurrency limit and joins
// them before aggregating. A call that fails with ErrProviderUnavailable only
// fails its unit; a malformed payload or an invalid score cancels the batch.
func (c *Classifier) Classify(ctx context.Context, units []model.Unit) (results []Result, err error) {
	ctx, span := startSpan(ctx, "provider.classify", c, attribute.Int("units", len(units)))
	defer func() { endSpan(span, err) }()

	outcomes := make([][]callOutcome, len(units))
	var calls []call
	for i, u := range units {
		if u.IsImage() {
			outcomes[i] = make([]callOutcome, len(u.Images))
			for j, img := range u.Images {
				calls = append(calls, call{unit: i, image: j, input: []moderationInputPart{
					{Type: "image_url", ImageURL: &imageURLRef{URL: img}},
				}})
			}
			continue
		}
		outcomes[i] = make([]callOutcome, 1)
		calls = append(calls, call{unit: i, input: u.Text})
	}
	span.SetAttributes(attribute.Int("calls", len(calls)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, cl := range calls {
		g.Go(func() error {
			out := c.moderate(gctx, cl.input)
			if out.err != nil && !errors.Is(out.err, model.ErrProviderUnavailable) {
				return out.err
			}
			outcomes[cl.unit][cl.image] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrProviderUnavailable, err)
	}

	results = make([]Result, len(units))
	for i, u := range units {
		results[i] = join(u, outcomes[i])
	}
	return results, nil
}

func (c *Classifier) moderate(ctx context.Context, input any) callOutcome {
	var resp moderationResponse
	if err := c.client.postJSON(ctx, "/moderations", moderationRequest{Model: c.name, Input: input}, &resp); err != nil {
		return callOutcome{err: err}
	}
	if len(resp.Results) == 0 {
		return callOutcome{err: fmt.Errorf("%w: moderation response has no results", model.ErrMalformedProviderResponse)}
	}

	r := resp.Results[0]
	if r.CategoryScores == nil {
		return callOutcome{err: fmt.Errorf("%w: moderation result has no category_scores", model.ErrMalformedProviderResponse)}
	}
	scores, err := c.normalizer.Normalize(r.CategoryScores)
	if err != nil {
		return callOutcome{err: err}
	}

	var flagged []string
	for name, on := range r.Categories {
		if on {
			flagged = append(flagged, name)
		}
	}
	sort.Strings(flagged)
	return callOutcome{scores: scores, flagged: flagged}
}

// join folds the per-call outcomes of one unit. Any failed image fails the
// whole chapter: a partial read could hide the worst page.
func join(u model.Unit, outs []callOutcome) Result {
	res := Result{Unit: u.UnitRef}
	parts := make([]model.CategoryScores, 0, len(outs))
	var flagged []string
	for _, o := range outs {
		if o.err != nil {
			res.Err = o.err
			return res
		}
		parts = append(parts, o.scores)
		flagged = append(flagged, o.flagged...)
	}
	res.Scores = engine.Aggregate(parts...)
	res.ProviderFlagged = flaggedCategories(flagged)
	return res
}
