package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Analyzer sends every unit to a multimodal chat model in one request and
// reads back a single JSON object of per-unit category scores.
type Analyzer struct {
	name       string
	client     *openAIClient
	normalizer engine.Normalizer
}

// NewAnalyzer builds an analyzer for the named chat model.
func NewAnalyzer(name string, opts Options) *Analyzer {
	return &Analyzer{
		name:       name,
		client:     newOpenAIClient(opts),
		normalizer: engine.Normalizer{Strict: opts.StrictCategories},
	}
}

func (a *Analyzer) Name() string       { return a.name }
func (a *Analyzer) Strategy() Strategy { return StrategyAnalyzer }

const analyzerInstruction = `You are a content-rating assistant. Score the supplied book content for each of these categories with a number between 0 and 1: %s.
Reply with one JSON object only. Use the keys "title", "description" and "coverImage" for the book information that was supplied, each holding the category scores plus an optional "reason" string and an optional "flagged" boolean.
Use the key "chapters" for an array with one element per supplied chapter, in order, each shaped as {"chapter": <number>, "title": <string>, "category_scores": {...}, "reason": <string>}.
Omit categories that score 0. Do not add any other text.`

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *imageURLRef `json:"image_url,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// analysis is the object the model is instructed to return.
type analysis struct {
	Title       map[string]any   `json:"title"`
	Description map[string]any   `json:"description"`
	CoverImage  map[string]any   `json:"coverImage"`
	Chapters    []map[string]any `json:"chapters"`
}

// Classify issues exactly one call. Any failure, including a unit the
// response left out, fails the whole batch.
func (a *Analyzer) Classify(ctx context.Context, units []model.Unit) (results []Result, err error) {
	ctx, span := startSpan(ctx, "provider.analyze", a, attribute.Int("units", len(units)))
	defer func() { endSpan(span, err) }()

	if len(units) == 0 {
		return nil, nil
	}

	req := chatRequest{
		Model: a.name,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(analyzerInstruction, categoryList())},
			{Role: "user", Content: buildParts(units)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}

	var resp chatResponse
	if err := a.client.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: chat response had no choices", model.ErrMalformedProviderResponse)
	}

	parsed, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	return a.collect(units, parsed)
}

// collect pairs every sent unit with its slot in the response. Chapters are
// matched by their "chapter" number first; elements without a number then
// fill the chapters still unmatched, in the order both were sent.
func (a *Analyzer) collect(units []model.Unit, parsed analysis) ([]Result, error) {
	byNumber := make(map[int]map[string]any, len(parsed.Chapters))
	var unnumbered []map[string]any
	for _, ch := range parsed.Chapters {
		if n, ok := chapterNumber(ch["chapter"]); ok {
			byNumber[n] = ch
		} else {
			unnumbered = append(unnumbered, ch)
		}
	}

	slots := make([]map[string]any, len(units))
	for i, u := range units {
		switch u.Kind {
		case model.UnitTitle:
			slots[i] = parsed.Title
		case model.UnitDescription:
			slots[i] = parsed.Description
		case model.UnitCoverImage:
			slots[i] = parsed.CoverImage
		case model.UnitChapter:
			slots[i] = byNumber[u.Chapter]
		}
	}
	for i, u := range units {
		if u.Kind != model.UnitChapter || slots[i] != nil || len(unnumbered) == 0 {
			continue
		}
		slots[i], unnumbered = unnumbered[0], unnumbered[1:]
	}

	results := make([]Result, len(units))
	for i, u := range units {
		if slots[i] == nil {
			return nil, fmt.Errorf("%w: no entry for %s", model.ErrMalformedProviderResponse, u.Key())
		}
		res, err := a.unitResult(u.UnitRef, slots[i])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.Key(), err)
		}
		results[i] = res
	}
	return results, nil
}

// unitResult reads one slot, which is either a flat category→score object or
// one carrying its scores under "category_scores".
func (a *Analyzer) unitResult(ref model.UnitRef, slot map[string]any) (Result, error) {
	raw := make(map[string]any, len(slot))
	if nested, ok := slot["category_scores"]; ok {
		m, ok := nested.(map[string]any)
		if !ok {
			return Result{}, fmt.Errorf("%w: category_scores is %T", model.ErrMalformedProviderResponse, nested)
		}
		raw = m
	} else {
		for k, v := range slot {
			switch k {
			case "reason", "flagged", "chapter", "title":
				continue
			}
			raw[k] = v
		}
	}

	scores, err := a.normalizer.Normalize(raw)
	if err != nil {
		return Result{}, err
	}

	res := Result{Unit: ref, Scores: scores}
	if r, ok := slot["reason"].(string); ok {
		res.Reason = strings.TrimSpace(r)
	}
	switch f := slot["flagged"].(type) {
	case bool:
		if c, _ := scores.Max(); f && c != "" {
			res.ProviderFlagged = []model.Category{c}
		}
	case []any:
		names := make([]string, 0, len(f))
		for _, v := range f {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		res.ProviderFlagged = flaggedCategories(names)
	}
	return res, nil
}

func parseAnalysis(content string) (analysis, error) {
	body := stripCodeFence(content)
	if body == "" {
		return analysis{}, fmt.Errorf("%w: empty analysis", model.ErrMalformedProviderResponse)
	}
	var out analysis
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return analysis{}, fmt.Errorf("%w: decode analysis: %v", model.ErrMalformedProviderResponse, err)
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown fence such as ```json ... ```.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func chapterNumber(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	case string:
		return model.ChapterID(strings.TrimSpace(n)).Number()
	}
	return 0, false
}

func buildParts(units []model.Unit) []contentPart {
	parts := make([]contentPart, 0, len(units)*2)
	for _, u := range units {
		label := unitLabel(u.UnitRef)
		if !u.IsImage() {
			parts = append(parts, contentPart{Type: "text", Text: label + "\n" + u.Text})
			continue
		}
		parts = append(parts, contentPart{Type: "text", Text: fmt.Sprintf("%s (%d images)", label, len(u.Images))})
		for _, img := range u.Images {
			parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURLRef{URL: img}})
		}
	}
	return parts
}

func unitLabel(ref model.UnitRef) string {
	switch ref.Kind {
	case model.UnitChapter:
		if ref.ChapterTitle != "" {
			return fmt.Sprintf("[chapter %d: %s]", ref.Chapter, ref.ChapterTitle)
		}
		return fmt.Sprintf("[chapter %d]", ref.Chapter)
	default:
		return "[" + string(ref.Kind) + "]"
	}
}

func categoryList() string {
	names := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
