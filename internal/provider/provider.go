// Package provider adapts external content-classification back-ends to the
// canonical scoring model. Raw provider payloads never leave this package.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Strategy is how a provider turns units into scores.
type Strategy string

const (
	// StrategyClassifier issues one call per text unit and per image.
	StrategyClassifier Strategy = "classifier"
	// StrategyAnalyzer sends every unit in a single structured call.
	StrategyAnalyzer Strategy = "analyzer"
	// StrategyFake returns canned scores without any network access.
	StrategyFake Strategy = "fake"
)

// ParseStrategy resolves a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyClassifier, "moderation", "":
		return StrategyClassifier, nil
	case StrategyAnalyzer, "chat", "llm":
		return StrategyAnalyzer, nil
	case StrategyFake:
		return StrategyFake, nil
	}
	return "", fmt.Errorf("unknown provider strategy %q", s)
}

// Result is the canonical outcome for one unit.
type Result struct {
	Unit            model.UnitRef
	Scores          model.CategoryScores
	Reason          string
	ProviderFlagged []model.Category
	// Err is set when this unit alone could not be classified.
	Err error
}

// Hint returns the provider context the decision engine attaches to a result.
func (r Result) Hint() engine.Hint {
	return engine.Hint{Reason: r.Reason, ProviderFlagged: r.ProviderFlagged}
}

// Provider classifies moderation units. Implementations return one Result
// per unit, in input order. A returned error fails the whole batch.
type Provider interface {
	Name() string
	Strategy() Strategy
	Classify(ctx context.Context, units []model.Unit) ([]Result, error)
}

// Options configures an HTTP-backed provider.
type Options struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	MaxResponseBytes int64
	// Concurrency bounds in-flight calls for the classifier strategy.
	Concurrency int
	// StrictCategories rejects unknown category keys.
	StrictCategories bool
}

// New builds the provider for a configured model.
func New(name string, strategy Strategy, opts Options) (Provider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("provider model name is required")
	}
	switch strategy {
	case StrategyClassifier:
		return NewClassifier(name, opts), nil
	case StrategyAnalyzer:
		return NewAnalyzer(name, opts), nil
	case StrategyFake:
		return NewFake(name), nil
	}
	return nil, fmt.Errorf("unknown provider strategy %q", strategy)
}

var tracer = otel.Tracer("github.com/mathieu-neron/BookGuard/bookguard-go/internal/provider")

func startSpan(ctx context.Context, name string, p Provider, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("provider.model", p.Name()),
		attribute.String("provider.strategy", string(p.Strategy())),
	)
	return tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// flaggedCategories keeps the known categories a provider marked as flagged.
func flaggedCategories(names []string) []model.Category {
	var out []model.Category
	seen := make(map[model.Category]bool, len(names))
	for _, n := range names {
		if c, ok := model.ParseCategory(n); ok && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
