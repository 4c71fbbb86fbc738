package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// Normalizer converts raw provider score payloads into canonical scores.
type Normalizer struct {
	// Strict rejects keys that are not known categories instead of dropping them.
	Strict bool
}

// Normalize maps a raw category→score object onto CategoryScores.
//
// Unknown keys are dropped (or rejected in strict mode), missing categories
// stay absent (score 0), and zero scores are omitted. A value that is not
// numeric or lies outside [0,1] is a provider contract break and returns
// ErrUnknownCategoryScore; it is never clamped.
func (n Normalizer) Normalize(raw map[string]any) (model.CategoryScores, error) {
	out := make(model.CategoryScores, len(raw))
	for key, v := range raw {
		c, ok := model.ParseCategory(key)
		if !ok {
			if n.Strict {
				return nil, fmt.Errorf("%w: unrecognized category %q", model.ErrUnknownCategoryScore, key)
			}
			continue
		}
		if v == nil {
			continue
		}

		score, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", model.ErrUnknownCategoryScore, key, err)
		}
		if math.IsNaN(score) || score < 0 || score > 1 {
			return nil, fmt.Errorf("%w: %s=%v outside [0,1]", model.ErrUnknownCategoryScore, key, score)
		}
		if score == 0 {
			continue
		}
		// Two spellings of the same category: keep the worse one.
		if score > out[c] {
			out[c] = score
		}
	}
	return out, nil
}

// NormalizeFloats is Normalize for payloads already decoded as floats.
func (n Normalizer) NormalizeFloats(raw map[string]float64) (model.CategoryScores, error) {
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		m[k] = v
	}
	return n.Normalize(m)
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
