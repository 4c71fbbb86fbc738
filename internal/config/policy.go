package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/engine"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

// policyFile is the on-disk rating policy:
//
//	thresholds:
//	  TEEN: 0.10
//	  MATURE: 0.20
//
// Each threshold is the score at which content escalates into that tier.
type policyFile struct {
	Thresholds map[string]float64 `yaml:"thresholds"`
}

// LoadPolicy reads and validates the rating policy at path. An empty path
// returns the default policy.
func LoadPolicy(path string) (engine.Policy, error) {
	if path == "" {
		return engine.DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Policy{}, fmt.Errorf("read rating policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML rating policy. Unknown fields are rejected so a
// typo cannot silently fall back to defaults.
func ParsePolicy(data []byte) (engine.Policy, error) {
	var f policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return engine.Policy{}, fmt.Errorf("parse rating policy: %w", err)
	}
	if len(f.Thresholds) == 0 {
		return engine.Policy{}, fmt.Errorf("rating policy defines no thresholds")
	}

	th := make(engine.Thresholds, len(f.Thresholds))
	for key, v := range f.Thresholds {
		r, err := model.ParseAgeRating(key)
		if err != nil {
			return engine.Policy{}, fmt.Errorf("rating policy: %w", err)
		}
		if _, dup := th[r]; dup {
			return engine.Policy{}, fmt.Errorf("rating policy: %s listed twice", r)
		}
		th[r] = v
	}

	p, err := engine.NewPolicy(th)
	if err != nil {
		return engine.Policy{}, fmt.Errorf("rating policy: %w", err)
	}
	return p, nil
}
