package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DATABASE_URL", "MODERATION_MODELS", "PROVIDER_TIMEOUT", "CLASSIFY_CONCURRENCY", "RECHECK_BATCH_WINDOW"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Port != "8080" || cfg.DatabaseURL != "" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.ProviderTimeout != 60*time.Second || cfg.ClassifyConcurrency != 8 || cfg.RecheckBatchWindow != 5*time.Second {
		t.Errorf("tuning = %v %d %v", cfg.ProviderTimeout, cfg.ClassifyConcurrency, cfg.RecheckBatchWindow)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PROVIDER_TIMEOUT", "15")
	t.Setenv("RECHECK_BATCH_WINDOW", "250ms")
	t.Setenv("CLASSIFY_CONCURRENCY", "not-a-number")
	t.Setenv("MODERATION_STRICT_CATEGORIES", "true")

	cfg := Load()
	if cfg.ProviderTimeout != 15*time.Second {
		t.Errorf("timeout = %v", cfg.ProviderTimeout)
	}
	if cfg.RecheckBatchWindow != 250*time.Millisecond {
		t.Errorf("window = %v", cfg.RecheckBatchWindow)
	}
	if cfg.ClassifyConcurrency != 8 {
		t.Errorf("concurrency = %d, want fallback", cfg.ClassifyConcurrency)
	}
	if !cfg.StrictCategories {
		t.Error("strict categories not set")
	}
}

func TestModelSpecs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []ModelSpec
		wantErr bool
	}{
		{"single", "omni-moderation-latest:classifier", []ModelSpec{{"omni-moderation-latest", "classifier"}}, false},
		{"several", "omni:classifier, gpt-4o-mini:analyzer ,local:fake", []ModelSpec{{"omni", "classifier"}, {"gpt-4o-mini", "analyzer"}, {"local", "fake"}}, false},
		{"no strategy", "omni", []ModelSpec{{"omni", ""}}, false},
		{"colon in name", "ft:gpt-4o:org:analyzer", []ModelSpec{{"ft:gpt-4o:org", "analyzer"}}, false},
		{"duplicate", "a:fake,a:classifier", nil, true},
		{"empty", " , ", nil, true},
		{"missing name", ":fake", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := (&Config{Models: tt.raw}).ModelSpecs()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("spec %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCORSOriginList(t *testing.T) {
	got := (&Config{CORSOrigins: "https://a.example, https://b.example,"}).CORSOriginList()
	if len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("origins = %v", got)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy([]byte("thresholds:\n  TEEN: 0.10\n  16+: 0.20\n"))
	if err != nil {
		t.Fatal(err)
	}
	if limit, ok := p.Limit(model.RatingTeen); !ok || limit != 0.20 {
		t.Errorf("TEEN limit = %v, %v", limit, ok)
	}
	if limit, ok := p.Limit(model.RatingMature); ok {
		t.Errorf("MATURE limit = %v, want none", limit)
	}
	if !p.WouldPass(model.CategoryScores{model.CategoryViolence: 0.55}, model.RatingMature) {
		t.Error("MATURE should pass 0.55")
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"no thresholds", "thresholds: {}\n"},
		{"unknown field", "thresholds:\n  TEEN: 0.1\nstrict: true\n"},
		{"unknown tier", "thresholds:\n  KIDS: 0.1\n"},
		{"decreasing", "thresholds:\n  TEEN: 0.3\n  MATURE: 0.2\n"},
		{"duplicate via label", "thresholds:\n  TEEN: 0.1\n  13+: 0.1\n"},
		{"adult threshold", "thresholds:\n  TEEN: 0.10\n  MATURE: 0.20\n  ADULT: 0.50\n"},
		{"adult via label", "thresholds:\n  TEEN: 0.10\n  18+: 0.9\n"},
		{"not yaml", "thresholds: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParsePolicy([]byte(tt.yaml)); err == nil {
				t.Error("expected error, got none")
			}
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy("")
	if err != nil {
		t.Fatal(err)
	}
	if limit, _ := p.Limit(model.RatingEveryone); limit != 0.10 {
		t.Errorf("default EVERYONE limit = %v", limit)
	}

	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("thresholds:\n  TEEN: 0.05\n  MATURE: 0.3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err = LoadPolicy(path)
	if err != nil {
		t.Fatal(err)
	}
	if limit, _ := p.Limit(model.RatingEveryone); limit != 0.05 {
		t.Errorf("EVERYONE limit = %v", limit)
	}

	if _, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
