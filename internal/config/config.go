package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	Environment string
	CORSOrigins string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	// Models is the raw MODERATION_MODELS list, "name:strategy" pairs
	// separated by commas. See ModelSpecs.
	Models              string
	ProviderTimeout     time.Duration
	ClassifyConcurrency int
	StrictCategories    bool
	RatingPolicyFile    string
	RecheckBatchWindow  time.Duration
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: getEnv("ENVIRONMENT", "development"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),

		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Models:              getEnv("MODERATION_MODELS", "omni-moderation-latest:classifier"),
		ProviderTimeout:     getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		ClassifyConcurrency: getEnvInt("CLASSIFY_CONCURRENCY", 8),
		StrictCategories:    getEnvBool("MODERATION_STRICT_CATEGORIES", false),
		RatingPolicyFile:    getEnv("RATING_POLICY_FILE", ""),
		RecheckBatchWindow:  getEnvDuration("RECHECK_BATCH_WINDOW", 5*time.Second),
	}
}

// ModelSpec names one moderation model and the strategy used to call it.
type ModelSpec struct {
	Name     string
	Strategy string
}

// ModelSpecs parses Models. An entry without a strategy is a classifier.
// Model names may themselves contain colons; the last one separates the
// strategy only when what follows is a known strategy name.
func (c *Config) ModelSpecs() ([]ModelSpec, error) {
	var specs []ModelSpec
	seen := make(map[string]bool)
	for _, entry := range strings.Split(c.Models, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		spec := ModelSpec{Name: entry}
		if i := strings.LastIndex(entry, ":"); i >= 0 && knownStrategy(entry[i+1:]) {
			spec = ModelSpec{Name: strings.TrimSpace(entry[:i]), Strategy: strings.TrimSpace(entry[i+1:])}
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("MODERATION_MODELS: empty model name in %q", entry)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("MODERATION_MODELS: model %q listed twice", spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("MODERATION_MODELS: no models configured")
	}
	return specs, nil
}

// CORSOriginList splits CORSOrigins on commas.
func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func knownStrategy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classifier", "moderation", "analyzer", "chat", "llm", "fake":
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
