package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NATS_SUBJECT", "")
	t.Setenv("TEMPLATE_CACHE_TTL", "")
	t.Setenv("ONE_TIME_REPLACE_POLICY", "")
	t.Setenv("OVERVIEW_TIMEOUT", "")
	t.Setenv("API_RATE_LIMIT_RPS", "")

	cfg := Load()
	if cfg.NATSSubject != "case_documents.events" {
		t.Fatalf("expected default subject, got %q", cfg.NATSSubject)
	}
	if cfg.TemplateCacheTTL != 5*time.Minute {
		t.Fatalf("expected default cache ttl 5m, got %s", cfg.TemplateCacheTTL)
	}
	if cfg.OneTimeReplacePolicy != "overwrite" {
		t.Fatalf("expected overwrite policy, got %q", cfg.OneTimeReplacePolicy)
	}
	if cfg.OverviewTimeout != 10*time.Second {
		t.Fatalf("expected overview timeout 10s, got %s", cfg.OverviewTimeout)
	}
	if cfg.APIRateLimitRPS != 0 {
		t.Fatalf("expected rate limit disabled by default, got %v", cfg.APIRateLimitRPS)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("TEMPLATE_CACHE_TTL", "90s")
	t.Setenv("OVERVIEW_TIMEOUT", "3")
	t.Setenv("ONE_TIME_REPLACE_POLICY", "reject")
	t.Setenv("API_RATE_LIMIT_RPS", "12.5")
	t.Setenv("API_RATE_LIMIT_BURST", "40")
	t.Setenv("RESILIENCE_BREAKER_ENABLED", "false")

	cfg := Load()
	if cfg.TemplateCacheTTL != 90*time.Second {
		t.Fatalf("expected cache ttl 90s, got %s", cfg.TemplateCacheTTL)
	}
	if cfg.OverviewTimeout != 3*time.Second {
		t.Fatalf("expected plain seconds to parse, got %s", cfg.OverviewTimeout)
	}
	if cfg.OneTimeReplacePolicy != "reject" {
		t.Fatalf("expected reject policy, got %q", cfg.OneTimeReplacePolicy)
	}
	if cfg.APIRateLimitRPS != 12.5 || cfg.APIRateLimitBurst != 40 {
		t.Fatalf("unexpected rate limit config: %v/%d", cfg.APIRateLimitRPS, cfg.APIRateLimitBurst)
	}
	if cfg.ResilienceBreaker {
		t.Fatalf("expected breaker disabled")
	}
}

func TestLoadFallsBackOnMalformedValues(t *testing.T) {
	t.Setenv("TEMPLATE_CACHE_TTL", "soon")
	t.Setenv("API_RATE_LIMIT_BURST", "many")

	cfg := Load()
	if cfg.TemplateCacheTTL != 5*time.Minute {
		t.Fatalf("expected fallback ttl, got %s", cfg.TemplateCacheTTL)
	}
	if cfg.APIRateLimitBurst != 20 {
		t.Fatalf("expected fallback burst, got %d", cfg.APIRateLimitBurst)
	}
}
