package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPPort != "8081" || cfg.QueueBackend != QueueRedis || cfg.BackendTimeout != 20*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.CloudinaryEnabled() {
		t.Fatal("cloudinary should be off without credentials")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "Staging")
	t.Setenv("QUEUE_BACKEND", "RabbitMQ")
	t.Setenv("CATALOG_CACHE_TTL", "90s")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("CORS_ORIGINS", "https://app.example,https://admin.example")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Env != "staging" || cfg.QueueBackend != QueueRabbitMQ || cfg.CatalogCacheTTL != 90*time.Second || cfg.RateLimitPerMin != 30 || len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected %+v", cfg)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown queue":       {"QUEUE_BACKEND": "kafka"},
		"bad duration":        {"SESSION_IDLE_TTL": "forever"},
		"default key in prod": {"APP_ENV": "production"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
