package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Feature flags, set once in main before anything else starts.
var AIEnabled bool
var GeminiAPIKey string
var GeminiDefaultModel string

type Config struct {
	Port               string
	BaseURL            string
	DBConnectionString string

	// Webhook dispatch
	WebhookURLs        []string // seed list from env
	WebhookFile        string   // optional extra seed file (newline/comma separated)
	WebhookStoreFile   string   // durable subscriber list
	WebhookBearerToken string
	WebhookTimeout     time.Duration

	// Inbound pipeline
	Allowlist       []string // normalized numbers allowed to trigger webhooks; empty = allow all
	StaleThreshold  time.Duration
	MinRoundTrip    time.Duration
	SnapshotFile    string
	PipelineBacklog int

	// Session manager timers
	RecoveryInterval time.Duration
	RefreshInterval  time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "2121"),
		BaseURL:            getEnv("BASEURL", ""),
		DBConnectionString: getEnv("DATABASE_URL", "file:storage/whatsapp.db?_foreign_keys=on"),

		WebhookFile:        getEnv("WEBHOOK_FILE", ""),
		WebhookStoreFile:   getEnv("WEBHOOK_STORE_FILE", "storage/webhooks.txt"),
		WebhookBearerToken: getEnv("WEBHOOK_BEARER_TOKEN", ""),
		WebhookTimeout:     time.Duration(GetEnvAsInt("WEBHOOK_TIMEOUT_MS", 8000)) * time.Millisecond,

		StaleThreshold:  time.Duration(GetEnvAsInt("STALE_MESSAGE_MS", 60000)) * time.Millisecond,
		MinRoundTrip:    time.Duration(GetEnvAsInt("MIN_ROUNDTRIP_MS", 1000)) * time.Millisecond,
		SnapshotFile:    getEnv("SNAPSHOT_FILE", "storage/snapshot.json"),
		PipelineBacklog: GetEnvAsInt("PIPELINE_BACKLOG", 256),

		RecoveryInterval: time.Duration(GetEnvAsInt("RECOVERY_INTERVAL_MS", 30000)) * time.Millisecond,
		RefreshInterval:  time.Duration(GetEnvAsInt("REFRESH_INTERVAL_MS", 600000)) * time.Millisecond,
	}

	cfg.WebhookURLs = SplitList(os.Getenv("WEBHOOK_URLS"))
	cfg.Allowlist = SplitList(os.Getenv("AUTH_ALLOWLIST"))

	// Floors per the connection manager contract: recovery >= 5s, refresh >= 60s.
	if cfg.RecoveryInterval < 5*time.Second {
		cfg.RecoveryInterval = 5 * time.Second
	}
	if cfg.RefreshInterval < time.Minute {
		cfg.RefreshInterval = time.Minute
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvAsInt reads an integer env var with a fallback for missing/bad values.
func GetEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

// SplitList splits a comma/newline separated env value into trimmed entries.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n'
	}) {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
