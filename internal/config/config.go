package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config holds the base server configuration.
type Config struct {
	Host                     string
	Port                     string
	SQLiteDBPath             string
	NodeEnv                  string
	AllowTestMode            bool
	JWTSecret                string
	JWTAccessTokenExpirySec  int
	JWTRefreshTokenExpirySec int
	// TrustedProxies lists peer IPs whose X-Forwarded-For header is honored
	// when recording the audit origin of a request.
	TrustedProxies []string

	// Media engine (yt-dlp) settings
	YtdlpPath        string // Empty means resolve "yt-dlp" from PATH
	MediaWorkDir     string // Scratch directory for extracted audio
	MediaTimeoutMs   int    // Upper bound for a single yt-dlp invocation
	MediaRatePerSec  float64
	MediaRateBurst   int
	MediaSplitErrors bool // Report upstream failures as 503 instead of 404

	// Audit log settings
	AuditQueueSize     int
	AuditRetentionDays int
	AuditPruneSchedule string // 5-field cron expression

	MetricsEnabled bool
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	host := envString("HOST", "0.0.0.0")
	port := envString("PORT", "9000")
	sqlitePath := envString("SQLITE_DB_PATH", "./data/tunegate.db")

	nodeEnv := envString("NODE_ENV", "development")
	allowTestMode := envBool("ALLOW_TEST_MODE", false)
	jwtSecret := envString("JWT_SECRET", "")
	jwtAccessExpiry := envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600)
	jwtRefreshExpiry := envInt("JWT_REFRESH_TOKEN_EXPIRY", 2592000)
	trustedProxies := envCSV("TRUSTED_PROXIES")

	ytdlpPath := envString("YTDLP_PATH", "")
	mediaWorkDir := envString("MEDIA_WORK_DIR", filepath.Join(os.TempDir(), "tunegate"))
	mediaTimeout := envInt("MEDIA_TIMEOUT_MS", 300000)
	mediaRate := envFloat("MEDIA_RATE_PER_SEC", 2)
	mediaBurst := envInt("MEDIA_RATE_BURST", 4)
	mediaSplitErrors := envBool("MEDIA_SPLIT_ERRORS", false)

	auditQueueSize := envInt("AUDIT_QUEUE_SIZE", 256)
	auditRetention := envInt("AUDIT_RETENTION_DAYS", 90)
	auditSchedule := envString("AUDIT_PRUNE_SCHEDULE", "0 3 * * *")

	metricsEnabled := envBool("METRICS_ENABLED", true)

	if len(strings.TrimSpace(jwtSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if mediaTimeout <= 0 {
		return Config{}, fmt.Errorf("MEDIA_TIMEOUT_MS must be positive")
	}
	if auditQueueSize <= 0 {
		return Config{}, fmt.Errorf("AUDIT_QUEUE_SIZE must be positive")
	}
	if _, err := cron.ParseStandard(auditSchedule); err != nil {
		return Config{}, fmt.Errorf("AUDIT_PRUNE_SCHEDULE is invalid: %w", err)
	}
	if mediaRate <= 0 {
		log.Printf("WARNING: MEDIA_RATE_PER_SEC=%v disables upstream throttling", mediaRate)
	}

	return Config{
		Host:                     host,
		Port:                     port,
		SQLiteDBPath:             sqlitePath,
		NodeEnv:                  nodeEnv,
		AllowTestMode:            allowTestMode,
		JWTSecret:                jwtSecret,
		JWTAccessTokenExpirySec:  jwtAccessExpiry,
		JWTRefreshTokenExpirySec: jwtRefreshExpiry,
		TrustedProxies:           trustedProxies,
		YtdlpPath:                ytdlpPath,
		MediaWorkDir:             mediaWorkDir,
		MediaTimeoutMs:           mediaTimeout,
		MediaRatePerSec:          mediaRate,
		MediaRateBurst:           mediaBurst,
		MediaSplitErrors:         mediaSplitErrors,
		AuditQueueSize:           auditQueueSize,
		AuditRetentionDays:       auditRetention,
		AuditPruneSchedule:       auditSchedule,
		MetricsEnabled:           metricsEnabled,
	}, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return []string{}
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
