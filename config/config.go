package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"coldreach/models"
	"coldreach/utils"
)

var AppConfig Config

// Config carries every knob the run recognizes. Transport settings are
// required; everything else has a working default matching the original
// daily quotas.
type Config struct {
	Environment string `json:"environment"`

	// Transport (consumed only by the dispatcher).
	EmailAddress  string `json:"email_address" validate:"required,email"`
	EmailPassword string `json:"-" validate:"required"`
	SMTPServer    string `json:"smtp_server" validate:"required"`
	SMTPPort      int    `json:"smtp_port" validate:"required,min=1,max=65535"`
	FromName      string `json:"from_name"`

	// Input and state files.
	LeadsFile   string `json:"leads_file" validate:"required"`
	SentLogFile string `json:"sent_log_file" validate:"required"`

	// Daily quotas and sequencing.
	ColdDailyLimit    int                   `json:"cold_daily_limit" validate:"min=0"`
	WarmupDailyLimit  int                   `json:"warmup_daily_limit" validate:"min=0"`
	MaxFollowupStage  int                   `json:"max_followup_stage" validate:"min=1"`
	FollowupIntervals map[int]time.Duration `json:"-"`

	// Pacing.
	InterleaveRatio int           `json:"interleave_ratio" validate:"min=1"`
	ColdDelayMin    time.Duration `json:"cold_delay_min"`
	ColdDelayMax    time.Duration `json:"cold_delay_max"`
	WarmupDelayMin  time.Duration `json:"warmup_delay_min"`
	WarmupDelayMax  time.Duration `json:"warmup_delay_max"`

	// Warm-up recipient pool.
	WarmupPool []string `json:"warmup_pool" validate:"min=1"`

	SentryDSN string `json:"-"`
}

// Default warm-up addresses carried from the original pool.
var defaultWarmupPool = []string{
	"test@gmail.com",
	"warmup@outlook.com",
	"hello@yahoo.com",
	"info@protonmail.com",
	"contact@icloud.com",
	"support@mail.com",
	"admin@tutanota.com",
	"noreply@zoho.com",
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	intervals, err := parseIntervals(
		getEnv("FOLLOWUP_INTERVALS_DAYS", "7,14,21"))
	if err != nil {
		return fmt.Errorf("invalid FOLLOWUP_INTERVALS_DAYS: %w", err)
	}

	AppConfig = Config{
		Environment:   getEnv("ENVIRONMENT", "development"),
		EmailAddress:  getEnv("EMAIL_ADDRESS", ""),
		EmailPassword: getEnv("EMAIL_PASSWORD", ""),
		SMTPServer:    getEnv("SMTP_SERVER", "smtp.zoho.eu"),
		SMTPPort:      getEnvAsInt("SMTP_PORT", 587),
		FromName:      getEnv("FROM_NAME", ""),

		LeadsFile:   getEnv("LEADS_FILE", "apollo-contacts-export.csv"),
		SentLogFile: getEnv("SENT_LOG_FILE", "sent_log.csv"),

		ColdDailyLimit:    getEnvAsInt("COLD_DAILY_LIMIT", 15),
		WarmupDailyLimit:  getEnvAsInt("WARMUP_DAILY_LIMIT", 5),
		MaxFollowupStage:  getEnvAsInt("MAX_FOLLOWUP_STAGE", 3),
		FollowupIntervals: intervals,

		InterleaveRatio: getEnvAsInt("WARMUP_INTERLEAVE_RATIO", 3),
		ColdDelayMin:    secondsEnv("COLD_DELAY_MIN_SECONDS", 30),
		ColdDelayMax:    secondsEnv("COLD_DELAY_MAX_SECONDS", 120),
		WarmupDelayMin:  secondsEnv("WARMUP_DELAY_MIN_SECONDS", 60),
		WarmupDelayMax:  secondsEnv("WARMUP_DELAY_MAX_SECONDS", 180),

		WarmupPool: parsePool(getEnv("WARMUP_POOL", "")),

		SentryDSN: getEnv("SENTRY_DSN", ""),
	}

	if AppConfig.MaxFollowupStage > len(AppConfig.FollowupIntervals) {
		return fmt.Errorf("MAX_FOLLOWUP_STAGE is %d but only %d follow-up intervals are configured",
			AppConfig.MaxFollowupStage, len(AppConfig.FollowupIntervals))
	}
	if AppConfig.ColdDelayMax < AppConfig.ColdDelayMin || AppConfig.WarmupDelayMax < AppConfig.WarmupDelayMin {
		return fmt.Errorf("inter-send delay maximum is below the minimum")
	}

	if err := utils.ValidateStruct(AppConfig); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	return nil
}

// parseIntervals turns "7,14,21" into {1: 7d, 2: 14d, 3: 21d}.
func parseIntervals(raw string) (map[int]time.Duration, error) {
	intervals := make(map[int]time.Duration)
	for i, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		days, err := strconv.Atoi(part)
		if err != nil || days <= 0 {
			return nil, fmt.Errorf("stage %d interval %q is not a positive day count", i+1, part)
		}
		intervals[i+1] = time.Duration(days) * 24 * time.Hour
	}
	return intervals, nil
}

func parsePool(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return append([]string(nil), defaultWarmupPool...)
	}
	var pool []string
	for _, addr := range strings.Split(raw, ",") {
		addr = models.NormalizeEmail(addr)
		if addr != "" {
			pool = append(pool, addr)
		}
	}
	return pool
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func secondsEnv(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback)) * time.Second
}
