package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Scheduler     SchedulerConfig
	Templates     TemplateConfig
	Notifications NotificationConfig
	Exports       ExportConfig
	Swagger       SwaggerConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// Namespace prefixes every key the service writes.
	Namespace string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig carries generation policy plus the grid used when an institution has no stored settings.
type SchedulerConfig struct {
	TeacherWeeklyHourLimit int
	GenerationTimeout      time.Duration

	DefaultWorkingDays    []int
	DefaultDailyPeriods   int
	DefaultPeriodMinutes  int
	DefaultBreakPeriods   []int
	DefaultLunchPeriod    int
	DefaultFirstPeriod    string
	DefaultBreakMinutes   int
	DefaultLunchMinutes   int
	DefaultMaxConsecutive int
}

// TemplateConfig tunes template recommendation.
type TemplateConfig struct {
	MinSuccessRate float64
	MinSimilarity  float64
	RecommendLimit int
	CacheEnabled   bool
	CacheTTL       time.Duration
	CacheMaxTTL    time.Duration
}

// NotificationConfig configures blocking-conflict notification dispatch.
type NotificationConfig struct {
	Workers          int
	Retries          int
	QueueKey         string
	QueueLimit       int64
	RemindersEnabled bool
	ReminderSchedule string
	ReminderAge      time.Duration
}

// ExportConfig controls published timetable files and their download links.
type ExportConfig struct {
	Dir           string
	SigningSecret string
	LinkTTL       time.Duration
	Retention     time.Duration
	SweepSchedule string
}

type SwaggerConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		Namespace: v.GetString("REDIS_NAMESPACE"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Scheduler = SchedulerConfig{
		TeacherWeeklyHourLimit: v.GetInt("SCHEDULER_TEACHER_WEEKLY_LIMIT"),
		GenerationTimeout:      parseDuration(v.GetString("SCHEDULER_GENERATION_TIMEOUT"), 2*time.Minute),
		DefaultWorkingDays:     parseInts(v.GetString("SCHEDULER_DEFAULT_WORKING_DAYS")),
		DefaultDailyPeriods:    v.GetInt("SCHEDULER_DEFAULT_DAILY_PERIODS"),
		DefaultPeriodMinutes:   v.GetInt("SCHEDULER_DEFAULT_PERIOD_MINUTES"),
		DefaultBreakPeriods:    parseInts(v.GetString("SCHEDULER_DEFAULT_BREAK_PERIODS")),
		DefaultLunchPeriod:     v.GetInt("SCHEDULER_DEFAULT_LUNCH_PERIOD"),
		DefaultFirstPeriod:     v.GetString("SCHEDULER_DEFAULT_FIRST_PERIOD"),
		DefaultBreakMinutes:    v.GetInt("SCHEDULER_DEFAULT_BREAK_MINUTES"),
		DefaultLunchMinutes:    v.GetInt("SCHEDULER_DEFAULT_LUNCH_MINUTES"),
		DefaultMaxConsecutive:  v.GetInt("SCHEDULER_DEFAULT_MAX_CONSECUTIVE"),
	}

	cfg.Templates = TemplateConfig{
		MinSuccessRate: v.GetFloat64("TEMPLATE_MIN_SUCCESS_RATE"),
		MinSimilarity:  v.GetFloat64("TEMPLATE_MIN_SIMILARITY"),
		RecommendLimit: v.GetInt("TEMPLATE_RECOMMEND_LIMIT"),
		CacheEnabled:   v.GetBool("ENABLE_TEMPLATE_CACHE"),
		CacheTTL:       parseDuration(v.GetString("TEMPLATE_CACHE_TTL"), 10*time.Minute),
		CacheMaxTTL:    parseDuration(v.GetString("TEMPLATE_CACHE_MAX_TTL"), time.Hour),
	}

	cfg.Notifications = NotificationConfig{
		Workers:          v.GetInt("NOTIFY_WORKERS"),
		Retries:          v.GetInt("NOTIFY_RETRIES"),
		QueueKey:         v.GetString("NOTIFY_QUEUE_KEY"),
		QueueLimit:       v.GetInt64("NOTIFY_QUEUE_LIMIT"),
		RemindersEnabled: v.GetBool("ENABLE_CONFLICT_REMINDERS"),
		ReminderSchedule: v.GetString("CONFLICT_REMINDER_SCHEDULE"),
		ReminderAge:      parseDuration(v.GetString("CONFLICT_REMINDER_AGE"), 24*time.Hour),
	}

	cfg.Exports = ExportConfig{
		Dir:           v.GetString("EXPORT_DIR"),
		SigningSecret: v.GetString("EXPORT_SIGNING_SECRET"),
		LinkTTL:       parseDuration(v.GetString("EXPORT_LINK_TTL"), time.Hour),
		Retention:     parseDuration(v.GetString("EXPORT_RETENTION"), 72*time.Hour),
		SweepSchedule: v.GetString("EXPORT_SWEEP_SCHEDULE"),
	}
	if cfg.Exports.SigningSecret == "" {
		cfg.Exports.SigningSecret = cfg.JWT.Secret
	}

	cfg.Swagger = SwaggerConfig{Enabled: v.GetBool("ENABLE_SWAGGER")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "timetable")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_NAMESPACE", "timetable")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_TEACHER_WEEKLY_LIMIT", 25)
	v.SetDefault("SCHEDULER_GENERATION_TIMEOUT", "2m")
	v.SetDefault("SCHEDULER_DEFAULT_WORKING_DAYS", "1,2,3,4,5")
	v.SetDefault("SCHEDULER_DEFAULT_DAILY_PERIODS", 7)
	v.SetDefault("SCHEDULER_DEFAULT_PERIOD_MINUTES", 45)
	v.SetDefault("SCHEDULER_DEFAULT_BREAK_PERIODS", "3,6")
	v.SetDefault("SCHEDULER_DEFAULT_LUNCH_PERIOD", 4)
	v.SetDefault("SCHEDULER_DEFAULT_FIRST_PERIOD", "08:00")
	v.SetDefault("SCHEDULER_DEFAULT_BREAK_MINUTES", 10)
	v.SetDefault("SCHEDULER_DEFAULT_LUNCH_MINUTES", 30)
	v.SetDefault("SCHEDULER_DEFAULT_MAX_CONSECUTIVE", 2)

	v.SetDefault("TEMPLATE_MIN_SUCCESS_RATE", 0.6)
	v.SetDefault("TEMPLATE_MIN_SIMILARITY", 0.3)
	v.SetDefault("TEMPLATE_RECOMMEND_LIMIT", 5)
	v.SetDefault("ENABLE_TEMPLATE_CACHE", true)
	v.SetDefault("TEMPLATE_CACHE_TTL", "10m")
	v.SetDefault("TEMPLATE_CACHE_MAX_TTL", "1h")

	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_QUEUE_KEY", "conflict-notifications")
	v.SetDefault("NOTIFY_QUEUE_LIMIT", 1000)
	v.SetDefault("ENABLE_CONFLICT_REMINDERS", false)
	v.SetDefault("CONFLICT_REMINDER_SCHEDULE", "@every 1h")
	v.SetDefault("CONFLICT_REMINDER_AGE", "24h")

	v.SetDefault("EXPORT_DIR", "./exports")
	v.SetDefault("EXPORT_SIGNING_SECRET", "")
	v.SetDefault("EXPORT_LINK_TTL", "1h")
	v.SetDefault("EXPORT_RETENTION", "72h")
	v.SetDefault("EXPORT_SWEEP_SCHEDULE", "@every 6h")

	v.SetDefault("ENABLE_SWAGGER", true)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parseInts skips entries that are not integers.
func parseInts(raw string) []int {
	parts := splitAndTrim(raw)
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		result = append(result, n)
	}
	return result
}
