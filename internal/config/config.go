package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	AppURL           string
	HTTPAddr         string
	AuthCookieSecure bool
	AdminEmail       string
	CronSecret       string

	Auth AuthConfig

	DBType            string
	DBURL             string
	DBSimpleProtocol  bool
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Vision       VisionConfig
	LemonSqueezy LemonSqueezyConfig
	Email        EmailConfig
	Scheduler    SchedulerConfig
}

type AuthConfig struct {
	// JWTSecret verifies HS256 access tokens issued by the auth provider.
	JWTSecret string
	// JWKSURL enables asymmetric verification; takes precedence over JWTSecret.
	JWKSURL  string
	Issuer   string
	Audience string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled bool
	// Requests per second and burst per user for upload/analyze.
	AuditRate  float64
	AuditBurst int
	LockTTL    time.Duration
}

type VisionConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type LemonSqueezyConfig struct {
	APIKey        string
	APIBaseURL    string
	StoreID       string
	WebhookSecret string
	VariantSingle string
	VariantBasic  string
	VariantPro    string
}

type EmailConfig struct {
	// Provider is one of resend, sendgrid, smtp or log. Empty selects from
	// whichever credentials are present.
	Provider       string
	From           string
	FromName       string
	SupportEmail   string
	ResendAPIKey   string
	ResendBaseURL  string
	SendGridAPIKey string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
}

type SchedulerConfig struct {
	RunInterval time.Duration
	// ReminderHour is the UTC hour after which the daily reminder sweep runs.
	ReminderHour int
	EnabledJobs  []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", getenv("NODE_ENV", "development"))
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "viotraix"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		AppURL:           strings.TrimRight(getenv("NEXT_PUBLIC_APP_URL", getenv("APP_URL", "http://localhost:3000")), "/"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		AuthCookieSecure: authCookieSecure,
		AdminEmail:       strings.ToLower(strings.TrimSpace(getenv("ADMIN_EMAIL", ""))),
		CronSecret:       strings.TrimSpace(getenv("CRON_SECRET", "")),
		Auth: AuthConfig{
			JWTSecret: strings.TrimSpace(getenv("SUPABASE_JWT_SECRET", getenv("AUTH_JWT_SECRET", ""))),
			JWKSURL:   strings.TrimSpace(getenv("SUPABASE_JWKS_URL", "")),
			Issuer:    strings.TrimSpace(getenv("AUTH_JWT_ISSUER", "")),
			Audience:  strings.TrimSpace(getenv("AUTH_JWT_AUDIENCE", "authenticated")),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBURL:             getenv("DATABASE_URL", ""),
		DBSimpleProtocol:  getenvBool("DATABASE_SIMPLE_PROTOCOL", false),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "viotraix"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getenvBool("RATE_LIMIT_ENABLED", true),
			AuditRate:  getenvFloat("RATE_LIMIT_AUDIT_RATE", 0.5),
			AuditBurst: getenvInt("RATE_LIMIT_AUDIT_BURST", 10),
			LockTTL:    getenvDuration("RATE_LIMIT_LOCK_TTL", 3*time.Minute),
		},
		Vision: VisionConfig{
			APIKey:  strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			BaseURL: strings.TrimRight(getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			Model:   getenv("OPENAI_MODEL", "gpt-4o"),
			Timeout: getenvDuration("VISION_TIMEOUT", 120*time.Second),
		},
		LemonSqueezy: LemonSqueezyConfig{
			APIKey:        strings.TrimSpace(getenv("LEMONSQUEEZY_API_KEY", "")),
			APIBaseURL:    strings.TrimRight(getenv("LEMONSQUEEZY_API_URL", "https://api.lemonsqueezy.com/v1"), "/"),
			StoreID:       strings.TrimSpace(getenv("LEMONSQUEEZY_STORE_ID", "")),
			WebhookSecret: strings.TrimSpace(getenv("LEMONSQUEEZY_WEBHOOK_SECRET", "")),
			VariantSingle: strings.TrimSpace(getenv("LEMONSQUEEZY_VARIANT_SINGLE", "")),
			VariantBasic:  strings.TrimSpace(getenv("LEMONSQUEEZY_VARIANT_BASIC", "")),
			VariantPro:    strings.TrimSpace(getenv("LEMONSQUEEZY_VARIANT_PRO", "")),
		},
		Email: EmailConfig{
			Provider:       strings.ToLower(strings.TrimSpace(getenv("EMAIL_PROVIDER", ""))),
			From:           getenv("EMAIL_FROM", "noreply@viotraix.com"),
			FromName:       getenv("EMAIL_FROM_NAME", "Viotraix"),
			SupportEmail:   getenv("SUPPORT_EMAIL", "paktechknowledge@gmail.com"),
			ResendAPIKey:   strings.TrimSpace(getenv("EMAIL_API_KEY", "")),
			ResendBaseURL:  strings.TrimRight(getenv("RESEND_API_URL", "https://api.resend.com"), "/"),
			SendGridAPIKey: strings.TrimSpace(getenv("SENDGRID_API_KEY", "")),
			SMTPHost:       strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:       getenvInt("SMTP_PORT", 587),
			SMTPUsername:   getenv("SMTP_USERNAME", ""),
			SMTPPassword:   getenv("SMTP_PASSWORD", ""),
		},
		Scheduler: SchedulerConfig{
			RunInterval:  getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			ReminderHour: getenvInt("SCHEDULER_REMINDER_HOUR", 9),
			EnabledJobs:  getenvList("SCHEDULER_ENABLED_JOBS"),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
