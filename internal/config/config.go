package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Reputation providers
const (
	ReputationNone       = "none"
	ReputationVirusTotal = "virustotal"
)

// Config holds all configuration for the application
type Config struct {
	// Database
	DatabaseURL string

	// HTTP API
	APIPort int

	// Direct SMTP intake
	SMTPIntakeEnabled bool
	SMTPIntakePort    int
	SMTPIntakeDomain  string
	SMTPIntakeTLSCert string
	SMTPIntakeTLSKey  string

	// Artifact archive
	ArchivePath string

	// Logging
	LogLevel string

	// Security
	APIKey         string
	AllowedOrigins string
	AppEnv         string

	// Rate Limiting
	RateLimitRequests float64
	RateLimitBurst    int

	// Reporting mailbox (IMAP)
	IMAPHost     string
	IMAPPort     int
	IMAPUsername string
	IMAPPassword string
	IMAPMailbox  string
	IMAPTLS      bool

	// Polling
	PollInterval  time.Duration
	PollBatchSize int
	Workers       int

	// Outbound replies (SMTP submission)
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPFromName    string
	SMTPImplicitTLS bool

	// Reputation service
	ReputationProvider string
	VirusTotalAPIKey   string
	VirusTotalBaseURL  string
	ReputationRate     float64
	ReputationTimeout  time.Duration
	RedisURL           string
	ReputationCacheTTL time.Duration

	// Scoring
	ScoringPolicyPath string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	// Required: DATABASE_URL
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set")
	}

	if cfg.APIPort, err = envInt("API_PORT", 8080); err != nil {
		return nil, err
	}

	if cfg.SMTPIntakeEnabled, err = envBool("SMTP_INTAKE_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.SMTPIntakePort, err = envInt("SMTP_INTAKE_PORT", 2525); err != nil {
		return nil, err
	}
	cfg.SMTPIntakeDomain = envString("SMTP_INTAKE_DOMAIN", "localhost")
	cfg.SMTPIntakeTLSCert = os.Getenv("SMTP_INTAKE_TLS_CERT")
	cfg.SMTPIntakeTLSKey = os.Getenv("SMTP_INTAKE_TLS_KEY")

	cfg.ArchivePath = envString("ARCHIVE_PATH", "./data/artifacts")
	cfg.LogLevel = envString("LOG_LEVEL", "info")

	// Security configuration
	cfg.APIKey = os.Getenv("API_KEY")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.AppEnv = envString("APP_ENV", "development")

	// Rate limiting configuration
	if rps := os.Getenv("RATE_LIMIT_REQUESTS"); rps != "" {
		if v, err := strconv.ParseFloat(rps, 64); err == nil {
			cfg.RateLimitRequests = v
		}
	} else {
		cfg.RateLimitRequests = 10.0
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		if v, err := strconv.Atoi(burst); err == nil {
			cfg.RateLimitBurst = v
		}
	} else {
		cfg.RateLimitBurst = 20
	}

	// Reporting mailbox
	cfg.IMAPHost = os.Getenv("IMAP_HOST")
	if cfg.IMAPPort, err = envInt("IMAP_PORT", 993); err != nil {
		return nil, err
	}
	cfg.IMAPUsername = os.Getenv("IMAP_USERNAME")
	cfg.IMAPPassword = os.Getenv("IMAP_PASSWORD")
	cfg.IMAPMailbox = envString("IMAP_MAILBOX", "INBOX")
	if cfg.IMAPTLS, err = envBool("IMAP_TLS", true); err != nil {
		return nil, err
	}

	// Polling (the reporting mailbox is checked every five minutes by default)
	if cfg.PollInterval, err = envDuration("POLL_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PollBatchSize, err = envInt("POLL_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.Workers, err = envInt("WORKERS", 1); err != nil {
		return nil, err
	}

	// Outbound replies
	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPPort, err = envInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = envString("SMTP_FROM", cfg.IMAPUsername)
	cfg.SMTPFromName = envString("SMTP_FROM_NAME", "Security Team")
	if cfg.SMTPImplicitTLS, err = envBool("SMTP_IMPLICIT_TLS", false); err != nil {
		return nil, err
	}

	// Reputation
	cfg.ReputationProvider = strings.ToLower(envString("REPUTATION_PROVIDER", ReputationNone))
	cfg.VirusTotalAPIKey = os.Getenv("VIRUSTOTAL_API_KEY")
	cfg.VirusTotalBaseURL = envString("VIRUSTOTAL_BASE_URL", "https://www.virustotal.com/api/v3")
	// Public VirusTotal keys allow four requests per minute.
	if cfg.ReputationRate, err = envFloat("REPUTATION_RATE", 4.0/60.0); err != nil {
		return nil, err
	}
	if cfg.ReputationTimeout, err = envDuration("REPUTATION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.ReputationCacheTTL, err = envDuration("REPUTATION_CACHE_TTL", 24*time.Hour); err != nil {
		return nil, err
	}

	cfg.ScoringPolicyPath = os.Getenv("SCORING_POLICY_PATH")

	return cfg, nil
}

// LoadWithValidation loads and validates configuration, failing fast on errors
func LoadWithValidation() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Production-specific validation
	if cfg.AppEnv == "production" {
		if err := cfg.ValidateProduction(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DatabaseURL cannot be empty")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("APIPort must be between 1 and 65535")
	}
	if c.SMTPIntakeEnabled && (c.SMTPIntakePort <= 0 || c.SMTPIntakePort > 65535) {
		return fmt.Errorf("SMTPIntakePort must be between 1 and 65535")
	}
	if c.SMTPIntakeEnabled && strings.TrimSpace(c.SMTPIntakeDomain) == "" {
		return fmt.Errorf("SMTP_INTAKE_DOMAIN is required when SMTP_INTAKE_ENABLED is set")
	}
	if (c.SMTPIntakeTLSCert == "") != (c.SMTPIntakeTLSKey == "") {
		return fmt.Errorf("SMTP_INTAKE_TLS_CERT and SMTP_INTAKE_TLS_KEY must be set together")
	}
	if c.ArchivePath == "" {
		return fmt.Errorf("ArchivePath cannot be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be positive")
	}
	if c.Workers < 1 {
		return fmt.Errorf("Workers must be at least 1")
	}
	if c.IMAPHost != "" && c.IMAPUsername == "" {
		return fmt.Errorf("IMAP_USERNAME is required when IMAP_HOST is set")
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		return fmt.Errorf("SMTP_FROM is required when SMTP_HOST is set")
	}
	switch c.ReputationProvider {
	case ReputationNone:
	case ReputationVirusTotal:
		if c.VirusTotalAPIKey == "" {
			return fmt.Errorf("VIRUSTOTAL_API_KEY is required for the virustotal reputation provider")
		}
		if c.ReputationRate <= 0 {
			return fmt.Errorf("REPUTATION_RATE must be positive")
		}
	default:
		return fmt.Errorf("unknown REPUTATION_PROVIDER %q", c.ReputationProvider)
	}
	return nil
}

// ValidateProduction performs additional validation for production environment
func (c *Config) ValidateProduction() error {
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required in production")
	}

	if strings.Contains(c.AllowedOrigins, "*") {
		return fmt.Errorf("wildcard (*) origins are not allowed in production")
	}

	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		return fmt.Errorf("sslmode=disable is not allowed in production")
	}

	if c.IMAPHost != "" && !c.IMAPTLS {
		return fmt.Errorf("IMAP_TLS cannot be disabled in production")
	}

	return nil
}

// PollingEnabled reports whether a reporting mailbox is configured.
func (c *Config) PollingEnabled() bool {
	return c.IMAPHost != ""
}

// DeliveryEnabled reports whether outbound replies can be sent.
func (c *Config) DeliveryEnabled() bool {
	return c.SMTPHost != ""
}

// LogConfig logs configuration values (excluding secrets)
func (c *Config) LogConfig(logger *slog.Logger) {
	logger.Info("configuration loaded",
		slog.Int("api_port", c.APIPort),
		slog.Bool("smtp_intake_enabled", c.SMTPIntakeEnabled),
		slog.Int("smtp_intake_port", c.SMTPIntakePort),
		slog.Bool("smtp_intake_tls", c.SMTPIntakeTLSCert != ""),
		slog.String("archive_path", c.ArchivePath),
		slog.String("log_level", c.LogLevel),
		slog.String("app_env", c.AppEnv),
		slog.Bool("api_key_set", c.APIKey != ""),
		slog.Float64("rate_limit_rps", c.RateLimitRequests),
		slog.Int("rate_limit_burst", c.RateLimitBurst),
		slog.String("imap_host", c.IMAPHost),
		slog.String("imap_mailbox", c.IMAPMailbox),
		slog.Bool("imap_password_set", c.IMAPPassword != ""),
		slog.Duration("poll_interval", c.PollInterval),
		slog.Int("workers", c.Workers),
		slog.String("smtp_host", c.SMTPHost),
		slog.Bool("smtp_password_set", c.SMTPPassword != ""),
		slog.String("reputation_provider", c.ReputationProvider),
		slog.Bool("reputation_cache", c.RedisURL != ""),
		slog.String("scoring_policy_path", c.ScoringPolicyPath),
	)
}

func envString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid number: %w", key, err)
	}
	return v, nil
}

func envBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be a valid boolean: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", key, err)
	}
	return v, nil
}
