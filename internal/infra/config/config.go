package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/atlas-fin/securecore/internal/domain"
	"github.com/atlas-fin/securecore/internal/ratelimit"
)

// Config holds the security-core configuration.
type Config struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Pinning   PinningConfig   `mapstructure:"pinning"`
}

// RateLimitConfig holds the limiter knobs.
type RateLimitConfig struct {
	MaxAttemptsPerMinute    int      `mapstructure:"max_attempts_per_minute" validate:"gt=0"`
	BucketCapacity          int      `mapstructure:"bucket_capacity" validate:"gt=0"`
	BucketRefill            int      `mapstructure:"bucket_refill" validate:"gt=0"`
	AccountLockoutThreshold int      `mapstructure:"account_lockout_threshold" validate:"gt=0"`
	SourceLockoutThreshold  int      `mapstructure:"source_lockout_threshold" validate:"gt=0"`
	WhitelistedSources      []string `mapstructure:"whitelisted_sources"`
	AdminUnlockEnabled      bool     `mapstructure:"admin_unlock_enabled"`
}

// LimiterConfig converts the loaded knobs into a ratelimit.Config.
func (c RateLimitConfig) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		MaxAttemptsPerMinute:    c.MaxAttemptsPerMinute,
		BucketCapacity:          c.BucketCapacity,
		BucketRefill:            c.BucketRefill,
		BucketRefillPeriod:      time.Minute,
		AccountLockoutThreshold: c.AccountLockoutThreshold,
		SourceLockoutThreshold:  c.SourceLockoutThreshold,
		WhitelistedSources:      c.WhitelistedSources,
		AdminUnlockEnabled:      c.AdminUnlockEnabled,
	}
}

// VaultConfig holds the vault knobs.
type VaultConfig struct {
	// Service is the OS keychain service name.
	Service          string `mapstructure:"service" validate:"required"`
	Iterations       int    `mapstructure:"iterations" validate:"gte=100000"`
	GraceWindowHours int    `mapstructure:"grace_window_hours" validate:"gt=0"`
}

// GraceWindow returns the superseded-key retention window.
func (c VaultConfig) GraceWindow() time.Duration {
	return time.Duration(c.GraceWindowHours) * time.Hour
}

// PinEntry is one domain's pin set in the trusted startup bundle.
type PinEntry struct {
	Domain     string    `mapstructure:"domain" validate:"required"`
	SHA256Pins []string  `mapstructure:"sha256_pins" validate:"min=1,dive,cert_pin"`
	BackupPins []string  `mapstructure:"backup_pins" validate:"dive,cert_pin"`
	IssuedAt   time.Time `mapstructure:"issued_at"`
	ExpiresAt  time.Time `mapstructure:"expires_at"`
}

// PinningConfig holds the pinned-client knobs and the trusted pin bundle.
type PinningConfig struct {
	TimeoutSeconds int        `mapstructure:"timeout_seconds" validate:"gt=0"`
	Pins           []PinEntry `mapstructure:"pins" validate:"dive"`
}

// Timeout returns the outbound request timeout.
func (c PinningConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Bundle converts the configured entries into certificate pins.
func (c PinningConfig) Bundle() []domain.CertificatePin {
	pins := make([]domain.CertificatePin, 0, len(c.Pins))
	for _, e := range c.Pins {
		pins = append(pins, domain.CertificatePin{
			Domain:     e.Domain,
			SHA256Pins: e.SHA256Pins,
			BackupPins: e.BackupPins,
			IssuedAt:   e.IssuedAt,
			ExpiresAt:  e.ExpiresAt,
		})
	}
	return pins
}

// Load reads configuration from the given file (or the default search
// paths when empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	vip := viper.New()
	if path != "" {
		vip.SetConfigFile(path)
	} else {
		vip.SetConfigName("securecore")
		vip.AddConfigPath("./configs")
		vip.AddConfigPath(".")
	}

	vip.SetConfigType("yaml")
	vip.SetEnvPrefix("SECURECORE")
	vip.AutomaticEnv()
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(vip)

	if err := vip.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("rate_limit.max_attempts_per_minute", 5)
	vip.SetDefault("rate_limit.bucket_capacity", 5)
	vip.SetDefault("rate_limit.bucket_refill", 5)
	vip.SetDefault("rate_limit.account_lockout_threshold", 3)
	vip.SetDefault("rate_limit.source_lockout_threshold", 10)
	vip.SetDefault("rate_limit.whitelisted_sources", []string{"127.0.0.1", "::1"})
	vip.SetDefault("rate_limit.admin_unlock_enabled", true)

	vip.SetDefault("vault.service", "atlas-desktop")
	vip.SetDefault("vault.iterations", domain.MinPBKDF2Iterations)
	vip.SetDefault("vault.grace_window_hours", 48)

	vip.SetDefault("pinning.timeout_seconds", 30)
}
