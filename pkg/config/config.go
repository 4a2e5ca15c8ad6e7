// Package config loads channel credentials, message templates and engine tuning for the followup binaries.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukex/followup/pkg/models"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. FOLLOWUP_EMAIL_HOST.
const EnvPrefix = "FOLLOWUP"

// MessageTemplate is a named subject/body pair referenced by send actions through templateRef.
type MessageTemplate struct {
	Subject string `mapstructure:"subject"`
	Body    string `mapstructure:"body"`
	Title   string `mapstructure:"title"`
}

type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// Enabled reports whether an SMTP relay is configured.
func (e EmailConfig) Enabled() bool {
	return e.Host != ""
}

type ChatConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	PhoneNumberID string        `mapstructure:"phone_number_id"`
	AccessToken   string        `mapstructure:"access_token"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the chat provider is configured.
func (c ChatConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

type RetryConfig struct {
	MaxRetries        int    `mapstructure:"max_retries"`
	RetryDelayMinutes int    `mapstructure:"retry_delay_minutes"`
	Strategy          string `mapstructure:"strategy"`
	MaxDelayMinutes   int    `mapstructure:"max_delay_minutes"`
}

// Policy converts the defaults into a workflow retry policy.
func (r RetryConfig) Policy() models.RetryPolicy {
	return models.RetryPolicy{
		MaxRetries:        r.MaxRetries,
		RetryDelayMinutes: r.RetryDelayMinutes,
		Strategy:          models.BackoffStrategy(r.Strategy),
		MaxDelayMinutes:   r.MaxDelayMinutes,
	}
}

type EngineConfig struct {
	ProgramCacheSize int           `mapstructure:"program_cache_size"`
	ActionTimeout    time.Duration `mapstructure:"action_timeout"`
	WebhookTimeout   time.Duration `mapstructure:"webhook_timeout"`
}

// Config holds everything the binaries read from the optional config file and FOLLOWUP_* variables.
type Config struct {
	Email     EmailConfig                `mapstructure:"email"`
	Chat      ChatConfig                 `mapstructure:"chat"`
	Retry     RetryConfig                `mapstructure:"retry"`
	Engine    EngineConfig               `mapstructure:"engine"`
	Templates map[string]MessageTemplate `mapstructure:"templates"`

	// File is the config file that was read, empty when only defaults and env were used.
	File string `mapstructure:"-"`
}

// Load reads cfgFile (yaml, json or toml) when given, then applies FOLLOWUP_* overrides.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)

		err := v.ReadInConfig()
		if err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			cfg.File = v.ConfigFileUsed()
		}
	}

	err := v.Unmarshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if cfg.Templates == nil {
		cfg.Templates = map[string]MessageTemplate{}
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "no-reply@example.com")
	v.SetDefault("email.from_name", "Follow-up")

	v.SetDefault("chat.base_url", "https://graph.facebook.com/v19.0")
	v.SetDefault("chat.phone_number_id", "")
	v.SetDefault("chat.access_token", "")
	v.SetDefault("chat.rate_per_second", 20.0)
	v.SetDefault("chat.burst", 5)
	v.SetDefault("chat.timeout", 15*time.Second)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.retry_delay_minutes", 5)
	v.SetDefault("retry.strategy", string(models.BackoffExponential))
	v.SetDefault("retry.max_delay_minutes", 240)

	v.SetDefault("engine.program_cache_size", 256)
	v.SetDefault("engine.action_timeout", 30*time.Second)
	v.SetDefault("engine.webhook_timeout", 30*time.Second)
}
