// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

var ErrInvalid = errors.New("invalid configuration")

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

type Config struct {
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true" validate:"required"`
	DatabasePath  string `envconfig:"DATABASE_PATH" default:"data.sqlite" validate:"required"`

	// No default for the pairing day.
	PairingWeekday     string `envconfig:"PAIRING_WEEKDAY" required:"true" validate:"required,weekday"`
	PairingTime        string `envconfig:"PAIRING_TIME" default:"19:00" validate:"required,datetime=15:04"`
	PairingTimezone    string `envconfig:"PAIRING_TIMEZONE" default:"Africa/Addis_Ababa" validate:"required,timezone"`
	PairingMaxShuffles int    `envconfig:"PAIRING_MAX_SHUFFLES" default:"50" validate:"gte=1,lte=10000"`
	PairingParallelism int    `envconfig:"PAIRING_PARALLELISM" default:"4" validate:"gte=1,lte=64"`

	RedisURL string        `envconfig:"REDIS_URL" validate:"omitempty,url"`
	LockTTL  time.Duration `envconfig:"LOCK_TTL" default:"30s" validate:"gt=0"`

	AdminAddr string  `envconfig:"ADMIN_ADDR" default:"127.0.0.1:9090"`
	SendRate  float64 `envconfig:"SEND_RATE" default:"20" validate:"gt=0"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"warn" validate:"oneof=trace debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" validate:"oneof=json console"`
}

// Load reads .env files (if present) into the environment, then decodes and
// validates the configuration.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil {
		log.Warn().Err(err).Msg("config: Failed to load .env file")
	} else {
		log.Debug().Msg("config: Environment variables loaded from .env file")
	}

	return FromEnv()
}

// FromEnv decodes and validates the configuration from the environment only
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.PairingWeekday = strings.ToLower(strings.TrimSpace(cfg.PairingWeekday))
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)

	if err := newValidator().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return &cfg, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := ParseWeekday(fl.Field().String())
		return err == nil
	})
	return v
}

// ParseWeekday accepts English day names, case-insensitive
func ParseWeekday(s string) (time.Weekday, error) {
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return day, nil
}

// Weekday is the day of the weekly pairing
func (c *Config) Weekday() time.Weekday {
	day, _ := ParseWeekday(c.PairingWeekday)
	return day
}

// Clock returns the hour and minute of the weekly pairing
func (c *Config) Clock() (hour, minute int) {
	t, err := time.Parse("15:04", c.PairingTime)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}

// Location is the time zone of the weekly pairing
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.PairingTimezone)
}
