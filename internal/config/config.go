// Package config loads server settings from .env, the environment and an
// optional YAML file. The environment wins over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/quizroom-backend/internal/engine"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Addr              string        `yaml:"addr"`
	PublicURL         string        `yaml:"publicUrl"`
	LogLevel          string        `yaml:"logLevel"`
	LogFormat         string        `yaml:"logFormat"`
	CatalogFile       string        `yaml:"catalogFile"`
	DatabaseDSN       string        `yaml:"databaseDsn"`
	NATSURL           string        `yaml:"natsUrl"`
	RoomTTL           time.Duration `yaml:"roomTtl"`
	SweepInterval     time.Duration `yaml:"sweepInterval"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	AllowedOrigins    []string      `yaml:"allowedOrigins"`
	Room              RoomDefaults  `yaml:"room"`
}

// RoomDefaults apply to rooms whose creator does not override them.
type RoomDefaults struct {
	Mode             string        `yaml:"mode"`
	CountdownSec     int           `yaml:"countdownSec"`
	AutoPlay         bool          `yaml:"autoPlay"`
	ResultDwell      time.Duration `yaml:"resultDwell"`
	LeaderboardDwell time.Duration `yaml:"leaderboardDwell"`
	BotAccuracy      float64       `yaml:"botAccuracy"`
}

func (r RoomDefaults) Settings() engine.Settings {
	return engine.Settings{Mode: engine.Mode(r.Mode), CountdownSec: r.CountdownSec, AutoPlay: r.AutoPlay}
}

func Default() Config {
	return Config{
		Addr:              ":8080",
		PublicURL:         "http://localhost:8080",
		LogLevel:          "info",
		LogFormat:         "json",
		RoomTTL:           2 * time.Hour,
		SweepInterval:     time.Minute,
		HeartbeatInterval: 15 * time.Second,
		Room: RoomDefaults{
			Mode:             string(engine.ModeClassic),
			CountdownSec:     20,
			ResultDwell:      5 * time.Second,
			LeaderboardDwell: 5 * time.Second,
			BotAccuracy:      0.6,
		},
	}
}

// Load reads .env (if present), then QUIZ_CONFIG (if set), then QUIZ_* variables.
func Load() (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("QUIZ_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var errs error
	cfg.Addr = getEnv("QUIZ_ADDR", cfg.Addr)
	cfg.PublicURL = getEnv("QUIZ_PUBLIC_URL", cfg.PublicURL)
	cfg.LogLevel = getEnv("QUIZ_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("QUIZ_LOG_FORMAT", cfg.LogFormat)
	cfg.CatalogFile = getEnv("QUIZ_CATALOG_FILE", cfg.CatalogFile)
	cfg.DatabaseDSN = getEnv("QUIZ_DATABASE_DSN", cfg.DatabaseDSN)
	cfg.NATSURL = getEnv("QUIZ_NATS_URL", cfg.NATSURL)
	if v := getEnv("QUIZ_ALLOWED_ORIGINS", ""); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}

	var err error
	cfg.RoomTTL, err = getEnvDuration("QUIZ_ROOM_TTL", cfg.RoomTTL)
	errs = multierr.Append(errs, err)
	cfg.SweepInterval, err = getEnvDuration("QUIZ_SWEEP_INTERVAL", cfg.SweepInterval)
	errs = multierr.Append(errs, err)
	cfg.HeartbeatInterval, err = getEnvDuration("QUIZ_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	errs = multierr.Append(errs, err)

	cfg.Room.Mode = getEnv("QUIZ_DEFAULT_MODE", cfg.Room.Mode)
	cfg.Room.CountdownSec, err = getEnvAsInt("QUIZ_DEFAULT_COUNTDOWN", cfg.Room.CountdownSec)
	errs = multierr.Append(errs, err)
	cfg.Room.AutoPlay, err = getEnvAsBool("QUIZ_DEFAULT_AUTOPLAY", cfg.Room.AutoPlay)
	errs = multierr.Append(errs, err)
	cfg.Room.ResultDwell, err = getEnvDuration("QUIZ_RESULT_DWELL", cfg.Room.ResultDwell)
	errs = multierr.Append(errs, err)
	cfg.Room.LeaderboardDwell, err = getEnvDuration("QUIZ_LEADERBOARD_DWELL", cfg.Room.LeaderboardDwell)
	errs = multierr.Append(errs, err)
	cfg.Room.BotAccuracy, err = getEnvAsFloat("QUIZ_BOT_ACCURACY", cfg.Room.BotAccuracy)
	errs = multierr.Append(errs, err)
	return errs
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs error
	if c.Addr == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: addr is empty", ErrInvalid))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat))
	}
	if c.RoomTTL < 0 || c.SweepInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: negative room ttl or sweep interval", ErrInvalid))
	}
	if c.HeartbeatInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: heartbeat interval must be positive", ErrInvalid))
	}
	if err := c.Room.Settings().Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%w: room defaults: %v", ErrInvalid, err))
	}
	if c.Room.BotAccuracy < 0 || c.Room.BotAccuracy > 1 {
		errs = multierr.Append(errs, fmt.Errorf("%w: bot accuracy %v outside [0, 1]", ErrInvalid, c.Room.BotAccuracy))
	}
	if c.Room.ResultDwell <= 0 || c.Room.LeaderboardDwell <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("%w: dwell times must be positive", ErrInvalid))
	}
	return errs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, value)
	}
	return n, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, key, value)
	}
	return b, nil
}

func getEnvAsFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %s=%q is not a number", ErrInvalid, key, value)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%w: %s=%q is not a duration", ErrInvalid, key, value)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
