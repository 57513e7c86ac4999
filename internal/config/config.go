package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// LogConfig selects the logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// TicTacToeConfig holds the default chess-clock settings for tictactoe
// matches. A session may override them with its own options.
type TicTacToeConfig struct {
	InitialTime      time.Duration `yaml:"initial_time"`
	Increment        time.Duration `yaml:"increment"`
	MaximumTime      time.Duration `yaml:"maximum_time"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ForfeitOnTimeout bool          `yaml:"forfeit_on_timeout"`
}

// Config is the server configuration.
type Config struct {
	Addr   string    `yaml:"addr"`
	DBPath string    `yaml:"db_path"`
	WebDir string    `yaml:"web_dir"` // empty serves the embedded pages
	Log    LogConfig `yaml:"log"`

	// TickInterval is how often each session advances its match clock.
	TickInterval    time.Duration `yaml:"tick_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	SessionMaxAge   time.Duration `yaml:"session_max_age"`

	TicTacToe TicTacToeConfig `yaml:"tictactoe"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:            ":8080",
		DBPath:          "games.db",
		Log:             LogConfig{Level: "info"},
		TickInterval:    100 * time.Millisecond,
		CleanupInterval: time.Minute,
		SessionMaxAge:   time.Hour,
		TicTacToe: TicTacToeConfig{
			InitialTime:      time.Minute,
			Increment:        5 * time.Second,
			MaximumTime:      90 * time.Second,
			TickInterval:     time.Second,
			ForfeitOnTimeout: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if p := getenv("PORT"); p != "" {
		c.Addr = ":" + p
	}
	if p := getenv("DB_PATH"); p != "" {
		c.DBPath = p
	}
	if l := getenv("LOG_LEVEL"); l != "" {
		c.Log.Level = l
	}
	if d := getenv("WEB_DIR"); d != "" {
		c.WebDir = d
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("tick_interval must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup_interval must be positive"))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("session_max_age must be positive"))
	}
	t := c.TicTacToe
	if t.InitialTime <= 0 {
		errs = append(errs, errors.New("tictactoe.initial_time must be positive"))
	}
	if t.Increment < 0 {
		errs = append(errs, errors.New("tictactoe.increment must not be negative"))
	}
	if t.MaximumTime < t.InitialTime {
		errs = append(errs, errors.New("tictactoe.maximum_time must be at least initial_time"))
	}
	if t.TickInterval <= 0 {
		errs = append(errs, errors.New("tictactoe.tick_interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
