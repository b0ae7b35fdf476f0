package config

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jiaming2012/broker-bridge/src/broker"
	"github.com/jiaming2012/broker-bridge/src/simulator"
)

type Config struct {
	Logging         Logging            `yaml:"logging"`
	Credentials     broker.Credentials `yaml:"credentials"`
	ReconnectWindow time.Duration      `yaml:"reconnect_window"`
	Database        Database           `yaml:"database"`
	Simulator       Simulator          `yaml:"simulator"`
	Push            Push               `yaml:"push"`
	Poll            Poll               `yaml:"poll"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// Database is only used by the simulator. An empty DSN keeps everything in memory.
type Database struct {
	DSN string `yaml:"dsn"`
}

type Commission struct {
	Type string  `yaml:"type"`
	Rate float64 `yaml:"rate"`
}

type Simulator struct {
	BrokerName   string                          `yaml:"broker_name"`
	Policy       string                          `yaml:"policy"`
	Balance      float64                         `yaml:"balance"`
	Currency     string                          `yaml:"currency"`
	MarkInterval time.Duration                   `yaml:"mark_interval"`
	Commission   Commission                      `yaml:"commission"`
	Instruments  map[string]simulator.Instrument `yaml:"instruments"`
}

type Push struct {
	URL                 string        `yaml:"url"`
	Instruments         []string      `yaml:"instruments"`
	AccountPollInterval time.Duration `yaml:"account_poll_interval"`
	ReloginBackoff      time.Duration `yaml:"relogin_backoff"`
}

type Poll struct {
	BaseURL          string        `yaml:"base_url"`
	Tick             time.Duration `yaml:"tick"`
	OrdersInterval   time.Duration `yaml:"orders_interval"`
	PositionInterval time.Duration `yaml:"position_interval"`
	AccountInterval  time.Duration `yaml:"account_interval"`
}

// Default returns a paper trading setup with no venues configured.
func Default() *Config {
	return &Config{
		Logging:         Logging{Level: "info"},
		Credentials:     broker.Credentials{UserID: "paper", AccountID: "paper"},
		ReconnectWindow: broker.DefaultReconnectWindow,
		Simulator: Simulator{
			BrokerName:   "simulator",
			Policy:       "margin",
			Balance:      10000,
			Currency:     "USD",
			MarkInterval: simulator.DefaultMarkInterval,
			Commission:   Commission{Type: "none"},
		},
	}
}

// Load reads the YAML file at path over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: failed to read %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: failed to parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("BROKER_USER_ID"); v != "" {
		cfg.Credentials.UserID = v
	}

	if v := os.Getenv("BROKER_ACCOUNT_ID"); v != "" {
		cfg.Credentials.AccountID = v
	}

	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		cfg.Credentials.APIKey = v
	}

	if v := os.Getenv("BROKER_API_SECRET"); v != "" {
		cfg.Credentials.APISecret = v
	}

	if v := os.Getenv("BROKER_TOKEN"); v != "" {
		cfg.Credentials.Token = v
	}

	if v := os.Getenv("SIMULATOR_POLICY"); v != "" {
		cfg.Simulator.Policy = v
	}

	if v := os.Getenv("PUSH_VENUE_URL"); v != "" {
		cfg.Push.URL = v
	}

	if v := os.Getenv("POLL_VENUE_URL"); v != "" {
		cfg.Poll.BaseURL = v
	}
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}

	if _, err := simulator.NewPolicy(c.Simulator.Policy); err != nil {
		return err
	}

	if _, err := simulator.NewCommissionCalculator(c.Simulator.Commission.Type, c.Simulator.Commission.Rate); err != nil {
		return err
	}

	if c.Simulator.Balance < 0 {
		return fmt.Errorf("simulator balance must not be negative: %v", c.Simulator.Balance)
	}

	if c.ReconnectWindow < 0 {
		return fmt.Errorf("reconnect window must not be negative: %s", c.ReconnectWindow)
	}

	return nil
}

// ApplyLogging sets the logrus level. Load has already validated it.
func (c *Config) ApplyLogging() {
	level, err := log.ParseLevel(c.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}

	log.SetLevel(level)
}
