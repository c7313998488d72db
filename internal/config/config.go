package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape (YAML). Every field has a working
// default so the server runs with no config file at all; environment variables
// override the file for deployment-specific values.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Certificate CertificateConfig `yaml:"certificate"`
	Market      MarketConfig      `yaml:"market"`
	Events      EventsConfig      `yaml:"events"`
	Auth        AuthConfig        `yaml:"auth"`
	Ledger      LedgerConfig      `yaml:"ledger"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type TelemetryConfig struct {
	// MinReadingInterval is the minimum number of seconds between accepted
	// readings for one device.
	MinReadingInterval int64 `yaml:"min_reading_interval"`
	// MaxReadingDelta is the per-submission ceiling for each counter delta,
	// in base units.
	MaxReadingDelta uint64 `yaml:"max_reading_delta"`
	// MaxProductionRatio bounds production:consumption; 10 means 10:1.
	MaxProductionRatio uint64 `yaml:"max_production_ratio"`
	// MaxClockSkew is how many seconds into the future a reading timestamp
	// may run ahead of server time.
	MaxClockSkew int64 `yaml:"max_clock_skew"`
	// FaultTolerance is f in the 3f+1 submitter quorum bound.
	FaultTolerance int `yaml:"fault_tolerance"`
}

type CertificateConfig struct {
	// MinAmount and MaxAmount bound a single certificate's claim, base units.
	MinAmount uint64 `yaml:"min_amount"`
	MaxAmount uint64 `yaml:"max_amount"`
	// ValidityPeriod is the certificate lifetime in seconds.
	ValidityPeriod int64 `yaml:"validity_period"`
}

type MarketConfig struct {
	// FeeBps is the market fee in basis points, taken from seller proceeds.
	FeeBps uint16 `yaml:"fee_bps"`
	// OrderTTL is the default order lifetime in seconds.
	OrderTTL int64 `yaml:"order_ttl"`
}

type EventsConfig struct {
	// RedisAddr enables the Redis event sink when non-empty.
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LedgerConfig struct {
	// AuthoritySeed derives the non-custodial mint authority account. Only
	// the settlement ledger holds the seed; nothing external can sign as
	// the derived account.
	AuthoritySeed string `yaml:"authority_seed"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", DSN: "voltgrid.db"},
		Telemetry: TelemetryConfig{
			MinReadingInterval: 60,
			MaxReadingDelta:    1_000_000_000_000,
			MaxProductionRatio: 10,
			MaxClockSkew:       60,
			FaultTolerance:     1,
		},
		Certificate: CertificateConfig{
			MinAmount:      1_000_000_000,         // 1 kWh
			MaxAmount:      1_000_000_000_000_000, // 1 GWh
			ValidityPeriod: 365 * 24 * 3600,
		},
		Market: MarketConfig{
			FeeBps:   25,
			OrderTTL: 24 * 3600,
		},
		Events: EventsConfig{RedisChannel: "voltgrid.events"},
		Auth:   AuthConfig{JWTSecret: "voltgrid-secret-key"},
		Ledger: LedgerConfig{AuthoritySeed: "voltgrid-mint-authority"},
	}
}

// Load reads the YAML config at path, merged over defaults and finally
// overridden from the environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnv(c)

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func applyEnv(c *Config) {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Events.RedisAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MINT_AUTHORITY_SEED"); v != "" {
		c.Ledger.AuthoritySeed = v
	}
}

func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Telemetry.MinReadingInterval <= 0 {
		return errors.New("telemetry.min_reading_interval must be positive")
	}
	if c.Telemetry.MaxProductionRatio == 0 {
		return errors.New("telemetry.max_production_ratio must be positive")
	}
	if c.Telemetry.FaultTolerance < 0 {
		return errors.New("telemetry.fault_tolerance must not be negative")
	}
	if c.Certificate.MaxAmount <= c.Certificate.MinAmount {
		return errors.New("certificate.max_amount must exceed certificate.min_amount")
	}
	if c.Certificate.ValidityPeriod <= 0 {
		return errors.New("certificate.validity_period must be positive")
	}
	if c.Market.FeeBps > 10000 {
		return errors.New("market.fee_bps must not exceed 10000")
	}
	if c.Ledger.AuthoritySeed == "" {
		return errors.New("ledger.authority_seed is required")
	}
	return nil
}

// MaxSubmitters is the 3f+1 bound on the authorized submitter set.
func (t TelemetryConfig) MaxSubmitters() int {
	return 3*t.FaultTolerance + 1
}
