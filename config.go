package pointxgo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Server struct {
		Addr         string        `yaml:"addr"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Database struct {
		Driver           string `yaml:"driver"`
		ConnectionString string `yaml:"conn_str"`
		Path             string `yaml:"path"`
	} `yaml:"database"`
	Memory struct {
		MinLatency time.Duration `yaml:"min_latency"`
		MaxLatency time.Duration `yaml:"max_latency"`
	} `yaml:"memory"`
	Limits  LimitsConfig  `yaml:"limits"`
	Breaker BreakerConfig `yaml:"breaker"`
	// Seed maps user IDs to opening balances, applied by the seeder.
	Seed map[int64]int64 `yaml:"seed"`
}

type LimitsConfig struct {
	Charge         int64         `yaml:"charge"`
	Debit          int64         `yaml:"debit"`
	Balance        int64         `yaml:"balance"`
	History        int64         `yaml:"history"`
	Statement      int64         `yaml:"statement"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

type BreakerConfig struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":3000"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Log.Level = "info"
	cfg.Database.Driver = DriverMemory
	cfg.Database.Path = "pointxgo.db"
	cfg.Limits = LimitsConfig{
		Charge:         256,
		Debit:          256,
		Balance:        512,
		History:        128,
		Statement:      16,
		AcquireTimeout: 2 * time.Second,
	}
	cfg.Breaker = BreakerConfig{
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
	return cfg
}

// LoadConfig decodes the YAML file at path over DefaultConfig, then applies
// POINTXGO_* environment overrides. envFiles are loaded into the environment
// first; a missing env file is not an error. An empty path skips the YAML file.
func LoadConfig(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if err = yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env: %w", err)
	}
	cfg.Server.Addr = getEnv("POINTXGO_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getEnv("POINTXGO_LOG_LEVEL", cfg.Log.Level)
	cfg.Database.Driver = getEnv("POINTXGO_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.ConnectionString = getEnv("POINTXGO_DB_CONN_STR", cfg.Database.ConnectionString)
	cfg.Database.Path = getEnv("POINTXGO_DB_PATH", cfg.Database.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	fields := map[string]string{}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.ConnectionString == "" {
			fields["database.conn_str"] = "required for postgres"
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			fields["database.path"] = "required for sqlite"
		}
	default:
		fields["database.driver"] = "one of memory, postgres, sqlite"
	}
	if c.Memory.MaxLatency < c.Memory.MinLatency {
		fields["memory.max_latency"] = "must not be less than min_latency"
	}
	lims := map[string]int64{
		"charge":    c.Limits.Charge,
		"debit":     c.Limits.Debit,
		"balance":   c.Limits.Balance,
		"history":   c.Limits.History,
		"statement": c.Limits.Statement,
	}
	for k, v := range lims {
		if v < 1 {
			fields["limits."+k] = "must be positive"
		}
	}
	if c.Limits.AcquireTimeout <= 0 {
		fields["limits.acquire_timeout"] = "must be positive"
	}
	if c.Breaker.ConsecutiveFailures < 1 {
		fields["breaker.consecutive_failures"] = "must be positive"
	}
	for id, bal := range c.Seed {
		if bal < 0 || bal > MaxBalance {
			fields[fmt.Sprintf("seed.%d", id)] = fmt.Sprintf("must be within [0, %d]", MaxBalance)
		}
	}
	if len(fields) > 0 {
		return fmt.Errorf("invalid config: %v", fields)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
