package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mutual-aid/timebank/internal/app/claims"
	"github.com/mutual-aid/timebank/internal/app/ledger"
)

// Config is the full engine configuration, read from timebank.toml.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Claims   ClaimsConfig   `toml:"claims"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Host   string   `toml:"host"`
	Port   int      `toml:"port"`
	Admins []string `toml:"admins"` // Accounts allowed to resolve claims and adjust balances
}

// DatabaseConfig locates the SQLite data directory.
type DatabaseConfig struct {
	Dir string `toml:"dir"`
}

// LedgerConfig mirrors the balance-floor settings.
type LedgerConfig struct {
	AllowNegative bool         `toml:"allow_negative"`
	MaxNegative   HoursSetting `toml:"max_negative"` // 0 means unbounded when negatives are allowed
}

// HoursSetting holds a decimal hour amount as written in the config. TOML
// integers, floats and quoted strings are all accepted.
type HoursSetting string

// UnmarshalTOML implements toml.Unmarshaler.
func (h *HoursSetting) UnmarshalTOML(v any) error {
	switch x := v.(type) {
	case string:
		*h = HoursSetting(x)
	case int64:
		*h = HoursSetting(strconv.FormatInt(x, 10))
	case float64:
		*h = HoursSetting(decimal.NewFromFloat(x).String())
	default:
		return fmt.Errorf("hours must be a number or a string, got %T", v)
	}
	return nil
}

// ClaimsConfig mirrors the voting settings.
type ClaimsConfig struct {
	RequiredVotes int  `toml:"required_votes"`
	EnableVoting  bool `toml:"enable_voting"`
}

// LogConfig selects the log level and format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | text
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		Database: DatabaseConfig{
			Dir: defaultDataDir(),
		},
		Ledger: LedgerConfig{
			AllowNegative: false,
			MaxNegative:   "0",
		},
		Claims: ClaimsConfig{
			RequiredVotes: 3,
			EnableVoting:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".timebank"
	}
	return filepath.Join(home, ".timebank")
}

// LoadConfig builds the configuration: defaults, then the TOML file at path
// (a missing file is fine), then TIMEBANK_* environment variables. Local
// .env files are loaded into the environment first.
func LoadConfig(path string, logger *logrus.Logger) (Config, error) {
	LoadEnv(logger)

	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv loads environment variables from .env files in the working directory.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.local"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("Failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.Debugf("Loaded env files: %s", strings.Join(loaded, ", "))
	}
}

func applyEnv(cfg *Config) {
	cfg.API.Host = getEnv("TIMEBANK_HOST", cfg.API.Host)
	cfg.API.Port = getEnvInt("TIMEBANK_PORT", cfg.API.Port)
	if v := os.Getenv("TIMEBANK_ADMINS"); v != "" {
		cfg.API.Admins = splitList(v)
	}
	cfg.Database.Dir = getEnv("TIMEBANK_DATA_DIR", cfg.Database.Dir)
	cfg.Ledger.AllowNegative = getEnvBool("TIMEBANK_ALLOW_NEGATIVE", cfg.Ledger.AllowNegative)
	cfg.Ledger.MaxNegative = HoursSetting(getEnv("TIMEBANK_MAX_NEGATIVE", string(cfg.Ledger.MaxNegative)))
	cfg.Claims.RequiredVotes = getEnvInt("TIMEBANK_REQUIRED_VOTES", cfg.Claims.RequiredVotes)
	cfg.Claims.EnableVoting = getEnvBool("TIMEBANK_ENABLE_VOTING", cfg.Claims.EnableVoting)
	cfg.Log.Level = getEnv("TIMEBANK_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("TIMEBANK_LOG_FORMAT", cfg.Log.Format)
	cfg.Metrics.Enabled = getEnvBool("TIMEBANK_METRICS", cfg.Metrics.Enabled)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.Database.Dir == "" {
		return errors.New("database.dir is empty")
	}
	if c.Claims.RequiredVotes < 1 {
		return fmt.Errorf("claims.required_votes must be at least 1, got %d", c.Claims.RequiredVotes)
	}
	if _, err := c.maxNegative(); err != nil {
		return err
	}
	return nil
}

func (c Config) maxNegative() (decimal.Decimal, error) {
	if c.Ledger.MaxNegative == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(string(c.Ledger.MaxNegative))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.max_negative %q: %w", c.Ledger.MaxNegative, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("ledger.max_negative must not be negative, got %s", d)
	}
	return d, nil
}

// LedgerSettings converts the ledger section for the ledger service.
func (c Config) LedgerSettings() ledger.Config {
	maxNeg, _ := c.maxNegative()
	return ledger.Config{
		AllowNegative: c.Ledger.AllowNegative,
		MaxNegative:   maxNeg,
	}
}

// ClaimSettings converts the claims section for the claim workflow.
func (c Config) ClaimSettings() claims.Config {
	return claims.Config{
		RequiredVotes: c.Claims.RequiredVotes,
		VotingEnabled: c.Claims.EnableVoting,
	}
}

// IsAdmin reports whether account is listed in api.admins.
func (c Config) IsAdmin(account string) bool {
	for _, a := range c.API.Admins {
		if a == account {
			return true
		}
	}
	return false
}

// Addr returns the host:port the API listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
