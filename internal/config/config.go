package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"backtester/internal/bars"
)

// DefaultPath is the config file used when BACKTESTER_CONFIG is unset.
const DefaultPath = "config/backtester.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtester.
type Config struct {
	Storage    Storage                       `yaml:"storage"`
	Server     Server                        `yaml:"server"`
	Alpaca     Alpaca                        `yaml:"alpaca"`
	Logging    Logging                       `yaml:"logging"`
	Engine     Engine                        `yaml:"engine"`
	Import     Import                        `yaml:"import"`
	Strategies map[string]map[string]float64 `yaml:"strategies"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	HTTPPort    int    `yaml:"http_port"` // /metrics and /api; 0 disables
}

// GRPCAddr returns host:grpc_port.
func (s Server) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort)
}

// HTTPAddr returns host:http_port, or "" when the HTTP listener is disabled.
func (s Server) HTTPAddr() string {
	if s.HTTPPort == 0 {
		return ""
	}
	return fmt.Sprintf("%s:%d", s.Host, s.HTTPPort)
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Engine holds the defaults applied to every backtest run.
type Engine struct {
	PointValue   float64 `yaml:"point_value"`
	PriceDivisor float64 `yaml:"price_divisor"`
	FillPolicy   string  `yaml:"fill_policy"`
	Prefetch     int     `yaml:"prefetch"` // negative disables read-ahead
	BatchSize    int     `yaml:"batch_size"`
	Commission   float64 `yaml:"commission"`
	Timeframe    string  `yaml:"timeframe"`
}

// Import controls the historical tick importer.
type Import struct {
	Instrument      string `yaml:"instrument"`
	MaxRetries      int    `yaml:"max_retries"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/backtester.db",
		},
		Server: Server{
			Host:     "127.0.0.1",
			GRPCPort: 50061,
		},
		Alpaca: Alpaca{
			Feed: "iex",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Engine: Engine{
			PointValue:   50,
			PriceDivisor: 100,
			FillPolicy:   "sparse",
			Prefetch:     2,
			BatchSize:    100_000,
			Timeframe:    "1m",
		},
		Import: Import{
			MaxRetries:      3,
			RateLimitPerMin: 200,
		},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns the config file to load: $BACKTESTER_CONFIG if set,
// DefaultPath if it exists, otherwise "".
func Path() string {
	if p := os.Getenv("BACKTESTER_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// Load starts from Default, overlays the YAML file at path (skipped when path
// is empty), loads a .env file from the working directory if present, and
// then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("BACKTEST_PREFETCH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BACKTEST_PREFETCH: %w", err)
		}
		cfg.Engine.Prefetch = n
	}
	if v := os.Getenv("BACKTEST_COMMISSION"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid BACKTEST_COMMISSION: %w", err)
		}
		cfg.Engine.Commission = c
	}

	// Standard Alpaca env vars (highest priority; canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	e := c.Engine
	check(e.PointValue > 0, "engine.point_value must be > 0, got %v", e.PointValue)
	check(e.PriceDivisor > 0, "engine.price_divisor must be > 0, got %v", e.PriceDivisor)
	check(e.BatchSize > 0, "engine.batch_size must be > 0, got %d", e.BatchSize)
	check(e.Commission >= 0, "engine.commission must be >= 0, got %v", e.Commission)
	check(e.FillPolicy == bars.ParseFillPolicy(e.FillPolicy).String(),
		"engine.fill_policy %q is not sparse or dense", e.FillPolicy)
	if _, err := bars.ParseTimeframe(e.Timeframe); err != nil {
		errs = append(errs, fmt.Errorf("engine.timeframe: %w", err))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or text", c.Logging.Format))
	}

	check(c.Server.GRPCPort > 0 && c.Server.GRPCPort < 65536, "server.grpc_port %d out of range", c.Server.GRPCPort)
	check(c.Server.HTTPPort >= 0 && c.Server.HTTPPort < 65536, "server.http_port %d out of range", c.Server.HTTPPort)
	check(c.Import.MaxRetries >= 0, "import.max_retries must be >= 0, got %d", c.Import.MaxRetries)
	check(c.Import.RateLimitPerMin > 0, "import.rate_limit_per_min must be > 0, got %d", c.Import.RateLimitPerMin)

	return errors.Join(errs...)
}
