// CLAUDE:SUMMARY Typed wirediff configuration: YAML file, optional .env, WIREDIFF_* overrides, documented defaults and validation.
// Package config loads the wirediff configuration.
//
// Precedence, lowest first: documented defaults, the YAML file, variables
// from a .env file in the working directory, then WIREDIFF_* environment
// variables already set in the process.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/wirediff/compare"
)

// StoreDisabled as store.path turns run history off.
const StoreDisabled = "-"

// Config is the top-level configuration.
type Config struct {
	OutputDir          string  `yaml:"output_dir"`
	RequestTimeoutMS   int     `yaml:"request_timeout_ms"`
	SettleDelayMS      int     `yaml:"settle_delay_ms"`
	PixelTolerance     float64 `yaml:"pixel_tolerance"`
	BatchPacingMS      int     `yaml:"batch_pacing_ms"`
	IncludeAntiAliased bool    `yaml:"include_anti_aliased"`

	Browser BrowserConfig `yaml:"browser"`
	Raster  RasterConfig  `yaml:"raster"`
	Scoring ScoringConfig `yaml:"scoring"`
	Store   StoreConfig   `yaml:"store"`
	HTTP    HTTPConfig    `yaml:"http"`

	Comparisons []compare.Request `yaml:"comparisons"`
}

// BrowserConfig controls the shared Chrome instance.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	Bin             string        `yaml:"bin"`
	Stealth         bool          `yaml:"stealth"`
	NoSandbox       bool          `yaml:"no_sandbox"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
}

// RasterConfig controls the PDF rasterizer.
type RasterConfig struct {
	Binary    string `yaml:"binary"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// ScoringConfig points at the optional similarity service.
type ScoringConfig struct {
	URL       string `yaml:"url"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// StoreConfig locates the run-history database.
type StoreConfig struct {
	// Path defaults to <output_dir>/wirediff.db; "-" disables the store.
	Path string `yaml:"path"`
}

// HTTPConfig configures serve mode.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// DocumentRoot confines the pdf_path of served requests.
	DocumentRoot string `yaml:"document_root"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		OutputDir:        "./comparison-results",
		RequestTimeoutMS: 60_000,
		SettleDelayMS:    3_000,
		PixelTolerance:   0.1,
		BatchPacingMS:    1_000,
		Browser:          BrowserConfig{NoSandbox: true},
		Raster:           RasterConfig{Binary: "pdftoppm", TimeoutMS: 60_000},
		Scoring:          ScoringConfig{TimeoutMS: 300_000},
		HTTP:             HTTPConfig{Addr: "127.0.0.1:8087", DocumentRoot: "."},
	}
}

// Load reads path (may be empty for env-only configuration), applies .env
// and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// godotenv never overrides variables already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.OutputDir, "wirediff.db")
	}
	for i := range c.Comparisons {
		c.Comparisons[i] = c.Comparisons[i].Normalize()
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("WIREDIFF_OUTPUT_DIR", &c.OutputDir)
	num("WIREDIFF_REQUEST_TIMEOUT_MS", &c.RequestTimeoutMS)
	num("WIREDIFF_SETTLE_DELAY_MS", &c.SettleDelayMS)
	num("WIREDIFF_BATCH_PACING_MS", &c.BatchPacingMS)
	if v, ok := lookup("WIREDIFF_PIXEL_TOLERANCE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("WIREDIFF_PIXEL_TOLERANCE: %w", err))
		} else {
			c.PixelTolerance = f
		}
	}
	flag("WIREDIFF_INCLUDE_ANTI_ALIASED", &c.IncludeAntiAliased)
	str("WIREDIFF_BROWSER_REMOTE", &c.Browser.Remote)
	str("WIREDIFF_BROWSER_BIN", &c.Browser.Bin)
	flag("WIREDIFF_BROWSER_STEALTH", &c.Browser.Stealth)
	flag("WIREDIFF_BROWSER_NO_SANDBOX", &c.Browser.NoSandbox)
	str("WIREDIFF_RASTER_BINARY", &c.Raster.Binary)
	str("WIREDIFF_SCORING_URL", &c.Scoring.URL)
	str("WIREDIFF_STORE_PATH", &c.Store.Path)
	str("WIREDIFF_HTTP_ADDR", &c.HTTP.Addr)
	str("WIREDIFF_HTTP_DOCUMENT_ROOT", &c.HTTP.DocumentRoot)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}

// Validate checks the global settings. Comparisons are not checked here: a
// malformed one becomes a failed result when the batch runs it, see
// InvalidComparisons.
func (c *Config) Validate() error {
	var errs []error
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.RequestTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("request_timeout_ms must be positive, got %d", c.RequestTimeoutMS))
	}
	if c.SettleDelayMS < 0 {
		errs = append(errs, fmt.Errorf("settle_delay_ms must not be negative, got %d", c.SettleDelayMS))
	}
	if c.PixelTolerance < 0 || c.PixelTolerance > 1 {
		errs = append(errs, fmt.Errorf("pixel_tolerance must be in [0,1], got %g", c.PixelTolerance))
	}
	if c.BatchPacingMS < 0 {
		errs = append(errs, fmt.Errorf("batch_pacing_ms must not be negative, got %d", c.BatchPacingMS))
	}
	if c.Raster.Binary == "" {
		errs = append(errs, errors.New("raster.binary is required"))
	}
	if c.Raster.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("raster.timeout_ms must be positive, got %d", c.Raster.TimeoutMS))
	}
	if c.Scoring.TimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("scoring.timeout_ms must be positive, got %d", c.Scoring.TimeoutMS))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// InvalidComparisons returns one error per malformed comparison, for
// reporting before a batch starts.
func (c *Config) InvalidComparisons() []error {
	var errs []error
	for i, r := range c.Comparisons {
		if err := r.Normalize().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("comparisons[%d] (%s): %w", i, r.ScreenName, err))
		}
	}
	return errs
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) RequestTimeout() time.Duration { return ms(c.RequestTimeoutMS) }
func (c *Config) SettleDelay() time.Duration    { return ms(c.SettleDelayMS) }
func (c *Config) BatchPacing() time.Duration    { return ms(c.BatchPacingMS) }
func (c *Config) RasterTimeout() time.Duration  { return ms(c.Raster.TimeoutMS) }
func (c *Config) ScoringTimeout() time.Duration { return ms(c.Scoring.TimeoutMS) }

// StoreEnabled reports whether run history is kept.
func (c *Config) StoreEnabled() bool { return c.Store.Path != StoreDisabled }
