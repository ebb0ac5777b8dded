// Package config loads run settings from an optional YAML file, a .env file
// and the process environment, in that order of increasing priority.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/fleximart/retail-etl/app/retry"
)

// Config is everything a run needs.
type Config struct {
	CustomersFile  string `yaml:"customers_file" validate:"required"`
	ProductsFile   string `yaml:"products_file" validate:"required"`
	SalesFile      string `yaml:"sales_file" validate:"required"`
	ReportFile     string `yaml:"report_file" validate:"required"`
	ReportJSONFile string `yaml:"report_json_file"`

	LogMode string `yaml:"log_mode" validate:"oneof=development dev production prod test"`
	// LogFile also receives every log entry when set.
	LogFile string `yaml:"log_file"`

	DB DB `yaml:"db"`

	BatchSize   int    `yaml:"batch_size" validate:"gte=1,lte=10000"`
	BufferSize  int    `yaml:"buffer_size" validate:"gte=1"`
	CountryCode string `yaml:"country_code" validate:"required"`

	// AsOf is the change date for dimension rows without an effective_date
	// column. Empty means the day the run starts.
	AsOf string `yaml:"as_of" validate:"omitempty,datetime=2006-01-02"`

	StandardTierFrom string `yaml:"standard_tier_from" validate:"required,number"`
	PremiumTierFrom  string `yaml:"premium_tier_from" validate:"required,number"`

	SourceTimeout time.Duration `yaml:"source_timeout" validate:"gt=0"`
	StoreTimeout  time.Duration `yaml:"store_timeout" validate:"gt=0"`
	Retry         Retry         `yaml:"retry"`

	HTTPAddr string `yaml:"http_addr" validate:"required"`
}

type DB struct {
	Host    string `yaml:"host" validate:"required"`
	Port    int    `yaml:"port" validate:"gte=1,lte=65535"`
	Name    string `yaml:"name" validate:"required"`
	User    string `yaml:"user" validate:"required"`
	Pass    string `yaml:"pass"`
	SSLMode string `yaml:"sslmode" validate:"oneof=disable require verify-ca verify-full prefer allow"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1,lte=10"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gt=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// Default returns the settings used when nothing overrides them.
func Default() *Config {
	p := retry.DefaultPolicy()
	return &Config{
		CustomersFile:    "customers_raw.csv",
		ProductsFile:     "products_raw.csv",
		SalesFile:        "sales_raw.csv",
		ReportFile:       "data_quality_report.txt",
		LogMode:          "development",
		DB:               DB{Host: "localhost", Port: 5432, Name: "fleximart", User: "postgres", SSLMode: "disable"},
		BatchSize:        1000,
		BufferSize:       256,
		CountryCode:      "+91-",
		StandardTierFrom: "1000",
		PremiumTierFrom:  "10000",
		SourceTimeout:    2 * time.Minute,
		StoreTimeout:     30 * time.Second,
		Retry:            Retry{MaxAttempts: p.MaxAttempts, BaseDelay: p.BaseDelay, MaxDelay: p.MaxDelay},
		HTTPAddr:         ":8080",
	}
}

// Load layers defaults, the YAML file at path (skipped when path is empty),
// a .env file in the working directory when present, and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("CUSTOMERS_FILE", &c.CustomersFile)
	envString("PRODUCTS_FILE", &c.ProductsFile)
	envString("SALES_FILE", &c.SalesFile)
	envString("REPORT_FILE", &c.ReportFile)
	envString("REPORT_JSON_FILE", &c.ReportJSONFile)
	envString("LOG_MODE", &c.LogMode)
	envString("LOG_FILE", &c.LogFile)
	envString("DB_HOST", &c.DB.Host)
	envString("DB_NAME", &c.DB.Name)
	envString("DB_USER", &c.DB.User)
	envString("DB_PASS", &c.DB.Pass)
	envString("DB_SSLMODE", &c.DB.SSLMode)
	envString("COUNTRY_CODE", &c.CountryCode)
	envString("AS_OF", &c.AsOf)
	envString("STANDARD_TIER_FROM", &c.StandardTierFrom)
	envString("PREMIUM_TIER_FROM", &c.PremiumTierFrom)
	envString("HTTP_ADDR", &c.HTTPAddr)

	for name, dst := range map[string]*int{
		"DB_PORT":            &c.DB.Port,
		"BATCH_SIZE":         &c.BatchSize,
		"BUFFER_SIZE":        &c.BufferSize,
		"RETRY_MAX_ATTEMPTS": &c.Retry.MaxAttempts,
	} {
		if err := envInt(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*time.Duration{
		"SOURCE_TIMEOUT":   &c.SourceTimeout,
		"STORE_TIMEOUT":    &c.StoreTimeout,
		"RETRY_BASE_DELAY": &c.Retry.BaseDelay,
		"RETRY_MAX_DELAY":  &c.Retry.MaxDelay,
	} {
		if err := envDuration(name, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks struct rules and the cross-field tier ordering.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	standard, premium, err := c.Tiers()
	if err != nil {
		return err
	}
	if !premium.GreaterThan(standard) {
		return fmt.Errorf("invalid config: premium_tier_from %s must exceed standard_tier_from %s", premium, standard)
	}
	return nil
}

// Tiers returns the price-tier thresholds.
func (c *Config) Tiers() (standardFrom, premiumFrom decimal.Decimal, err error) {
	standardFrom, err = decimal.NewFromString(c.StandardTierFrom)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("standard_tier_from: %w", err)
	}
	premiumFrom, err = decimal.NewFromString(c.PremiumTierFrom)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("premium_tier_from: %w", err)
	}
	return standardFrom, premiumFrom, nil
}

// AsOfDate resolves AsOf, falling back to now truncated to the UTC day.
func (c *Config) AsOfDate(now time.Time) (time.Time, error) {
	if c.AsOf == "" {
		y, m, d := now.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.DateOnly, c.AsOf)
	if err != nil {
		return time.Time{}, fmt.Errorf("as_of: %w", err)
	}
	return t, nil
}

// RetryPolicy converts the retry settings.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.MaxDelay = c.Retry.MaxDelay
	return p
}

// DSN is the lib/pq connection string. The connect timeout follows StoreTimeout.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DB.User, c.DB.Pass),
		Host:   fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:   "/" + c.DB.Name,
	}
	q := url.Values{}
	q.Set("sslmode", c.DB.SSLMode)
	q.Set("connect_timeout", strconv.Itoa(max(1, int(c.StoreTimeout.Seconds()))))
	u.RawQuery = q.Encode()
	return u.String()
}

func envString(name string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = i
	return nil
}

func envDuration(name string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
