package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scraping strategies. The http strategy talks to Google directly, browser
// drives headless Chrome, proxyapi goes through a scraping proxy service.
const (
	StrategyHTTP     = "http"
	StrategyBrowser  = "browser"
	StrategyProxyAPI = "proxyapi"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Environment variables that override file-configured secrets.
const (
	EnvProxyAPIKey  = "SERPTRACKER_SCRAPER_API_KEY"
	EnvSMTPPassword = "SERPTRACKER_SMTP_PASSWORD"
)

// MaxScanDepth is the most results a single query page can carry.
const MaxScanDepth = 100

// MaxConcurrency caps the proxyapi worker pool.
const MaxConcurrency = 4

// Client is one tracked website with its keyword set.
type Client struct {
	Name     string   `yaml:"name"`
	Domain   string   `yaml:"domain"`
	Keywords []string `yaml:"keywords"`
}

// Scraping controls how result pages are fetched.
type Scraping struct {
	Strategy        string `yaml:"strategy"`
	ScanDepth       int    `yaml:"scan_depth"`
	MinDelaySeconds int    `yaml:"min_delay_seconds"`
	MaxDelaySeconds int    `yaml:"max_delay_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	TLSProfile      string `yaml:"tls_profile"`
	Concurrency     int    `yaml:"concurrency"`
	ProxyFile       string `yaml:"proxy_file"`
	ProxyAPIKey     string `yaml:"proxy_api_key"`
	ProxyAPIURL     string `yaml:"proxy_api_url"`
	CountryCode     string `yaml:"country_code"`
}

// MinDelay returns the lower randomized-delay bound.
func (s Scraping) MinDelay() time.Duration { return time.Duration(s.MinDelaySeconds) * time.Second }

// MaxDelay returns the upper randomized-delay bound.
func (s Scraping) MaxDelay() time.Duration { return time.Duration(s.MaxDelaySeconds) * time.Second }

// Timeout returns the per-fetch timeout.
func (s Scraping) Timeout() time.Duration { return time.Duration(s.TimeoutSeconds) * time.Second }

// Alerts tunes change detection.
type Alerts struct {
	MoveThreshold int `yaml:"move_threshold"`
}

// Database selects and configures the history store backend.
type Database struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	DSN    string `yaml:"dsn"`  // postgres
}

// SMTP configures outbound report mail. Leaving Host empty disables email.
type SMTP struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// Addr returns the host:port dial address.
func (s SMTP) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Enabled reports whether email delivery is configured at all.
func (s SMTP) Enabled() bool { return s.Host != "" }

// Reporting controls report generation and delivery.
type Reporting struct {
	SMTP SMTP `yaml:"smtp"`
}

// Metrics controls the Prometheus endpoint. Port 0 disables it.
type Metrics struct {
	Port int `yaml:"port"`
}

// Config is the full tracker configuration.
type Config struct {
	Clients   map[string]Client `yaml:"clients"`
	Scraping  Scraping          `yaml:"scraping"`
	Alerts    Alerts            `yaml:"alerts"`
	Database  Database          `yaml:"database"`
	Reporting Reporting         `yaml:"reporting"`
	Metrics   Metrics           `yaml:"metrics"`
}

// Load reads, defaults, and validates a YAML configuration file. Secrets may
// be overridden through environment variables so they can stay out of the
// file entirely.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scraping.Strategy == "" {
		c.Scraping.Strategy = StrategyHTTP
	}
	if c.Scraping.ScanDepth == 0 {
		c.Scraping.ScanDepth = MaxScanDepth
	}
	if c.Scraping.MinDelaySeconds == 0 && c.Scraping.MaxDelaySeconds == 0 {
		c.Scraping.MinDelaySeconds = 2
		c.Scraping.MaxDelaySeconds = 6
	}
	if c.Scraping.TimeoutSeconds == 0 {
		if c.Scraping.Strategy == StrategyProxyAPI {
			// Proxy services render upstream and respond slowly.
			c.Scraping.TimeoutSeconds = 60
		} else {
			c.Scraping.TimeoutSeconds = 20
		}
	}
	if c.Scraping.Concurrency == 0 {
		c.Scraping.Concurrency = 1
	}
	if c.Scraping.ProxyAPIURL == "" {
		c.Scraping.ProxyAPIURL = "http://api.scraperapi.com"
	}
	if c.Alerts.MoveThreshold == 0 {
		c.Alerts.MoveThreshold = 5
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		c.Database.Path = "data/rankings.db"
	}
	if c.Reporting.SMTP.Host != "" && c.Reporting.SMTP.Port == 0 {
		c.Reporting.SMTP.Port = 587
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvProxyAPIKey); v != "" {
		c.Scraping.ProxyAPIKey = v
	}
	if v := os.Getenv(EnvSMTPPassword); v != "" {
		c.Reporting.SMTP.Password = v
	}
}

// Validate checks the configuration for problems that must abort a run
// before any fetch happens. All findings are reported at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Clients) == 0 {
		errs = append(errs, errors.New("no clients configured"))
	}
	for _, id := range c.ClientIDs() {
		client := c.Clients[id]
		if strings.TrimSpace(client.Domain) == "" {
			errs = append(errs, fmt.Errorf("client %q: missing domain", id))
		}
		if len(client.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("client %q: no keywords", id))
		}
		for i, kw := range client.Keywords {
			if strings.TrimSpace(kw) == "" {
				errs = append(errs, fmt.Errorf("client %q: keyword %d is empty", id, i+1))
			}
		}
	}

	switch c.Scraping.Strategy {
	case StrategyHTTP, StrategyBrowser:
		if c.Scraping.Concurrency > 1 {
			errs = append(errs, fmt.Errorf("strategy %q must run sequentially; concurrency > 1 requires %q", c.Scraping.Strategy, StrategyProxyAPI))
		}
	case StrategyProxyAPI:
		if c.Scraping.ProxyAPIKey == "" {
			errs = append(errs, fmt.Errorf("strategy %q requires proxy_api_key (or %s)", StrategyProxyAPI, EnvProxyAPIKey))
		}
		if c.Scraping.Concurrency > MaxConcurrency {
			errs = append(errs, fmt.Errorf("concurrency %d exceeds maximum %d", c.Scraping.Concurrency, MaxConcurrency))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown scraping strategy %q", c.Scraping.Strategy))
	}

	if c.Scraping.ScanDepth < 1 || c.Scraping.ScanDepth > MaxScanDepth {
		errs = append(errs, fmt.Errorf("scan_depth %d outside [1, %d]", c.Scraping.ScanDepth, MaxScanDepth))
	}
	if c.Scraping.MinDelaySeconds < 0 || c.Scraping.MaxDelaySeconds < 0 {
		errs = append(errs, errors.New("delay bounds must not be negative"))
	}
	if c.Scraping.MinDelaySeconds > c.Scraping.MaxDelaySeconds {
		errs = append(errs, fmt.Errorf("min_delay_seconds %d exceeds max_delay_seconds %d", c.Scraping.MinDelaySeconds, c.Scraping.MaxDelaySeconds))
	}
	if c.Alerts.MoveThreshold < 1 {
		errs = append(errs, fmt.Errorf("move_threshold must be at least 1, got %d", c.Alerts.MoveThreshold))
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("sqlite driver requires database.path"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("postgres driver requires database.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		errs = append(errs, fmt.Errorf("metrics port %d out of range", c.Metrics.Port))
	}

	if smtp := c.Reporting.SMTP; smtp.Enabled() {
		if smtp.From == "" {
			errs = append(errs, errors.New("smtp requires a from address"))
		}
		if len(smtp.To) == 0 {
			errs = append(errs, errors.New("smtp requires at least one recipient"))
		}
	}

	return errors.Join(errs...)
}

// ClientIDs returns the configured client ids in stable sorted order.
func (c *Config) ClientIDs() []string {
	ids := make([]string, 0, len(c.Clients))
	for id := range c.Clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClientByID looks up a client, reporting whether it exists.
func (c *Config) ClientByID(id string) (Client, bool) {
	client, ok := c.Clients[id]
	return client, ok
}
