// Package config handles the parsing and validation of application configuration
// from command-line arguments, environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/woozymasta/seeker/internal/logger"
	"github.com/woozymasta/seeker/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"SEEKER"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"SEEKER_DB"`
	Enrich    Enrich        `group:"Enrichment Options" namespace:"enrich" env-namespace:"SEEKER_ENRICH"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"SEEKER_GEOIP"`
	Ingest    Ingest        `group:"Ingest Options" namespace:"ingest" env-namespace:"SEEKER_INGEST"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"SEEKER_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"SEEKER_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address     string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	AuthToken   string `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"API bearer token"`
	MaxBodySize int64  `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming observations" default:"262144"`
	TrustProxy  bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	ListLimit   int    `long:"list-limit" env:"LIST_LIMIT" description:"Maximum number of servers returned by list requests" default:"1000"`
}

// Storage holds database configuration and maintenance tasks.
type Storage struct {
	// betteralign:ignore

	Driver        string        `long:"driver" env:"DRIVER" description:"Database driver" choice:"sqlite" choice:"postgres" default:"sqlite"`
	DSN           string        `short:"d" long:"dsn" env:"DSN" description:"SQLite file path or PostgreSQL connection string" default:"seeker.db"`
	Timeout       time.Duration `long:"timeout" env:"TIMEOUT" description:"Timeout of a single storage merge" default:"10s"`
	Export        string        `long:"export" description:"Export stored servers as JSON lines to a file ('-' for stdout) and exit"`
	Import        string        `long:"import" description:"Ingest observations from a JSON lines file ('-' for stdin) and exit"`
	Prune         time.Duration `long:"prune" description:"Delete servers not seen within the given duration and exit"`
	GenerateCount int           `long:"gen-fake-data" hidden:"true"`
}

// Enrich holds online IP enrichment configuration.
type Enrich struct {
	// betteralign:ignore

	Disabled  bool          `long:"disabled" env:"DISABLED" description:"Disable online enrichment lookups"`
	URL       string        `long:"url" env:"URL" description:"Lookup URL template, {ip} is replaced with the address" default:"http://ip-api.com/json/{ip}?fields=status,message,continent,countryCode,org,as,reverse,query"`
	Timeout   time.Duration `long:"timeout" env:"TIMEOUT" description:"Timeout of a single lookup" default:"5s"`
	PerMinute int           `long:"per-minute" env:"PER_MINUTE" description:"Client side request budget per minute, 0 for unlimited" default:"45"`
	CacheTTL  time.Duration `long:"cache-ttl" env:"CACHE_TTL" description:"Lifetime of cached lookup results" default:"24h"`
	RedisURL  string        `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the shared lookup cache"`
	CachePath string        `long:"cache-path" env:"CACHE_PATH" description:"Path to a local bbolt lookup cache, used when Redis is not set"`
}

// GeoIP holds MaxMind GeoIP configuration used as an offline enrichment fallback.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file, empty to disable" default:"seeker.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// Ingest holds observation pipeline configuration.
type Ingest struct {
	// betteralign:ignore

	Workers   int           `long:"workers" env:"WORKERS" description:"Number of background workers" default:"10"`
	QueueSize int           `long:"queue-size" env:"QUEUE_SIZE" description:"Capacity of the observation queue" default:"1000"`
	SoftLimit time.Duration `long:"soft-limit" env:"SOFT_LIMIT" description:"Ignore repeated observations of a server within duration, 0 to disable" default:"0s"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"120"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
}

// Maintenance reports whether a one-shot task was requested instead of serving HTTP.
func (c *Config) Maintenance() bool {
	s := c.Storage
	return s.Export != "" || s.Import != "" || s.Prune > 0 || s.GenerateCount > 0
}

// Validate checks option combinations that flag parsing cannot express.
func (c *Config) Validate() error {
	if !c.Maintenance() && c.Server.AuthToken == "" {
		return errors.New("required flag `-t, --auth-token' or environment variable `SEEKER_AUTH_TOKEN` was not specified")
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest workers must be positive, got %d", c.Ingest.Workers)
	}
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("ingest queue size must be positive, got %d", c.Ingest.QueueSize)
	}
	if c.RateLimit.HardLimitCount < 1 || c.RateLimit.HardLimitWin <= 0 {
		return errors.New("hard rate limit count and window must be positive")
	}

	return nil
}

// Load parses args and the environment into a Config. Variables from a .env file
// in the working directory are loaded first and never override the real environment.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := Load(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		if flagsErr == nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print(os.Stdout)
		os.Exit(0)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return cfg
}
