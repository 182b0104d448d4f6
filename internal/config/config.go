// Package config loads runtime configuration from the environment.
//
// LOADING ORDER:
//  1. godotenv reads an optional .env file into the process environment.
//     Variables already set in the real environment win.
//  2. caarlos0/env parses the environment into Config, applying envDefault
//     for anything unset.
//  3. Validate rejects combinations the server cannot start with.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Supported DB_DRIVER values.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Supported EVENTS_BACKEND values.
const (
	EventsNone     = "none"
	EventsRabbitMQ = "rabbitmq"
	EventsPubSub   = "pubsub"
)

const minAppKeyLen = 16

// Config is the full runtime configuration of authd.
type Config struct {
	Env  string `env:"APP_ENV" envDefault:"local"`
	Port int    `env:"PORT"    envDefault:"3333"`

	// APP_KEY signs OAuth state. Required when Google login is enabled.
	AppKey string `env:"APP_KEY"`

	Database Database
	Auth     Auth
	Google   Google
	Frontend Frontend
	Events   Events
}

// Database selects and addresses the store.
type Database struct {
	Driver string `env:"DB_DRIVER"    envDefault:"sqlite"`
	Path   string `env:"DB_PATH"      envDefault:"data/authd.db"`
	URL    string `env:"DATABASE_URL"`
}

// Auth holds session token and password hashing settings.
type Auth struct {
	TokenTTL   time.Duration `env:"TOKEN_TTL"   envDefault:"168h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"12"`
}

// Google holds the OAuth client registered in the Google Cloud console.
type Google struct {
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CallbackURL  string `env:"GOOGLE_CALLBACK_URL"`
}

// Frontend is where the OAuth callback sends the browser when it is done.
type Frontend struct {
	URL          string `env:"FRONTEND_URL"           envDefault:"http://localhost:5173"`
	CallbackPath string `env:"FRONTEND_CALLBACK_PATH" envDefault:"/auth/callback"`
}

// Events configures account event publishing.
type Events struct {
	Backend               string `env:"EVENTS_BACKEND"          envDefault:"none"`
	Channel               string `env:"EVENTS_CHANNEL"          envDefault:"authd.account-events"`
	RabbitMQURL           string `env:"RABBITMQ_URL"`
	PubSubProjectID       string `env:"PUBSUB_PROJECT_ID"`
	PubSubCredentialsFile string `env:"PUBSUB_CREDENTIALS_FILE"`
}

// Load reads .env (if present) and the environment into a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return Parse()
}

// Parse reads the current environment into a validated Config without
// touching .env.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first setting the server cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("config: DB_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.Database.Driver)
	}

	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config: TOKEN_TTL must be positive, got %s", c.Auth.TokenTTL)
	}

	switch c.Events.Backend {
	case EventsNone:
	case EventsRabbitMQ:
		if c.Events.RabbitMQURL == "" {
			return errors.New("config: RABBITMQ_URL is required for the rabbitmq events backend")
		}
	case EventsPubSub:
		if c.Events.PubSubProjectID == "" {
			return errors.New("config: PUBSUB_PROJECT_ID is required for the pubsub events backend")
		}
	default:
		return fmt.Errorf("config: unknown EVENTS_BACKEND %q", c.Events.Backend)
	}

	if c.GoogleEnabled() {
		if len(c.AppKey) < minAppKeyLen {
			return fmt.Errorf("config: APP_KEY must be at least %d characters when Google login is enabled", minAppKeyLen)
		}
		if c.Google.ClientSecret == "" {
			return errors.New("config: GOOGLE_CLIENT_SECRET is required with GOOGLE_CLIENT_ID")
		}
		if _, err := url.ParseRequestURI(c.FrontendCallbackURL()); err != nil {
			return fmt.Errorf("config: FRONTEND_URL: %w", err)
		}
	}

	return nil
}

// IsLocal reports whether the server runs on a developer machine.
func (c *Config) IsLocal() bool {
	return c.Env == "local"
}

// GoogleEnabled reports whether the Google OAuth routes should be mounted.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != ""
}

// GoogleCallbackURL returns GOOGLE_CALLBACK_URL, or the local default.
func (c *Config) GoogleCallbackURL() string {
	if c.Google.CallbackURL != "" {
		return c.Google.CallbackURL
	}
	return fmt.Sprintf("http://localhost:%d/auth/google/callback", c.Port)
}

// FrontendCallbackURL joins FRONTEND_URL and FRONTEND_CALLBACK_PATH.
func (c *Config) FrontendCallbackURL() string {
	base := strings.TrimRight(c.Frontend.URL, "/")
	path := c.Frontend.CallbackPath
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}
