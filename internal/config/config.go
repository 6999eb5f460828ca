package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Config struct {
	AppEnv        string        `env:"APP_ENV" envDefault:"production"`
	APIAddr       string        `env:"API_ADDR" envDefault:":8080"`
	BackendURL    string        `env:"BACKEND_URL,notEmpty"`
	BackendToken  string        `env:"BACKEND_TOKEN"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	PollTimeout   time.Duration `env:"POLL_TIMEOUT" envDefault:"2m"`
	PostgresDSN   string        `env:"POSTGRES_DSN"`
	MigrationsDir string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisPrefix   string        `env:"REDIS_PREFIX" envDefault:"corpsignal"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"24h"`
	CacheNearTTL  time.Duration `env:"CACHE_NEAR_TTL" envDefault:"30s"`
}

func (c Config) Development() bool { return c.AppEnv == "development" }

func (c Config) Validate() error {
	if c.HTTPTimeout <= 0 {
		return errors.Errorf("HTTP_TIMEOUT must be positive, got %s", c.HTTPTimeout)
	}
	if c.PollInterval <= 0 {
		return errors.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.PollTimeout <= 0 {
		return errors.Errorf("POLL_TIMEOUT must be positive, got %s", c.PollTimeout)
	}
	if c.CacheTTL < 0 || c.CacheNearTTL < 0 {
		return errors.New("CACHE_TTL and CACHE_NEAR_TTL must not be negative")
	}
	return nil
}

// Load reads envFile (if it exists) into the process environment and then
// parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "load %s", envFile)
		}
	}
	return parse(env.Options{})
}

// FromMap parses vars instead of the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c Config
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
