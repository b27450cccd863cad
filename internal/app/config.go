package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr           string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL    string        `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisAddr      string        `default:"" usage:"Redis address for the catalog cache, empty disables caching" flag:"redis-addr"`
	TelegramToken  string        `default:"" usage:"Bot token for customer notifications, empty logs them instead" flag:"telegram-token"`
	APIKeyPepper   string        `usage:"HMAC pepper for API key hashing (STORE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	RequestTimeout time.Duration `default:"10s" usage:"Per-request handler timeout" flag:"request-timeout"`
	Cache          CacheConfig
	Notify         NotifyConfig
	RateLimit      RateLimitConfig
	Graceful       GracefulConfig
}

// CacheConfig controls the Redis read-through cache.
type CacheConfig struct {
	ProductTTL  time.Duration `default:"5m"  usage:"Product cache TTL" flag:"cache-product-ttl"`
	SettingsTTL time.Duration `default:"10s" usage:"Settings cache TTL" flag:"cache-settings-ttl"`
}

// NotifyConfig controls the customer notification queue.
type NotifyConfig struct {
	QueueSize int           `default:"256" usage:"Buffered notifications before events are dropped" flag:"notify-queue-size"`
	Timeout   time.Duration `default:"10s" usage:"Timeout for a single delivery" flag:"notify-timeout"`
}

// RateLimitConfig controls the per-caller rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window, 0 disables limiting"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/store-core/config.yaml"},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	ac.FileDecoders = map[string]aconfig.FileDecoder{
		".yaml": aconfigyaml.New(),
	}
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if cfg.APIKeyPepper == "" {
		return nil, errors.New("API key pepper is required: set STORE_API_KEY_PEPPER")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL and PORT variables
// set by hosting platforms.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
