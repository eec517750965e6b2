package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/storage/cloudinary"
	"github.com/xenking/catalog-sync/pkg/password"
)

// Realtime backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (CATALOG_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Server listen address"`
	Backend     string `default:"postgres" usage:"Realtime store backend: postgres, redis or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CATALOG_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis connection URL (CATALOG_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	RedisPrefix string `default:"catalog:" usage:"Key prefix of realtime data in Redis" flag:"redis-prefix"`

	Locale          string `default:"en" usage:"Default message locale (en, es)"`
	DefaultPhotoURL string `default:"" usage:"Photo shown for users without one" flag:"default-photo-url"`

	Blobs     BlobConfig
	Password  PasswordConfig
	Session   SessionConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Origins   []string `default:"*" usage:"Allowed browser origins"`
	Graceful  GracefulConfig
}

// BlobConfig selects the image store. Cloudinary is used when its
// credentials are set, the local directory otherwise.
type BlobConfig struct {
	Dir        string `default:"data/blobs" usage:"Local blob directory"`
	BaseURL    string `default:"/blobs" usage:"Public URL prefix of the local blob directory" flag:"blob-base-url"`
	Cloudinary cloudinary.Config
}

// PasswordConfig holds the Argon2id cost of new password hashes.
type PasswordConfig struct {
	Time      uint32 `default:"3" usage:"Argon2id iterations"`
	MemoryKiB uint32 `default:"65536" usage:"Argon2id memory in KiB" flag:"password-memory"`
	Threads   uint8  `default:"2" usage:"Argon2id parallelism"`
}

// Params returns the hashing parameters.
func (c PasswordConfig) Params() password.Params {
	p := password.DefaultParams
	p.Time = c.Time
	p.Memory = c.MemoryKiB
	p.Threads = c.Threads
	return p
}

// SessionConfig controls sign-in sessions.
type SessionConfig struct {
	TTL           time.Duration `default:"720h" usage:"Session lifetime after sign-in, 0 disables expiry" flag:"session-ttl"`
	CheckInterval time.Duration `default:"30s" usage:"How often live sessions are checked for expiry and revocation" flag:"session-check-interval"`
}

// GatewayConfig controls device connections.
type GatewayConfig struct {
	PingInterval time.Duration `default:"30s" usage:"Websocket ping interval" flag:"ping-interval"`
	WriteTimeout time.Duration `default:"10s" usage:"Websocket write timeout" flag:"write-timeout"`
	ReadLimit    int64         `default:"8388608" usage:"Maximum client message size in bytes" flag:"read-limit"`
}

// RateLimitConfig controls the per-client limit on new connections.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max connection attempts per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then configuration from environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	// A missing .env file is fine; real environment variables win.
	_ = godotenv.Load()

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CATALOG",
		Files:     []string{"config.yaml", "/etc/catalog-sync/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected backend has its connection settings.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set CATALOG_DATABASE_URL or DATABASE_URL")
		}
	case BackendRedis:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required for accounts: set CATALOG_DATABASE_URL or DATABASE_URL")
		}
		if c.RedisURL == "" {
			return errors.New("redis URL is required: set CATALOG_REDIS_URL or REDIS_URL")
		}
	default:
		return errors.Errorf("unknown backend %q", c.Backend)
	}
	if c.Password.Time == 0 || c.Password.MemoryKiB == 0 || c.Password.Threads == 0 {
		return errors.New("password hashing parameters must be positive")
	}
	if c.Session.TTL < 0 {
		return errors.New("session TTL must not be negative")
	}
	if c.Session.CheckInterval <= 0 {
		return errors.New("session check interval must be positive")
	}
	return nil
}

// AppLocale returns the default locale of device connections.
func (c *Config) AppLocale() apperr.Locale {
	return apperr.ParseLocale(c.Locale)
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) such as DATABASE_URL, REDIS_URL and PORT to the
// CATALOG_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.RedisURL == "" {
		c.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
