package core

import (
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var errNoSecretKey = errors.New("config: SECRET_KEY must be set outside DEV and TEST environments")

type (
	ServerConfig struct {
		Host            string
		Address         string
		DebugHost       string
		ShutdownTimeout time.Duration
		AuthRateLimit   float64 // requests per second per client on /api/auth
		AuthRateBurst   int
	}

	DatabaseConfig struct {
		Engine        string // postgres | memory
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	RedisConfig struct {
		Addr     string // empty disables the course cache
		Password string
		DB       int
		TTL      time.Duration
	}

	TelemetryConfig struct {
		OTLPEndpoint string // empty disables tracing
		OTLPInsecure bool
	}

	Config struct {
		Env                string
		Build              string
		AppName            string
		Debug              bool
		TestMode           bool
		SecretKey          string
		JWTExpirationDelta time.Duration
		DefaultFromEmail   string
		FrontendBaseURL    string
		CORSAllowedOrigins []string
		RollbarToken       string
		SendgridApiKey     string

		Server    ServerConfig
		Database  DatabaseConfig
		Redis     RedisConfig
		Telemetry TelemetryConfig
	}
)

// NewConfig loads the configuration from the environment.
// ENV selects the environment (DEV by default, TEST, QA, PROD); variables are looked up with that prefix,
// e.g. PROD_SECRET_KEY or PROD_DATABASE_HOST, after loading `config/.env.<env>` if it exists.
func NewConfig() (*Config, error) {
	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("test_mode", env == "TEST")
	v.SetDefault("build", "develop")
	v.SetDefault("app_name", "EduNexus")
	v.SetDefault("secret_key", "")
	v.SetDefault("jwt_expiration_delta", 24*time.Hour)
	v.SetDefault("default_from_email", "EduNexus <noreply@localhost>")
	v.SetDefault("frontend_base_url", "http://localhost:3000")
	v.SetDefault("cors_allowed_origins", "http://localhost:3000")
	v.SetDefault("rollbar_token", "")
	v.SetDefault("sendgrid_api_key", "")
	v.SetDefault("config_dir", "config")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.debug_host", ":4000")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.auth_rate_limit", 1.0)
	v.SetDefault("server.auth_rate_burst", 10)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "edunexus")
	v.SetDefault("database.user", "edunexus")
	v.SetDefault("database.password", "")
	v.SetDefault("database.admin_user", "")
	v.SetDefault("database.admin_password", "")
	v.SetDefault("database.disable_tls", env == "DEV" || env == "TEST")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)

	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(v.GetString("config_dir"), ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}

	conf := &Config{
		Env:                env,
		Build:              v.GetString("build"),
		AppName:            v.GetString("app_name"),
		Debug:              v.GetBool("debug"),
		TestMode:           v.GetBool("test_mode"),
		SecretKey:          v.GetString("secret_key"),
		JWTExpirationDelta: v.GetDuration("jwt_expiration_delta"),
		DefaultFromEmail:   v.GetString("default_from_email"),
		FrontendBaseURL:    v.GetString("frontend_base_url"),
		CORSAllowedOrigins: splitList(v.GetString("cors_allowed_origins")),
		RollbarToken:       v.GetString("rollbar_token"),
		SendgridApiKey:     v.GetString("sendgrid_api_key"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			Address:         v.GetString("server.address"),
			DebugHost:       v.GetString("server.debug_host"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AuthRateLimit:   v.GetFloat64("server.auth_rate_limit"),
			AuthRateBurst:   v.GetInt("server.auth_rate_burst"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.admin_user"),
			AdminPassword: v.GetString("database.admin_password"),
			DisableTLS:    v.GetBool("database.disable_tls"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			OTLPInsecure: v.GetBool("telemetry.otlp_insecure"),
		},
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate refuses configurations that would run with an unsafe signing key.
// DEV and TEST fall back to a per-process random key so that tokens never verify across restarts.
func (c *Config) Validate() error {
	if c.SecretKey != "" {
		return nil
	}
	if !(c.Debug || c.TestMode) {
		return errNoSecretKey
	}
	key, err := randomKey()
	if err != nil {
		return errors.Wrap(err, "generating development secret key")
	}
	c.SecretKey = key
	return nil
}

// DefaultFromAddress parses DefaultFromEmail, falling back to a bare noreply address.
func (c *Config) DefaultFromAddress() mail.Address {
	if addr, err := mail.ParseAddress(c.DefaultFromEmail); err == nil {
		return *addr
	}
	return mail.Address{Name: c.AppName, Address: "noreply@" + c.Server.Host}
}

// Address returns the database "host:port".
func (c DatabaseConfig) Address() string {
	return c.Host + ":" + c.Port
}

func splitList(s string) []string {
	var list []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
