package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	extErrors "github.com/pkg/errors"
)

var validate *validator.Validate = validator.New()

// define constants
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	QuotaPostgres = "postgres"
	QuotaRedis    = "redis"
	QuotaMemory   = "memory"
)

// Config is the runtime configuration shared by the API server and the task runner.
// Settings only the API server needs are checked by ValidateAPI.
type Config struct {
	Environment string

	ListenAddr  string `validate:"required"`
	SiteURL     string
	FrontendURL string `validate:"omitempty,url"`
	CORSOrigins []string

	PostgresURI  string `validate:"required"`
	RedisURI     string `validate:"required_if=QuotaBackend redis"`
	RedisPW      string
	QuotaBackend string `validate:"oneof=postgres redis memory"`
	BrokerURI    string

	JWTSigningKey        string `validate:"omitempty,min=16"`
	PaywallSigningSecret string

	StripeKey           string
	StripeWebhookSecret string
	StripePriceIDs      []string
	StripeTrialDays     int64 `validate:"min=0"`

	BillingEnforcement string `validate:"oneof=active_required off"`
	DefaultExam        string `validate:"required"`
	SentryDSN          string
}

// Production reports whether API_ENV selects the production environment
func (c *Config) Production() bool {
	return c.Environment == EnvProduction
}

// ValidateAPI checks the settings the API server needs on top of FromEnv
func (c *Config) ValidateAPI() error {
	if len(c.JWTSigningKey) == 0 {
		return extErrors.New("JWT_SIGNING_KEY is required")
	}
	return nil
}

// DotFile returns the .env file for the environment
func DotFile(env string) string {
	if env == EnvProduction {
		return ".env.production"
	}
	return ".env.development"
}

// Load reads the .env file for API_ENV, if present, then builds Config from the environment
func Load() (*Config, error) {
	env := os.Getenv("API_ENV")
	if err := godotenv.Load(DotFile(env)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, extErrors.Wrap(err, "Cannot load configurations from .env")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds and validates Config using getenv for lookups
func FromEnv(getenv func(string) string) (*Config, error) {
	env := getenv("API_ENV")
	if env != EnvProduction {
		env = EnvDevelopment
	}

	trialDays := int64(0)
	if v := getenv("STRIPE_TRIAL_DAYS"); len(v) > 0 {
		d, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, extErrors.Wrap(err, "STRIPE_TRIAL_DAYS is not a number")
		}
		trialDays = d
	}

	c := &Config{
		Environment:          env,
		ListenAddr:           withDefault(getenv("LISTEN_ADDR"), ":42069"),
		SiteURL:              strings.TrimSuffix(getenv("SITE_URL"), "/"),
		FrontendURL:          getenv("FRONTEND_URL"),
		CORSOrigins:          splitList(getenv("CORS_ORIGINS")),
		PostgresURI:          getenv("POSTGRES_URI"),
		RedisURI:             getenv("REDIS_URI"),
		RedisPW:              getenv("REDIS_PW"),
		QuotaBackend:         withDefault(getenv("QUOTA_BACKEND"), QuotaPostgres),
		BrokerURI:            getenv("BROKER_URI"),
		JWTSigningKey:        getenv("JWT_SIGNING_KEY"),
		PaywallSigningSecret: getenv("PAYWALL_SIGNING_SECRET"),
		StripeKey:            getenv("STRIPE_KEY"),
		StripeWebhookSecret:  getenv("STRIPE_WEBHOOK_SECRET"),
		StripePriceIDs:       splitList(getenv("STRIPE_PRICE_IDS")),
		StripeTrialDays:      trialDays,
		BillingEnforcement:   withDefault(getenv("BILLING_ENFORCEMENT"), "active_required"),
		DefaultExam:          withDefault(getenv("DEFAULT_EXAM"), "pmle"),
		SentryDSN:            getenv("SENTRY_DSN"),
	}

	if err := validate.Struct(c); err != nil {
		return nil, extErrors.Wrap(err, "Invalid configuration")
	}
	return c, nil
}

func withDefault(v, def string) string {
	if len(v) == 0 {
		return def
	}
	return v
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}
