package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is key used in context.Context containing the Claims
const Context ContextKey = "authContext"

// SessionCookie is the cookie carrying the access token for page requests
const SessionCookie = "session"

// Environment is the type for defining the running environment
type Environment string

// define constants
const (
	EnvDevelopment Environment = "Dev"
	EnvProduction  Environment = "Prod"
)

// Auth verifies the access tokens issued by the identity provider
type Auth struct {
	Options
	jwtKey []byte
}

// Claims is the struct for jwt token
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	ID    string `json:"id"`
}

// Options provides initialization parameters for Auth
type Options struct {
	Logger *zap.Logger

	JWTSigningKey string
	TokenTTL      time.Duration

	Environment Environment
}

func (o *Options) validate() error {
	if o == nil {
		return fmt.Errorf("nil option is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	if len(o.JWTSigningKey) < 16 {
		return fmt.Errorf("jwt signing key must be longer than 16 characters")
	}
	if o.TokenTTL == 0 {
		o.TokenTTL = time.Hour
	}
	if o.Environment == "" {
		o.Environment = EnvDevelopment
	}
	return nil
}

// New will return a new instance of Auth for authentication
func New(option Options) (*Auth, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}

	return &Auth{
		Options: option,
		jwtKey:  []byte(option.JWTSigningKey),
	}, nil
}
