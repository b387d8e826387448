package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	resp "github.com/testero/entitlement/response"
	"go.uber.org/zap"
)

var bearerPrefix = "Bearer "
var jwtSigningMethod = jwt.SigningMethodHS256

// CreateTokenFromClaims will create a signed jwt token that contains the given Claims
func (a *Auth) CreateTokenFromClaims(claims Claims) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	return token.SignedString(a.jwtKey)
}

// verifyToken returns nil Claims for any token that does not verify
func (a *Auth) verifyToken(token string) *Claims {
	claims := &Claims{}
	jwtToken, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	}, jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}))
	if err != nil {
		a.Logger.Debug("Rejected JWT token",
			zap.Error(err),
		)
		return nil
	}
	if !jwtToken.Valid {
		return nil
	}
	if len(claims.ID) == 0 {
		claims.ID = claims.Subject
	}
	if len(claims.ID) == 0 {
		return nil
	}
	return claims
}

func tokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, bearerPrefix) {
		return header[len(bearerPrefix):]
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// Identify returns the Claims of the request, taken from the context when a middleware already verified them
func (a *Auth) Identify(r *http.Request) *Claims {
	if claims := FromContext(r.Context()); claims != nil {
		return claims
	}
	token := tokenFromRequest(r)
	if len(token) == 0 {
		return nil
	}
	return a.verifyToken(token)
}

// UserID returns the id of the authenticated user, if any
func (a *Auth) UserID(r *http.Request) (string, bool) {
	claims := a.Identify(r)
	if claims == nil {
		return "", false
	}
	return claims.ID, true
}

// FromContext returns the Claims stored by Middleware or Optional
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(Context).(*Claims)
	return claims
}

// Middleware returns a http middleware that rejects requests without a valid token
func (a *Auth) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := a.Identify(r)
			if claims == nil {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}

			ctx := context.WithValue(r.Context(), Context, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional returns a http middleware that attaches Claims when the request carries a valid token, and passes through otherwise
func (a *Auth) Optional() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := a.Identify(r)
			if claims == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), Context, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimCheck returns a http middlware to authenticated route to ensure that Claims exists in the context
func (a *Auth) ClaimCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) == nil {
				a.Logger.Error("Context has no Claims")
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
