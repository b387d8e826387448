// Package grace mints and verifies the short-lived checkout grace cookie.
//
// The cookie lets a user through gated routes right after checkout, before the
// payment webhook has created their subscription record. It is stateless: the
// value is base64url(payload) + "." + base64url(HMAC-SHA256(secret, payload))
// and carries nothing but a success flag and an expiry.
package grace

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieName is the name of the grace cookie
const CookieName = "checkout_grace"

// TTL is how long a freshly minted grace cookie stays valid
const TTL = 900 * time.Second

// ErrMissingSecret is returned by Sign when no signing secret is configured
var ErrMissingSecret = errors.New("PAYWALL_SIGNING_SECRET is required to sign grace cookies")

var encoding = base64.RawURLEncoding.Strict()

// payload field order is part of the wire format, the signature covers these exact bytes
type payload struct {
	CheckoutSuccess bool  `json:"checkoutSuccess"`
	Exp             int64 `json:"exp"`
}

type parsedPayload struct {
	CheckoutSuccess *bool  `json:"checkoutSuccess"`
	Exp             *int64 `json:"exp"`
}

// Options configures a Signer
type Options struct {
	Secret string
	Now    func() time.Time
}

// Signer mints and verifies grace cookies with a single server secret
type Signer struct {
	secret []byte
	now    func() time.Time
}

// New returns a Signer. An empty secret is accepted: Sign will fail and Verify will always be false.
func New(option Options) *Signer {
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Signer{
		secret: []byte(option.Secret),
		now:    option.Now,
	}
}

// Sign mints a grace cookie expiring TTL from now
func (s *Signer) Sign() (*http.Cookie, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}
	raw, err := json.Marshal(payload{
		CheckoutSuccess: true,
		Exp:             s.now().Add(TTL).Unix(),
	})
	if err != nil {
		return nil, err
	}
	value := encoding.EncodeToString(raw) + "." + s.sign(raw)

	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(TTL / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// Verify reports whether r carries a valid, unexpired grace cookie
func (s *Signer) Verify(r *http.Request) bool {
	if r == nil {
		return false
	}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return false
	}
	return s.VerifyValue(c.Value)
}

// VerifyHeader is Verify for callers holding only a raw Cookie header
func (s *Signer) VerifyHeader(cookieHeader string) bool {
	value, ok := valueFromHeader(cookieHeader)
	if !ok {
		return false
	}
	return s.VerifyValue(value)
}

// VerifyValue checks a raw cookie value. Every failure mode returns false, none are distinguished.
func (s *Signer) VerifyValue(value string) bool {
	if len(s.secret) == 0 || len(value) == 0 {
		return false
	}
	encodedPayload, signature, found := strings.Cut(value, ".")
	if !found || len(encodedPayload) == 0 || len(signature) == 0 {
		return false
	}
	raw, err := encoding.DecodeString(encodedPayload)
	if err != nil {
		return false
	}
	if !hmac.Equal([]byte(s.sign(raw)), []byte(signature)) {
		return false
	}

	var p parsedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return false
	}
	if p.Exp == nil || s.now().Unix() >= *p.Exp {
		return false
	}
	return p.CheckoutSuccess != nil && *p.CheckoutSuccess
}

func (s *Signer) sign(raw []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	return encoding.EncodeToString(mac.Sum(nil))
}

// Present reports whether r carries a grace cookie at all, valid or not
func Present(r *http.Request) bool {
	_, err := r.Cookie(CookieName)
	return err == nil
}

// ClearCookie returns a cookie that removes the grace cookie from the browser
func ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func valueFromHeader(cookieHeader string) (string, bool) {
	if len(cookieHeader) == 0 {
		return "", false
	}
	r := &http.Request{Header: http.Header{"Cookie": {cookieHeader}}}
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	return c.Value, true
}
