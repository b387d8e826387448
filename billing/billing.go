// Package billing exposes the Stripe checkout flow, trial start, the checkout success
// redirect that mints the grace cookie, webhook ingestion and the billing status endpoint.
package billing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v72"
	"github.com/testero/entitlement/auth"
	"github.com/testero/entitlement/broker"
	"github.com/testero/entitlement/customer"
	"github.com/testero/entitlement/grace"
	"github.com/testero/entitlement/subscription"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// DefaultFreeTrialDays is the trial length of POST /trial
const DefaultFreeTrialDays = 14

// CheckoutSessions is the part of the Stripe checkout API used by Service
type CheckoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeSubscriptions is the part of the Stripe subscription API used by Service
type StripeSubscriptions interface {
	New(params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// Identity resolves the signed-in user
type Identity interface {
	Identify(r *http.Request) *auth.Claims
}

// Customers maps users to Stripe customers
type Customers interface {
	GetOrCreate(ctx context.Context, userID, email string) (*customer.Customer, error)
	GetByStripeID(ctx context.Context, stripeCustomerID string) (*customer.Customer, error)
}

// Subscriptions is the subscription store
type Subscriptions interface {
	GetActive(ctx context.Context, userID string) (*subscription.Record, error)
	GetLatest(ctx context.Context, userID string) (*subscription.Record, error)
	GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*subscription.Record, error)
	HasTrialed(ctx context.Context, userID string) (bool, error)
	Upsert(ctx context.Context, rec *subscription.Record) error
	UpdateStatus(ctx context.Context, stripeSubscriptionID string, status subscription.Status) (*subscription.Record, error)
}

// Invalidator drops cached subscriber answers
type Invalidator interface {
	Invalidate(userID string)
}

// Options contains the configuration for Service router
type Options struct {
	Logger *zap.Logger

	Identity      Identity
	Customers     Customers
	Subscriptions Subscriptions
	Cache         Invalidator
	Broker        broker.Producer
	Grace         *grace.Signer

	CheckoutSessions    CheckoutSessions
	StripeSubscriptions StripeSubscriptions

	WebhookSecret string
	PriceIDs      []string
	TrialDays     int64
	// FreeTrialDays is the length of a trial started without checkout, 14 when unset
	FreeTrialDays int64
	SiteURL       string

	Now func() time.Time
}

// Service is the billing API router
type Service struct {
	Options
}

// NewService will create an instance of the billing API router
func NewService(option Options) (*Service, error) {
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Identity == nil {
		return nil, fmt.Errorf("nil Identity is invalid")
	}
	if option.Customers == nil {
		return nil, fmt.Errorf("nil Customers is invalid")
	}
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.Cache == nil {
		return nil, fmt.Errorf("nil Cache is invalid")
	}
	if option.Broker == nil {
		return nil, fmt.Errorf("nil Broker is invalid")
	}
	if option.Grace == nil {
		return nil, fmt.Errorf("nil Grace is invalid")
	}
	if option.CheckoutSessions == nil || option.StripeSubscriptions == nil {
		return nil, fmt.Errorf("nil Stripe client is invalid")
	}
	if len(option.WebhookSecret) == 0 {
		option.Logger.Warn("STRIPE_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if option.FreeTrialDays <= 0 {
		option.FreeTrialDays = DefaultFreeTrialDays
	}
	option.SiteURL = strings.TrimRight(option.SiteURL, "/")
	return &Service{
		Options: option,
	}, nil
}

func (s *Service) priceAllowed(priceID string) bool {
	for _, p := range s.PriceIDs {
		if p == priceID {
			return true
		}
	}
	return false
}

// invalidate drops the local cached answer and tells the other replicas to do the same
func (s *Service) invalidate(ctx context.Context, userID string) {
	if len(userID) == 0 {
		return
	}
	s.Cache.Invalidate(userID)
	if err := s.Broker.SendInvalidation(ctx, userID); err != nil {
		s.Logger.Error("Cannot publish subscription invalidation",
			zap.String("UserID", userID),
			zap.Error(err),
		)
	}
}

// Router returns the billing routes
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/status", s.status)
	r.Post("/checkout", s.checkout)
	r.Post("/trial", s.startTrial)
	r.Get("/checkout/success", s.checkoutSuccess)
	r.Post("/webhook", s.webhook)

	return r
}
