// Package gate decides per request whether a gated feature may be used.
//
// The order is fixed: a valid grace cookie, then a signed-in user, then an
// active subscription, then the feature's free-tier policy. Every path ends
// in exactly one Decision and nothing is retried.
package gate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/testero/entitlement/quota"
	resp "github.com/testero/entitlement/response"
	"go.uber.org/zap"
)

// State is the terminal state a check ended in
type State string

// define constants
const (
	StateGraceOK       State = "GRACE_OK"
	StateNoUser        State = "NO_USER"
	StateSubscriber    State = "SUBSCRIBER"
	StateQuotaOK       State = "QUOTA_OK"
	StateQuotaExceeded State = "QUOTA_EXCEEDED"
	StateFreeOK        State = "FREE_OK"
	StatePaywall       State = "PAYWALL"
	StateUnenforced    State = "UNENFORCED"
)

// Enforcement switches billing enforcement on or off
type Enforcement string

// define constants
const (
	EnforcementActiveRequired Enforcement = "active_required"
	EnforcementOff            Enforcement = "off"
)

// GraceVerifier verifies the checkout grace cookie
type GraceVerifier interface {
	Verify(r *http.Request) bool
}

// Identifier resolves the signed-in user of a request
type Identifier interface {
	UserID(r *http.Request) (string, bool)
}

// SubscriberChecker reports subscriber status, false on any failure
type SubscriberChecker interface {
	IsSubscriber(ctx context.Context, userID string) bool
}

// QuotaLedger consumes free-tier allowance, denying on any failure
type QuotaLedger interface {
	CheckAndIncrement(ctx context.Context, userID, exam string, questionCount int) quota.Result
}

// Request describes what the caller wants to use
type Request struct {
	Feature Feature
	// Exam defaults to Options.DefaultExam
	Exam string
	// Questions is the quota cost, only consumed when Consume is set
	Questions int
	// Consume is false for page views, which never spend quota
	Consume bool
}

// Decision is the outcome of a single check
type Decision struct {
	Allowed bool
	State   State
	Feature string
	UserID  string
	// Code is the machine-readable denial code
	Code  string
	Usage *quota.Usage
}

// Options contains the collaborators of Gate
type Options struct {
	Grace       GraceVerifier
	Identity    Identifier
	Subscribers SubscriberChecker
	Quota       QuotaLedger
	Logger      *zap.Logger

	Enforcement Enforcement
	DefaultExam string
}

func (o *Options) validate() error {
	if o.Grace == nil {
		return fmt.Errorf("nil Grace is invalid")
	}
	if o.Identity == nil {
		return fmt.Errorf("nil Identity is invalid")
	}
	if o.Subscribers == nil {
		return fmt.Errorf("nil Subscribers is invalid")
	}
	if o.Quota == nil {
		return fmt.Errorf("nil Quota is invalid")
	}
	if o.Logger == nil {
		return fmt.Errorf("nil Logger is invalid")
	}
	switch o.Enforcement {
	case "":
		o.Enforcement = EnforcementActiveRequired
	case EnforcementActiveRequired, EnforcementOff:
	default:
		return fmt.Errorf("unknown enforcement mode %q", o.Enforcement)
	}
	if o.DefaultExam == "" {
		o.DefaultExam = "pmle"
	}
	return nil
}

// Gate is the access gate
type Gate struct {
	Options
}

// New returns a Gate
func New(option Options) (*Gate, error) {
	if err := option.validate(); err != nil {
		return nil, err
	}
	if option.Enforcement == EnforcementOff {
		option.Logger.Warn("Billing enforcement is off, every gated feature is allowed")
	}
	return &Gate{
		Options: option,
	}, nil
}

// Check runs the gate for r
func (g *Gate) Check(r *http.Request, req Request) Decision {
	d := g.check(r, req)
	d.Feature = req.Feature.Name
	if !d.Allowed {
		g.Logger.Info("paywall_block",
			zap.String("Route", r.URL.Path),
			zap.String("Feature", req.Feature.Name),
			zap.String("UserID", d.UserID),
			zap.String("Reason", string(d.State)),
			zap.String("RequestID", middleware.GetReqID(r.Context())),
		)
	}
	return d
}

func (g *Gate) check(r *http.Request, req Request) Decision {
	if g.Enforcement == EnforcementOff {
		userID, _ := g.Identity.UserID(r)
		return Decision{Allowed: true, State: StateUnenforced, UserID: userID}
	}

	if g.Grace.Verify(r) {
		userID, _ := g.Identity.UserID(r)
		return Decision{Allowed: true, State: StateGraceOK, UserID: userID}
	}

	userID, ok := g.Identity.UserID(r)
	if !ok {
		return Decision{Allowed: false, State: StateNoUser, Code: resp.CodeUnauthorized}
	}

	if g.Subscribers.IsSubscriber(r.Context(), userID) {
		return Decision{Allowed: true, State: StateSubscriber, UserID: userID}
	}

	switch req.Feature.Policy {
	case PolicySignedIn:
		return Decision{Allowed: true, State: StateFreeOK, UserID: userID}
	case PolicyFreeQuota:
		if !req.Consume {
			return Decision{Allowed: true, State: StateFreeOK, UserID: userID}
		}
		exam := req.Exam
		if exam == "" {
			exam = g.DefaultExam
		}
		result := g.Quota.CheckAndIncrement(r.Context(), userID, exam, req.Questions)
		if result.Allowed {
			return Decision{Allowed: true, State: StateQuotaOK, UserID: userID, Usage: result.Usage}
		}
		return Decision{Allowed: false, State: StateQuotaExceeded, UserID: userID, Code: resp.CodeFreeQuotaExceeded, Usage: result.Usage}
	default:
		return Decision{Allowed: false, State: StatePaywall, UserID: userID, Code: resp.CodePaywall}
	}
}
