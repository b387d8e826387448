package billing

import (
	"encoding/json"
	"net/http"

	resp "github.com/testero/entitlement/response"
	"github.com/testero/entitlement/subscription"

	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// CheckoutRequest is the model of user request for a checkout session
type CheckoutRequest struct {
	PriceID        string `json:"priceId" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"omitempty,max=128"`
}

// CheckoutResponse carries the hosted checkout page
type CheckoutResponse struct {
	URL string `json:"url"`
}

func (s *Service) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := s.Identity.Identify(r)
	if claims == nil {
		resp.WriteError(w, r, resp.ErrNoBearer())
		return
	}

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	if !s.priceAllowed(req.PriceID) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown price"))
		return
	}

	logger = logger.With(zap.String("PriceID", req.PriceID))

	active, err := s.Subscriptions.GetActive(ctx, claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to load subscription"))
		return
	}
	if subscription.IsSubscriber(active.Data(), s.Now()) {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Subscription already active"))
		return
	}

	cust, err := s.Customers.GetOrCreate(ctx, claims.ID, claims.Email)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to setup customer"))
		return
	}

	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Customer:           stripe.String(cust.StripeCustomerID),
		ClientReferenceID:  stripe.String(claims.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.SiteURL + "/api/billing/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.SiteURL + "/pricing?checkout=cancelled"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": claims.ID},
		},
	}
	params.AddMetadata("user_id", claims.ID)
	if s.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(s.TrialDays)
	}
	if len(req.IdempotencyKey) > 0 {
		params.SetIdempotencyKey(claims.ID + ":" + req.PriceID + ":" + req.IdempotencyKey)
	}

	session, err := s.CheckoutSessions.New(params)
	if err != nil {
		logger.Error("Unable to create checkout session in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start checkout"))
		return
	}

	resp.WriteResponse(w, r, CheckoutResponse{URL: session.URL})
}

func sessionComplete(cs *stripe.CheckoutSession) bool {
	if cs == nil {
		return false
	}
	if cs.Status == stripe.CheckoutSessionStatusComplete {
		return true
	}
	return cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
}

func (s *Service) checkoutSuccess(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if len(sessionID) == 0 {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("session_id is required"))
		return
	}

	logger := s.Logger.With(zap.String("CheckoutSessionID", sessionID))

	cs, err := s.CheckoutSessions.Get(sessionID, &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: r.Context(),
		},
	})
	if err != nil {
		logger.Error("Unable to retrieve checkout session from Stripe",
			zap.Error(err),
		)
	}
	if err != nil || !sessionComplete(cs) {
		http.Redirect(w, r, s.SiteURL+"/pricing?checkout=incomplete", http.StatusSeeOther)
		return
	}

	cookie, err := s.Grace.Sign()
	if err != nil {
		logger.Error("Cannot mint grace cookie",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, s.SiteURL+"/dashboard?checkout=success", http.StatusSeeOther)
}
