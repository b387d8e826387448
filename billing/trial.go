package billing

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	resp "github.com/testero/entitlement/response"
	"github.com/testero/entitlement/subscription"

	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// TrialRequest is the optional body of a trial start
type TrialRequest struct {
	PriceID string `json:"priceId" validate:"omitempty,max=255"`
}

// TrialResponse describes the started trial
type TrialResponse struct {
	Status         string    `json:"status"`
	TrialEndsAt    time.Time `json:"trialEndsAt"`
	SubscriptionID string    `json:"subscriptionId"`
}

func (s *Service) startTrial(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims := s.Identity.Identify(r)
	if claims == nil {
		resp.WriteError(w, r, resp.ErrNoBearer())
		return
	}

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req TrialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}
	priceID := req.PriceID
	if len(priceID) == 0 && len(s.PriceIDs) > 0 {
		priceID = s.PriceIDs[0]
	}
	if !s.priceAllowed(priceID) {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unknown price"))
		return
	}

	trialed, err := s.Subscriptions.HasTrialed(ctx, claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to load subscription"))
		return
	}
	if trialed {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Free trial already used"))
		return
	}
	active, err := s.Subscriptions.GetActive(ctx, claims.ID)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to load subscription"))
		return
	}
	if active != nil {
		resp.WriteError(w, r, resp.ErrConflict().AddMessages("Subscription already active"))
		return
	}

	cust, err := s.Customers.GetOrCreate(ctx, claims.ID, claims.Email)
	if err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to setup customer"))
		return
	}

	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Customer: stripe.String(cust.StripeCustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{
				Price: stripe.String(priceID),
			},
		},
		TrialPeriodDays: stripe.Int64(s.FreeTrialDays),
	}
	params.AddMetadata("user_id", claims.ID)
	params.SetIdempotencyKey("trial:" + claims.ID)

	sub, err := s.StripeSubscriptions.New(params)
	if err != nil {
		logger.Error("Unable to create trial subscription in Stripe",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to start trial"))
		return
	}

	rec := RecordFromStripe(sub, claims.ID)
	if rec.TrialEndsAt == nil {
		trialEnd := s.Now().UTC().Add(time.Duration(s.FreeTrialDays) * 24 * time.Hour).Truncate(time.Second)
		rec.TrialEndsAt = &trialEnd
	}
	if len(rec.Status) == 0 {
		rec.Status = subscription.StatusTrialing
	}
	if rec.CurrentPeriodEnd == nil {
		rec.CurrentPeriodEnd = rec.TrialEndsAt
	}
	if err := s.Subscriptions.Upsert(ctx, rec); err != nil {
		resp.WriteError(w, r, resp.ErrUnexpected().AddMessages("Unable to record trial"))
		return
	}
	s.invalidate(ctx, claims.ID)

	logger.Info("Trial started",
		zap.String("StripeSubscriptionID", sub.ID),
		zap.String("PriceID", priceID),
		zap.Time("TrialEndsAt", *rec.TrialEndsAt),
	)

	resp.WriteResponse(w, r, TrialResponse{
		Status:         "ok",
		TrialEndsAt:    *rec.TrialEndsAt,
		SubscriptionID: sub.ID,
	})
}
