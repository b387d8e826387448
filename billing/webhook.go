package billing

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
	resp "github.com/testero/entitlement/response"
	"github.com/testero/entitlement/subscription"
	"go.uber.org/zap"
)

const maxWebhookBody = 64 << 10

// Handled Stripe event types
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionCreated  = "customer.subscription.created"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

func (s *Service) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Unable to read body"))
		return
	}

	event, err := webhook.ConstructEvent(body, r.Header.Get("Stripe-Signature"), s.WebhookSecret)
	if err != nil {
		s.Logger.Warn("Rejected Stripe webhook",
			zap.Error(err),
		)
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages("Invalid signature"))
		return
	}

	logger := s.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("EventType", event.Type),
	)

	if err := s.handleEvent(r.Context(), logger, event); err != nil {
		logger.Error("Unable to process Stripe webhook",
			zap.Error(err),
		)
		// Stripe retries on 5xx
		resp.WriteError(w, r, resp.ErrUnexpected())
		return
	}

	resp.WriteResponse(w, r, map[string]bool{"received": true})
}

func (s *Service) handleEvent(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	switch event.Type {
	case EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return extErrors.Wrap(err, "Cannot parse checkout session")
		}
		return s.checkoutCompleted(ctx, logger, &cs)

	case EventSubscriptionCreated, EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return extErrors.Wrap(err, "Cannot parse subscription")
		}
		return s.syncSubscription(ctx, logger, &sub, "")

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return extErrors.Wrap(err, "Cannot parse subscription")
		}
		return s.setStatus(ctx, logger, sub.ID, subscription.StatusCanceled)

	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return extErrors.Wrap(err, "Cannot parse invoice")
		}
		if inv.Subscription == nil || len(inv.Subscription.ID) == 0 {
			logger.Debug("Invoice without subscription, ignoring")
			return nil
		}
		return s.setStatus(ctx, logger, inv.Subscription.ID, subscription.StatusPastDue)

	default:
		logger.Debug("Unhandled Stripe event")
		return nil
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, logger *zap.Logger, cs *stripe.CheckoutSession) error {
	if cs.Subscription == nil || len(cs.Subscription.ID) == 0 {
		logger.Info("Checkout session without subscription, ignoring")
		return nil
	}
	userID := cs.ClientReferenceID
	if len(userID) == 0 {
		userID = cs.Metadata["user_id"]
	}

	sub, err := s.StripeSubscriptions.Get(cs.Subscription.ID, &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	})
	if err != nil {
		return extErrors.Wrap(err, "Cannot retrieve subscription from Stripe")
	}
	return s.syncSubscription(ctx, logger, sub, userID)
}

// resolveUserID finds the owner of a Stripe subscription: metadata first, then our own records
func (s *Service) resolveUserID(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if userID := sub.Metadata["user_id"]; len(userID) > 0 {
		return userID, nil
	}
	existing, err := s.Subscriptions.GetByStripeID(ctx, sub.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.UserID, nil
	}
	if sub.Customer == nil || len(sub.Customer.ID) == 0 {
		return "", nil
	}
	cust, err := s.Customers.GetByStripeID(ctx, sub.Customer.ID)
	if err != nil {
		return "", err
	}
	if cust == nil {
		return "", nil
	}
	return cust.UserID, nil
}

func (s *Service) syncSubscription(ctx context.Context, logger *zap.Logger, sub *stripe.Subscription, userID string) error {
	logger = logger.With(zap.String("StripeSubscriptionID", sub.ID))

	if len(userID) == 0 {
		var err error
		userID, err = s.resolveUserID(ctx, sub)
		if err != nil {
			return err
		}
	}
	if len(userID) == 0 {
		logger.Warn("Cannot attribute subscription to a user, ignoring")
		return nil
	}

	rec := RecordFromStripe(sub, userID)
	if err := s.Subscriptions.Upsert(ctx, rec); err != nil {
		return err
	}
	logger.Info("Subscription synced",
		zap.String("UserID", userID),
		zap.String("Status", string(rec.Status)),
	)
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) setStatus(ctx context.Context, logger *zap.Logger, stripeSubscriptionID string, status subscription.Status) error {
	rec, err := s.Subscriptions.UpdateStatus(ctx, stripeSubscriptionID, status)
	if err != nil {
		return err
	}
	if rec == nil {
		logger.Info("Unknown subscription, ignoring",
			zap.String("StripeSubscriptionID", stripeSubscriptionID),
		)
		return nil
	}
	logger.Info("Subscription status changed",
		zap.String("UserID", rec.UserID),
		zap.String("Status", string(status)),
	)
	s.invalidate(ctx, rec.UserID)
	return nil
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// RecordFromStripe maps a Stripe subscription owned by userID onto a Record
func RecordFromStripe(sub *stripe.Subscription, userID string) *subscription.Record {
	rec := &subscription.Record{
		UserID:               userID,
		StripeSubscriptionID: sub.ID,
		Status:               subscription.Status(sub.Status),
		TrialEndsAt:          unixTime(sub.TrialEnd),
		CurrentPeriodStart:   unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		rec.StripeCustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		rec.PriceID = sub.Items.Data[0].Price.ID
	}
	return rec
}
