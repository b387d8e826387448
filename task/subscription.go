package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/testero/entitlement/billing"
	"github.com/testero/entitlement/broker"
	"github.com/testero/entitlement/subscription"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// define constants
const (
	DefaultInterval  = 15 * time.Minute
	DefaultBatchSize = 100
)

// SubscriptionStore is the part of subscription.Manager the task needs
type SubscriptionStore interface {
	ListStale(ctx context.Context, before time.Time, limit int) ([]subscription.Record, error)
	Upsert(ctx context.Context, rec *subscription.Record) error
	UpdateStatus(ctx context.Context, stripeSubscriptionID string, status subscription.Status) (*subscription.Record, error)
}

// StripeReader reads subscriptions from Stripe
type StripeReader interface {
	Get(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

type SubscriptionOptions struct {
	Subscriptions       SubscriptionStore
	StripeSubscriptions StripeReader
	Producer            broker.Producer
	Logger              *zap.Logger

	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

// SubscriptionTask re-reads from Stripe the subscriptions whose period or trial has lapsed locally
type SubscriptionTask struct {
	SubscriptionOptions
}

func NewSubscriptionTask(option SubscriptionOptions) (*SubscriptionTask, error) {
	if option.Subscriptions == nil {
		return nil, fmt.Errorf("nil Subscriptions is invalid")
	}
	if option.StripeSubscriptions == nil {
		return nil, fmt.Errorf("nil StripeSubscriptions is invalid")
	}
	if option.Producer == nil {
		return nil, fmt.Errorf("nil Producer is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = DefaultInterval
	}
	if option.BatchSize <= 0 {
		option.BatchSize = DefaultBatchSize
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &SubscriptionTask{
		SubscriptionOptions: option,
	}, nil
}

// Reconcile runs one pass and returns how many records were refreshed.
// Failures on individual records are logged and skipped.
func (t *SubscriptionTask) Reconcile(ctx context.Context) (int, error) {
	recs, err := t.Subscriptions.ListStale(ctx, t.Now(), t.BatchSize)
	if err != nil {
		return 0, extErrors.Wrap(err, "Cannot list stale subscriptions")
	}

	synced := 0
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		rec := &recs[i]
		logger := t.Logger.With(
			zap.String("UserID", rec.UserID),
			zap.String("StripeSubscriptionID", rec.StripeSubscriptionID),
		)

		sub, err := t.StripeSubscriptions.Get(rec.StripeSubscriptionID, &stripe.SubscriptionParams{
			Params: stripe.Params{
				Context: ctx,
			},
		})
		if isResourceMissing(err) {
			if _, err := t.Subscriptions.UpdateStatus(ctx, rec.StripeSubscriptionID, subscription.StatusCanceled); err != nil {
				logger.Error("Cannot cancel subscription missing from Stripe",
					zap.Error(err),
				)
				continue
			}
			t.publish(ctx, logger, rec.UserID)
			logger.Warn("Subscription no longer exists in Stripe, marked canceled")
			synced++
			continue
		}
		if err != nil {
			logger.Error("Cannot retrieve subscription from Stripe",
				zap.Error(err),
			)
			continue
		}

		fresh := billing.RecordFromStripe(sub, rec.UserID)
		if err := t.Subscriptions.Upsert(ctx, fresh); err != nil {
			logger.Error("Cannot update subscription",
				zap.Error(err),
			)
			continue
		}
		t.publish(ctx, logger, rec.UserID)
		logger.Info("Subscription reconciled",
			zap.String("PreviousStatus", string(rec.Status)),
			zap.String("Status", string(fresh.Status)),
		)
		synced++
	}
	return synced, nil
}

func (t *SubscriptionTask) publish(ctx context.Context, logger *zap.Logger, userID string) {
	if err := t.Producer.SendInvalidation(ctx, userID); err != nil {
		logger.Error("Cannot publish subscription invalidation",
			zap.Error(err),
		)
	}
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// HandleStripe runs Reconcile every Interval until ctx is done
func (t *SubscriptionTask) HandleStripe(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()
		for {
			if _, err := t.Reconcile(ctx); err != nil && ctx.Err() == nil {
				t.Logger.Error("Subscription reconciliation failed",
					zap.Error(err),
				)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
