package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManagerOptions contains the dependencies of Manager
type ManagerOptions struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// Manager handles the database operations relating to user_subscriptions
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for subscription records
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if err := option.DB.AutoMigrate(&Record{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize subscription.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// GetActive returns the user's most recent active or trialing record, or nil if there is none
func (m *Manager) GetActive(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("status IN ?", []Status{StatusActive, StatusTrialing}).
		Order("updated_at desc").
		Limit(1).
		First(&rec)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get active subscription")
	}
	return &rec, nil
}

// GetLatest returns the user's most recently created record regardless of status, or nil
func (m *Manager) GetLatest(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	result := m.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Limit(1).
		First(&rec)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get latest subscription")
	}
	return &rec, nil
}

// GetByStripeID returns the record for a Stripe subscription id, or nil
func (m *Manager) GetByStripeID(ctx context.Context, stripeSubscriptionID string) (*Record, error) {
	var rec Record
	result := m.DB.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&rec)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot get subscription by stripe id")
	}
	return &rec, nil
}

// HasTrialed reports whether the user ever had a record with a trial
func (m *Manager) HasTrialed(ctx context.Context, userID string) (bool, error) {
	var count int64
	result := m.DB.WithContext(ctx).
		Model(&Record{}).
		Where("user_id = ?", userID).
		Where("trial_ends_at IS NOT NULL").
		Count(&count)
	if result.Error != nil {
		return false, extErrors.Wrap(result.Error, "Cannot count trial subscriptions")
	}
	return count > 0, nil
}

// Upsert inserts rec or, when a record with the same Stripe subscription id exists, overwrites its mutable fields
func (m *Manager) Upsert(ctx context.Context, rec *Record) error {
	if len(rec.StripeSubscriptionID) == 0 {
		return fmt.Errorf("Record.StripeSubscriptionID is required")
	}
	if len(rec.UserID) == 0 {
		return fmt.Errorf("Record.UserID is required")
	}
	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"stripe_customer_id",
				"price_id",
				"status",
				"trial_ends_at",
				"current_period_start",
				"current_period_end",
				"cancel_at_period_end",
				"updated_at",
			}),
		}).
		Create(rec)
	if result.Error != nil {
		m.Logger.Error("Unable to upsert subscription in database",
			zap.String("StripeSubscriptionID", rec.StripeSubscriptionID),
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot upsert subscription")
	}
	return nil
}

// UpdateStatus changes the status of the record with the given Stripe id and returns the updated record.
// It returns nil without error when no such record exists.
func (m *Manager) UpdateStatus(ctx context.Context, stripeSubscriptionID string, status Status) (*Record, error) {
	result := m.DB.WithContext(ctx).
		Model(&Record{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Update("status", status)
	if result.Error != nil {
		return nil, extErrors.Wrap(result.Error, "Cannot update subscription status")
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return m.GetByStripeID(ctx, stripeSubscriptionID)
}

// ListStale returns up to limit entitled or past-due records whose billing period or trial ended before the given time
func (m *Manager) ListStale(ctx context.Context, before time.Time, limit int) ([]Record, error) {
	var recs []Record
	result := m.DB.WithContext(ctx).
		Where("status IN ?", []Status{StatusActive, StatusTrialing, StatusPastDue}).
		Where("((current_period_end IS NOT NULL AND current_period_end < ?) OR (status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?))",
			before, StatusTrialing, before).
		Order("updated_at asc").
		Limit(limit).
		Find(&recs)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot list stale subscriptions")
	}
	return recs, nil
}
