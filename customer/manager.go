package customer

import (
	"context"
	"errors"
	"fmt"

	extErrors "github.com/pkg/errors"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StripeCustomers is the part of the Stripe customer API used by Manager
type StripeCustomers interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
}

// ManagerOptions contains the dependencies of Manager
type ManagerOptions struct {
	DB        *gorm.DB
	Logger    *zap.Logger
	Customers StripeCustomers
}

// Manager handles the database operations relating to Customers
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for customers
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Customers == nil {
		return nil, fmt.Errorf("nil Customers is invalid")
	}
	if err := option.DB.AutoMigrate(&Customer{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initilize customer.Manager")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// GetByUserID will try to return the customer of the user, nil if the user has none
func (m *Manager) GetByUserID(ctx context.Context, userID string) (*Customer, error) {
	var cust Customer

	result := m.DB.WithContext(ctx).First(&cust, "user_id = ?", userID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by user id")
	}

	return &cust, nil
}

// GetByStripeID will try to return the customer with the given Stripe customer id
func (m *Manager) GetByStripeID(ctx context.Context, stripeCustomerID string) (*Customer, error) {
	var cust Customer

	result := m.DB.WithContext(ctx).First(&cust, "stripe_customer_id = ?", stripeCustomerID)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get customer by stripe id")
	}

	return &cust, nil
}

// GetOrCreate returns the user's customer, creating it in Stripe and in the database on first use.
// Concurrent callers share one Stripe customer through the idempotency key.
func (m *Manager) GetOrCreate(ctx context.Context, userID, email string) (*Customer, error) {
	if len(userID) == 0 {
		return nil, fmt.Errorf("empty userID is invalid")
	}
	existing, err := m.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String("customer:" + userID),
		},
	}
	if len(email) > 0 {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID)

	c, err := m.Customers.New(params)
	if err != nil {
		m.Logger.Error("Stripe returned error",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot create a new Customer")
	}

	newCustomer := &Customer{
		UserID:           userID,
		StripeCustomerID: c.ID,
		Email:            email,
	}

	result := m.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(newCustomer)
	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot create a New Customer")
	}
	if result.RowsAffected == 0 {
		// lost the race to another request
		return m.GetByUserID(ctx, userID)
	}

	return newCustomer, nil
}
