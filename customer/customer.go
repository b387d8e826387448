package customer

import "time"

// Customer links a user to their Stripe customer
type Customer struct {
	UserID           string    `json:"userId" gorm:"primaryKey"`
	StripeCustomerID string    `json:"stripeCustomerId" gorm:"uniqueIndex;not null"`
	Email            string    `json:"email"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (Customer) TableName() string {
	return "billing_customers"
}
