package subscription

import "time"

// Status mirrors Stripe's subscription status, plus "none" for users without a record
type Status string

// Defining the known Status values
const (
	StatusNone              Status = "none"
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Statuses lists every Status value
var Statuses = []Status{
	StatusNone,
	StatusActive,
	StatusTrialing,
	StatusPastDue,
	StatusCanceled,
	StatusIncomplete,
	StatusIncompleteExpired,
	StatusUnpaid,
	StatusPaused,
}

// Record is a row of user_subscriptions. Records are never deleted, cancellation only changes Status.
type Record struct {
	ID                   uint       `json:"-" gorm:"primaryKey"`
	UserID               string     `json:"userId" gorm:"not null;index"`
	StripeSubscriptionID string     `json:"-" gorm:"uniqueIndex"`
	StripeCustomerID     string     `json:"-" gorm:"index"`
	PriceID              string     `json:"priceId"`
	Status               Status     `json:"status" gorm:"not null;index"`
	TrialEndsAt          *time.Time `json:"trialEndsAt"`
	CurrentPeriodStart   *time.Time `json:"currentPeriodStart"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd"`
	CancelAtPeriodEnd    bool       `json:"cancelAtPeriodEnd" gorm:"not null;default:false"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// TableName pins the table name shared with the rest of the platform
func (Record) TableName() string {
	return "user_subscriptions"
}

// Data is the minimal projection needed to decide subscriber status
type Data struct {
	Status      Status
	TrialEndsAt *time.Time
}

// Data projects the Record down to the fields IsSubscriber needs
func (r *Record) Data() *Data {
	if r == nil {
		return nil
	}
	return &Data{
		Status:      r.Status,
		TrialEndsAt: r.TrialEndsAt,
	}
}

// IsSubscriber reports whether d entitles its owner to unrestricted access at time now.
// Active always counts; trialing counts only while the trial end is set and strictly after now.
func IsSubscriber(d *Data, now time.Time) bool {
	if d == nil {
		return false
	}
	switch d.Status {
	case StatusActive:
		return true
	case StatusTrialing:
		return d.TrialEndsAt != nil && d.TrialEndsAt.After(now)
	default:
		return false
	}
}
