package subscription

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store is the read side of the subscription store used by Checker
type Store interface {
	GetActive(ctx context.Context, userID string) (*Record, error)
}

// CheckerOptions contains the dependencies of Checker
type CheckerOptions struct {
	Store  Store
	Cache  *Cache
	Logger *zap.Logger
	Now    func() time.Time
}

// Checker answers "is this user a subscriber" with bounded staleness
type Checker struct {
	CheckerOptions
}

// NewChecker returns a Checker. A nil Cache gets a default one.
func NewChecker(option CheckerOptions) (*Checker, error) {
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	if option.Cache == nil {
		option.Cache = NewCache(CacheOptions{Now: option.Now})
	}
	return &Checker{
		CheckerOptions: option,
	}, nil
}

// IsSubscriber resolves the user's subscriber status, consulting the cache first.
// A store error resolves to false and is not cached, neither is an answer
// whose lookup overlapped an Invalidate.
func (c *Checker) IsSubscriber(ctx context.Context, userID string) bool {
	if len(userID) == 0 {
		return false
	}
	if v, ok := c.Cache.Get(userID); ok {
		return v
	}

	generation := c.Cache.Generation()
	rec, err := c.Store.GetActive(ctx, userID)
	if err != nil {
		c.Logger.Error("Cannot resolve subscription, treating as non-subscriber",
			zap.String("UserID", userID),
			zap.Error(err),
		)
		return false
	}

	isSubscriber := IsSubscriber(rec.Data(), c.Now())
	c.Cache.SetIfCurrent(userID, isSubscriber, generation)
	return isSubscriber
}

// Invalidate drops the cached answer for userID, called when a subscription changes
func (c *Checker) Invalidate(userID string) {
	c.Cache.Invalidate(userID)
}
