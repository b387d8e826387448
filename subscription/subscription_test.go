package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsSubscriberNil(t *testing.T) {
	assert.False(t, IsSubscriber(nil, time.Now()))

	var r *Record
	assert.False(t, IsSubscriber(r.Data(), time.Now()))
}

func TestIsSubscriberMatrix(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	trialDates := map[string]*time.Time{
		"past":   &past,
		"future": &future,
		"null":   nil,
		"now":    &now,
	}

	for _, status := range Statuses {
		for name, trialEnd := range trialDates {
			want := false
			switch status {
			case StatusActive:
				want = true
			case StatusTrialing:
				want = name == "future"
			}
			got := IsSubscriber(&Data{Status: status, TrialEndsAt: trialEnd}, now)
			assert.Equal(t, want, got, "status=%s trial=%s", status, name)
		}
	}
}

func TestIsSubscriberUnknownStatus(t *testing.T) {
	future := time.Now().Add(time.Hour)
	assert.False(t, IsSubscriber(&Data{Status: "lifetime", TrialEndsAt: &future}, time.Now()))
}
