package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExpirer struct {
	calls chan time.Time
}

func (c *countingExpirer) ExpireBonuses(_ context.Context, now time.Time) (int, error) {
	c.calls <- now
	return 0, nil
}

func TestExpiryScheduler(t *testing.T) {
	expirer := &countingExpirer{calls: make(chan time.Time, 4)}

	s, err := NewExpiryScheduler(expirer, "@every 1s")
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	select {
	case now := <-expirer.calls:
		assert.Equal(t, time.UTC, now.Location())
	case <-time.After(3 * time.Second):
		t.Fatal("expiry did not run")
	}
}

func TestExpiryScheduler_BadSpec(t *testing.T) {
	_, err := NewExpiryScheduler(&countingExpirer{}, "every tuesday")
	assert.Error(t, err)
}
