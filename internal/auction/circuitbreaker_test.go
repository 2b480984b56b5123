package auction_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivalapex/leadauction/internal/auction"
)

func TestCircuitBreakerOpensAfterMaxFailures(t *testing.T) {
	cb := auction.NewCircuitBreaker(3, time.Minute)
	failing := func() error { return errors.New("boom") }

	for i := 0; i < 3; i++ {
		err := cb.Call("buyer-1", failing)
		require.Error(t, err)
	}

	assert.Equal(t, auction.StateOpen, cb.State("buyer-1"))

	err := cb.Call("buyer-1", func() error { return nil })
	assert.Error(t, err, "breaker should reject calls while open regardless of fn")
}

func TestCircuitBreakerHalfOpensAfterResetTimeout(t *testing.T) {
	cb := auction.NewCircuitBreaker(1, 10*time.Millisecond)
	_ = cb.Call("buyer-2", func() error { return errors.New("boom") })
	require.Equal(t, auction.StateOpen, cb.State("buyer-2"))

	time.Sleep(20 * time.Millisecond)

	assert.True(t, cb.Allow("buyer-2"), "breaker should allow a probe once resetTimeout has elapsed")
	assert.Equal(t, auction.StateHalfOpen, cb.State("buyer-2"))
}

func TestCircuitBreakerClosesOnSuccessAfterHalfOpen(t *testing.T) {
	cb := auction.NewCircuitBreaker(1, 10*time.Millisecond)
	_ = cb.Call("buyer-3", func() error { return errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	err := cb.Call("buyer-3", func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, auction.StateClosed, cb.State("buyer-3"))
}

func TestCircuitBreakerCallReturnsUnderlyingError(t *testing.T) {
	cb := auction.NewCircuitBreaker(5, time.Minute)
	sentinel := errors.New("buyer returned 500")

	err := cb.Call("buyer-4", func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel, "Call must return fn's error unwrapped so timeout classification upstream still sees the real error")
}

func TestCircuitBreakerResetClearsState(t *testing.T) {
	cb := auction.NewCircuitBreaker(1, time.Minute)
	_ = cb.Call("buyer-5", func() error { return errors.New("boom") })
	require.Equal(t, auction.StateOpen, cb.State("buyer-5"))

	cb.Reset("buyer-5")
	assert.Equal(t, auction.StateClosed, cb.State("buyer-5"))
	assert.True(t, cb.Allow("buyer-5"))
}

func TestCircuitBreakerIndependentPerBuyer(t *testing.T) {
	cb := auction.NewCircuitBreaker(1, time.Minute)
	_ = cb.Call("buyer-6", func() error { return errors.New("boom") })

	assert.Equal(t, auction.StateOpen, cb.State("buyer-6"))
	assert.Equal(t, auction.StateClosed, cb.State("buyer-7"))
	assert.True(t, cb.Allow("buyer-7"))
}
