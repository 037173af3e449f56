package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleEdges(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{StatusPendingPayment, StatusPaid, true},
		{StatusPendingPayment, StatusExpired, true},
		{StatusPendingPayment, StatusCancelled, true},
		{StatusPaid, StatusDelivering, true},
		{StatusDelivering, StatusCompleted, true},

		{StatusPaid, StatusPendingPayment, false},
		{StatusExpired, StatusPendingPayment, false},
		{StatusExpired, StatusPaid, false},
		{StatusCancelled, StatusPaid, false},
		{StatusPendingPayment, StatusCompleted, false},
		{StatusPaid, StatusCompleted, false},
		{StatusCompleted, StatusDelivering, false},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		}
	}
}

func TestNothingReturnsToPending(t *testing.T) {
	for from := range transitions {
		assert.False(t, from.CanTransitionTo(StatusPendingPayment), from)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPaid.Terminal())
	assert.False(t, OrderStatus("bogus").Terminal())
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("paid")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, st)

	_, err = ParseOrderStatus("refunded")
	assert.Error(t, err)
}
