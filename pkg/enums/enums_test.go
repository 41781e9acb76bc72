package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrimsAndRejectsUnknown(t *testing.T) {
	status, err := ParseOrderStatus(" SHIPPING ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipping, status)

	_, err = ParseOrderStatus("shipping")
	assert.EqualError(t, err, `invalid order status "shipping"`)

	role, err := ParseMemberRole("admin")
	require.NoError(t, err)
	assert.True(t, role.IsStaff())
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusCompleted, OrderStatusCancelled, OrderStatusResolvedWithRefund} {
		assert.True(t, s.IsTerminal(), s)
	}
	for _, s := range []OrderStatus{OrderStatusDisputed, OrderStatusShipping, OrderStatusPaymentFailed} {
		assert.False(t, s.IsTerminal(), s)
	}
	assert.Equal(t, "BOGUS", OrderStatus("BOGUS").Description())
}

func TestTransactionTypeClassification(t *testing.T) {
	assert.True(t, TransactionTypeDeposit.IsEscrowed())
	assert.False(t, TransactionTypePackagePurchase.IsEscrowed())
	assert.True(t, TransactionTypePackagePurchase.IsPayment())
	assert.False(t, TransactionTypeRefund.IsPayment())
	assert.False(t, TransactionType("").IsPayment())
}

func TestDisputeStatusActive(t *testing.T) {
	assert.True(t, DisputeStatusInProgress.IsActive())
	assert.False(t, DisputeStatusCancelled.IsActive())
	assert.False(t, DisputeStatus("open").IsValid())
}
