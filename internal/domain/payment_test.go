package domain_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

func TestDerivePaymentStatus(t *testing.T) {
	final := money.FromUnits(100000)

	tests := []struct {
		name string
		paid money.Money
		want domain.PaymentStatus
	}{
		{name: "nothing paid", paid: money.Zero, want: domain.PaymentStatusPending},
		{name: "partial", paid: money.MustParse("99999.99"), want: domain.PaymentStatusPartial},
		{name: "exact", paid: final, want: domain.PaymentStatusConfirmed},
		{name: "over", paid: money.MustParse("100000.01"), want: domain.PaymentStatusOverpaid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, domain.DerivePaymentStatus(tt.paid, final))
		})
	}
}

func TestDerivePaymentStatus_Randomized(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		final := money.FromMinor(rnd.Int63n(1_000_000_00))
		var paid money.Money
		switch rnd.Intn(4) {
		case 0:
			paid = money.Zero
		case 1:
			paid = final
		case 2:
			paid = money.FromMinor(final.Minor() + rnd.Int63n(10_000) + 1)
		default:
			paid = money.FromMinor(rnd.Int63n(final.Minor() + 1))
		}

		got := domain.DerivePaymentStatus(paid, final)
		var want domain.PaymentStatus
		switch {
		case paid.IsZero():
			want = domain.PaymentStatusPending
		case paid.Minor() < final.Minor():
			want = domain.PaymentStatusPartial
		case paid.Minor() == final.Minor():
			want = domain.PaymentStatusConfirmed
		default:
			want = domain.PaymentStatusOverpaid
		}
		require.Equal(t, want, got, "paid=%s final=%s", paid, final)
	}
}

func TestRecordPayment(t *testing.T) {
	order := makeOrder(t)

	event, err := order.RecordPayment("pay-1", domain.PaymentInput{
		Amount:     money.FromUnits(581000),
		Method:     domain.PaymentMethodBankTransfer,
		Reference:  " TRX-1 ",
		ReceivedBy: "Jane",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, "pay-1", event.ID)
	assert.Equal(t, "order-1", event.OrderID)
	assert.Equal(t, "TRX-1", event.Reference)
	assert.Equal(t, domain.PaymentStatusConfirmed, order.PaymentStatus)
	assert.True(t, order.Balance.IsZero())
	assert.Empty(t, order.ValidateInvariants())
}

func TestRecordPayment_OverpaymentIsFlagged(t *testing.T) {
	order := makeOrder(t)

	_, err := order.RecordPayment("pay-1", domain.PaymentInput{
		Amount:     money.FromUnits(600000),
		Method:     domain.PaymentMethodCash,
		ReceivedBy: "Jane",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusOverpaid, order.PaymentStatus)
	assert.Equal(t, "-19000.00", order.Balance.String())
}

func TestRecordPayment_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input domain.PaymentInput
		field string
	}{
		{name: "zero amount", input: domain.PaymentInput{Amount: money.Zero, Method: domain.PaymentMethodCash, ReceivedBy: "Jane"}, field: "amount"},
		{name: "negative amount", input: domain.PaymentInput{Amount: money.FromMinor(-5), Method: domain.PaymentMethodCash, ReceivedBy: "Jane"}, field: "amount"},
		{name: "unknown method", input: domain.PaymentInput{Amount: money.FromUnits(1), Method: "CRYPTO", ReceivedBy: "Jane"}, field: "method"},
		{name: "no receiver", input: domain.PaymentInput{Amount: money.FromUnits(1), Method: domain.PaymentMethodPOS, ReceivedBy: "   "}, field: "received_by"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := makeOrder(t)
			_, err := order.RecordPayment("pay", tt.input, testNow)

			var validationErr *domain.ValidationError
			require.True(t, errors.As(err, &validationErr), "got %v", err)
			assert.Equal(t, tt.field, validationErr.Field)
			assert.True(t, order.AmountPaid.IsZero())
		})
	}
}

func TestConfirmPayment(t *testing.T) {
	t.Run("balance zero", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.RecordPayment("pay-1", domain.PaymentInput{Amount: order.FinalAmount, Method: domain.PaymentMethodBankTransfer, ReceivedBy: "Jane"}, testNow)
		require.NoError(t, err)

		changed, err := order.ConfirmPayment("accountant", testNow)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.True(t, order.PaymentConfirmed)
		assert.Equal(t, "accountant", order.PaymentConfirmedBy)

		changed, err = order.ConfirmPayment("accountant", testNow)
		require.NoError(t, err)
		assert.False(t, changed, "second confirmation must be a no-op")
	})

	t.Run("one cent short", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.RecordPayment("pay-1", domain.PaymentInput{
			Amount:     order.FinalAmount.Sub(money.FromMinor(1)),
			Method:     domain.PaymentMethodBankTransfer,
			ReceivedBy: "Jane",
		}, testNow)
		require.NoError(t, err)

		_, err = order.ConfirmPayment("accountant", testNow)
		var incomplete *domain.IncompletePaymentError
		require.ErrorAs(t, err, &incomplete)
		assert.Equal(t, "0.01", incomplete.Balance.String())
		assert.ErrorIs(t, err, domain.ErrIncompletePayment)
		assert.False(t, order.PaymentConfirmed)
	})

	t.Run("overpaid", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.RecordPayment("pay-1", domain.PaymentInput{
			Amount:     money.FromMinor(order.FinalAmount.Minor() + 100),
			Method:     domain.PaymentMethodMobileMoney,
			ReceivedBy: "Jane",
		}, testNow)
		require.NoError(t, err)

		_, err = order.ConfirmPayment("accountant", testNow)
		require.ErrorIs(t, err, domain.ErrIncompletePayment)
		assert.Contains(t, err.Error(), "overpaid")
	})

	t.Run("later payment clears stale confirmation", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.RecordPayment("pay-1", domain.PaymentInput{Amount: order.FinalAmount, Method: domain.PaymentMethodCheck, ReceivedBy: "Jane"}, testNow)
		require.NoError(t, err)
		_, err = order.ConfirmPayment("accountant", testNow)
		require.NoError(t, err)

		_, err = order.RecordPayment("pay-2", domain.PaymentInput{Amount: money.FromUnits(5), Method: domain.PaymentMethodCheck, ReceivedBy: "Jane"}, testNow)
		require.NoError(t, err)
		assert.False(t, order.PaymentConfirmed)
		assert.Nil(t, order.PaymentConfirmedAt)
	})
}

func TestParsePaymentMethod(t *testing.T) {
	method, err := domain.ParsePaymentMethod(" bank_transfer ")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentMethodBankTransfer, method)

	_, err = domain.ParsePaymentMethod("barter")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecordPayment_AmountPaidOverflow(t *testing.T) {
	order := makeOrder(t)
	order.AmountPaid = money.FromMinor(math.MaxInt64 - 10)

	_, err := order.RecordPayment("pay-1", domain.PaymentInput{
		Amount:     money.FromUnits(1),
		Method:     domain.PaymentMethodBankTransfer,
		ReceivedBy: "Jane",
	}, testNow)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "amount", validationErr.Field)
	assert.Equal(t, int64(math.MaxInt64-10), order.AmountPaid.Minor(), "failed payment must not touch the order")
}
