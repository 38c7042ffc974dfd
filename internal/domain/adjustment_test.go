package domain_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

func TestAdjustPrices(t *testing.T) {
	order := makeOrder(t)
	_, err := order.RecordPayment("pay-1", domain.PaymentInput{
		Amount:     money.FromUnits(500000),
		Method:     domain.PaymentMethodBankTransfer,
		ReceivedBy: "Jane",
	}, testNow)
	require.NoError(t, err)

	adjustment, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
		NewPrices: map[string]money.Money{
			"item-1": money.FromUnits(480),
			"item-2": money.FromUnits(300),
		},
		Reason:     "  supplier discount ",
		InvoiceRef: "INV-77",
		AdjustedBy: "pricing",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, "561000.00", order.FinalAmount.String())
	assert.Equal(t, "581000.00", order.OriginalAmount.String())
	assert.Equal(t, "61000.00", order.Balance.String())
	assert.Equal(t, domain.PaymentStatusPartial, order.PaymentStatus)
	assert.Equal(t, "480.00", order.Items[0].PricePerPack.String())
	assert.Empty(t, order.ValidateInvariants())

	assert.Equal(t, "adj-1", adjustment.ID)
	assert.Equal(t, "supplier discount", adjustment.Reason)
	assert.Equal(t, "INV-77", adjustment.SupplierInvoiceReference)
	assert.Equal(t, "581000.00", adjustment.PreviousAmount.String())
	assert.Equal(t, "561000.00", adjustment.AdjustedAmount.String())
	require.Len(t, adjustment.ItemChanges, 1, "only changed items are audited")
	change := adjustment.ItemChanges[0]
	assert.Equal(t, "item-1", change.ItemID)
	assert.Equal(t, "500.00", change.OldPricePerPack.String())
	assert.Equal(t, "480000.00", change.NewAmount.String())
	assert.Equal(t, "500000.00", change.OldAmount.String())
}

func TestAdjustPrices_ReachesExactPayment(t *testing.T) {
	order := makeOrder(t)
	_, err := order.RecordPayment("pay-1", domain.PaymentInput{
		Amount:     money.FromUnits(554000),
		Method:     domain.PaymentMethodCash,
		ReceivedBy: "Jane",
	}, testNow)
	require.NoError(t, err)

	_, err = order.AdjustPrices("adj-1", domain.AdjustmentInput{
		NewPrices: map[string]money.Money{"item-2": money.FromUnits(200)},
		Reason:    "damaged sheets",
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusConfirmed, order.PaymentStatus)
	assert.True(t, order.Balance.IsZero())
}

func TestAdjustPrices_Locked(t *testing.T) {
	order := makeOrder(t)
	_, err := order.SetSupplierStatus(domain.SupplierStatusInput{Status: domain.SupplierStatusOrderRaised}, testNow)
	require.NoError(t, err)
	before := order.Clone()

	_, err = order.AdjustPrices("adj-1", domain.AdjustmentInput{
		NewPrices: map[string]money.Money{"item-1": money.FromUnits(1)},
		Reason:    "late discount",
	}, testNow)

	var locked *domain.LockedError
	require.ErrorAs(t, err, &locked)
	assert.ErrorIs(t, err, domain.ErrPriceAdjustmentsLocked)
	assert.Equal(t, before.FinalAmount, order.FinalAmount)
	assert.Equal(t, before.Balance, order.Balance)
	assert.Equal(t, before.Items, order.Items)
}

func TestAdjustPrices_NoChangeWithinEpsilon(t *testing.T) {
	order := makeOrder(t)

	_, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
		NewPrices: map[string]money.Money{
			"item-1": money.MustParse("500.01"),
			"item-2": money.MustParse("299.99"),
		},
		Reason: "rounding",
	}, testNow)

	var noChange *domain.NoChangeError
	require.ErrorAs(t, err, &noChange)
	assert.Equal(t, "581000.00", order.FinalAmount.String())
	assert.Equal(t, "500.00", order.Items[0].PricePerPack.String())
}

func TestAdjustPrices_EpsilonItemsKeepCurrentPrice(t *testing.T) {
	order := makeOrder(t)

	adjustment, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
		NewPrices: map[string]money.Money{
			"item-1": money.MustParse("500.01"),
			"item-2": money.MustParse("310"),
		},
		Reason: "freight surcharge",
	}, testNow)
	require.NoError(t, err)

	require.Len(t, adjustment.ItemChanges, 1)
	assert.Equal(t, "item-2", adjustment.ItemChanges[0].ItemID)
	assert.Equal(t, "500.00", order.Items[0].PricePerPack.String())
	assert.Equal(t, "583700.00", order.FinalAmount.String())
}

func TestAdjustPrices_Validation(t *testing.T) {
	t.Run("blank reason", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
			NewPrices: map[string]money.Money{"item-1": money.FromUnits(400)},
			Reason:    " \t ",
		}, testNow)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, "581000.00", order.FinalAmount.String())
	})

	t.Run("unknown item", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
			NewPrices: map[string]money.Money{"item-404": money.FromUnits(400)},
			Reason:    "typo",
		}, testNow)
		require.ErrorIs(t, err, domain.ErrItemNotFound)
		assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	})

	t.Run("negative price", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
			NewPrices: map[string]money.Money{"item-1": money.FromMinor(-100)},
			Reason:    "refund",
		}, testNow)
		require.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("no change takes precedence over empty reason", func(t *testing.T) {
		order := makeOrder(t)
		_, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
			NewPrices: map[string]money.Money{"item-1": money.FromUnits(500)},
		}, testNow)
		require.ErrorIs(t, err, domain.ErrNoPriceChange)
	})
}

func TestAdjustPrices_RejectsOverflow(t *testing.T) {
	tests := []struct {
		name   string
		prices map[string]money.Money
	}{
		{
			name:   "line amount",
			prices: map[string]money.Money{"item-1": money.FromMinor(math.MaxInt64 / 100)},
		},
		{
			name: "order total",
			prices: map[string]money.Money{
				"item-1": money.FromMinor(math.MaxInt64 / 1000),
				"item-2": money.FromMinor(math.MaxInt64 / 270),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := makeOrder(t)
			_, err := order.AdjustPrices("adj-1", domain.AdjustmentInput{
				NewPrices:  tt.prices,
				Reason:     "typo in invoice",
				AdjustedBy: "pricing",
			}, testNow)

			var validationErr *domain.ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, "581000.00", order.FinalAmount.String())
			assert.Equal(t, "500.00", order.Items[0].PricePerPack.String())
			assert.Empty(t, order.ValidateInvariants())
		})
	}
}
