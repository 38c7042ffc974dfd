package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

func TestRecomputeLine(t *testing.T) {
	tests := []struct {
		name           string
		item           OrderItem
		packsPerPallet int64
		price          money.Money
		wantPacks      int64
		wantAmount     string
		wantErr        bool
	}{
		{
			name:           "whole pallets",
			item:           OrderItem{Pallets: 10},
			packsPerPallet: 100,
			price:          money.FromUnits(500),
			wantPacks:      1000,
			wantAmount:     "500000.00",
		},
		{
			name:           "pallets with addon packs",
			item:           OrderItem{Pallets: 5, AddonPacks: 20},
			packsPerPallet: 50,
			price:          money.FromUnits(300),
			wantPacks:      270,
			wantAmount:     "81000.00",
		},
		{
			name:           "addon packs only",
			item:           OrderItem{AddonPacks: 3},
			packsPerPallet: 40,
			price:          money.MustParse("12.25"),
			wantPacks:      3,
			wantAmount:     "36.75",
		},
		{name: "negative pallets", item: OrderItem{Pallets: -1, AddonPacks: 5}, packsPerPallet: 10, price: money.FromUnits(1), wantErr: true},
		{name: "negative addon packs", item: OrderItem{Pallets: 1, AddonPacks: -1}, packsPerPallet: 10, price: money.FromUnits(1), wantErr: true},
		{name: "zero packs", item: OrderItem{}, packsPerPallet: 10, price: money.FromUnits(1), wantErr: true},
		{name: "zero packs per pallet", item: OrderItem{Pallets: 1}, packsPerPallet: 0, price: money.FromUnits(1), wantErr: true},
		{name: "negative price", item: OrderItem{Pallets: 1}, packsPerPallet: 10, price: money.FromMinor(-1), wantErr: true},
		{name: "pack count overflow", item: OrderItem{Pallets: 184467440737095517}, packsPerPallet: 100, price: money.FromUnits(500), wantErr: true},
		{name: "pack count overflow on addon", item: OrderItem{Pallets: math.MaxInt64 / 2, AddonPacks: math.MaxInt64 / 2}, packsPerPallet: 2, price: money.FromUnits(1), wantErr: true},
		{name: "amount overflow", item: OrderItem{Pallets: 1_000_000_000}, packsPerPallet: 100, price: money.FromUnits(1_000_000), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecomputeLine(tt.item, tt.packsPerPallet, tt.price)
			if tt.wantErr {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Packs != tt.wantPacks {
				t.Fatalf("packs = %d, want %d", got.Packs, tt.wantPacks)
			}
			if got.Amount.String() != tt.wantAmount {
				t.Fatalf("amount = %s, want %s", got.Amount, tt.wantAmount)
			}
			if got.PacksPerPallet != tt.packsPerPallet || !got.PricePerPack.Equal(tt.price) {
				t.Fatalf("last applied catalog values not stored: %+v", got)
			}
		})
	}
}

func TestRecomputeOrderTotals(t *testing.T) {
	items := []OrderItem{
		{Pallets: 10, Packs: 1000, Amount: money.FromUnits(500000)},
		{Pallets: 5, Packs: 270, Amount: money.FromUnits(81000)},
	}

	totals, err := RecomputeOrderTotals(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totals.TotalPallets != 15 || totals.TotalPacks != 1270 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if totals.TotalAmount.String() != "581000.00" {
		t.Fatalf("total amount = %s", totals.TotalAmount)
	}

	empty, err := RecomputeOrderTotals(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !empty.TotalAmount.IsZero() || empty.TotalPacks != 0 {
		t.Fatalf("expected zero totals, got %+v", empty)
	}
}

func TestRecomputeOrderTotals_Overflow(t *testing.T) {
	items := []OrderItem{
		{Pallets: 1, Packs: 1, Amount: money.FromMinor(math.MaxInt64)},
		{Pallets: 1, Packs: 1, Amount: money.FromMinor(1)},
	}
	_, err := RecomputeOrderTotals(items)
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Field != "amount" {
		t.Fatalf("expected amount ValidationError, got %v", err)
	}

	items = []OrderItem{{Packs: math.MaxInt64}, {Packs: 1}}
	if _, err := RecomputeOrderTotals(items); !errors.As(err, &validationErr) {
		t.Fatalf("expected packs ValidationError, got %v", err)
	}
}

func TestLineConsistent_DetectsWrappedPacks(t *testing.T) {
	item := OrderItem{Pallets: 184467440737095517, PacksPerPallet: 100, Packs: 84, PricePerPack: money.FromUnits(500), Amount: money.FromUnits(42000)}
	if item.lineConsistent() {
		t.Fatalf("wrapped pack count accepted as consistent")
	}
}
