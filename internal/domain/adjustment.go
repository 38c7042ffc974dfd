package domain

import (
	"strings"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// PriceEpsilon — изменение цены за пачку не больше этой величины считается шумом.
var PriceEpsilon = money.FromMinor(1)

// ItemPriceChange — изменение цены одной позиции в корректировке.
type ItemPriceChange struct {
	ItemID          string      `json:"item_id"`
	OldPricePerPack money.Money `json:"old_price_per_pack"`
	NewPricePerPack money.Money `json:"new_price_per_pack"`
	OldAmount       money.Money `json:"old_amount"`
	NewAmount       money.Money `json:"new_amount"`
}

// PriceAdjustment — неизменяемая запись аудита корректировки цен.
type PriceAdjustment struct {
	ID                       string            `json:"id"`
	OrderID                  string            `json:"order_id"`
	PreviousAmount           money.Money       `json:"previous_amount"`
	AdjustedAmount           money.Money       `json:"adjusted_amount"`
	Reason                   string            `json:"reason"`
	SupplierInvoiceReference string            `json:"supplier_invoice_reference,omitempty"`
	AdjustedBy               string            `json:"adjusted_by"`
	ItemChanges              []ItemPriceChange `json:"item_changes"`
	CreatedAt                time.Time         `json:"created_at"`
}

// AdjustmentInput — предложенные цены за пачку по ID позиции.
type AdjustmentInput struct {
	NewPrices  map[string]money.Money
	Reason     string
	InvoiceRef string
	AdjustedBy string
}

// AdjustPrices применяет новые цены к позициям и возвращает запись аудита.
//
// Порядок проверок: блокировка, неизвестные позиции и отрицательные цены,
// отсутствие изменений, причина. Позиции, чья цена сдвинулась не больше чем на
// PriceEpsilon, сохраняют текущие цену и сумму.
func (o *Order) AdjustPrices(adjustmentID string, in AdjustmentInput, now time.Time) (PriceAdjustment, error) {
	if o.PriceAdjustmentsLocked {
		return PriceAdjustment{}, &LockedError{OrderID: o.ID, SupplierStatus: o.SupplierStatus}
	}

	for itemID, price := range in.NewPrices {
		if _, ok := o.Item(itemID); !ok {
			return PriceAdjustment{}, &NotFoundError{Entity: EntityItem, ID: itemID}
		}
		if price.IsNegative() {
			return PriceAdjustment{}, NewValidationError("price_per_pack", "must be non-negative for item "+itemID)
		}
	}

	items := cloneItems(o.Items)
	var changes []ItemPriceChange
	for i, item := range items {
		newPrice, ok := in.NewPrices[item.ID]
		if !ok || newPrice.Sub(item.PricePerPack).Abs().Cmp(PriceEpsilon) <= 0 {
			continue
		}
		newAmount, err := newPrice.MulInt(item.Packs)
		if err != nil {
			return PriceAdjustment{}, NewValidationError("price_per_pack", "line amount is out of range for item "+item.ID)
		}
		changes = append(changes, ItemPriceChange{
			ItemID:          item.ID,
			OldPricePerPack: item.PricePerPack,
			NewPricePerPack: newPrice,
			OldAmount:       item.Amount,
			NewAmount:       newAmount,
		})
		items[i].PricePerPack = newPrice
		items[i].Amount = newAmount
	}
	if len(changes) == 0 {
		return PriceAdjustment{}, &NoChangeError{OrderID: o.ID}
	}

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return PriceAdjustment{}, NewValidationError("reason", "adjustment reason is required")
	}

	totals, err := RecomputeOrderTotals(items)
	if err != nil {
		return PriceAdjustment{}, err
	}
	newTotal := totals.TotalAmount
	adjustment := PriceAdjustment{
		ID:                       adjustmentID,
		OrderID:                  o.ID,
		PreviousAmount:           o.FinalAmount,
		AdjustedAmount:           newTotal,
		Reason:                   reason,
		SupplierInvoiceReference: strings.TrimSpace(in.InvoiceRef),
		AdjustedBy:               in.AdjustedBy,
		ItemChanges:              changes,
		CreatedAt:                now,
	}

	o.Items = items
	o.FinalAmount = newTotal
	o.refresh()
	o.touch(now)
	return adjustment, nil
}
