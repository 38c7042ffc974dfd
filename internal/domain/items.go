package domain

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// OrderItem — одна строка заказа: паллеты, добавочные пачки и цена за пачку.
type OrderItem struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Pallets     int64  `json:"pallets"`
	AddonPacks  int64  `json:"addon_packs"`
	// PacksPerPallet и PricePerPack — последние применённые значения из каталога/корректировок.
	PacksPerPallet int64       `json:"packs_per_pallet"`
	PricePerPack   money.Money `json:"price_per_pack"`
	// Packs и Amount вычисляются, клиент их не передаёт.
	Packs     int64       `json:"packs"`
	Amount    money.Money `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

// OrderTotals — агрегаты по позициям.
type OrderTotals struct {
	TotalPallets int64       `json:"total_pallets"`
	TotalPacks   int64       `json:"total_packs"`
	TotalAmount  money.Money `json:"total_amount"`
}

// RecomputeLine пересчитывает packs и amount позиции:
// packs = pallets * packsPerPallet + addonPacks, amount = packs * pricePerPack.
func RecomputeLine(item OrderItem, packsPerPallet int64, pricePerPack money.Money) (OrderItem, error) {
	if item.Pallets < 0 {
		return OrderItem{}, NewValidationError("pallets", "must be non-negative")
	}
	if item.AddonPacks < 0 {
		return OrderItem{}, NewValidationError("addon_packs", "must be non-negative")
	}
	if packsPerPallet < 1 {
		return OrderItem{}, NewValidationError("packs_per_pallet", "must be at least 1")
	}
	if pricePerPack.IsNegative() {
		return OrderItem{}, NewValidationError("price_per_pack", "must be non-negative")
	}

	packs, ok := packCount(item.Pallets, packsPerPallet, item.AddonPacks)
	if !ok {
		return OrderItem{}, NewValidationError("packs", "pack count is out of range")
	}
	if packs < 1 {
		return OrderItem{}, NewValidationError("packs", "item must contain at least one pack")
	}

	item.PacksPerPallet = packsPerPallet
	item.PricePerPack = pricePerPack
	item.Packs = packs
	amount, err := pricePerPack.MulInt(packs)
	if err != nil {
		return OrderItem{}, NewValidationError("amount", "line amount is out of range")
	}
	item.Amount = amount
	return item, nil
}

// packCount считает pallets * packsPerPallet + addonPacks; false при переполнении int64.
func packCount(pallets, packsPerPallet, addonPacks int64) (int64, bool) {
	packs, ok := money.MulInt64(pallets, packsPerPallet)
	if !ok {
		return 0, false
	}
	return money.AddInt64(packs, addonPacks)
}

// RecomputeOrderTotals суммирует паллеты, пачки и суммы по всем позициям.
// Переполнение любого итога возвращается как ValidationError.
func RecomputeOrderTotals(items []OrderItem) (OrderTotals, error) {
	var (
		totals OrderTotals
		ok     bool
		err    error
	)
	for _, item := range items {
		if totals.TotalPallets, ok = money.AddInt64(totals.TotalPallets, item.Pallets); !ok {
			return OrderTotals{}, NewValidationError("pallets", "order pallet total is out of range")
		}
		if totals.TotalPacks, ok = money.AddInt64(totals.TotalPacks, item.Packs); !ok {
			return OrderTotals{}, NewValidationError("packs", "order pack total is out of range")
		}
		if totals.TotalAmount, err = totals.TotalAmount.Add(item.Amount); err != nil {
			return OrderTotals{}, NewValidationError("amount", "order total is out of range")
		}
	}
	return totals, nil
}

// lineConsistent проверяет, что сохранённые packs/amount соответствуют фактам строки.
func (i OrderItem) lineConsistent() bool {
	if i.Pallets < 0 || i.AddonPacks < 0 || i.Packs < 1 {
		return false
	}
	if packs, ok := packCount(i.Pallets, i.PacksPerPallet, i.AddonPacks); !ok || packs != i.Packs {
		return false
	}
	amount, err := i.PricePerPack.MulInt(i.Packs)
	return err == nil && i.Amount.Equal(amount)
}

func cloneItems(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}
