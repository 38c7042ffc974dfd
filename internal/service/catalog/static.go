package catalog

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// StaticCatalog — каталог поставщика в памяти, наполняемый из конфигурации.
type StaticCatalog struct {
	mu      sync.RWMutex
	entries map[string]domain.CatalogEntry

	// LookupErr позволяет тестам имитировать недоступность каталога.
	LookupErr error
	// LookupCalls считает обращения к каталогу.
	LookupCalls int
}

// NewStatic возвращает каталог с переданными товарами.
func NewStatic(entries ...domain.CatalogEntry) (*StaticCatalog, error) {
	c := &StaticCatalog{entries: make(map[string]domain.CatalogEntry, len(entries))}
	for _, entry := range entries {
		if err := c.Upsert(entry); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Upsert добавляет товар или обновляет его параметры.
func (c *StaticCatalog) Upsert(entry domain.CatalogEntry) error {
	if err := Validate(entry); err != nil {
		return err
	}
	entry.ProductID = strings.TrimSpace(entry.ProductID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[entry.ProductID] = entry
	return nil
}

// Lookup возвращает параметры товара или NotFoundError.
func (c *StaticCatalog) Lookup(_ context.Context, productID string) (domain.CatalogEntry, error) {
	c.mu.Lock()
	c.LookupCalls++
	lookupErr := c.LookupErr
	entry, ok := c.entries[strings.TrimSpace(productID)]
	c.mu.Unlock()

	if lookupErr != nil {
		return domain.CatalogEntry{}, lookupErr
	}
	if !ok {
		return domain.CatalogEntry{}, &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
	}
	return entry, nil
}

// Validate проверяет, что товар пригоден для расчёта строк заказа.
func Validate(entry domain.CatalogEntry) error {
	switch {
	case strings.TrimSpace(entry.ProductID) == "":
		return domain.NewValidationError("product_id", "is required")
	case entry.PacksPerPallet < 1:
		return domain.NewValidationError("packs_per_pallet", "must be at least 1")
	case entry.PricePerPack.IsNegative():
		return domain.NewValidationError("price_per_pack", "must be non-negative")
	default:
		return nil
	}
}

var _ domain.CatalogService = (*StaticCatalog)(nil)
