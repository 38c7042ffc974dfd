package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

// CatalogRepository — каталог товаров поставщика в таблице products.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogService.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

// Lookup возвращает параметры товара или NotFoundError.
func (r *CatalogRepository) Lookup(ctx context.Context, productID string) (domain.CatalogEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		entry domain.CatalogEntry
		price decimal.Decimal
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, packs_per_pallet, price_per_pack
		FROM products
		WHERE id = $1
	`, productID).Scan(&entry.ProductID, &entry.Name, &entry.PacksPerPallet, &price)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogEntry{}, &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
		}
		return domain.CatalogEntry{}, errors.Wrap(err, "lookup product")
	}

	entry.PricePerPack, err = money.FromDecimal(price)
	if err != nil {
		return domain.CatalogEntry{}, errors.Wrapf(err, "product %s price", productID)
	}
	return entry, nil
}

// Upsert добавляет товар или обновляет его параметры.
func (r *CatalogRepository) Upsert(ctx context.Context, entry domain.CatalogEntry) error {
	if entry.ProductID == "" {
		return domain.NewValidationError("product_id", "is required")
	}
	if entry.PacksPerPallet < 1 {
		return domain.NewValidationError("packs_per_pallet", "must be at least 1")
	}
	if entry.PricePerPack.IsNegative() {
		return domain.NewValidationError("price_per_pack", "must be non-negative")
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, name, packs_per_pallet, price_per_pack, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    packs_per_pallet = EXCLUDED.packs_per_pallet,
		    price_per_pack = EXCLUDED.price_per_pack,
		    updated_at = EXCLUDED.updated_at
	`, entry.ProductID, entry.Name, entry.PacksPerPallet, entry.PricePerPack.Decimal(), time.Now().UTC()); err != nil {
		return errors.Wrap(err, "upsert product")
	}
	return nil
}

var _ domain.CatalogService = (*CatalogRepository)(nil)
