package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const orderColumns = `
	id, customer_id, customer_name,
	original_amount, final_amount, amount_paid, balance, payment_status,
	payment_confirmed, payment_confirmed_at, payment_confirmed_by,
	status, cancellation_reason, transport, dispatched_at, delivered_at,
	supplier_status, supplier_status_updated_at, order_raised_at, loaded_date,
	price_adjustments_locked, version, created_at, updated_at`

type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) Create(ctx context.Context, change domain.OrderChange) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order := change.Order
	transport, err := marshalTransport(order.Transport)
	if err != nil {
		return err
	}

	return r.store.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		`,
			order.ID, order.CustomerID, order.CustomerName,
			order.OriginalAmount.Decimal(), order.FinalAmount.Decimal(), order.AmountPaid.Decimal(), order.Balance.Decimal(), string(order.PaymentStatus),
			order.PaymentConfirmed, nullTime(order.PaymentConfirmedAt), order.PaymentConfirmedBy,
			string(order.Status), order.CancellationReason, transport, nullTime(order.DispatchedAt), nullTime(order.DeliveredAt),
			string(order.SupplierStatus), nullTime(order.SupplierStatusUpdatedAt), nullTime(order.OrderRaisedAt), nullTime(order.LoadedDate),
			order.PriceAdjustmentsLocked, order.Version, order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return errors.Wrap(err, "insert order")
		}

		if err := upsertItemsTx(ctx, tx, order); err != nil {
			return err
		}
		return appendLogsTx(ctx, tx, change)
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.store.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.OrderNotFound(id)
		}
		return domain.Order{}, errors.Wrap(err, "query order")
	}

	items, err := loadItems(ctx, r.store.db, []string{id})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[id]
	return order, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.store.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE ($1 = '' OR customer_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	defer rows.Close()

	result := make([]domain.Order, 0, limit)
	ids := make([]string, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		result = append(result, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate orders")
	}
	if len(ids) == 0 {
		return result, nil
	}

	items, err := loadItems(ctx, r.store.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range result {
		result[i].Items = items[result[i].ID]
	}
	return result, nil
}

func (r *orderRepository) Commit(ctx context.Context, change domain.OrderChange) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order := change.Order
	transport, err := marshalTransport(order.Transport)
	if err != nil {
		return err
	}

	return r.store.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET customer_name = $3,
			    original_amount = $4,
			    final_amount = $5,
			    amount_paid = $6,
			    balance = $7,
			    payment_status = $8,
			    payment_confirmed = $9,
			    payment_confirmed_at = $10,
			    payment_confirmed_by = $11,
			    status = $12,
			    cancellation_reason = $13,
			    transport = $14,
			    dispatched_at = $15,
			    delivered_at = $16,
			    supplier_status = $17,
			    supplier_status_updated_at = $18,
			    order_raised_at = $19,
			    loaded_date = $20,
			    price_adjustments_locked = $21,
			    updated_at = $22,
			    version = version + 1
			WHERE id = $1 AND version = $2
		`,
			order.ID, order.Version, order.CustomerName,
			order.OriginalAmount.Decimal(), order.FinalAmount.Decimal(), order.AmountPaid.Decimal(), order.Balance.Decimal(), string(order.PaymentStatus),
			order.PaymentConfirmed, nullTime(order.PaymentConfirmedAt), order.PaymentConfirmedBy,
			string(order.Status), order.CancellationReason, transport, nullTime(order.DispatchedAt), nullTime(order.DeliveredAt),
			string(order.SupplierStatus), nullTime(order.SupplierStatusUpdatedAt), nullTime(order.OrderRaisedAt), nullTime(order.LoadedDate),
			order.PriceAdjustmentsLocked, order.UpdatedAt.UTC(),
		)
		if err != nil {
			return errors.Wrap(err, "update order")
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "rows affected for order update")
		}
		if affected == 0 {
			exists, err := orderExistsTx(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.OrderNotFound(order.ID)
			}
			return &domain.ConcurrencyConflictError{OrderID: order.ID, ExpectedVersion: order.Version}
		}

		if err := upsertItemsTx(ctx, tx, order); err != nil {
			return err
		}
		return appendLogsTx(ctx, tx, change)
	})
}

func (r *orderRepository) History(ctx context.Context, orderID string) (domain.OrderHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var exists bool
	if err := r.store.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return domain.OrderHistory{}, errors.Wrap(err, "check order exists")
	}
	if !exists {
		return domain.OrderHistory{}, domain.OrderNotFound(orderID)
	}

	var (
		history domain.OrderHistory
		err     error
	)
	if history.Payments, err = loadPayments(ctx, r.store.db, orderID); err != nil {
		return domain.OrderHistory{}, err
	}
	if history.Adjustments, err = loadAdjustments(ctx, r.store.db, orderID); err != nil {
		return domain.OrderHistory{}, err
	}
	if history.Deliveries, err = loadDeliveries(ctx, r.store.db, orderID); err != nil {
		return domain.OrderHistory{}, err
	}
	if history.Timeline, err = loadTimeline(ctx, r.store.db, orderID); err != nil {
		return domain.OrderHistory{}, err
	}
	return history, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                 domain.Order
		paymentStatus, status, supplierStatus string
		transport                             []byte
		confirmedAt, dispatchedAt             sql.NullTime
		deliveredAt, supplierUpdatedAt        sql.NullTime
		orderRaisedAt, loadedDate             sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &order.CustomerName,
		&order.OriginalAmount, &order.FinalAmount, &order.AmountPaid, &order.Balance, &paymentStatus,
		&order.PaymentConfirmed, &confirmedAt, &order.PaymentConfirmedBy,
		&status, &order.CancellationReason, &transport, &dispatchedAt, &deliveredAt,
		&supplierStatus, &supplierUpdatedAt, &orderRaisedAt, &loadedDate,
		&order.PriceAdjustmentsLocked, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Status = domain.OrderStatus(status)
	order.SupplierStatus = domain.SupplierStatus(supplierStatus)
	order.PaymentConfirmedAt = timeFromNull(confirmedAt)
	order.DispatchedAt = timeFromNull(dispatchedAt)
	order.DeliveredAt = timeFromNull(deliveredAt)
	order.SupplierStatusUpdatedAt = timeFromNull(supplierUpdatedAt)
	order.OrderRaisedAt = timeFromNull(orderRaisedAt)
	order.LoadedDate = timeFromNull(loadedDate)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	if len(transport) > 0 {
		var assignment domain.TransportAssignment
		if err := json.Unmarshal(transport, &assignment); err != nil {
			return domain.Order{}, errors.Wrap(err, "decode transport assignment")
		}
		order.Transport = &assignment
	}
	return order, nil
}

// upsertItemsTx записывает позиции заказа; позиции меняются только при корректировке цен.
func upsertItemsTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for position, item := range order.Items {
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = order.CreatedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				id, order_id, position, product_id, product_name, pallets, addon_packs,
				packs_per_pallet, price_per_pack, packs, amount, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (id) DO UPDATE
			SET pallets = EXCLUDED.pallets,
			    addon_packs = EXCLUDED.addon_packs,
			    packs_per_pallet = EXCLUDED.packs_per_pallet,
			    price_per_pack = EXCLUDED.price_per_pack,
			    packs = EXCLUDED.packs,
			    amount = EXCLUDED.amount
			WHERE order_items.order_id = EXCLUDED.order_id
		`,
			item.ID, order.ID, position, item.ProductID, item.ProductName, item.Pallets, item.AddonPacks,
			item.PacksPerPallet, item.PricePerPack.Decimal(), item.Packs, item.Amount.Decimal(), createdAt.UTC(),
		); err != nil {
			return errors.Wrapf(err, "upsert order item %s", item.ID)
		}
	}
	return nil
}

func loadItems(ctx context.Context, db *sql.DB, orderIDs []string) (map[string][]domain.OrderItem, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT order_id, id, product_id, product_name, pallets, addon_packs,
		       packs_per_pallet, price_per_pack, packs, amount, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	result := make(map[string][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := rows.Scan(
			&orderID, &item.ID, &item.ProductID, &item.ProductName, &item.Pallets, &item.AddonPacks,
			&item.PacksPerPallet, &item.PricePerPack, &item.Packs, &item.Amount, &item.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		item.CreatedAt = item.CreatedAt.UTC()
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate order items")
	}
	return result, nil
}

// appendLogsTx дописывает журналы и outbox в той же транзакции, что и снимок заказа.
func appendLogsTx(ctx context.Context, tx *sql.Tx, change domain.OrderChange) error {
	if p := change.Payment; p != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payment_events (id, order_id, amount, method, reference, received_by, notes, received_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, p.ID, p.OrderID, p.Amount.Decimal(), string(p.Method), p.Reference, p.ReceivedBy, p.Notes, p.ReceivedAt.UTC()); err != nil {
			return errors.Wrap(err, "insert payment event")
		}
	}

	if a := change.Adjustment; a != nil {
		changes, err := json.Marshal(a.ItemChanges)
		if err != nil {
			return errors.Wrap(err, "encode item changes")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_adjustments (
				id, order_id, previous_amount, adjusted_amount, reason,
				supplier_invoice_reference, adjusted_by, item_changes, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, a.ID, a.OrderID, a.PreviousAmount.Decimal(), a.AdjustedAmount.Decimal(), a.Reason,
			a.SupplierInvoiceReference, a.AdjustedBy, changes, a.CreatedAt.UTC()); err != nil {
			return errors.Wrap(err, "insert price adjustment")
		}
	}

	if d := change.Delivery; d != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO delivery_records (
				id, order_id, outcome, delivered_pallets, delivered_packs, delivered_by,
				notes, partial_delivery_reason, non_delivery_reason, recorded_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, d.ID, d.OrderID, string(d.Outcome), d.DeliveredPallets, d.DeliveredPacks, d.DeliveredBy,
			d.Notes, d.PartialDeliveryReason, d.NonDeliveryReason, d.RecordedAt.UTC()); err != nil {
			return errors.Wrap(err, "insert delivery record")
		}
	}

	for _, event := range change.Timeline {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO timeline_events (order_id, event_type, actor, reason, occurred_at)
			VALUES ($1,$2,$3,$4,$5)
		`, event.OrderID, event.Type, event.Actor, event.Reason, event.Occurred.UTC()); err != nil {
			return errors.Wrap(err, "insert timeline event")
		}
	}

	for _, msg := range change.Outbox {
		if err := enqueueOutboxTx(ctx, tx, msg); err != nil {
			return err
		}
	}
	return nil
}

func loadPayments(ctx context.Context, db *sql.DB, orderID string) ([]domain.PaymentEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, amount, method, reference, received_by, notes, received_at
		FROM payment_events
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query payment events")
	}
	defer rows.Close()

	result := make([]domain.PaymentEvent, 0)
	for rows.Next() {
		var (
			p      domain.PaymentEvent
			method string
		)
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Amount, &method, &p.Reference, &p.ReceivedBy, &p.Notes, &p.ReceivedAt); err != nil {
			return nil, errors.Wrap(err, "scan payment event")
		}
		p.Method = domain.PaymentMethod(method)
		p.ReceivedAt = p.ReceivedAt.UTC()
		result = append(result, p)
	}
	return result, errors.Wrap(rows.Err(), "iterate payment events")
}

func loadAdjustments(ctx context.Context, db *sql.DB, orderID string) ([]domain.PriceAdjustment, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, previous_amount, adjusted_amount, reason,
		       supplier_invoice_reference, adjusted_by, item_changes, created_at
		FROM price_adjustments
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query price adjustments")
	}
	defer rows.Close()

	result := make([]domain.PriceAdjustment, 0)
	for rows.Next() {
		var (
			a       domain.PriceAdjustment
			changes []byte
		)
		if err := rows.Scan(&a.ID, &a.OrderID, &a.PreviousAmount, &a.AdjustedAmount, &a.Reason,
			&a.SupplierInvoiceReference, &a.AdjustedBy, &changes, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan price adjustment")
		}
		if err := json.Unmarshal(changes, &a.ItemChanges); err != nil {
			return nil, errors.Wrap(err, "decode item changes")
		}
		a.CreatedAt = a.CreatedAt.UTC()
		result = append(result, a)
	}
	return result, errors.Wrap(rows.Err(), "iterate price adjustments")
}

func loadDeliveries(ctx context.Context, db *sql.DB, orderID string) ([]domain.DeliveryRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, order_id, outcome, delivered_pallets, delivered_packs, delivered_by,
		       notes, partial_delivery_reason, non_delivery_reason, recorded_at
		FROM delivery_records
		WHERE order_id = $1
		ORDER BY seq
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query delivery records")
	}
	defer rows.Close()

	result := make([]domain.DeliveryRecord, 0)
	for rows.Next() {
		var (
			d       domain.DeliveryRecord
			outcome string
		)
		if err := rows.Scan(&d.ID, &d.OrderID, &outcome, &d.DeliveredPallets, &d.DeliveredPacks, &d.DeliveredBy,
			&d.Notes, &d.PartialDeliveryReason, &d.NonDeliveryReason, &d.RecordedAt); err != nil {
			return nil, errors.Wrap(err, "scan delivery record")
		}
		d.Outcome = domain.DeliveryOutcome(outcome)
		d.RecordedAt = d.RecordedAt.UTC()
		result = append(result, d)
	}
	return result, errors.Wrap(rows.Err(), "iterate delivery records")
}

func orderExistsTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "check order exists")
	}
	return exists, nil
}

func marshalTransport(t *domain.TransportAssignment) (any, error) {
	if t == nil {
		return nil, nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "encode transport assignment")
	}
	return raw, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeFromNull(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ domain.OrderRepository = (*orderRepository)(nil)
