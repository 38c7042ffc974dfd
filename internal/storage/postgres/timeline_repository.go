package postgres

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
// Запись событий идёт через OrderRepository в одной транзакции с заказом.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return loadTimeline(ctx, r.db, orderID)
}

func loadTimeline(ctx context.Context, db *sql.DB, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT order_id, event_type, actor, reason, occurred_at
		FROM timeline_events
		WHERE order_id = $1
		ORDER BY occurred_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list timeline events")
	}
	defer rows.Close()

	events := make([]domain.TimelineEvent, 0)
	for rows.Next() {
		var event domain.TimelineEvent
		if err := rows.Scan(&event.OrderID, &event.Type, &event.Actor, &event.Reason, &event.Occurred); err != nil {
			return nil, errors.Wrap(err, "scan timeline event")
		}
		event.Occurred = event.Occurred.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate timeline events")
	}

	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
