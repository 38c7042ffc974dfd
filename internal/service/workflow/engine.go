// Package workflow — движок исполнения заказа: каждая изменяющая операция
// читает снимок, проверяет предусловия на нём и записывает новый снимок вместе
// с журналами одной атомарной единицей под optimistic locking.
package workflow

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	tracerName = "github.com/vladislavdragonenkov/fulfillment/internal/service/workflow"

	defaultListLimit = 50
	maxListLimit     = 500
)

// Названия операций для логов, метрик и трасс.
const (
	OpPlaceOrder        = "place_order"
	OpAdjustPrices      = "adjust_prices"
	OpRecordPayment     = "record_payment"
	OpConfirmPayment    = "confirm_payment"
	OpTransitionStatus  = "transition_status"
	OpCancelOrder       = "cancel_order"
	OpAssignTransport   = "assign_transport"
	OpRecordDelivery    = "record_delivery"
	OpSetSupplierStatus = "set_supplier_status"
)

// Option настраивает Engine.
type Option func(*Engine)

// WithTimeline подключает отдельное чтение журнала событий.
func WithTimeline(repo domain.TimelineRepository) Option {
	return func(e *Engine) { e.timeline = repo }
}

// WithLogger задаёт logger движка.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics задаёт метрики операций.
func WithMetrics(m *metrics.WorkflowMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer задаёт tracer; по умолчанию используется глобальный провайдер otel.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// WithIDGenerator подменяет генератор идентификаторов.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithRetryConfig задаёт политику повторов при конфликте версий.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(e *Engine) { e.retry = cfg }
}

// Engine — фасад движка исполнения заказа.
type Engine struct {
	orders   domain.OrderRepository
	catalog  domain.CatalogService
	timeline domain.TimelineRepository
	logger   *log.Entry
	metrics  *metrics.WorkflowMetrics
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
	retry    RetryConfig
}

// NewEngine создаёт движок поверх репозитория заказов и каталога поставщика.
func NewEngine(orders domain.OrderRepository, catalog domain.CatalogService, options ...Option) (*Engine, error) {
	if orders == nil {
		return nil, errors.New("workflow: order repository is required")
	}
	if catalog == nil {
		return nil, errors.New("workflow: catalog is required")
	}

	e := &Engine{
		orders:  orders,
		catalog: catalog,
		retry:   DefaultRetryConfig(),
	}
	for _, option := range options {
		option(e)
	}

	if e.logger == nil {
		e.logger = log.WithField("component", "workflow")
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	e.retry = e.retry.withDefaults()
	return e, nil
}

// mutator применяет изменение к рабочей копии заказа. Возвращает false, если
// операция оказалась no-op и записывать нечего.
type mutator func(cs *changeSet) (bool, error)

// mutate выполняет цикл чтение-проверка-запись с повтором при конфликте версий.
func (e *Engine) mutate(ctx context.Context, operation, orderID string, fn mutator) (order domain.Order, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow."+operation, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("workflow.operation", operation),
	))
	done := e.metrics.OperationStarted(operation)
	applied := false
	defer func() {
		e.finish(span, done, operation, orderID, applied, err)
	}()

	actor := domain.ActorFromContext(ctx)
	span.SetAttributes(attribute.String("workflow.actor", actor))

	var committed *changeSet
	err = e.retryOnConflict(ctx, operation, orderID, func(attempt int) error {
		current, err := e.load(ctx, orderID)
		if err != nil {
			return err
		}

		working := current.Clone()
		cs := &changeSet{order: &working, now: e.now(), actor: actor, newID: e.newID}
		changed, err := fn(cs)
		if err != nil {
			return err
		}
		if !changed {
			order, committed, applied = current, nil, false
			return nil
		}
		if violations := working.ValidateInvariants(); len(violations) > 0 {
			return errors.Wrap(errors.Join(violations...), "order invariants violated")
		}

		if err := e.orders.Commit(ctx, cs.build()); err != nil {
			if !domain.IsVersionConflict(err) {
				return errors.Wrap(err, "commit order")
			}
			span.AddEvent("version conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
			return err
		}

		working.Version++
		order, committed, applied = working, cs, true
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if committed != nil {
		e.recordCommitted(committed)
	}
	return order, nil
}

func (e *Engine) load(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := e.orders.Get(ctx, orderID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.Order{}, err
		}
		return domain.Order{}, errors.Wrap(err, "load order")
	}
	return order, nil
}

func (e *Engine) recordCommitted(cs *changeSet) {
	e.metrics.RecordCommitted(len(cs.timeline), len(cs.outbox))
	for _, t := range cs.transitions {
		e.metrics.RecordTransition(string(t[0]), string(t[1]))
	}
	if cs.payment != nil {
		e.metrics.RecordPayment(string(cs.payment.Method))
	}
	if cs.priceLocked {
		e.metrics.RecordPriceLock()
	}
}

// finish закрывает span, фиксирует метрику результата и пишет лог по классу ошибки.
func (e *Engine) finish(span trace.Span, done func(string), operation, orderID string, applied bool, err error) {
	defer span.End()

	fields := log.Fields{"operation": operation, "order_id": orderID}
	if err == nil {
		result := resultNoop
		if applied {
			result = resultApplied
		}
		span.SetAttributes(attribute.String("workflow.result", result))
		done(result)
		e.logger.WithFields(fields).WithField("result", result).Debug("operation completed")
		return
	}

	kind := domain.KindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("workflow.error_kind", string(kind)))

	switch kind {
	case domain.KindInternal:
		done(resultError)
		e.logger.WithError(err).WithFields(fields).Error("operation failed")
	case domain.KindConflict:
		done(resultError)
		e.logger.WithError(err).WithFields(fields).Warn("operation aborted by concurrent modification")
	default:
		done(resultRejected)
		e.logger.WithError(err).WithFields(fields).WithField("kind", kind).Info("operation rejected")
	}
}

// GetOrder возвращает текущий снимок заказа.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return e.load(ctx, orderID)
}

// ListOrders возвращает заказы клиента (всех клиентов, если customerID пуст), новые первыми.
func (e *Engine) ListOrders(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	orders, err := e.orders.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// History возвращает журналы платежей, корректировок, доставок и событий заказа.
func (e *Engine) History(ctx context.Context, orderID string) (domain.OrderHistory, error) {
	history, err := e.orders.History(ctx, orderID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return domain.OrderHistory{}, err
		}
		return domain.OrderHistory{}, errors.Wrap(err, "load order history")
	}
	return history, nil
}

// Timeline возвращает журнал событий заказа в хронологическом порядке.
func (e *Engine) Timeline(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if _, err := e.load(ctx, orderID); err != nil {
		return nil, err
	}
	if e.timeline == nil {
		history, err := e.History(ctx, orderID)
		if err != nil {
			return nil, err
		}
		return history.Timeline, nil
	}
	events, err := e.timeline.List(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list order timeline")
	}
	return events, nil
}

const (
	resultApplied  = metrics.ResultApplied
	resultNoop     = metrics.ResultNoop
	resultRejected = metrics.ResultRejected
	resultError    = metrics.ResultError
)
