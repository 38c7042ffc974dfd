package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// SupplierFeedActor подставляется в журнал, если отчёт поставщика не подписан.
const SupplierFeedActor = "supplier-feed"

// SupplierStatusUpdater применяет статус поставщика к заказу.
type SupplierStatusUpdater interface {
	SetSupplierStatus(ctx context.Context, orderID string, in domain.SupplierStatusInput) (domain.Order, error)
}

// NewSupplierStatusHandler возвращает обработчик topic статусов поставщика.
// Бизнес-ошибки (неизвестный заказ или статус) повтором не исправить,
// поэтому они помечаются Permanent; конфликты и сбои хранилища повторяются.
func NewSupplierStatusHandler(updater SupplierStatusUpdater) MessageHandler {
	logger := log.WithField("component", "supplier-status-handler")

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		msg, err := ParseSupplierStatusMessage(message)
		if err != nil {
			return Permanent(err)
		}
		status, err := domain.ParseSupplierStatus(msg.Status)
		if err != nil {
			return Permanent(err)
		}

		actor := msg.ReportedBy
		if actor == "" {
			actor = SupplierFeedActor
		}
		ctx = domain.WithActor(ctx, actor)

		order, err := updater.SetSupplierStatus(ctx, msg.OrderID, domain.SupplierStatusInput{
			Status:        status,
			OrderRaisedAt: msg.OrderRaisedAt,
			LoadedDate:    msg.LoadedDate,
		})
		if err != nil {
			switch domain.KindOf(err) {
			case domain.KindConflict, domain.KindInternal:
				return err
			default:
				return Permanent(err)
			}
		}

		logger.WithFields(log.Fields{
			"order_id":        order.ID,
			"supplier_status": order.SupplierStatus,
			"locked":          order.PriceAdjustmentsLocked,
		}).Info("supplier status applied")
		return nil
	}
}
