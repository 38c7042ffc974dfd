package grpcsvc

import (
	"context"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/workflow"
)

// FulfillmentService реализует gRPC API поверх движка исполнения заказов.
type FulfillmentService struct {
	engine *workflow.Engine
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewFulfillmentService конструирует сервис. guard может быть nil: тогда
// повторы по idempotency-key не отсекаются.
func NewFulfillmentService(engine *workflow.Engine, guard *idempotency.Guard, logger *log.Entry) *FulfillmentService {
	if logger == nil {
		logger = log.WithField("component", "grpc-service")
	}
	return &FulfillmentService{engine: engine, guard: guard, logger: logger}
}

// NewServer собирает gRPC-сервер: interceptors метрик, пользователя и ошибок,
// сервис исполнения заказов и стандартный health-сервис.
func NewServer(svc *FulfillmentService, serverMetrics *promgrpc.ServerMetrics, healthServer *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := make([]grpc.UnaryServerInterceptor, 0, 3)
	if serverMetrics != nil {
		interceptors = append(interceptors, serverMetrics.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, ActorInterceptor(), ErrorInterceptor(svc.logger))

	server := grpc.NewServer(append(opts, grpc.ChainUnaryInterceptor(interceptors...))...)
	RegisterFulfillmentServiceServer(server, svc)
	if healthServer != nil {
		healthpb.RegisterHealthServer(server, healthServer)
		healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	}
	if serverMetrics != nil {
		serverMetrics.InitializeMetrics(server)
	}
	return server
}

// guarded выполняет мутирующий вызов под idempotency-key из метаданных.
func guarded[Req, Resp any](s *FulfillmentService, ctx context.Context, method string, req *Req, run func(context.Context) (*Resp, error)) (*Resp, error) {
	return idempotency.Execute(ctx, s.guard, incomingValue(ctx, IdempotencyKeyHeader), FullMethod(method), req, run)
}

// PlaceOrder оформляет заказ.
func (s *FulfillmentService) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodPlaceOrder, req, func(ctx context.Context) (*OrderResponse, error) {
		items := make([]workflow.PlaceOrderItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, workflow.PlaceOrderItem{
				ProductID:  item.ProductID,
				Pallets:    item.Pallets,
				AddonPacks: item.AddonPacks,
			})
		}
		order, err := s.engine.PlaceOrder(ctx, workflow.PlaceOrderInput{
			CustomerID:   req.CustomerID,
			CustomerName: req.CustomerName,
			Items:        items,
		})
		if err != nil {
			return nil, err
		}
		return &OrderResponse{Order: order}, nil
	})
}

// GetOrder возвращает снимок заказа.
func (s *FulfillmentService) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	order, err := s.engine.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &OrderResponse{Order: order}, nil
}

// ListOrders возвращает заказы клиента.
func (s *FulfillmentService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := s.engine.ListOrders(ctx, req.CustomerID, req.Limit)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

// GetHistory возвращает журналы заказа.
func (s *FulfillmentService) GetHistory(ctx context.Context, req *OrderRequest) (*HistoryResponse, error) {
	history, err := s.engine.History(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &HistoryResponse{History: history}, nil
}

// AdjustPrices корректирует цены позиций.
func (s *FulfillmentService) AdjustPrices(ctx context.Context, req *AdjustPricesRequest) (*AdjustPricesResponse, error) {
	return guarded(s, ctx, MethodAdjustPrices, req, func(ctx context.Context) (*AdjustPricesResponse, error) {
		order, adjustment, err := s.engine.AdjustPrices(ctx, req.OrderID, workflow.AdjustPricesInput{
			NewPrices:  req.NewPrices,
			Reason:     req.Reason,
			InvoiceRef: req.InvoiceRef,
		})
		if err != nil {
			return nil, err
		}
		return &AdjustPricesResponse{Order: order, Adjustment: adjustment}, nil
	})
}

// RecordPayment записывает платёж.
func (s *FulfillmentService) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodRecordPayment, req, func(ctx context.Context) (*OrderResponse, error) {
		method, err := domain.ParsePaymentMethod(req.Method)
		if err != nil {
			return nil, err
		}
		return orderResponse(s.engine.RecordPayment(ctx, req.OrderID, domain.PaymentInput{
			Amount:     req.Amount,
			Method:     method,
			Reference:  req.Reference,
			ReceivedBy: req.ReceivedBy,
			Notes:      req.Notes,
		}))
	})
}

// ConfirmPayment ставит отметку о подтверждении оплаты.
func (s *FulfillmentService) ConfirmPayment(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodConfirmPayment, req, func(ctx context.Context) (*OrderResponse, error) {
		return orderResponse(s.engine.ConfirmPayment(ctx, req.OrderID))
	})
}

// TransitionStatus меняет основной статус заказа.
func (s *FulfillmentService) TransitionStatus(ctx context.Context, req *TransitionStatusRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodTransitionStatus, req, func(ctx context.Context) (*OrderResponse, error) {
		target, err := domain.ParseOrderStatus(req.Status)
		if err != nil {
			return nil, err
		}
		return orderResponse(s.engine.TransitionStatus(ctx, req.OrderID, target))
	})
}

// CancelOrder отменяет заказ.
func (s *FulfillmentService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodCancelOrder, req, func(ctx context.Context) (*OrderResponse, error) {
		return orderResponse(s.engine.CancelOrder(ctx, req.OrderID, req.Reason))
	})
}

// AssignTransport назначает транспорт.
func (s *FulfillmentService) AssignTransport(ctx context.Context, req *AssignTransportRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodAssignTransport, req, func(ctx context.Context) (*OrderResponse, error) {
		return orderResponse(s.engine.AssignTransport(ctx, req.OrderID, domain.TransportAssignment{
			Carrier:       req.Carrier,
			VehicleNumber: req.VehicleNumber,
			DriverName:    req.DriverName,
			DriverPhone:   req.DriverPhone,
		}))
	})
}

// RecordDelivery фиксирует исход доставки.
func (s *FulfillmentService) RecordDelivery(ctx context.Context, req *RecordDeliveryRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodRecordDelivery, req, func(ctx context.Context) (*OrderResponse, error) {
		outcome, err := domain.ParseDeliveryOutcome(req.Outcome)
		if err != nil {
			return nil, err
		}
		return orderResponse(s.engine.RecordDelivery(ctx, req.OrderID, domain.DeliveryInput{
			Outcome:          outcome,
			DeliveredPallets: req.DeliveredPallets,
			DeliveredPacks:   req.DeliveredPacks,
			DeliveredBy:      req.DeliveredBy,
			Notes:            req.Notes,
			Reason:           req.Reason,
		}))
	})
}

// SetSupplierStatus обновляет статус поставщика.
func (s *FulfillmentService) SetSupplierStatus(ctx context.Context, req *SetSupplierStatusRequest) (*OrderResponse, error) {
	return guarded(s, ctx, MethodSetSupplierStatus, req, func(ctx context.Context) (*OrderResponse, error) {
		supplierStatus, err := domain.ParseSupplierStatus(req.Status)
		if err != nil {
			return nil, err
		}
		return orderResponse(s.engine.SetSupplierStatus(ctx, req.OrderID, domain.SupplierStatusInput{
			Status:        supplierStatus,
			OrderRaisedAt: req.OrderRaisedAt,
			LoadedDate:    req.LoadedDate,
		}))
	})
}

func orderResponse(order domain.Order, err error) (*OrderResponse, error) {
	if err != nil {
		return nil, err
	}
	return &OrderResponse{Order: order}, nil
}

var _ FulfillmentServiceServer = (*FulfillmentService)(nil)
