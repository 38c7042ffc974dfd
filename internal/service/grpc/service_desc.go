package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "fulfillment.v1.FulfillmentService"

// Имена методов сервиса.
const (
	MethodPlaceOrder        = "PlaceOrder"
	MethodGetOrder          = "GetOrder"
	MethodListOrders        = "ListOrders"
	MethodGetHistory        = "GetHistory"
	MethodAdjustPrices      = "AdjustPrices"
	MethodRecordPayment     = "RecordPayment"
	MethodConfirmPayment    = "ConfirmPayment"
	MethodTransitionStatus  = "TransitionStatus"
	MethodCancelOrder       = "CancelOrder"
	MethodAssignTransport   = "AssignTransport"
	MethodRecordDelivery    = "RecordDelivery"
	MethodSetSupplierStatus = "SetSupplierStatus"
)

// FullMethod возвращает путь метода в формате /service/method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// FulfillmentServiceServer — серверная сторона сервиса.
type FulfillmentServiceServer interface {
	PlaceOrder(context.Context, *PlaceOrderRequest) (*OrderResponse, error)
	GetOrder(context.Context, *OrderRequest) (*OrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	GetHistory(context.Context, *OrderRequest) (*HistoryResponse, error)
	AdjustPrices(context.Context, *AdjustPricesRequest) (*AdjustPricesResponse, error)
	RecordPayment(context.Context, *RecordPaymentRequest) (*OrderResponse, error)
	ConfirmPayment(context.Context, *OrderRequest) (*OrderResponse, error)
	TransitionStatus(context.Context, *TransitionStatusRequest) (*OrderResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderResponse, error)
	AssignTransport(context.Context, *AssignTransportRequest) (*OrderResponse, error)
	RecordDelivery(context.Context, *RecordDeliveryRequest) (*OrderResponse, error)
	SetSupplierStatus(context.Context, *SetSupplierStatusRequest) (*OrderResponse, error)
}

// RegisterFulfillmentServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterFulfillmentServiceServer(registrar grpc.ServiceRegistrar, srv FulfillmentServiceServer) {
	registrar.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FulfillmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodPlaceOrder, Handler: unaryHandler(MethodPlaceOrder, FulfillmentServiceServer.PlaceOrder)},
		{MethodName: MethodGetOrder, Handler: unaryHandler(MethodGetOrder, FulfillmentServiceServer.GetOrder)},
		{MethodName: MethodListOrders, Handler: unaryHandler(MethodListOrders, FulfillmentServiceServer.ListOrders)},
		{MethodName: MethodGetHistory, Handler: unaryHandler(MethodGetHistory, FulfillmentServiceServer.GetHistory)},
		{MethodName: MethodAdjustPrices, Handler: unaryHandler(MethodAdjustPrices, FulfillmentServiceServer.AdjustPrices)},
		{MethodName: MethodRecordPayment, Handler: unaryHandler(MethodRecordPayment, FulfillmentServiceServer.RecordPayment)},
		{MethodName: MethodConfirmPayment, Handler: unaryHandler(MethodConfirmPayment, FulfillmentServiceServer.ConfirmPayment)},
		{MethodName: MethodTransitionStatus, Handler: unaryHandler(MethodTransitionStatus, FulfillmentServiceServer.TransitionStatus)},
		{MethodName: MethodCancelOrder, Handler: unaryHandler(MethodCancelOrder, FulfillmentServiceServer.CancelOrder)},
		{MethodName: MethodAssignTransport, Handler: unaryHandler(MethodAssignTransport, FulfillmentServiceServer.AssignTransport)},
		{MethodName: MethodRecordDelivery, Handler: unaryHandler(MethodRecordDelivery, FulfillmentServiceServer.RecordDelivery)},
		{MethodName: MethodSetSupplierStatus, Handler: unaryHandler(MethodSetSupplierStatus, FulfillmentServiceServer.SetSupplierStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fulfillment/v1/fulfillment.json",
}

// unaryHandler строит grpc.MethodHandler для метода с типизированным запросом.
func unaryHandler[Req, Resp any](method string, call func(FulfillmentServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(FulfillmentServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(FulfillmentServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}
