package grpcsvc

import (
	"context"

	"github.com/go-faster/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client — типизированный клиент FulfillmentService.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient оборачивает готовое соединение. Соединение должно использовать
// JSON-кодек, см. DialOptions.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// DialOptions возвращает опции соединения без TLS с JSON-кодеком по умолчанию.
func DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
}

// Dial создаёт соединение с сервером по адресу target.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(target, append(DialOptions(), opts...)...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", target)
	}
	return conn, nil
}

// WithActor добавляет пользователя в исходящие метаданные.
func WithActor(ctx context.Context, actor string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ActorHeader, actor)
}

// WithIdempotencyKey добавляет idempotency-key в исходящие метаданные.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, IdempotencyKeyHeader, key)
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp := new(Resp)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, FullMethod(method), req, resp, grpc.Trailer(&trailer)); err != nil {
		return nil, remoteError(err, trailer)
	}
	return resp, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req *PlaceOrderRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodPlaceOrder, req)
}

func (c *Client) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodGetOrder, req)
}

func (c *Client) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c, MethodListOrders, req)
}

func (c *Client) GetHistory(ctx context.Context, req *OrderRequest) (*HistoryResponse, error) {
	return invoke[HistoryResponse](ctx, c, MethodGetHistory, req)
}

func (c *Client) AdjustPrices(ctx context.Context, req *AdjustPricesRequest) (*AdjustPricesResponse, error) {
	return invoke[AdjustPricesResponse](ctx, c, MethodAdjustPrices, req)
}

func (c *Client) RecordPayment(ctx context.Context, req *RecordPaymentRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodRecordPayment, req)
}

func (c *Client) ConfirmPayment(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodConfirmPayment, req)
}

func (c *Client) TransitionStatus(ctx context.Context, req *TransitionStatusRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodTransitionStatus, req)
}

func (c *Client) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodCancelOrder, req)
}

func (c *Client) AssignTransport(ctx context.Context, req *AssignTransportRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodAssignTransport, req)
}

func (c *Client) RecordDelivery(ctx context.Context, req *RecordDeliveryRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodRecordDelivery, req)
}

func (c *Client) SetSupplierStatus(ctx context.Context, req *SetSupplierStatusRequest) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, c, MethodSetSupplierStatus, req)
}

var _ FulfillmentServiceServer = (*Client)(nil)
