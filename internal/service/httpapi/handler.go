// Package httpapi — REST API бэк-офиса поверх движка исполнения заказов.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/idempotency"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/workflow"
)

// Заголовки запроса.
const (
	HeaderActor          = "X-Actor"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Handler обслуживает /api/v1.
type Handler struct {
	engine *workflow.Engine
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewHandler создаёт обработчики REST API.
func NewHandler(engine *workflow.Engine, guard *idempotency.Guard, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{engine: engine, guard: guard, logger: logger}
}

// NewEcho собирает echo-сервер с маршрутами API.
func NewEcho(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(h.logger)
	e.Use(middleware.Recover(), actorMiddleware)
	h.Register(e.Group("/api/v1"))
	return e
}

// Register регистрирует маршруты в группе.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/orders", h.PlaceOrder)
	g.GET("/orders", h.ListOrders)
	g.GET("/orders/:id", h.GetOrder)
	g.GET("/orders/:id/history", h.History)
	g.GET("/orders/:id/timeline", h.Timeline)
	g.POST("/orders/:id/price-adjustments", h.AdjustPrices)
	g.POST("/orders/:id/payments", h.RecordPayment)
	g.POST("/orders/:id/payment-confirmation", h.ConfirmPayment)
	g.POST("/orders/:id/status", h.TransitionStatus)
	g.POST("/orders/:id/cancel", h.CancelOrder)
	g.POST("/orders/:id/transport", h.AssignTransport)
	g.POST("/orders/:id/deliveries", h.RecordDelivery)
	g.PUT("/orders/:id/supplier-status", h.SetSupplierStatus)
}

func actorMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if actor := c.Request().Header.Get(HeaderActor); actor != "" {
			req := c.Request()
			c.SetRequest(req.WithContext(domain.WithActor(req.Context(), actor)))
		}
		return next(c)
	}
}

// idempotent выполняет мутацию под Idempotency-Key. В отпечаток запроса
// входят маршрут, ID заказа и тело.
func idempotent[T any](h *Handler, c echo.Context, body any, run func(ctx context.Context) (T, error)) (T, error) {
	route := c.Request().Method + " " + c.Path()
	fingerprint := struct {
		OrderID string `json:"order_id,omitempty"`
		Body    any    `json:"body"`
	}{OrderID: c.Param("id"), Body: body}
	return idempotency.Execute(c.Request().Context(), h.guard, c.Request().Header.Get(HeaderIdempotencyKey), route, fingerprint, run)
}

func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return domain.NewValidationError("body", "malformed request body")
	}
	return nil
}

type placeOrderItem struct {
	ProductID  string `json:"product_id"`
	Pallets    int64  `json:"pallets"`
	AddonPacks int64  `json:"addon_packs"`
}

type placeOrderBody struct {
	CustomerID   string           `json:"customer_id"`
	CustomerName string           `json:"customer_name"`
	Items        []placeOrderItem `json:"items"`
}

// PlaceOrder обрабатывает POST /orders.
func (h *Handler) PlaceOrder(c echo.Context) error {
	var body placeOrderBody
	if err := bind(c, &body); err != nil {
		return err
	}

	order, err := idempotent(h, c, body, func(ctx context.Context) (domain.Order, error) {
		items := make([]workflow.PlaceOrderItem, 0, len(body.Items))
		for _, item := range body.Items {
			items = append(items, workflow.PlaceOrderItem(item))
		}
		return h.engine.PlaceOrder(ctx, workflow.PlaceOrderInput{
			CustomerID:   body.CustomerID,
			CustomerName: body.CustomerName,
			Items:        items,
		})
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}

// ListOrders обрабатывает GET /orders?customer_id=&limit=.
func (h *Handler) ListOrders(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return domain.NewValidationError("limit", "must be a non-negative integer")
		}
		limit = parsed
	}

	orders, err := h.engine.ListOrders(c.Request().Context(), c.QueryParam("customer_id"), limit)
	if err != nil {
		return err
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return c.JSON(http.StatusOK, map[string]any{"orders": orders})
}

// GetOrder обрабатывает GET /orders/:id.
func (h *Handler) GetOrder(c echo.Context) error {
	order, err := h.engine.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// History обрабатывает GET /orders/:id/history.
func (h *Handler) History(c echo.Context) error {
	history, err := h.engine.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}

// Timeline обрабатывает GET /orders/:id/timeline.
func (h *Handler) Timeline(c echo.Context) error {
	events, err := h.engine.Timeline(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"timeline": events})
}

type adjustPricesBody struct {
	NewPrices  map[string]money.Money `json:"new_prices"`
	Reason     string                 `json:"reason"`
	InvoiceRef string                 `json:"supplier_invoice_reference"`
}

type adjustPricesResult struct {
	Order      domain.Order           `json:"order"`
	Adjustment domain.PriceAdjustment `json:"adjustment"`
}

// AdjustPrices обрабатывает POST /orders/:id/price-adjustments.
func (h *Handler) AdjustPrices(c echo.Context) error {
	var body adjustPricesBody
	if err := bind(c, &body); err != nil {
		return err
	}

	result, err := idempotent(h, c, body, func(ctx context.Context) (adjustPricesResult, error) {
		order, adjustment, err := h.engine.AdjustPrices(ctx, c.Param("id"), workflow.AdjustPricesInput{
			NewPrices:  body.NewPrices,
			Reason:     body.Reason,
			InvoiceRef: body.InvoiceRef,
		})
		return adjustPricesResult{Order: order, Adjustment: adjustment}, err
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

type recordPaymentBody struct {
	Amount     money.Money `json:"amount"`
	Method     string      `json:"method"`
	Reference  string      `json:"reference"`
	ReceivedBy string      `json:"received_by"`
	Notes      string      `json:"notes"`
}

// RecordPayment обрабатывает POST /orders/:id/payments.
func (h *Handler) RecordPayment(c echo.Context) error {
	var body recordPaymentBody
	if err := bind(c, &body); err != nil {
		return err
	}

	return h.respondOrder(c, body, func(ctx context.Context) (domain.Order, error) {
		method, err := domain.ParsePaymentMethod(body.Method)
		if err != nil {
			return domain.Order{}, err
		}
		return h.engine.RecordPayment(ctx, c.Param("id"), domain.PaymentInput{
			Amount:     body.Amount,
			Method:     method,
			Reference:  body.Reference,
			ReceivedBy: body.ReceivedBy,
			Notes:      body.Notes,
		})
	})
}

// ConfirmPayment обрабатывает POST /orders/:id/payment-confirmation.
func (h *Handler) ConfirmPayment(c echo.Context) error {
	return h.respondOrder(c, nil, func(ctx context.Context) (domain.Order, error) {
		return h.engine.ConfirmPayment(ctx, c.Param("id"))
	})
}

type transitionBody struct {
	Status string `json:"status"`
}

// TransitionStatus обрабатывает POST /orders/:id/status.
func (h *Handler) TransitionStatus(c echo.Context) error {
	var body transitionBody
	if err := bind(c, &body); err != nil {
		return err
	}

	return h.respondOrder(c, body, func(ctx context.Context) (domain.Order, error) {
		target, err := domain.ParseOrderStatus(body.Status)
		if err != nil {
			return domain.Order{}, err
		}
		return h.engine.TransitionStatus(ctx, c.Param("id"), target)
	})
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// CancelOrder обрабатывает POST /orders/:id/cancel.
func (h *Handler) CancelOrder(c echo.Context) error {
	var body cancelBody
	if err := bind(c, &body); err != nil {
		return err
	}

	return h.respondOrder(c, body, func(ctx context.Context) (domain.Order, error) {
		return h.engine.CancelOrder(ctx, c.Param("id"), body.Reason)
	})
}

type transportBody struct {
	Carrier       string `json:"carrier"`
	VehicleNumber string `json:"vehicle_number"`
	DriverName    string `json:"driver_name"`
	DriverPhone   string `json:"driver_phone"`
}

// AssignTransport обрабатывает POST /orders/:id/transport.
func (h *Handler) AssignTransport(c echo.Context) error {
	var body transportBody
	if err := bind(c, &body); err != nil {
		return err
	}

	return h.respondOrder(c, body, func(ctx context.Context) (domain.Order, error) {
		return h.engine.AssignTransport(ctx, c.Param("id"), domain.TransportAssignment{
			Carrier:       body.Carrier,
			VehicleNumber: body.VehicleNumber,
			DriverName:    body.DriverName,
			DriverPhone:   body.DriverPhone,
		})
	})
}

type deliveryBody struct {
	Outcome          string `json:"outcome"`
	DeliveredPallets *int64 `json:"delivered_pallets"`
	DeliveredPacks   *int64 `json:"delivered_packs"`
	DeliveredBy      string `json:"delivered_by"`
	Notes            string `json:"notes"`
	Reason           string `json:"reason"`
}

// RecordDelivery обрабатывает POST /orders/:id/deliveries.
func (h *Handler) RecordDelivery(c echo.Context) error {
	var body deliveryBody
	if err := bind(c, &body); err != nil {
		return err
	}

	return h.respondOrder(c, body, func(ctx context.Context) (domain.Order, error) {
		outcome, err := domain.ParseDeliveryOutcome(body.Outcome)
		if err != nil {
			return domain.Order{}, err
		}
		return h.engine.RecordDelivery(ctx, c.Param("id"), domain.DeliveryInput{
			Outcome:          outcome,
			DeliveredPallets: body.DeliveredPallets,
			DeliveredPacks:   body.DeliveredPacks,
			DeliveredBy:      body.DeliveredBy,
			Notes:            body.Notes,
			Reason:           body.Reason,
		})
	})
}

type supplierStatusBody struct {
	Status        string     `json:"status"`
	OrderRaisedAt *time.Time `json:"order_raised_at"`
	LoadedDate    *time.Time `json:"loaded_date"`
}

// SetSupplierStatus обрабатывает PUT /orders/:id/supplier-status.
func (h *Handler) SetSupplierStatus(c echo.Context) error {
	var body supplierStatusBody
	if err := bind(c, &body); err != nil {
		return err
	}

	return h.respondOrder(c, body, func(ctx context.Context) (domain.Order, error) {
		status, err := domain.ParseSupplierStatus(body.Status)
		if err != nil {
			return domain.Order{}, err
		}
		return h.engine.SetSupplierStatus(ctx, c.Param("id"), domain.SupplierStatusInput{
			Status:        status,
			OrderRaisedAt: body.OrderRaisedAt,
			LoadedDate:    body.LoadedDate,
		})
	})
}

func (h *Handler) respondOrder(c echo.Context, body any, run func(ctx context.Context) (domain.Order, error)) error {
	order, err := idempotent(h, c, body, run)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}
