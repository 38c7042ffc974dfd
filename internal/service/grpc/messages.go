package grpcsvc

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/money"
)

type PlaceOrderItem struct {
	ProductID  string `json:"product_id"`
	Pallets    int64  `json:"pallets"`
	AddonPacks int64  `json:"addon_packs"`
}

// PlaceOrderRequest оформляет новый заказ.
type PlaceOrderRequest struct {
	CustomerID   string           `json:"customer_id"`
	CustomerName string           `json:"customer_name,omitempty"`
	Items        []PlaceOrderItem `json:"items"`
}

// OrderRequest адресует заказ по ID.
type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type ListOrdersRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// AdjustPricesRequest несёт новые цены за пачку по ID позиции.
type AdjustPricesRequest struct {
	OrderID    string                 `json:"order_id"`
	NewPrices  map[string]money.Money `json:"new_prices"`
	Reason     string                 `json:"reason"`
	InvoiceRef string                 `json:"supplier_invoice_reference,omitempty"`
}

type RecordPaymentRequest struct {
	OrderID    string      `json:"order_id"`
	Amount     money.Money `json:"amount"`
	Method     string      `json:"method"`
	Reference  string      `json:"reference,omitempty"`
	ReceivedBy string      `json:"received_by"`
	Notes      string      `json:"notes,omitempty"`
}

type TransitionStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Reason для CancelOrderRequest обязателен.
type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type AssignTransportRequest struct {
	OrderID       string `json:"order_id"`
	Carrier       string `json:"carrier,omitempty"`
	VehicleNumber string `json:"vehicle_number"`
	DriverName    string `json:"driver_name"`
	DriverPhone   string `json:"driver_phone,omitempty"`
}

// RecordDeliveryRequest фиксирует исход доставки.
type RecordDeliveryRequest struct {
	OrderID          string `json:"order_id"`
	Outcome          string `json:"outcome"`
	DeliveredPallets *int64 `json:"delivered_pallets,omitempty"`
	DeliveredPacks   *int64 `json:"delivered_packs,omitempty"`
	DeliveredBy      string `json:"delivered_by"`
	Notes            string `json:"notes,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// SetSupplierStatusRequest двигает трек поставщика, основной статус не меняется.
type SetSupplierStatusRequest struct {
	OrderID       string     `json:"order_id"`
	Status        string     `json:"status"`
	OrderRaisedAt *time.Time `json:"order_raised_at,omitempty"`
	LoadedDate    *time.Time `json:"loaded_date,omitempty"`
}

type OrderResponse struct {
	Order domain.Order `json:"order"`
}

// AdjustPricesResponse содержит снимок заказа и запись аудита корректировки.
type AdjustPricesResponse struct {
	Order      domain.Order           `json:"order"`
	Adjustment domain.PriceAdjustment `json:"adjustment"`
}

type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type HistoryResponse struct {
	History domain.OrderHistory `json:"history"`
}
