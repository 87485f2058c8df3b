package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusOrderPlaced     Status = "Order Placed"
	StatusPaymentPending  Status = "Payment Pending"
	StatusPaymentReceived Status = "Payment Received"
	StatusProcessing      Status = "Processing"
	StatusShipped         Status = "Shipped"
	StatusOutForDelivery  Status = "Out for Delivery"
	StatusDelivered       Status = "Delivered"
	StatusCancelled       Status = "Cancelled"
	StatusReturnRequested Status = "Return Requested"
	StatusReturnApproved  Status = "Return Approved"
	StatusReturnRejected  Status = "Return Rejected"
	StatusReturnCompleted Status = "Return Completed"
	StatusRefundInitiated Status = "Refund Initiated"
	StatusRefundCompleted Status = "Refund Completed"
)

// AllStatuses lists the closed status set in lifecycle order.
var AllStatuses = []Status{
	StatusOrderPlaced,
	StatusPaymentPending,
	StatusPaymentReceived,
	StatusProcessing,
	StatusShipped,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusReturnRequested,
	StatusReturnApproved,
	StatusReturnRejected,
	StatusReturnCompleted,
	StatusRefundInitiated,
	StatusRefundCompleted,
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "Pending"
	PaymentStatusCompleted PaymentStatus = "Completed"
	PaymentStatusFailed    PaymentStatus = "Failed"
	PaymentStatusRefunded  PaymentStatus = "Refunded"
)

type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "COD"
	PaymentMethodCard       PaymentMethod = "Card"
	PaymentMethodUPI        PaymentMethod = "UPI"
	PaymentMethodNetBanking PaymentMethod = "NetBanking"
	PaymentMethodWallet     PaymentMethod = "Wallet"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI, PaymentMethodNetBanking, PaymentMethodWallet:
		return true
	}
	return false
}

type Order struct {
	ID      uuid.UUID
	OrderID string
	UserID  uint

	Items []OrderItem

	Subtotal    decimal.Decimal
	ShippingFee decimal.Decimal
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal

	// StatusHistory is append-only; the current status is its last entry.
	StatusHistory []StatusChange

	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	PaymentID     *string

	ShippingAddressID uuid.UUID
	BillingAddressID  uuid.UUID

	TrackingNumber  *string
	TrackingCompany *string
	TrackingURL     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem is a snapshot of the product taken at checkout.
type OrderItem struct {
	ProductID uuid.UUID
	Name      string
	Image     *string
	Quantity  int
	Size      string
	Color     string
	UnitPrice decimal.Decimal
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type StatusChange struct {
	Seq       int
	Status    Status
	ChangedAt time.Time
	ChangedBy string
	Note      *string
}

// CurrentStatus derives the order status from the last history entry.
func (o *Order) CurrentStatus() Status {
	if o == nil || len(o.StatusHistory) == 0 {
		return ""
	}
	return o.StatusHistory[len(o.StatusHistory)-1].Status
}

func (o *Order) OwnedBy(userID uint) bool {
	return o != nil && o.UserID == userID
}

// ExpectedTotal is subtotal + shippingFee + tax - discount.
func (o *Order) ExpectedTotal() decimal.Decimal {
	return o.Subtotal.Add(o.ShippingFee).Add(o.Tax).Sub(o.Discount)
}

type CreateOrderInput struct {
	UserID          uint                   `json:"userId"`
	Items           []CreateOrderItemInput `json:"items"`
	ShippingAddress string                 `json:"shippingAddress"`
	BillingAddress  *string                `json:"billingAddress,omitempty"`
	PaymentMethod   PaymentMethod          `json:"paymentMethod"`
	PaymentID       *string                `json:"paymentId,omitempty"`

	Subtotal    *decimal.Decimal `json:"subtotal,omitempty"`
	ShippingFee *decimal.Decimal `json:"shippingFee,omitempty"`
	Tax         *decimal.Decimal `json:"tax,omitempty"`
	Discount    *decimal.Decimal `json:"discount,omitempty"`
	Total       *decimal.Decimal `json:"total,omitempty"`
}

type CreateOrderItemInput struct {
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	Name      string           `json:"name"`
	Price     *decimal.Decimal `json:"price"`
	Color     string           `json:"color"`
	Size      string           `json:"size"`
	Image     *string          `json:"image,omitempty"`
}

type UpdateStatusInput struct {
	Status      Status  `json:"status"`
	Note        *string `json:"note,omitempty"`
	TrackingID  string  `json:"trackingId,omitempty"`
	Courier     string  `json:"courier,omitempty"`
	TrackingURL *string `json:"trackingUrl,omitempty"`
}

type TrackingInput struct {
	TrackingNumber  string  `json:"trackingNumber"`
	TrackingCompany string  `json:"trackingCompany"`
	TrackingURL     *string `json:"trackingUrl,omitempty"`
}

type ListFilter struct {
	UserID *uint
	Status *Status
	Limit  int32
	Offset int32
}
