package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderResponse struct {
	ID            string                 `json:"id"`
	OrderID       string                 `json:"orderId"`
	UserID        uint                   `json:"userId"`
	Items         []OrderItemResponse    `json:"items"`
	Subtotal      decimal.Decimal        `json:"subtotal"`
	ShippingFee   decimal.Decimal        `json:"shippingFee"`
	Tax           decimal.Decimal        `json:"tax"`
	Discount      decimal.Decimal        `json:"discount"`
	Total         decimal.Decimal        `json:"total"`
	CurrentStatus Status                 `json:"currentStatus"`
	StatusHistory []StatusChangeResponse `json:"statusHistory"`

	PaymentMethod PaymentMethod `json:"paymentMethod"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	PaymentID     *string       `json:"paymentId,omitempty"`

	ShippingAddress string `json:"shippingAddress"`
	BillingAddress  string `json:"billingAddress"`

	TrackingNumber  *string `json:"trackingNumber,omitempty"`
	TrackingCompany *string `json:"trackingCompany,omitempty"`
	TrackingURL     *string `json:"trackingUrl,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderItemResponse struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Image     *string         `json:"image,omitempty"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
	Price     decimal.Decimal `json:"price"`
}

type StatusChangeResponse struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	ChangedBy string    `json:"changedBy"`
	Note      *string   `json:"note,omitempty"`
}

func ToResponse(o *Order) *OrderResponse {
	if o == nil {
		return nil
	}

	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID: it.ProductID.String(),
			Name:      it.Name,
			Image:     it.Image,
			Quantity:  it.Quantity,
			Size:      it.Size,
			Color:     it.Color,
			Price:     it.UnitPrice,
		})
	}

	history := make([]StatusChangeResponse, 0, len(o.StatusHistory))
	for _, h := range o.StatusHistory {
		history = append(history, StatusChangeResponse{
			Status:    h.Status,
			ChangedAt: h.ChangedAt,
			ChangedBy: h.ChangedBy,
			Note:      h.Note,
		})
	}

	return &OrderResponse{
		ID:              o.ID.String(),
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		Items:           items,
		Subtotal:        o.Subtotal,
		ShippingFee:     o.ShippingFee,
		Tax:             o.Tax,
		Discount:        o.Discount,
		Total:           o.Total,
		CurrentStatus:   o.CurrentStatus(),
		StatusHistory:   history,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		PaymentID:       o.PaymentID,
		ShippingAddress: o.ShippingAddressID.String(),
		BillingAddress:  o.BillingAddressID.String(),
		TrackingNumber:  o.TrackingNumber,
		TrackingCompany: o.TrackingCompany,
		TrackingURL:     o.TrackingURL,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func ToResponses(orders []*Order) []*OrderResponse {
	out := make([]*OrderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, ToResponse(o))
	}
	return out
}
