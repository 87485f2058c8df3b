package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"furnish-be/internal/logger"
	"furnish-be/internal/middleware"
	"furnish-be/internal/order"
	"furnish-be/internal/user"
	"furnish-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type OrderHandler struct {
	svc         order.Service
	idempotency func(http.Handler) http.Handler
}

// NewOrderHandler wires the order routes. idem guards order placement and may be nil.
func NewOrderHandler(svc order.Service, idem func(http.Handler) http.Handler) *OrderHandler {
	return &OrderHandler{svc: svc, idempotency: idem}
}

type envelope struct {
	Success bool                 `json:"success"`
	Message string               `json:"message,omitempty"`
	Order   *order.OrderResponse `json:"order,omitempty"`
}

type listEnvelope struct {
	Success bool                   `json:"success"`
	Orders  []*order.OrderResponse `json:"orders"`
	Page    int32                  `json:"page"`
	Limit   int32                  `json:"limit"`
}

func (h *OrderHandler) Routes(r chi.Router) {
	r.Use(middleware.RequireAuth)

	admin := middleware.RequireRole(user.RoleAdmin)
	customer := middleware.RequireRole(user.RoleUser, user.RoleAdmin)

	place := r.With(customer)
	if h.idempotency != nil {
		place = place.With(h.idempotency)
	}
	place.Post("/", h.Create)

	r.Get("/", h.ListMine)
	r.With(admin).Get("/admin/all", h.ListAll)

	r.Get("/{id}", h.Get)
	r.Get("/{id}/transitions", h.Transitions)
	r.With(admin).Put("/{id}/status", h.UpdateStatus)
	r.With(admin).Put("/{id}/tracking", h.AttachTracking)
	r.With(customer).Put("/{id}/cancel", h.Cancel)
	r.With(customer).Put("/{id}/return", h.RequestReturn)
}

func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input order.CreateOrderInput
	if !decodeBody(w, r, &input) {
		return
	}

	o, err := h.svc.CreateOrder(r.Context(), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, envelope{
		Success: true,
		Message: "Order placed successfully",
		Order:   order.ToResponse(o),
	})
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var input order.UpdateStatusInput
	if !decodeBody(w, r, &input) {
		return
	}

	o, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: fmt.Sprintf("Order status updated to %s", o.CurrentStatus()),
		Order:   order.ToResponse(o),
	})
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.CancelOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Order cancelled successfully",
		Order:   order.ToResponse(o),
	})
}

type returnRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (h *OrderHandler) RequestReturn(w http.ResponseWriter, r *http.Request) {
	var body returnRequest
	if !decodeOptionalBody(w, r, &body) {
		return
	}

	o, err := h.svc.RequestReturn(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Return requested",
		Order:   order.ToResponse(o),
	})
}

func (h *OrderHandler) AttachTracking(w http.ResponseWriter, r *http.Request) {
	var input order.TrackingInput
	if !decodeBody(w, r, &input) {
		return
	}

	o, err := h.svc.AttachTracking(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Tracking information updated",
		Order:   order.ToResponse(o),
	})
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, envelope{Success: true, Order: order.ToResponse(o)})
}

func (h *OrderHandler) Transitions(w http.ResponseWriter, r *http.Request) {
	next, err := h.svc.AllowedTransitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if next == nil {
		next = []order.Status{}
	}

	utils.WriteJSON(w, http.StatusOK, struct {
		Success      bool           `json:"success"`
		NextStatuses []order.Status `json:"nextStatuses"`
	}{true, next})
}

func (h *OrderHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r)

	orders, err := h.svc.ListMyOrders(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeList(w, orders, page, limit)
}

func (h *OrderHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	page, limit, offset := pagination(r)

	var status *order.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		s := order.Status(raw)
		status = &s
	}

	orders, err := h.svc.ListOrders(r.Context(), status, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeList(w, orders, page, limit)
}

func writeList(w http.ResponseWriter, orders []*order.Order, page, limit int32) {
	utils.WriteJSON(w, http.StatusOK, listEnvelope{
		Success: true,
		Orders:  order.ToResponses(orders),
		Page:    page,
		Limit:   limit,
	})
}

func pagination(r *http.Request) (page, limit, offset int32) {
	q := r.URL.Query()
	page = utils.ParsePositiveInt32(q.Get("page"), 1)
	limit = utils.ParsePositiveInt32(q.Get("limit"), order.DefaultPageSize)
	if limit > order.MaxPageSize {
		limit = order.MaxPageSize
	}
	// Keep the offset within int32.
	if page-1 > math.MaxInt32/limit {
		page = math.MaxInt32/limit + 1
	}
	return page, limit, (page - 1) * limit
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		utils.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		utils.WriteJSONError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps workflow errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrInsufficientStock),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrMissingTrackingInfo),
		errors.Is(err, order.ErrCannotCancel),
		errors.Is(err, order.ErrDuplicateOrderID),
		errors.Is(err, order.ErrTrackingNotAllowed):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound), errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, order.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.FromCtx(r.Context()).Error("order request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	utils.WriteJSONError(w, err.Error(), code)
}
