package order

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"furnish-be/internal/address"
	"furnish-be/internal/logger"
	"furnish-be/internal/notify"
	"furnish-be/internal/product"
	"furnish-be/internal/user"
	"furnish-be/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error)
	UpdateStatus(ctx context.Context, ref string, input UpdateStatusInput) (*Order, error)
	CancelOrder(ctx context.Context, ref string) (*Order, error)
	RequestReturn(ctx context.Context, ref string, note *string) (*Order, error)
	AttachTracking(ctx context.Context, ref string, input TrackingInput) (*Order, error)

	GetOrder(ctx context.Context, ref string) (*Order, error)
	ListMyOrders(ctx context.Context, limit, offset int32) ([]*Order, error)
	ListOrders(ctx context.Context, status *Status, limit, offset int32) ([]*Order, error)
	AllowedTransitions(ctx context.Context, ref string) ([]Status, error)
}

// Recorder receives workflow counters.
type Recorder interface {
	OrderCreated()
	StatusChanged(from, to string)
	StockRejected()
	NotificationResult(event string, err error)
}

type ServiceDeps struct {
	Repo      Repository
	Users     user.Repository
	Addresses address.Repository
	Products  product.Repository

	Notifier notify.Notifier
	Metrics  Recorder

	OrderIDPrefix string
	Now           func() time.Time
	NewOrderID    func(now time.Time) string
}

type service struct {
	repo      Repository
	users     user.Repository
	addresses address.Repository
	products  product.Repository
	notifier  notify.Notifier
	metrics   Recorder
	now       func() time.Time
	newID     func(now time.Time) string
}

func NewService(d ServiceDeps) Service {
	s := &service{
		repo:      d.Repo,
		users:     d.Users,
		addresses: d.Addresses,
		products:  d.Products,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		now:       d.Now,
		newID:     d.NewOrderID,
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{}
	}
	if s.metrics == nil {
		s.metrics = noopRecorder{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		prefix := d.OrderIDPrefix
		s.newID = func(now time.Time) string { return utils.GenerateOrderNumber(prefix, now) }
	}
	return s
}

type noopRecorder struct{}

func (noopRecorder) OrderCreated()                    {}
func (noopRecorder) StatusChanged(string, string)     {}
func (noopRecorder) StockRejected()                   {}
func (noopRecorder) NotificationResult(string, error) {}

type caller struct {
	id    uint
	admin bool
}

func (c caller) actorID() string {
	return strconv.FormatUint(uint64(c.id), 10)
}

func callerFrom(ctx context.Context) (caller, error) {
	id, ok := utils.GetUserIDFromContext(ctx)
	if !ok || id == 0 {
		return caller{}, ErrUnauthorized
	}
	role := strings.ToUpper(utils.GetUserRoleFromContext(ctx))
	return caller{id: id, admin: role == string(user.RoleAdmin)}, nil
}

// ---------------- Create ----------------

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CreateOrder"),
	)

	c, err := callerFrom(ctx)
	if err != nil {
		log.Warn("unauthenticated create order")
		return nil, err
	}

	userID := input.UserID
	if userID == 0 {
		userID = c.id
	}
	if userID != c.id && !c.admin {
		log.Warn("user id does not match caller",
			zap.Uint("caller_id", c.id),
			zap.Uint("user_id", userID),
		)
		return nil, ErrForbidden
	}
	log = log.With(zap.Uint("user_id", userID))

	// 1. Top-level fields
	shippingID, billingID, err := validateTopLevel(input)
	if err != nil {
		log.Warn("invalid create order input", zap.Error(err))
		return nil, err
	}

	// 2. User
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, &NotFoundError{Resource: "user", ID: strconv.FormatUint(uint64(userID), 10)}
	}
	if err != nil {
		log.Error("failed to load user", zap.Error(err))
		return nil, err
	}

	// 3. Addresses
	if err := s.checkAddress(ctx, shippingID, userID); err != nil {
		return nil, err
	}
	if billingID != shippingID {
		if err := s.checkAddress(ctx, billingID, userID); err != nil {
			return nil, err
		}
	}

	// 4. Items
	items, err := s.resolveItems(ctx, input.Items)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.StockRejected()
		}
		log.Warn("order items rejected", zap.Error(err))
		return nil, err
	}

	totals, err := resolveTotals(input, items)
	if err != nil {
		log.Warn("invalid order totals", zap.Error(err))
		return nil, err
	}

	// 5. Order number
	now := s.now()
	orderID := s.newID(now)
	exists, err := s.repo.OrderIDExists(ctx, orderID)
	if err != nil {
		log.Error("failed to check order id", zap.Error(err))
		return nil, err
	}
	if exists {
		log.Warn("generated order id already taken", zap.String("order_id", orderID))
		return nil, ErrDuplicateOrderID
	}

	o := &Order{
		ID:                uuid.New(),
		OrderID:           orderID,
		UserID:            userID,
		Items:             items,
		Subtotal:          totals.subtotal,
		ShippingFee:       totals.shippingFee,
		Tax:               totals.tax,
		Discount:          totals.discount,
		Total:             totals.total,
		StatusHistory:     []StatusChange{initialStatus(c.actorID(), now)},
		PaymentMethod:     input.PaymentMethod,
		PaymentStatus:     PaymentStatusPending,
		PaymentID:         utils.OptionalString(utils.PtrString(input.PaymentID)),
		ShippingAddressID: shippingID,
		BillingAddressID:  billingID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.CreateOrderTx(ctx, o); err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			s.metrics.StockRejected()
			log.Warn("stock reservation failed", zap.Error(err))
			return nil, err
		}
		log.Error("failed to create order", zap.Error(err))
		return nil, err
	}

	s.metrics.OrderCreated()
	log.Info("order created",
		zap.String("order_id", o.OrderID),
		zap.String("total", o.Total.String()),
		zap.Int("item_count", len(o.Items)),
	)

	if email, ok := u.ContactEmail(); ok {
		s.publish(ctx, notify.EventOrderPlaced, o, email)
	}

	return o, nil
}

func validateTopLevel(input CreateOrderInput) (shipping, billing uuid.UUID, err error) {
	if len(input.Items) == 0 {
		return uuid.Nil, uuid.Nil, invalid("items", "at least one item is required")
	}

	raw := strings.TrimSpace(input.ShippingAddress)
	if raw == "" {
		return uuid.Nil, uuid.Nil, invalid("shippingAddress", "is required")
	}
	shipping, err = uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, uuid.Nil, invalid("shippingAddress", "must be a valid id")
	}

	billing = shipping
	if b := strings.TrimSpace(utils.PtrString(input.BillingAddress)); b != "" {
		billing, err = uuid.Parse(b)
		if err != nil {
			return uuid.Nil, uuid.Nil, invalid("billingAddress", "must be a valid id")
		}
	}

	if input.PaymentMethod == "" {
		return uuid.Nil, uuid.Nil, invalid("paymentMethod", "is required")
	}
	if !input.PaymentMethod.Valid() {
		return uuid.Nil, uuid.Nil, invalid("paymentMethod", "unsupported payment method %q", input.PaymentMethod)
	}

	amounts := []struct {
		field string
		value *decimal.Decimal
	}{
		{"subtotal", input.Subtotal},
		{"shippingFee", input.ShippingFee},
		{"tax", input.Tax},
		{"discount", input.Discount},
		{"total", input.Total},
	}
	for _, a := range amounts {
		if a.value == nil {
			continue
		}
		if a.value.IsNegative() {
			return uuid.Nil, uuid.Nil, invalid(a.field, "must not be negative")
		}
		if !isWholeCents(*a.value) {
			return uuid.Nil, uuid.Nil, invalid(a.field, "must have at most two decimal places")
		}
	}

	return shipping, billing, nil
}

func (s *service) checkAddress(ctx context.Context, id uuid.UUID, userID uint) error {
	a, err := s.addresses.GetByID(ctx, id)
	if errors.Is(err, address.ErrAddressNotFound) {
		return &NotFoundError{Resource: "address", ID: id.String()}
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load address",
			zap.String("address_id", id.String()),
			zap.Error(err),
		)
		return err
	}
	if !a.OwnedBy(userID) {
		return &NotFoundError{Resource: "address", ID: id.String()}
	}
	return nil
}

// resolveItems validates each line and snapshots it. The stock check here is
// advisory; ReserveStock inside the create transaction is the real guard.
func (s *service) resolveItems(ctx context.Context, in []CreateOrderItemInput) ([]OrderItem, error) {
	items := make([]OrderItem, 0, len(in))
	requested := make(map[uuid.UUID]int, len(in))

	for i, it := range in {
		field := func(name string) string { return "items[" + strconv.Itoa(i) + "]." + name }

		if strings.TrimSpace(it.ProductID) == "" {
			return nil, invalid(field("productId"), "is required")
		}
		pid, err := uuid.Parse(strings.TrimSpace(it.ProductID))
		if err != nil {
			return nil, invalid(field("productId"), "must be a valid id")
		}
		if it.Quantity <= 0 {
			return nil, invalid(field("quantity"), "must be greater than zero")
		}
		if strings.TrimSpace(it.Name) == "" {
			return nil, invalid(field("name"), "is required")
		}
		if it.Price == nil {
			return nil, invalid(field("price"), "is required")
		}
		if it.Price.IsNegative() {
			return nil, invalid(field("price"), "must not be negative")
		}
		if !isWholeCents(*it.Price) {
			return nil, invalid(field("price"), "must have at most two decimal places")
		}
		if strings.TrimSpace(it.Color) == "" {
			return nil, invalid(field("color"), "is required")
		}
		if strings.TrimSpace(it.Size) == "" {
			return nil, invalid(field("size"), "is required")
		}

		p, err := s.products.GetByID(ctx, pid)
		if errors.Is(err, product.ErrProductNotFound) {
			return nil, &NotFoundError{Resource: "product", ID: pid.String()}
		}
		if err != nil {
			return nil, err
		}

		requested[pid] += it.Quantity
		if !p.HasStock(requested[pid]) {
			return nil, &InsufficientStockError{
				ProductID: pid,
				Name:      p.Name,
				Requested: requested[pid],
				Available: p.Stock,
			}
		}

		image := it.Image
		if image == nil {
			image = p.ImageURL
		}

		items = append(items, OrderItem{
			ProductID: pid,
			Name:      strings.TrimSpace(it.Name),
			Image:     image,
			Quantity:  it.Quantity,
			Size:      strings.TrimSpace(it.Size),
			Color:     strings.TrimSpace(it.Color),
			UnitPrice: *it.Price,
		})
	}

	return items, nil
}

// isWholeCents reports whether d fits the two-decimal money columns unchanged.
func isWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

type totals struct {
	subtotal, shippingFee, tax, discount, total decimal.Decimal
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// resolveTotals fills omitted amounts and checks that supplied ones agree
// with the items and with total = subtotal + shippingFee + tax - discount.
func resolveTotals(input CreateOrderInput, items []OrderItem) (totals, error) {
	computed := decimal.Zero
	for _, it := range items {
		computed = computed.Add(it.LineTotal())
	}

	t := totals{
		subtotal:    computed,
		shippingFee: orZero(input.ShippingFee),
		tax:         orZero(input.Tax),
		discount:    orZero(input.Discount),
	}

	if input.Subtotal != nil && !input.Subtotal.Equal(computed) {
		return totals{}, invalid("subtotal", "expected %s, got %s", computed.StringFixed(2), input.Subtotal.StringFixed(2))
	}

	expected := t.subtotal.Add(t.shippingFee).Add(t.tax).Sub(t.discount)
	if expected.IsNegative() {
		return totals{}, invalid("discount", "exceeds order amount")
	}

	t.total = expected
	if input.Total != nil {
		if !input.Total.Equal(expected) {
			return totals{}, invalid("total", "expected %s, got %s", expected.StringFixed(2), input.Total.StringFixed(2))
		}
		t.total = *input.Total
	}

	return t, nil
}

// ---------------- Transitions ----------------

func (s *service) UpdateStatus(ctx context.Context, ref string, input UpdateStatusInput) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "UpdateStatus"),
		zap.String("ref", ref),
		zap.String("target", string(input.Status)),
	)

	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.admin {
		log.Warn("non-admin status update", zap.Uint("caller_id", c.id))
		return nil, ErrForbidden
	}

	if input.Status == "" {
		return nil, invalid("status", "is required")
	}
	if !input.Status.Valid() {
		return nil, invalid("status", "unknown status %q", input.Status)
	}

	o, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}

	from := o.CurrentStatus()
	change, err := ApplyTransition(o, TransitionRequest{
		Target:      input.Status,
		ActorID:     c.actorID(),
		Note:        input.Note,
		TrackingID:  input.TrackingID,
		Courier:     input.Courier,
		TrackingURL: input.TrackingURL,
	}, s.now())
	if err != nil {
		log.Warn("transition rejected", zap.String("from", string(from)), zap.Error(err))
		return nil, err
	}

	// Stock goes back only while it is still in the warehouse.
	restock := input.Status == StatusCancelled && holdsStock(from)

	if err := s.repo.SaveTransitionTx(ctx, o, change, restock); err != nil {
		log.Error("failed to persist transition", zap.Error(err))
		return nil, err
	}

	s.metrics.StatusChanged(string(from), string(change.Status))
	log.Info("order status updated",
		zap.String("order_id", o.OrderID),
		zap.String("from", string(from)),
		zap.Bool("restocked", restock),
	)

	switch change.Status {
	case StatusShipped:
		s.notifyOwner(ctx, notify.EventOrderShipped, o)
	case StatusCancelled:
		s.notifyOwner(ctx, notify.EventOrderCancelled, o)
	}

	return o, nil
}

func (s *service) CancelOrder(ctx context.Context, ref string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "CancelOrder"),
		zap.String("ref", ref),
	)

	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	o, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !c.admin && !o.OwnedBy(c.id) {
		log.Warn("cancel of foreign order", zap.Uint("caller_id", c.id))
		return nil, ErrForbidden
	}

	from := o.CurrentStatus()
	if !IsCancellable(from) {
		log.Warn("order not cancellable", zap.String("status", string(from)))
		return nil, &CannotCancelError{Status: from}
	}

	change, err := ApplyTransition(o, TransitionRequest{
		Target:  StatusCancelled,
		ActorID: c.actorID(),
	}, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.repo.SaveTransitionTx(ctx, o, change, true); err != nil {
		log.Error("failed to persist cancellation", zap.Error(err))
		return nil, err
	}

	s.metrics.StatusChanged(string(from), string(StatusCancelled))
	log.Info("order cancelled",
		zap.String("order_id", o.OrderID),
		zap.String("payment_status", string(o.PaymentStatus)),
	)

	s.notifyOwner(ctx, notify.EventOrderCancelled, o)
	return o, nil
}

func (s *service) RequestReturn(ctx context.Context, ref string, note *string) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "RequestReturn"),
		zap.String("ref", ref),
	)

	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	o, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !c.admin && !o.OwnedBy(c.id) {
		return nil, ErrForbidden
	}

	from := o.CurrentStatus()
	change, err := ApplyTransition(o, TransitionRequest{
		Target:  StatusReturnRequested,
		ActorID: c.actorID(),
		Note:    utils.OptionalString(utils.PtrString(note)),
	}, s.now())
	if err != nil {
		log.Warn("return rejected", zap.Error(err))
		return nil, err
	}

	if err := s.repo.SaveTransitionTx(ctx, o, change, false); err != nil {
		log.Error("failed to persist return request", zap.Error(err))
		return nil, err
	}

	s.metrics.StatusChanged(string(from), string(change.Status))
	log.Info("return requested", zap.String("order_id", o.OrderID))
	return o, nil
}

func (s *service) AttachTracking(ctx context.Context, ref string, input TrackingInput) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "service"),
		zap.String("method", "AttachTracking"),
		zap.String("ref", ref),
	)

	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.admin {
		return nil, ErrForbidden
	}

	number := strings.TrimSpace(input.TrackingNumber)
	if number == "" {
		return nil, ErrMissingTrackingInfo
	}

	o, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch o.CurrentStatus() {
	case StatusShipped, StatusOutForDelivery:
	default:
		log.Warn("tracking update outside shipping", zap.String("status", string(o.CurrentStatus())))
		return nil, ErrTrackingNotAllowed
	}

	o.TrackingNumber = &number
	if company := strings.TrimSpace(input.TrackingCompany); company != "" {
		o.TrackingCompany = &company
	}
	if input.TrackingURL != nil {
		o.TrackingURL = utils.OptionalString(*input.TrackingURL)
	}
	o.UpdatedAt = s.now()

	if err := s.repo.UpdateTracking(ctx, o); err != nil {
		log.Error("failed to update tracking", zap.Error(err))
		return nil, err
	}

	log.Info("tracking updated", zap.String("order_id", o.OrderID))
	return o, nil
}

// ---------------- Reads ----------------

func (s *service) GetOrder(ctx context.Context, ref string) (*Order, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	o, err := s.load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !c.admin && !o.OwnedBy(c.id) {
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *service) ListMyOrders(ctx context.Context, limit, offset int32) ([]*Order, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset = normalizePage(limit, offset)
	return s.repo.List(ctx, ListFilter{UserID: &c.id, Limit: limit, Offset: offset})
}

func (s *service) ListOrders(ctx context.Context, status *Status, limit, offset int32) ([]*Order, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}
	if !c.admin {
		return nil, ErrForbidden
	}
	if status != nil && !status.Valid() {
		return nil, invalid("status", "unknown status %q", *status)
	}

	limit, offset = normalizePage(limit, offset)
	return s.repo.List(ctx, ListFilter{Status: status, Limit: limit, Offset: offset})
}

// AllowedTransitions lists the statuses the caller could move the order to.
// Admins see the full graph; owners only see cancel and return.
func (s *service) AllowedTransitions(ctx context.Context, ref string) ([]Status, error) {
	c, err := callerFrom(ctx)
	if err != nil {
		return nil, err
	}

	o, err := s.GetOrder(ctx, ref)
	if err != nil {
		return nil, err
	}

	current := o.CurrentStatus()
	if c.admin {
		return NextStatuses(current), nil
	}

	out := []Status{}
	if IsCancellable(current) {
		out = append(out, StatusCancelled)
	}
	if CanTransition(current, StatusReturnRequested) {
		out = append(out, StatusReturnRequested)
	}
	return out, nil
}

// ---------------- helpers ----------------

// load resolves ref as the internal uuid first and the human order id otherwise.
func (s *service) load(ctx context.Context, ref string) (*Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, invalid("id", "is required")
	}

	var (
		o   *Order
		err error
	)
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		o, err = s.repo.GetByID(ctx, id)
	} else {
		o, err = s.repo.GetByOrderID(ctx, ref)
	}

	if errors.Is(err, ErrOrderNotFound) {
		return nil, &NotFoundError{Resource: "order", ID: ref}
	}
	if err != nil {
		logger.FromCtx(ctx).Error("failed to load order", zap.String("ref", ref), zap.Error(err))
		return nil, err
	}
	return o, nil
}

func normalizePage(limit, offset int32) (int32, int32) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *service) notifyOwner(ctx context.Context, typ notify.EventType, o *Order) {
	u, err := s.users.GetByID(ctx, o.UserID)
	if err != nil {
		logger.FromCtx(ctx).Warn("skipping notification, owner lookup failed",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
		return
	}
	email, ok := u.ContactEmail()
	if !ok {
		return
	}
	s.publish(ctx, typ, o, email)
}

// publish is best-effort: a failed notification is logged and counted but
// never fails the workflow that triggered it.
func (s *service) publish(ctx context.Context, typ notify.EventType, o *Order, email string) {
	ev := notify.Event{
		Type:            typ,
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		Email:           email,
		Status:          string(o.CurrentStatus()),
		Total:           o.Total.StringFixed(2),
		TrackingNumber:  utils.PtrString(o.TrackingNumber),
		TrackingCompany: utils.PtrString(o.TrackingCompany),
		TrackingURL:     utils.PtrString(o.TrackingURL),
		OccurredAt:      o.UpdatedAt,
	}

	err := s.notifier.Notify(ctx, ev)
	s.metrics.NotificationResult(string(typ), err)
	if err != nil {
		logger.FromCtx(ctx).Warn("order notification failed",
			zap.String("type", string(typ)),
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
	}
}
