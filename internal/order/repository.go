package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"furnish-be/internal/db"
	"furnish-be/internal/logger"
	"furnish-be/internal/product"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

type Repository interface {
	OrderIDExists(ctx context.Context, orderID string) (bool, error)

	// CreateOrderTx persists the order, its item snapshots and initial
	// history entry, and reserves stock for every item, all in one transaction.
	CreateOrderTx(ctx context.Context, o *Order) error

	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByOrderID(ctx context.Context, orderID string) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]*Order, error)

	// SaveTransitionTx appends change to the history, persists the status
	// side effects held on o and, when restock is set, returns every item's
	// quantity to stock.
	SaveTransitionTx(ctx context.Context, o *Order, change StatusChange, restock bool) error

	UpdateTracking(ctx context.Context, o *Order) error
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

const orderColumns = `
	o.id, o.order_id, o.user_id,
	o.shipping_address_id, o.billing_address_id,
	o.payment_method, o.payment_status, o.payment_id,
	o.subtotal, o.shipping_fee, o.tax, o.discount, o.total,
	o.tracking_number, o.tracking_company, o.tracking_url,
	o.created_at, o.updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.OrderID, &o.UserID,
		&o.ShippingAddressID, &o.BillingAddressID,
		&o.PaymentMethod, &o.PaymentStatus, &o.PaymentID,
		&o.Subtotal, &o.ShippingFee, &o.Tax, &o.Discount, &o.Total,
		&o.TrackingNumber, &o.TrackingCompany, &o.TrackingURL,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (r *repository) OrderIDExists(ctx context.Context, orderID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE order_id = $1)`, orderID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order id: %w", err)
	}
	return exists, nil
}

func (r *repository) CreateOrderTx(ctx context.Context, o *Order) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "CreateOrderTx"),
		zap.String("order_id", o.OrderID),
		zap.Int("item_count", len(o.Items)),
	)

	if len(o.StatusHistory) != 1 {
		return fmt.Errorf("new order must carry exactly one history entry, got %d", len(o.StatusHistory))
	}

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		// 1. Insert order
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (
				id, order_id, user_id,
				shipping_address_id, billing_address_id,
				payment_method, payment_status, payment_id,
				subtotal, shipping_fee, tax, discount, total,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			o.ID, o.OrderID, o.UserID,
			o.ShippingAddressID, o.BillingAddressID,
			o.PaymentMethod, o.PaymentStatus, o.PaymentID,
			o.Subtotal, o.ShippingFee, o.Tax, o.Discount, o.Total,
			o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				log.Warn("order id collision")
				return ErrDuplicateOrderID
			}
			log.Error("failed to insert order", zap.Error(err))
			return err
		}

		// 2. Insert item snapshots
		for i, item := range o.Items {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO order_items (
					order_id, position, product_id, name, image,
					quantity, size, color, unit_price
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`,
				o.ID, i, item.ProductID, item.Name, item.Image,
				item.Quantity, item.Size, item.Color, item.UnitPrice,
			)
			if err != nil {
				log.Error("failed to insert order item",
					zap.Int("item_index", i),
					zap.String("product_id", item.ProductID.String()),
					zap.Error(err),
				)
				return err
			}
		}

		// 3. Initial history entry
		if err := insertHistory(ctx, tx, o.ID, o.StatusHistory[0]); err != nil {
			log.Error("failed to insert initial status", zap.Error(err))
			return err
		}

		// 4. Reserve stock
		for _, item := range o.Items {
			err := product.ReserveStock(ctx, tx, item.ProductID, item.Quantity)
			if errors.Is(err, product.ErrInsufficientStock) {
				log.Warn("stock reservation rejected",
					zap.String("product_id", item.ProductID.String()),
					zap.Int("quantity", item.Quantity),
				)
				return &InsufficientStockError{
					ProductID: item.ProductID,
					Name:      item.Name,
					Requested: item.Quantity,
					Available: -1,
				}
			}
			if err != nil {
				log.Error("failed to reserve stock", zap.Error(err))
				return err
			}
		}

		log.Debug("order persisted and stock reserved")
		return nil
	})
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, c StatusChange) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (
			order_id, seq, status, changed_at, changed_by, note
		) VALUES ($1,$2,$3,$4,$5,$6)
	`, orderID, c.Seq, c.Status, c.ChangedAt, c.ChangedBy, c.Note)
	if err != nil && isUniqueViolation(err) {
		return ErrConcurrentUpdate
	}
	return err
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, "o.id = $1", id)
}

func (r *repository) GetByOrderID(ctx context.Context, orderID string) (*Order, error) {
	return r.getOne(ctx, "o.order_id = $1", orderID)
}

func (r *repository) getOne(ctx context.Context, where string, arg any) (*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "GetOrder"),
		zap.Any("key", arg),
	)

	query := "SELECT " + orderColumns + " FROM orders o WHERE " + where
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		log.Error("failed to query order", zap.Error(err))
		return nil, err
	}

	if err := r.loadChildren(ctx, []*Order{o}); err != nil {
		log.Error("failed to load order children", zap.Error(err))
		return nil, err
	}
	return o, nil
}

// latestStatusExpr resolves an order's current status from its history.
const latestStatusExpr = `(
	SELECT h.status FROM order_status_history h
	WHERE h.order_id = o.id
	ORDER BY h.seq DESC
	LIMIT 1
)`

func (r *repository) List(ctx context.Context, filter ListFilter) ([]*Order, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "List"),
		zap.Int32("limit", filter.Limit),
		zap.Int32("offset", filter.Offset),
	)

	var (
		where []string
		args  []any
	)

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		where = append(where, fmt.Sprintf("o.user_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("%s = $%d", latestStatusExpr, len(args)))
	}

	query := "SELECT " + orderColumns + " FROM orders o"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	log.Debug("executing list orders query", zap.String("query", query))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		log.Error("failed to query orders", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			log.Error("failed to scan order row", zap.Error(err))
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		log.Error("rows iteration error", zap.Error(err))
		return nil, err
	}

	if err := r.loadChildren(ctx, orders); err != nil {
		log.Error("failed to load order children", zap.Error(err))
		return nil, err
	}

	log.Info("list orders success", zap.Int("count", len(orders)))
	return orders, nil
}

// loadChildren fills Items and StatusHistory for the given orders.
func (r *repository) loadChildren(ctx context.Context, orders []*Order) error {
	if len(orders) == 0 {
		return nil
	}

	byID := make(map[uuid.UUID]*Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID.String())
	}

	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, image, quantity, size, color, unit_price
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var (
			orderID uuid.UUID
			item    OrderItem
		)
		if err := itemRows.Scan(
			&orderID, &item.ProductID, &item.Name, &item.Image,
			&item.Quantity, &item.Size, &item.Color, &item.UnitPrice,
		); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return err
	}

	historyRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, seq, status, changed_at, changed_by, note
		FROM order_status_history
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, seq
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query status history: %w", err)
	}
	defer historyRows.Close()

	for historyRows.Next() {
		var (
			orderID uuid.UUID
			c       StatusChange
		)
		if err := historyRows.Scan(&orderID, &c.Seq, &c.Status, &c.ChangedAt, &c.ChangedBy, &c.Note); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.StatusHistory = append(o.StatusHistory, c)
		}
	}
	return historyRows.Err()
}

func (r *repository) SaveTransitionTx(ctx context.Context, o *Order, change StatusChange, restock bool) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "repository"),
		zap.String("method", "SaveTransitionTx"),
		zap.String("order_id", o.OrderID),
		zap.String("status", string(change.Status)),
		zap.Bool("restock", restock),
	)

	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := insertHistory(ctx, tx, o.ID, change); err != nil {
			if errors.Is(err, ErrConcurrentUpdate) {
				log.Warn("status history sequence taken", zap.Int("seq", change.Seq))
				return err
			}
			log.Error("failed to append status history", zap.Error(err))
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET payment_status = $1,
				tracking_number = $2,
				tracking_company = $3,
				tracking_url = $4,
				updated_at = $5
			WHERE id = $6
		`, o.PaymentStatus, o.TrackingNumber, o.TrackingCompany, o.TrackingURL, change.ChangedAt, o.ID)
		if err != nil {
			log.Error("failed to update order", zap.Error(err))
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrOrderNotFound
		}

		if !restock {
			return nil
		}
		for _, item := range o.Items {
			if err := product.ReleaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				log.Error("failed to release stock",
					zap.String("product_id", item.ProductID.String()),
					zap.Error(err),
				)
				return err
			}
		}
		return nil
	})
}

func (r *repository) UpdateTracking(ctx context.Context, o *Order) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET tracking_number = $1,
			tracking_company = $2,
			tracking_url = $3,
			updated_at = $4
		WHERE id = $5
	`, o.TrackingNumber, o.TrackingCompany, o.TrackingURL, o.UpdatedAt, o.ID)
	if err != nil {
		logger.FromCtx(ctx).Error("failed to update tracking",
			zap.String("order_id", o.OrderID),
			zap.Error(err),
		)
		return err
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrOrderNotFound
	}
	return nil
}
