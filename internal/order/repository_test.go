package order

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{
	"id", "order_id", "user_id",
	"shipping_address_id", "billing_address_id",
	"payment_method", "payment_status", "payment_id",
	"subtotal", "shipping_fee", "tax", "discount", "total",
	"tracking_number", "tracking_company", "tracking_url",
	"created_at", "updated_at",
}

func newTestOrder(now time.Time) *Order {
	addr := uuid.New()
	return &Order{
		ID:      uuid.New(),
		OrderID: "ORD-2026-000123",
		UserID:  7,
		Items: []OrderItem{
			{ProductID: uuid.New(), Name: "Oak Chair", Quantity: 2, Size: "M", Color: "Brown", UnitPrice: decimal.NewFromInt(500)},
		},
		Subtotal:          decimal.NewFromInt(1000),
		ShippingFee:       decimal.NewFromInt(50),
		Tax:               decimal.NewFromInt(50),
		Discount:          decimal.Zero,
		Total:             decimal.NewFromInt(1100),
		StatusHistory:     []StatusChange{initialStatus("7", now)},
		PaymentMethod:     PaymentMethodCOD,
		PaymentStatus:     PaymentStatusPending,
		ShippingAddressID: addr,
		BillingAddressID:  addr,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func orderRow(o *Order) *sqlmock.Rows {
	return sqlmock.NewRows(orderCols).AddRow(
		o.ID.String(), o.OrderID, o.UserID,
		o.ShippingAddressID.String(), o.BillingAddressID.String(),
		string(o.PaymentMethod), string(o.PaymentStatus), nil,
		o.Subtotal.String(), o.ShippingFee.String(), o.Tax.String(), o.Discount.String(), o.Total.String(),
		nil, nil, nil,
		o.CreatedAt, o.UpdatedAt,
	)
}

func expectChildren(mock sqlmock.Sqlmock, o *Order) {
	items := sqlmock.NewRows([]string{"order_id", "product_id", "name", "image", "quantity", "size", "color", "unit_price"})
	for _, it := range o.Items {
		items.AddRow(o.ID.String(), it.ProductID.String(), it.Name, nil, it.Quantity, it.Size, it.Color, it.UnitPrice.String())
	}
	mock.ExpectQuery(`SELECT order_id, product_id, .* FROM order_items WHERE order_id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(items)

	history := sqlmock.NewRows([]string{"order_id", "seq", "status", "changed_at", "changed_by", "note"})
	for _, h := range o.StatusHistory {
		history.AddRow(o.ID.String(), h.Seq, string(h.Status), h.ChangedAt, h.ChangedBy, nil)
	}
	mock.ExpectQuery(`SELECT order_id, seq, .* FROM order_status_history WHERE order_id = ANY`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(history)
}

func TestRepository_OrderIDExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM orders WHERE order_id = \$1\)`).
		WithArgs("ORD-2026-000001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.OrderIDExists(context.Background(), "ORD-2026-000001")
	assert.NoError(t, err)
	assert.True(t, exists)

	mock.ExpectQuery(`SELECT EXISTS`).WillReturnError(errors.New("db down"))
	_, err = repo.OrderIDExists(context.Background(), "ORD-2026-000002")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateOrderTx(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		o := newTestOrder(now)
		item := o.Items[0]

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).
			WithArgs(
				o.ID, o.OrderID, o.UserID,
				o.ShippingAddressID, o.BillingAddressID,
				o.PaymentMethod, o.PaymentStatus, o.PaymentID,
				o.Subtotal, o.ShippingFee, o.Tax, o.Discount, o.Total,
				o.CreatedAt, o.UpdatedAt,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_items`).
			WithArgs(o.ID, 0, item.ProductID, item.Name, item.Image, item.Quantity, item.Size, item.Color, item.UnitPrice).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(o.ID, 1, StatusOrderPlaced, now, "7", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE products SET stock = stock - \$1, sold = sold \+ \$1 WHERE id = \$2 AND stock >= \$1`).
			WithArgs(item.Quantity, item.ProductID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = repo.CreateOrderTx(context.Background(), o)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientStockRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)
		o := newTestOrder(now)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_items`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_status_history`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE products SET stock = stock -`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = repo.CreateOrderTx(context.Background(), o)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientStock)

		var stockErr *InsufficientStockError
		require.True(t, errors.As(err, &stockErr))
		assert.Equal(t, o.Items[0].ProductID, stockErr.ProductID)
		assert.Equal(t, 2, stockErr.Requested)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateOrderID", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_order_id_key"})
		mock.ExpectRollback()

		err = repo.CreateOrderTx(context.Background(), newTestOrder(now))
		assert.ErrorIs(t, err, ErrDuplicateOrderID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ItemInsertFails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewRepository(db)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO orders`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO order_items`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err = repo.CreateOrderTx(context.Background(), newTestOrder(now))
		assert.EqualError(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RequiresInitialHistory", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(now)
		o.StatusHistory = nil

		err = NewRepository(db).CreateOrderTx(context.Background(), o)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_GetByID(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(now)

		mock.ExpectQuery(`SELECT .* FROM orders o WHERE o.id = \$1`).
			WithArgs(o.ID).
			WillReturnRows(orderRow(o))
		expectChildren(mock, o)

		got, err := NewRepository(db).GetByID(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.OrderID, got.OrderID)
		assert.True(t, o.Total.Equal(got.Total))
		require.Len(t, got.Items, 1)
		assert.Equal(t, o.Items[0].ProductID, got.Items[0].ProductID)
		require.Len(t, got.StatusHistory, 1)
		assert.Equal(t, StatusOrderPlaced, got.CurrentStatus())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT .* FROM orders o WHERE o.id = \$1`).
			WillReturnError(sql.ErrNoRows)

		_, err = NewRepository(db).GetByID(context.Background(), uuid.New())
		assert.ErrorIs(t, err, ErrOrderNotFound)
	})
}

func TestRepository_GetByOrderID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	o := newTestOrder(time.Now())

	mock.ExpectQuery(`SELECT .* FROM orders o WHERE o.order_id = \$1`).
		WithArgs(o.OrderID).
		WillReturnRows(orderRow(o))
	expectChildren(mock, o)

	got, err := NewRepository(db).GetByOrderID(context.Background(), o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_List(t *testing.T) {
	t.Run("ByUserAndStatus", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(time.Now())
		userID := o.UserID
		status := StatusOrderPlaced

		mock.ExpectQuery(`SELECT .* FROM orders o WHERE o.user_id = \$1 AND \( SELECT h.status FROM order_status_history h .* \) = \$2 ORDER BY o.created_at DESC LIMIT \$3 OFFSET \$4`).
			WithArgs(userID, status, int32(20), int32(0)).
			WillReturnRows(orderRow(o))
		expectChildren(mock, o)

		orders, err := NewRepository(db).List(context.Background(), ListFilter{
			UserID: &userID,
			Status: &status,
			Limit:  20,
		})
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Len(t, orders[0].Items, 1)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptySkipsChildren", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT .* FROM orders o ORDER BY o.created_at DESC LIMIT \$1 OFFSET \$2`).
			WithArgs(int32(10), int32(10)).
			WillReturnRows(sqlmock.NewRows(orderCols))

		orders, err := NewRepository(db).List(context.Background(), ListFilter{Limit: 10, Offset: 10})
		assert.NoError(t, err)
		assert.Empty(t, orders)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("QueryError", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(`SELECT .* FROM orders o`).WillReturnError(errors.New("db error"))

		_, err = NewRepository(db).List(context.Background(), ListFilter{Limit: 10})
		assert.Error(t, err)
	})
}

func TestRepository_SaveTransitionTx(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("CancelWithRestock", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(now)
		change, err := ApplyTransition(o, TransitionRequest{Target: StatusCancelled, ActorID: "7"}, now)
		require.NoError(t, err)
		item := o.Items[0]

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WithArgs(o.ID, 2, StatusCancelled, now, "7", nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE orders SET payment_status = \$1`).
			WithArgs(o.PaymentStatus, nil, nil, nil, now, o.ID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE products SET stock = stock \+ \$1, sold = sold - \$1 WHERE id = \$2`).
			WithArgs(item.Quantity, item.ProductID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err = NewRepository(db).SaveTransitionTx(context.Background(), o, change, true)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ConcurrentWriterLoses", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(now)
		change, err := ApplyTransition(o, TransitionRequest{Target: StatusPaymentPending, ActorID: "admin"}, now)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_status_history`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "order_status_history_pkey"})
		mock.ExpectRollback()

		err = NewRepository(db).SaveTransitionTx(context.Background(), o, change, false)
		assert.ErrorIs(t, err, ErrConcurrentUpdate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RestockFailureRollsBack", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(now)
		change, err := ApplyTransition(o, TransitionRequest{Target: StatusCancelled, ActorID: "7"}, now)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_status_history`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = NewRepository(db).SaveTransitionTx(context.Background(), o, change, true)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OrderMissing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		o := newTestOrder(now)
		change, err := ApplyTransition(o, TransitionRequest{Target: StatusPaymentPending, ActorID: "admin"}, now)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO order_status_history`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = NewRepository(db).SaveTransitionTx(context.Background(), o, change, false)
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_UpdateTracking(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	o := newTestOrder(time.Now())
	number, company := "TRK-1", "BlueDart"
	o.TrackingNumber = &number
	o.TrackingCompany = &company

	mock.ExpectExec(`UPDATE orders SET tracking_number = \$1`).
		WithArgs(number, company, nil, o.UpdatedAt, o.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, NewRepository(db).UpdateTracking(context.Background(), o))

	mock.ExpectExec(`UPDATE orders SET tracking_number`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, NewRepository(db).UpdateTracking(context.Background(), o), ErrOrderNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
