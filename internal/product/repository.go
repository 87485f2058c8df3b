package product

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"furnish-be/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
)

// Execer is satisfied by *sql.DB and *sql.Tx so stock updates can join a caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Product, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	log := logger.FromCtx(ctx).With(
		zap.String("repo", "Product"),
		zap.String("method", "GetByID"),
		zap.String("product_id", id.String()),
	)

	const q = `
		SELECT id, name, price, stock, sold, image_url
		FROM products
		WHERE id = $1
	`

	var p Product
	err := r.db.QueryRowContext(ctx, q, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Sold, &p.ImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		log.Warn("product not found")
		return nil, ErrProductNotFound
	}
	if err != nil {
		log.Error("query failed", zap.Error(err))
		return nil, err
	}

	return &p, nil
}

// ReserveStock moves qty units from stock to sold in a single conditional
// update. It never drives stock negative: when fewer than qty units remain no
// row is touched and ErrInsufficientStock is returned.
func ReserveStock(ctx context.Context, ex Execer, id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := ex.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1, sold = sold + $1
		WHERE id = $2 AND stock >= $1
	`, qty, id)
	if err != nil {
		return fmt.Errorf("reserve stock for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reserve stock for %s: %w", id, err)
	}
	if affected == 0 {
		return ErrInsufficientStock
	}
	return nil
}

// ReleaseStock is the exact inverse of ReserveStock.
func ReleaseStock(ctx context.Context, ex Execer, id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}

	res, err := ex.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $1, sold = sold - $1
		WHERE id = $2
	`, qty, id)
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release stock for %s: %w", id, err)
	}
	if affected == 0 {
		return ErrProductNotFound
	}
	return nil
}
