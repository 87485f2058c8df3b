package product

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog row the order core reads at checkout. Only Stock and
// Sold are ever mutated by order workflows.
type Product struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Sold     int             `json:"sold"`
	ImageURL *string         `json:"imageUrl,omitempty"`
}

// HasStock is the advisory check; the conditional decrement in ReserveStock is authoritative.
func (p *Product) HasStock(qty int) bool {
	return p != nil && qty > 0 && p.Stock >= qty
}
