package address

import (
	"github.com/google/uuid"
)

// Address is an immutable delivery/billing snapshot referenced by orders.
type Address struct {
	ID     uuid.UUID
	UserID uint

	ReceiverName string
	Phone        string

	Address1 string
	Address2 *string

	City     string
	Province string
	Postal   string
	Country  string

	IsActive bool
}

// OwnedBy reports whether the address is usable by the given user.
func (a *Address) OwnedBy(userID uint) bool {
	return a != nil && a.IsActive && a.UserID == userID
}
