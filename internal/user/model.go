package user

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the read-only view of an account the order core needs at checkout.
type User struct {
	ID       uint
	Email    string
	Role     Role
	FullName *string
}

// ContactEmail returns the profile email if one is present.
func (u *User) ContactEmail() (string, bool) {
	if u == nil || u.Email == "" {
		return "", false
	}
	return u.Email, true
}
