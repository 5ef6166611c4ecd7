package admin

import (
	"time"

	"github.com/google/uuid"
)

// Role of an operator account.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleOperator   Role = "operator"
)

func (r Role) Valid() bool {
	return r == RoleSuperAdmin || r == RoleOperator
}

// AdminUser is a storefront operator.
type AdminUser struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Name         string     `db:"name" json:"name"`
	Role         Role       `db:"role" json:"role"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLoginAt  *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// Session is what a successful login returns.
type Session struct {
	AccessToken string     `json:"access_token"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Admin       *AdminUser `json:"admin"`
}
