package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RolePartner  Role = "partner"
	RoleCustomer Role = "customer"
)

// Permission names checked by RequirePermission.
const (
	PermCreateBooking    = "create_booking"
	PermViewOwnBookings  = "view_own_bookings"
	PermViewAvailable    = "view_available_bookings"
	PermUpdateStatus     = "update_booking_status"
	PermTrackBooking     = "track_booking"
	PermAssignPartner    = "assign_partner"
	PermViewAllBookings  = "view_all_bookings"
	PermManagePartnerOwn = "manage_own_partner_profile"
)

// User represents a user in the system
type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name         string             `bson:"name" json:"name"`
	Email        string             `bson:"email" json:"email"`
	Phone        string             `bson:"phone" json:"phone"`
	PasswordHash string             `bson:"password_hash" json:"-"`
	Role         Role               `bson:"role" json:"role"`
	IsActive     bool               `bson:"is_active" json:"is_active"`
	LastLogin    *time.Time         `bson:"last_login,omitempty" json:"last_login,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest represents a user registration request. Categories and
// BusinessName only apply to partner registrations.
type RegisterRequest struct {
	Name         string   `json:"name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone"`
	Password     string   `json:"password"`
	Role         Role     `json:"role"`
	BusinessName string   `json:"business_name,omitempty"`
	Categories   []string `json:"categories,omitempty"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	User         User     `json:"user"`
	Partner      *Partner `json:"partner,omitempty"`
}

// Claims represents verified JWT claims. PartnerID is empty for tokens that
// were issued before the user had a partner profile.
type Claims struct {
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	PartnerID string `json:"partner_id,omitempty"`
	Exp       int64  `json:"exp"`
}

// IsAdmin reports whether the claims carry an admin-equivalent role.
func (c *Claims) IsAdmin() bool {
	return IsAdminRole(c.Role)
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleOperator, RolePartner, RoleCustomer:
		return true
	default:
		return false
	}
}

// IsAdminRole reports whether role is admin or an operator.
func IsAdminRole(role Role) bool {
	return role == RoleAdmin || role == RoleOperator
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleOperator:
		return action != "manage_users"
	case RolePartner:
		return action == PermViewAvailable || action == PermUpdateStatus ||
			action == PermTrackBooking || action == PermViewOwnBookings ||
			action == PermManagePartnerOwn
	case RoleCustomer:
		return action == PermCreateBooking || action == PermViewOwnBookings
	default:
		return false
	}
}
