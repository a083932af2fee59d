package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the laboratory roles carried in access tokens.
type UserRole string

const (
	RoleAdmin       UserRole = "ADMIN"
	RoleTechnician  UserRole = "TECHNICIAN"
	RoleReviewer    UserRole = "REVIEWER"
	RolePathologist UserRole = "PATHOLOGIST"
	RoleViewer      UserRole = "VIEWER"
)

// JWTClaims represents the JWT payload minted by the identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	TenantID string   `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}
