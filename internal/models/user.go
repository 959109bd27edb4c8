package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent   UserRole = "student"
	RoleProfessor UserRole = "professor"
	RoleHOD       UserRole = "hod"
	RoleAdmin     UserRole = "admin"
)

// ParseUserRole normalises a raw role string. Unknown roles yield false.
func ParseUserRole(raw string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleStudent, RoleProfessor, RoleHOD, RoleAdmin:
		return role, true
	default:
		return "", false
	}
}

// User represents an active account stored in the users table.
type User struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         UserRole  `db:"role" json:"role"`
	Department   string    `db:"department" json:"department"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// PendingUser holds an unverified or unapproved signup request.
type PendingUser struct {
	ID            string     `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	Role          UserRole   `db:"role" json:"role"`
	Department    string     `db:"department" json:"department"`
	OTP           *string    `db:"otp" json:"-"`
	OTPExpiresAt  *time.Time `db:"otp_expires_at" json:"-"`
	EmailVerified bool       `db:"email_verified" json:"isEmailVerified"`
	AdminApproved bool       `db:"admin_approved" json:"isApproved"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
}

// StudentSummary is a student row enriched with the number of submissions.
type StudentSummary struct {
	ID         string    `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Email      string    `db:"email" json:"email"`
	Department string    `db:"department" json:"department"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
	Total      int       `db:"total" json:"total"`
}

// UserView is an account as shown in the admin directory.
type UserView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Role           UserRole  `json:"role"`
	Department     string    `json:"department"`
	DepartmentName string    `json:"departmentName"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserGroup collects the accounts of one role.
type UserGroup struct {
	Role  UserRole   `json:"role"`
	Count int        `json:"count"`
	Users []UserView `json:"users"`
}

// UserDirectory is the admin view of all active accounts.
type UserDirectory struct {
	Total  int         `json:"total"`
	Groups []UserGroup `json:"groups"`
}

// SignupResult acknowledges a signup or verification step.
type SignupResult struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}
