package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller resolved from an identity token.
type Principal struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       UserRole `json:"role"`
	Department string   `json:"department"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	Email      string   `json:"email"`
	Role       UserRole `json:"role"`
	Department string   `json:"department"`
	jwt.RegisteredClaims
}

// Principal returns the caller identity carried by the claims.
func (c *JWTClaims) Principal() *Principal {
	if c == nil {
		return nil
	}
	return &Principal{
		ID:         c.UserID,
		Name:       c.Name,
		Email:      c.Email,
		Role:       c.Role,
		Department: c.Department,
	}
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// LoginResponse returns the issued token, the user and the department directory.
type LoginResponse struct {
	Message     string       `json:"message"`
	Token       string       `json:"token"`
	ExpiresIn   int64        `json:"expires_in"`
	IssuedAt    time.Time    `json:"issued_at"`
	Redirect    string       `json:"redirect"`
	User        Principal    `json:"user"`
	Departments []Department `json:"departments"`
}

// SignupRequest captures a new account request.
type SignupRequest struct {
	Name       string `json:"name" validate:"required,max=120"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=6"`
	Role       string `json:"role" validate:"required,oneof=student professor hod"`
	Department string `json:"department" validate:"required"`
}

// VerifyOTPRequest confirms ownership of a signup email.
type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   string `json:"otp" validate:"required,len=6,numeric"`
}
