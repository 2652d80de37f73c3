package auth

import "time"

// Member is the domain representation of an authenticated member.
// It mirrors the members table and should not include JSON annotations so it
// can be reused by different presentation layers.
type Member struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	CoupleID     *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains member registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains member login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
