package entity

import (
	"strings"
	"time"
)

const (
	StatusActive   = "active"
	StatusLocked   = "locked"
	StatusDisabled = "disabled"
)

const (
	TypeStudent = "student"
	TypeFaculty = "faculty"
	TypeStaff   = "staff"
	TypeAdmin   = "admin"
)

// User is a row in the `users` table.
type User struct {
	ID                  int64      `db:"id" json:"id"`
	Username            *string    `db:"username" json:"username,omitempty"`
	Email               *string    `db:"email" json:"email,omitempty"`
	EmailVerified       bool       `db:"email_verified" json:"email_verified"`
	FirstName           string     `db:"first_name" json:"first_name"`
	LastName            string     `db:"last_name" json:"last_name"`
	PhoneNumber         *string    `db:"phone_number" json:"phone_number,omitempty"`
	PasswordHash        *string    `db:"password_hash" json:"-"`
	PasswordAlgo        *string    `db:"password_algo" json:"-"`
	PasswordUpdatedAt   *time.Time `db:"password_updated_at" json:"-"`
	MustResetPassword   bool       `db:"must_reset_password" json:"must_reset_password"`
	Status              string     `db:"status" json:"status"`
	LoginFailedAttempts int        `db:"login_failed_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	UserType            string     `db:"user_type" json:"user_type"`
	MaxBooksAllowed     int        `db:"max_books_allowed" json:"max_books_allowed"`
	Version             int64      `db:"version" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	DeactivatedAt       *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
}

// DisplayName prefers the full name, then the username, then the email.
func (u *User) DisplayName() string {
	if n := strings.TrimSpace(u.FirstName + " " + u.LastName); n != "" {
		return n
	}
	if u.Username != nil && *u.Username != "" {
		return *u.Username
	}
	if u.Email != nil {
		return *u.Email
	}
	return ""
}

// MinimalAuthView is the minimal projection required for token claim hydration.
type MinimalAuthView struct {
	ID            int64   `db:"id" json:"id"`
	UserType      string  `db:"user_type" json:"user_type"`
	Version       int64   `db:"version" json:"-"`
	Email         *string `db:"email" json:"email,omitempty"`
	EmailVerified bool    `db:"email_verified" json:"email_verified"`
}

// ValidType reports whether t is a known user type.
func ValidType(t string) bool {
	switch t {
	case TypeStudent, TypeFaculty, TypeStaff, TypeAdmin:
		return true
	}
	return false
}

// DefaultLimit is the base borrowing limit for a user type.
func DefaultLimit(userType string) int {
	switch userType {
	case TypeFaculty:
		return 10
	case TypeStaff:
		return 8
	default:
		return 5
	}
}
