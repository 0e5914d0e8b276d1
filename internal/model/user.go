// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the coarse authorization level of a user account.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User represents an account that can sign in, either with a password or
// with Google.
//
// Password is nil for Google-only accounts. Such accounts always carry a
// GoogleID and are created already verified.
//
// EmailVerified is nil until the user follows the verification link (or
// signs in through Google). Login with a password is refused while it is nil.
//
// The reset fields hold two independent credentials:
//   - ResetOTP / ResetOTPExpiry: the 6-digit code mailed by forgot-password
//   - ResetToken / ResetTokenExpiry: the opaque grant returned by verify-otp
//
// None of the secret fields are ever serialised to JSON.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Password      *string    `json:"-"`
	Name          *string    `json:"name"`
	Image         *string    `json:"image"`
	Role          Role       `json:"role"`
	GoogleID      *string    `json:"googleId,omitempty"`
	EmailVerified *time.Time `json:"emailVerified"`

	ResetOTP         *string    `json:"-"`
	ResetOTPExpiry   *time.Time `json:"-"`
	ResetToken       *string    `json:"-"`
	ResetTokenExpiry *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// HasPassword reports whether the account can sign in with credentials.
func (u *User) HasPassword() bool {
	return u.Password != nil && *u.Password != ""
}

// IsVerified reports whether the account's email has been confirmed.
func (u *User) IsVerified() bool {
	return u.EmailVerified != nil
}

// IsAdmin reports whether the account may use the review endpoints.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DisplayName returns the user's name, or an empty string when unset.
func (u *User) DisplayName() string {
	if u.Name == nil {
		return ""
	}
	return *u.Name
}

// PublicUser is the profile shape returned by /api/auth/me and login.
type PublicUser struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          *string    `json:"name"`
	Image         *string    `json:"image"`
	Role          Role       `json:"role"`
	EmailVerified *time.Time `json:"emailVerified"`
}

// Public strips everything but the profile fields.
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Image:         u.Image,
		Role:          u.Role,
		EmailVerified: u.EmailVerified,
	}
}
