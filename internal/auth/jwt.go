// Package auth provides the credential primitives of the CRM: JWT session and
// verification tokens, bcrypt password hashing, one-time reset codes, Google
// identity verification and the cookie-reading middleware.
//
// SESSION FLOW:
//  1. Login (password or Google) issues a session JWT carrying id, email,
//     name and role, valid for one hour.
//  2. The JWT is stored in the HttpOnly "authToken" cookie.
//  3. RequireAuth reads the cookie on protected routes, validates the JWT
//     and puts the claims in the request context.
//
// Two token kinds share one HMAC secret. They are kept apart by audience:
// a verification link cannot be replayed as a session cookie, and the
// reverse.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/student-crm/internal/model"
)

const (
	issuer = "student-crm"

	audienceSession      = "session"
	audienceVerification = "email-verification"

	// SessionTTL is the lifetime of a session token and of its cookie.
	SessionTTL = time.Hour
	// VerificationTTL is how long an email verification link stays valid.
	VerificationTTL = 24 * time.Hour
)

// ErrTokenExpired is returned by the Validate methods for well-formed tokens
// whose expiry has passed.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
//
// It holds the HMAC secret used to sign and verify tokens.
// The same secret must be used for both operations.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// SessionClaims is the payload of the authToken cookie.
// The custom fields mirror what the web client decodes: id, email, name, role.
type SessionClaims struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Name  string     `json:"name,omitempty"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the session belongs to an administrator.
func (c *SessionClaims) IsAdmin() bool {
	return c.Role == model.RoleAdmin
}

// VerificationClaims is the payload of an email verification link.
type VerificationClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// GenerateSession signs a one-hour session token for user.
func (s *TokenService) GenerateSession(user *model.User) (string, error) {
	return s.GenerateSessionWithDuration(user, SessionTTL)
}

// GenerateSessionWithDuration is GenerateSession with a custom lifetime.
// Tests use a negative duration to produce already-expired tokens.
func (s *TokenService) GenerateSessionWithDuration(user *model.User, d time.Duration) (string, error) {
	c := SessionClaims{
		ID:               user.ID,
		Email:            user.Email,
		Name:             user.DisplayName(),
		Role:             user.Role,
		RegisteredClaims: s.registered(user.ID, audienceSession, d),
	}
	return s.sign(c)
}

// ValidateSession parses and verifies a session token.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid and the algorithm is HS256
//   - Token is not expired
//   - Issuer and audience match
func (s *TokenService) ValidateSession(tokenStr string) (*SessionClaims, error) {
	c := &SessionClaims{}
	if err := s.parse(tokenStr, c, audienceSession); err != nil {
		return nil, err
	}
	if c.ID == "" {
		return nil, fmt.Errorf("auth: token has no user id")
	}
	return c, nil
}

// GenerateVerification signs the token embedded in a verification email.
func (s *TokenService) GenerateVerification(userID, email string) (string, error) {
	return s.GenerateVerificationWithDuration(userID, email, VerificationTTL)
}

func (s *TokenService) GenerateVerificationWithDuration(userID, email string, d time.Duration) (string, error) {
	c := VerificationClaims{
		UserID:           userID,
		Email:            email,
		RegisteredClaims: s.registered(userID, audienceVerification, d),
	}
	return s.sign(c)
}

// ValidateVerification parses and verifies an email verification token.
func (s *TokenService) ValidateVerification(tokenStr string) (*VerificationClaims, error) {
	c := &VerificationClaims{}
	if err := s.parse(tokenStr, c, audienceVerification); err != nil {
		return nil, err
	}
	if c.UserID == "" || c.Email == "" {
		return nil, fmt.Errorf("auth: verification token is missing userId or email")
	}
	return c, nil
}

func (s *TokenService) registered(subject, audience string, d time.Duration) jwt.RegisteredClaims {
	now := s.now()
	return jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		Issuer:    issuer,
	}
}

func (s *TokenService) sign(c jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// parse verifies tokenStr into c. Passing jwt.WithValidMethods rejects
// tokens signed with "none" or an asymmetric algorithm.
func (s *TokenService) parse(tokenStr string, c jwt.Claims, audience string) error {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		c,
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrTokenExpired
		}
		return fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("auth: invalid token claims")
	}
	return nil
}
