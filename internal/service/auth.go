package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/ratelimit"
	"github.com/sakif/student-crm/internal/repository"
)

// AuthService handles account creation, sign-in and email verification.
//
// It sits between the HTTP handlers and the repository/auth utilities:
//
//	AuthHandler (HTTP) → AuthService (business rules) → UserRepository (DB)
//	                   ↘ TokenSigner (JWT), GoogleVerifier (OIDC), Mailer
//
// Setting the session cookie stays in the handler; AuthService only returns
// the token.
type AuthService struct {
	users     repository.UserRepository
	tokens    TokenSigner
	passwords *auth.PasswordService
	google    GoogleVerifier
	mail      Mailer
	limiter   ratelimit.Limiter
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// AuthDeps lists AuthService's collaborators. Google may be nil when no
// client id is configured; Limiter may be nil to disable cooldowns.
type AuthDeps struct {
	Users     repository.UserRepository
	Tokens    TokenSigner
	Passwords *auth.PasswordService
	Google    GoogleVerifier
	Mail      Mailer
	Limiter   ratelimit.Limiter
	Cooldown  time.Duration
	Logger    *slog.Logger
}

func NewAuthService(d AuthDeps) *AuthService {
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.Nop{}
	}
	return &AuthService{
		users:     d.Users,
		tokens:    d.Tokens,
		passwords: d.Passwords,
		google:    d.Google,
		mail:      d.Mail,
		limiter:   limiter,
		cooldown:  d.Cooldown,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// AuthResult bundles the user and the issued session token so the handler
// can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register creates an unverified credentials account and mails the
// verification link. No session is issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	if blank(in.Email) || in.Password == "" || blank(in.Name) {
		return nil, apperror.ValidationFailed("", "Email, password, and name are required")
	}
	if err := auth.CheckStrength(in.Password); err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	user := &model.User{
		Email:    strings.ToLower(strings.TrimSpace(in.Email)),
		Password: &hash,
		Name:     &name,
		Role:     model.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("userID", user.ID),
		slog.String("email", user.Email),
	)

	token, err := s.tokens.GenerateVerification(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: signing verification token: %w", err)
	}
	s.mail.sendBestEffort(ctx, s.logger, "verification", func(c *email.Composer) (email.Message, error) {
		return c.Verification(user.Email, name, token)
	})

	return user, nil
}

// Login checks credentials. Accounts without a password must use Google;
// accounts with one must have verified their email first.
func (s *AuthService) Login(ctx context.Context, emailAddr, password string) (*AuthResult, error) {
	if blank(emailAddr) || password == "" {
		return nil, apperror.ValidationFailed("", "Email and password are required.")
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("Invalid credentials.")
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.HasPassword() {
		return nil, apperror.Unauthorized("This account was created with Google. Please use Google Sign-In.")
	}
	if !user.IsVerified() {
		return nil, apperror.Unauthorized("Please verify your email address before signing in.")
	}
	if err := s.passwords.Verify(*user.Password, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized("Invalid credentials.")
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	return s.issueSession(ctx, user, "password")
}

// LoginWithGoogle verifies a Google Identity Services credential and signs
// the matching account in, creating it on first use.
func (s *AuthService) LoginWithGoogle(ctx context.Context, credential string) (*AuthResult, error) {
	if blank(credential) {
		return nil, apperror.ValidationFailed("credential", "Credential is required.")
	}
	if s.google == nil {
		return nil, apperror.Upstream("Server configuration error. Please contact support.", auth.ErrGoogleDisabled)
	}

	identity, err := s.google.Verify(ctx, credential)
	if err != nil {
		s.logger.WarnContext(ctx, "google token rejected", slog.String("error", err.Error()))
		return nil, apperror.ValidationFailed("credential", "Invalid Google token.")
	}
	return s.LoginWithGoogleIdentity(ctx, identity)
}

// LoginWithGoogleIdentity runs the account exchange for an identity that was
// already verified (by LoginWithGoogle or the redirect callback).
//
// Three cases:
//   - no account with that email: create one, verified, without password
//   - account not yet linked: require a verified email, then link it
//   - account already linked: require a verified email, change nothing
func (s *AuthService) LoginWithGoogleIdentity(ctx context.Context, id *auth.GoogleIdentity) (*AuthResult, error) {
	if id == nil || blank(id.Email) {
		return nil, apperror.ValidationFailed("email", "Email is required from Google.")
	}

	user, err := s.users.GetByEmail(ctx, id.Email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return s.createGoogleUser(ctx, id)
	case err != nil:
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if !user.IsVerified() {
		return nil, apperror.ValidationFailed("email", "Email is not verified.")
	}

	if user.GoogleID == nil {
		image := optional(id.Picture)
		if err := s.users.LinkGoogle(ctx, user.ID, id.Subject, image); err != nil {
			return nil, fmt.Errorf("service/auth: linking google account: %w", err)
		}
		subject := id.Subject
		user.GoogleID = &subject
		if image != nil {
			user.Image = image
		}
		s.logger.InfoContext(ctx, "google account linked", slog.String("userID", user.ID))
	}

	return s.issueSession(ctx, user, "google")
}

func (s *AuthService) createGoogleUser(ctx context.Context, id *auth.GoogleIdentity) (*AuthResult, error) {
	now := s.now()
	subject := id.Subject
	user := &model.User{
		Email:         strings.ToLower(strings.TrimSpace(id.Email)),
		Name:          optional(id.Name),
		Image:         optional(id.Picture),
		Role:          model.RoleUser,
		GoogleID:      &subject,
		EmailVerified: &now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("service/auth: creating google user: %w", err)
	}
	s.logger.InfoContext(ctx, "user registered via google", slog.String("userID", user.ID))

	s.mail.sendBestEffort(ctx, s.logger, "welcome", func(c *email.Composer) (email.Message, error) {
		return c.Welcome(user.Email, welcomeName(user))
	})
	return s.issueSession(ctx, user, "google")
}

func (s *AuthService) issueSession(ctx context.Context, user *model.User, method string) (*AuthResult, error) {
	token, err := s.tokens.GenerateSession(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", user.ID, err)
	}
	s.logger.InfoContext(ctx, "user signed in",
		slog.String("userID", user.ID),
		slog.String("method", method),
	)
	return &AuthResult{User: user, Token: token}, nil
}

// VerifyResult is the outcome of a verification link.
type VerifyResult struct {
	Message         string
	AlreadyVerified bool
}

// VerifyEmail consumes a verification link token. Verifying twice is not
// an error.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*VerifyResult, error) {
	if blank(token) {
		return nil, apperror.ValidationFailed("token", "Verification token is required.")
	}
	claims, err := s.tokens.ValidateVerification(token)
	if err != nil {
		return nil, apperror.ValidationFailed("token", "Invalid or expired verification token.")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMsg("User not found.")
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}
	if !strings.EqualFold(user.Email, claims.Email) {
		return nil, apperror.ValidationFailed("token", "Invalid verification token.")
	}
	if user.IsVerified() {
		return &VerifyResult{Message: "Email is already verified.", AlreadyVerified: true}, nil
	}

	if err := s.users.MarkVerified(ctx, user.ID, s.now()); err != nil {
		return nil, fmt.Errorf("service/auth: marking user verified: %w", err)
	}
	s.logger.InfoContext(ctx, "email verified", slog.String("userID", user.ID))

	s.mail.sendBestEffort(ctx, s.logger, "welcome", func(c *email.Composer) (email.Message, error) {
		return c.Welcome(user.Email, welcomeName(user))
	})
	return &VerifyResult{Message: "Email verified successfully! You can now sign in."}, nil
}

// ResendVerification mails a fresh verification link. Unlike registration,
// delivery failure is reported to the caller.
func (s *AuthService) ResendVerification(ctx context.Context, emailAddr string) (*VerifyResult, error) {
	if blank(emailAddr) {
		return nil, apperror.ValidationFailed("email", "Email is required.")
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFoundMsg("User not found.")
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}
	if user.IsVerified() {
		return &VerifyResult{Message: "Email is already verified.", AlreadyVerified: true}, nil
	}
	if !user.HasPassword() {
		return nil, apperror.ValidationFailed("email", "This account was created with Google. Email verification is not required.")
	}

	ok, wait, err := s.limiter.Cooldown(ctx, ratelimit.Key("resend-verification", user.Email), s.cooldown)
	if err != nil {
		s.logger.WarnContext(ctx, "cooldown check failed", slog.String("error", err.Error()))
	} else if !ok {
		return nil, cooldownError(wait.Seconds())
	}

	token, err := s.tokens.GenerateVerification(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: signing verification token: %w", err)
	}
	err = s.mail.send(ctx, func(c *email.Composer) (email.Message, error) {
		return c.Verification(user.Email, user.DisplayName(), token)
	})
	if err != nil {
		return nil, apperror.Upstream("Failed to send verification email. Please try again later.", err)
	}
	return &VerifyResult{Message: "Verification email sent successfully. Please check your inbox."}, nil
}

// Me returns the account behind a session. A session for a deleted user is
// treated as signed out.
func (s *AuthService) Me(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Unauthorized: valid authentication required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("User not found")
		}
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user, nil
}

// ListUsers returns every account, newest first.
func (s *AuthService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing users: %w", err)
	}
	return users, nil
}

func welcomeName(u *model.User) string {
	if name := u.DisplayName(); name != "" {
		return name
	}
	return "User"
}
