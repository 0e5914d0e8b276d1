package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/ratelimit"
	"github.com/sakif/student-crm/internal/repository"
)

const (
	// GenericResetMessage is returned whether or not the account exists.
	GenericResetMessage = "If an account with that email exists, we have sent a password reset code."

	otpMaxFailures  = 5
	otpFailureReset = 15 * time.Minute
)

// PasswordResetService runs the three-step reset:
//
//	RequestReset  → a 6-digit code is mailed (valid 10 minutes)
//	VerifyOTP     → the code is exchanged for a reset grant (valid 5 minutes)
//	ResetPassword → the grant is exchanged for a new password
//
// Each step consumes its credential with a conditional update, so a code or
// grant works exactly once even under concurrent requests.
type PasswordResetService struct {
	users     repository.UserRepository
	passwords *auth.PasswordService
	mail      Mailer
	limiter   ratelimit.Limiter
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	newOTP   func() (string, error)
	newGrant func() (string, error)
}

func NewPasswordResetService(
	users repository.UserRepository,
	passwords *auth.PasswordService,
	mail Mailer,
	limiter ratelimit.Limiter,
	cooldown time.Duration,
	logger *slog.Logger,
) *PasswordResetService {
	if limiter == nil {
		limiter = ratelimit.Nop{}
	}
	return &PasswordResetService{
		users:     users,
		passwords: passwords,
		mail:      mail,
		limiter:   limiter,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
		newOTP:    auth.GenerateOTP,
		newGrant:  auth.GenerateResetToken,
	}
}

// RequestReset mails a reset code. Unknown emails get the same answer as
// known ones and no mail.
func (s *PasswordResetService) RequestReset(ctx context.Context, emailAddr string) (string, error) {
	if blank(emailAddr) {
		return "", apperror.ValidationFailed("email", "Email is required.")
	}

	// The cooldown runs before the lookup so its answer does not reveal
	// whether the account exists.
	ok, wait, err := s.limiter.Cooldown(ctx, ratelimit.Key("forgot-password", emailAddr), s.cooldown)
	if err != nil {
		s.logger.WarnContext(ctx, "cooldown check failed", slog.String("error", err.Error()))
	} else if !ok {
		return "", cooldownError(wait.Seconds())
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return GenericResetMessage, nil
		}
		return "", fmt.Errorf("service/reset: looking up user: %w", err)
	}
	if !user.HasPassword() {
		return "", apperror.ValidationFailed("email", "This account was created with Google. Please use Google Sign-In to access your account.")
	}

	otp, err := s.newOTP()
	if err != nil {
		return "", fmt.Errorf("service/reset: %w", err)
	}
	if err := s.users.SetResetOTP(ctx, user.ID, otp, s.now().Add(auth.OTPTTL)); err != nil {
		return "", fmt.Errorf("service/reset: storing code: %w", err)
	}
	s.logger.InfoContext(ctx, "password reset code issued", slog.String("userID", user.ID))

	err = s.mail.send(ctx, func(c *email.Composer) (email.Message, error) {
		return c.PasswordReset(user.Email, user.DisplayName(), otp)
	})
	if err != nil {
		return "", apperror.Upstream("Failed to send password reset email. Please try again later.", err)
	}
	return GenericResetMessage, nil
}

// VerifyOTP exchanges a valid code for a reset grant.
func (s *PasswordResetService) VerifyOTP(ctx context.Context, emailAddr, otp string) (string, error) {
	if blank(emailAddr) || blank(otp) {
		return "", apperror.ValidationFailed("", "Email and OTP code are required.")
	}

	failKey := ratelimit.Key("verify-otp", emailAddr)
	locked, wait, err := s.limiter.Locked(ctx, failKey, otpMaxFailures)
	if err != nil {
		s.logger.WarnContext(ctx, "attempt check failed", slog.String("error", err.Error()))
	} else if locked {
		return "", apperror.TooManyRequests(fmt.Sprintf("Too many attempts. Try again in %d minutes.", minutesCeil(wait)))
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.ValidationFailed("", "Invalid email or OTP code.")
		}
		return "", fmt.Errorf("service/reset: looking up user: %w", err)
	}

	if !s.otpValid(user, otp) {
		s.recordFailure(ctx, failKey)
		return "", apperror.ValidationFailed("otp", "Invalid or expired OTP code.")
	}

	grant, err := s.newGrant()
	if err != nil {
		return "", fmt.Errorf("service/reset: %w", err)
	}
	now := s.now()
	consumed, err := s.users.ConsumeResetOTP(ctx, user.ID, otp, grant, now, now.Add(auth.ResetGrantTTL))
	if err != nil {
		return "", fmt.Errorf("service/reset: consuming code: %w", err)
	}
	if !consumed {
		// Another request used or replaced the code since we read it.
		return "", apperror.ValidationFailed("otp", "Invalid or expired OTP code.")
	}

	if err := s.limiter.Reset(ctx, failKey); err != nil {
		s.logger.WarnContext(ctx, "attempt reset failed", slog.String("error", err.Error()))
	}
	s.logger.InfoContext(ctx, "password reset code verified", slog.String("userID", user.ID))
	return grant, nil
}

// ResetPassword sets a new password using the grant from VerifyOTP.
func (s *PasswordResetService) ResetPassword(ctx context.Context, emailAddr, grant, newPassword string) error {
	if blank(emailAddr) || blank(grant) || newPassword == "" {
		return apperror.ValidationFailed("", "Email, reset token, and new password are required.")
	}
	if err := auth.CheckStrength(newPassword); err != nil {
		return apperror.ValidationFailed("newPassword", err.Error())
	}

	user, err := s.users.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("", "Invalid email or reset token.")
		}
		return fmt.Errorf("service/reset: looking up user: %w", err)
	}

	if !auth.SecretEqual(user.ResetToken, grant) || expired(user.ResetTokenExpiry, s.now()) {
		return apperror.ValidationFailed("resetToken", "Invalid or expired reset token.")
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/reset: hashing password: %w", err)
	}
	consumed, err := s.users.ConsumeResetToken(ctx, user.ID, grant, hash, s.now())
	if err != nil {
		return fmt.Errorf("service/reset: storing password: %w", err)
	}
	if !consumed {
		return apperror.ValidationFailed("resetToken", "Invalid or expired reset token.")
	}

	s.logger.InfoContext(ctx, "password reset", slog.String("userID", user.ID))
	return nil
}

func (s *PasswordResetService) otpValid(user *model.User, otp string) bool {
	return auth.SecretEqual(user.ResetOTP, otp) && !expired(user.ResetOTPExpiry, s.now())
}

func (s *PasswordResetService) recordFailure(ctx context.Context, key string) {
	if _, _, err := s.limiter.Fail(ctx, key, otpMaxFailures, otpFailureReset); err != nil {
		s.logger.WarnContext(ctx, "attempt count failed", slog.String("error", err.Error()))
	}
}

// expired treats a missing expiry as expired. An expiry equal to now is
// still valid.
func expired(expiry *time.Time, now time.Time) bool {
	return expiry == nil || expiry.Before(now)
}

func minutesCeil(d time.Duration) int {
	m := int((d + time.Minute - 1) / time.Minute)
	if m < 1 {
		m = 1
	}
	return m
}
