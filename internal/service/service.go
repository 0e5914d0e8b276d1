// Package service holds the CRM workflows: accounts, password reset,
// application intake, admin review and document upload.
//
// Services depend on small interfaces (declared here or in repository,
// email, storage and ratelimit) so tests can swap every collaborator for a
// fake:
//
//	Handler (HTTP) → Service (business rules) → Repository (DB)
//	                                          ↘ email.Sender / storage.ObjectStore
//
// Services never touch net/http. They return *apperror.AppError values for
// anything the caller should see, and plain wrapped errors otherwise.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/auth"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/model"
)

// TokenSigner issues and checks the JWTs the auth workflows hand out.
// *auth.TokenService implements it.
type TokenSigner interface {
	GenerateSession(user *model.User) (string, error)
	GenerateVerification(userID, email string) (string, error)
	ValidateVerification(token string) (*auth.VerificationClaims, error)
}

// GoogleVerifier turns a Google credential into a verified identity.
// *auth.GoogleProvider implements it.
type GoogleVerifier interface {
	Verify(ctx context.Context, credential string) (*auth.GoogleIdentity, error)
}

// Mailer pairs the template renderer with a transport.
type Mailer struct {
	Composer *email.Composer
	Sender   email.Sender
}

// send renders with build and delivers the result.
func (m Mailer) send(ctx context.Context, build func(*email.Composer) (email.Message, error)) error {
	msg, err := build(m.Composer)
	if err != nil {
		return err
	}
	return m.Sender.Send(ctx, msg)
}

// sendBestEffort delivers mail whose failure must not fail the request.
func (m Mailer) sendBestEffort(ctx context.Context, logger *slog.Logger, kind string, build func(*email.Composer) (email.Message, error)) {
	if err := m.send(ctx, build); err != nil {
		logger.WarnContext(ctx, "email delivery failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

// cooldownError is the 429 shown when a mail-triggering endpoint is hit
// again inside its cooldown window.
func cooldownError(seconds float64) error {
	wait := int(math.Ceil(seconds))
	if wait < 1 {
		wait = 1
	}
	return apperror.TooManyRequests(fmt.Sprintf("Please wait %d seconds before requesting another email.", wait))
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func optional(s string) *string {
	if blank(s) {
		return nil
	}
	return &s
}
