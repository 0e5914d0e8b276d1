// Package repository defines the storage contracts the services depend on.
// The bun-backed implementation lives in repository/bundb.
package repository

import (
	"context"
	"time"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/model"
)

// Errors with fixed client wording, returned by every implementation.
var (
	ErrDuplicateEmail      = apperror.ConflictMsg("User with this email already exists")
	ErrOpenApplication     = apperror.ConflictMsg("An application with this email is already pending review")
	ErrUserNotFound        = apperror.NotFoundMsg("User not found")
	ErrApplicationNotFound = apperror.NotFoundMsg("Application not found")
)

// UserRepository stores accounts. Emails are compared lower-cased.
type UserRepository interface {
	// Create inserts user, assigning ID and timestamps. A taken email (or
	// Google id) returns ErrDuplicateEmail.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// List returns every user, newest first.
	List(ctx context.Context) ([]model.User, error)

	// LinkGoogle attaches a Google account to an existing user.
	LinkGoogle(ctx context.Context, id, googleID string, image *string) error
	MarkVerified(ctx context.Context, id string, at time.Time) error

	// SetResetOTP stores a fresh reset code, replacing any pending one.
	SetResetOTP(ctx context.Context, id, otp string, expiry time.Time) error
	// ConsumeResetOTP clears the code if it still equals otp and has not
	// expired at now, and stores the grant in the same statement. It
	// reports false when the code was consumed, replaced or expired.
	ConsumeResetOTP(ctx context.Context, id, otp, grant string, now, grantExpiry time.Time) (bool, error)
	// ConsumeResetToken sets the new password hash and clears every reset
	// field if the grant still equals token and has not expired at now. It
	// reports false otherwise.
	ConsumeResetToken(ctx context.Context, id, token, passwordHash string, now time.Time) (bool, error)
}

// ApplicationFilter narrows List. The zero value matches everything.
type ApplicationFilter struct {
	Status model.ApplicationStatus
}

// ApplicationRepository stores applications with their documents.
type ApplicationRepository interface {
	// Create inserts app and app.Documents in one transaction. It returns
	// ErrOpenApplication when the email already has a PENDING or
	// UNDER_REVIEW application.
	Create(ctx context.Context, app *model.Application) error
	GetByID(ctx context.Context, id string) (*model.Application, error)
	// ListByEmail returns the applicant's applications, newest first.
	ListByEmail(ctx context.Context, email string) ([]model.Application, error)
	// List returns applications matching filter, newest first.
	List(ctx context.Context, filter ApplicationFilter) ([]model.Application, error)

	// Decide records an admin decision and returns the updated application.
	Decide(ctx context.Context, id string, status model.ApplicationStatus, reason *string, at time.Time) (*model.Application, error)
	// Transition moves an application from one status to another. It
	// returns a conflict when the current status is not from.
	Transition(ctx context.Context, id string, from, to model.ApplicationStatus, at time.Time) (*model.Application, error)
}
