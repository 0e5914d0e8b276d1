package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/repository"
)

// DecisionInput is an admin's verdict on an application.
type DecisionInput struct {
	ApplicationID string `json:"applicationId" validate:"required"`
	Action        string `json:"action" validate:"required,oneof=APPROVE REJECT WAITLIST"`
	Reason        string `json:"reason"`
}

// AdminService is the review side of applications. Callers must already
// have passed auth.RequireAdmin.
type AdminService struct {
	apps   repository.ApplicationRepository
	mail   Mailer
	logger *slog.Logger
	now    func() time.Time
}

func NewAdminService(apps repository.ApplicationRepository, mail Mailer, logger *slog.Logger) *AdminService {
	return &AdminService{apps: apps, mail: mail, logger: logger, now: time.Now}
}

// List returns applications newest first, optionally only those in status.
func (s *AdminService) List(ctx context.Context, status string) ([]model.Application, error) {
	filter := repository.ApplicationFilter{}
	if status != "" {
		st := model.ApplicationStatus(strings.ToUpper(status))
		if !st.Valid() {
			return nil, apperror.ValidationFailed("status", fmt.Sprintf("Unknown status %q", status))
		}
		filter.Status = st
	}

	apps, err := s.apps.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing applications: %w", err)
	}
	return apps, nil
}

// Decide applies APPROVE, REJECT or WAITLIST and notifies the applicant.
// The notification is attempted once; its failure is logged and does not
// undo the decision.
func (s *AdminService) Decide(ctx context.Context, in DecisionInput) (*model.Application, error) {
	if err := validateStruct(&in); err != nil {
		return nil, err
	}
	status, ok := model.DecisionAction(in.Action).Status()
	if !ok {
		return nil, apperror.ValidationFailed("action", "Invalid action")
	}

	reason := strings.TrimSpace(in.Reason)
	app, err := s.apps.Decide(ctx, in.ApplicationID, status, optional(reason), s.now())
	if err != nil {
		return nil, fmt.Errorf("service/admin: recording decision: %w", err)
	}
	s.logger.InfoContext(ctx, "decision recorded",
		slog.String("applicationID", app.ID),
		slog.String("status", string(status)),
	)

	s.notify(ctx, app, reason)
	return app, nil
}

// StartReview moves a PENDING application to UNDER_REVIEW and tells the
// applicant.
func (s *AdminService) StartReview(ctx context.Context, applicationID string) (*model.Application, error) {
	if blank(applicationID) {
		return nil, apperror.ValidationFailed("applicationId", "Application ID is required")
	}
	app, err := s.apps.Transition(ctx, applicationID, model.StatusPending, model.StatusUnderReview, s.now())
	if err != nil {
		return nil, fmt.Errorf("service/admin: starting review: %w", err)
	}
	s.logger.InfoContext(ctx, "review started", slog.String("applicationID", app.ID))

	s.notify(ctx, app, "")
	return app, nil
}

func (s *AdminService) notify(ctx context.Context, app *model.Application, reason string) {
	s.mail.sendBestEffort(ctx, s.logger, "status", func(c *email.Composer) (email.Message, error) {
		return c.ApplicationStatus(app, reason)
	})
}

// DecisionMessage is the confirmation shown to the admin, e.g.
// "Application approved successfully".
func DecisionMessage(status model.ApplicationStatus) string {
	return "Application " + strings.ToLower(strings.ReplaceAll(string(status), "_", " ")) + " successfully"
}
