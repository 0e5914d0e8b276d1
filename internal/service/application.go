package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/sakif/student-crm/internal/apperror"
	"github.com/sakif/student-crm/internal/email"
	"github.com/sakif/student-crm/internal/model"
	"github.com/sakif/student-crm/internal/repository"
)

// DocumentInput is the metadata of one file the client already uploaded
// through the upload endpoint.
type DocumentInput struct {
	ID       string `json:"id"`
	FileName string `json:"fileName" validate:"required"`
	FileURL  string `json:"fileUrl" validate:"required"`
	FileSize int64  `json:"fileSize" validate:"gte=0"`
	MimeType string `json:"mimeType"`
}

// DocumentsInput groups uploads by category, as the form sends them.
type DocumentsInput struct {
	Passport          []DocumentInput `json:"passport" validate:"dive"`
	Transcripts       []DocumentInput `json:"transcripts" validate:"dive"`
	EnglishTest       []DocumentInput `json:"englishTest" validate:"dive"`
	PersonalStatement []DocumentInput `json:"personalStatement" validate:"dive"`
	References        []DocumentInput `json:"references" validate:"dive"`
}

// categories pairs each list with its stored document type, in form order.
func (d *DocumentsInput) categories() []struct {
	Type  model.DocumentType
	Files []DocumentInput
} {
	return []struct {
		Type  model.DocumentType
		Files []DocumentInput
	}{
		{model.DocPassport, d.Passport},
		{model.DocTranscripts, d.Transcripts},
		{model.DocEnglishTest, d.EnglishTest},
		{model.DocPersonalStatement, d.PersonalStatement},
		{model.DocReferences, d.References},
	}
}

// SubmitInput is the application form payload.
type SubmitInput struct {
	FirstName          string         `json:"firstName" validate:"min=2"`
	LastName           string         `json:"lastName" validate:"min=2"`
	Email              string         `json:"email" validate:"email"`
	Phone              string         `json:"phone" validate:"min=10"`
	DateOfBirth        string         `json:"dateOfBirth" validate:"required"`
	Nationality        string         `json:"nationality" validate:"required"`
	HomeAddress        string         `json:"homeAddress" validate:"min=10"`
	University         string         `json:"university" validate:"required"`
	Course             string         `json:"course" validate:"min=2"`
	CourseLevel        string         `json:"courseLevel" validate:"required"`
	PreferredIntake    string         `json:"preferredIntake" validate:"required"`
	PreviousEducation  string         `json:"previousEducation" validate:"min=10"`
	EnglishProficiency string         `json:"englishProficiency" validate:"required"`
	EnglishScore       string         `json:"englishScore"`
	EmergencyContact   string         `json:"emergencyContact" validate:"min=2"`
	EmergencyPhone     string         `json:"emergencyPhone" validate:"min=10"`
	FinancialSupport   string         `json:"financialSupport"`
	Notes              string         `json:"notes"`
	Documents          DocumentsInput `json:"documents"`
}

// ApplicationService handles public intake: submitting and looking up
// applications.
type ApplicationService struct {
	apps   repository.ApplicationRepository
	mail   Mailer
	logger *slog.Logger
}

func NewApplicationService(apps repository.ApplicationRepository, mail Mailer, logger *slog.Logger) *ApplicationService {
	return &ApplicationService{apps: apps, mail: mail, logger: logger}
}

// Submit validates and stores an application with its documents, then
// sends a confirmation mail. Only one PENDING or UNDER_REVIEW application
// may exist per email.
func (s *ApplicationService) Submit(ctx context.Context, in SubmitInput) (*model.Application, error) {
	if err := validateStruct(&in); err != nil {
		return nil, err
	}

	app := &model.Application{
		FirstName:          strings.TrimSpace(in.FirstName),
		LastName:           strings.TrimSpace(in.LastName),
		Email:              strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:              in.Phone,
		DateOfBirth:        in.DateOfBirth,
		Nationality:        in.Nationality,
		HomeAddress:        in.HomeAddress,
		University:         in.University,
		Course:             in.Course,
		CourseLevel:        in.CourseLevel,
		PreferredIntake:    in.PreferredIntake,
		PreviousEducation:  in.PreviousEducation,
		EnglishProficiency: in.EnglishProficiency,
		EnglishScore:       optional(in.EnglishScore),
		EmergencyContact:   in.EmergencyContact,
		EmergencyPhone:     in.EmergencyPhone,
		FinancialSupport:   optional(in.FinancialSupport),
		Notes:              optional(in.Notes),
		Status:             model.StatusPending,
	}
	for _, c := range in.Documents.categories() {
		for _, f := range c.Files {
			app.Documents = append(app.Documents, model.ApplicationDocument{
				Type:     c.Type,
				FileName: f.FileName,
				FileURL:  f.FileURL,
				FileSize: f.FileSize,
				MimeType: f.MimeType,
			})
		}
	}

	if err := s.apps.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("service/application: creating application: %w", err)
	}
	s.logger.InfoContext(ctx, "application submitted",
		slog.String("applicationID", app.ID),
		slog.String("email", app.Email),
		slog.Int("documents", len(app.Documents)),
	)

	s.mail.sendBestEffort(ctx, s.logger, "confirmation", func(c *email.Composer) (email.Message, error) {
		return c.ApplicationConfirmation(app)
	})
	return app, nil
}

// Get returns one application with its documents.
func (s *ApplicationService) Get(ctx context.Context, id string) (*model.Application, error) {
	app, err := s.apps.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/application: fetching %s: %w", id, err)
	}
	return app, nil
}

// ListByEmail returns the applicant's applications, newest first.
func (s *ApplicationService) ListByEmail(ctx context.Context, emailAddr string) ([]model.Application, error) {
	if blank(emailAddr) {
		return nil, apperror.ValidationFailed("email", "Email or application ID is required")
	}
	apps, err := s.apps.ListByEmail(ctx, emailAddr)
	if err != nil {
		return nil, fmt.Errorf("service/application: listing by email: %w", err)
	}
	return apps, nil
}

// progressTotal is the 15 required text fields plus the 5 document
// categories.
const progressTotal = 20

// Progress is the completion percentage the form shows: every required
// field that is not blank and every document category with at least one
// file counts once.
func Progress(in *SubmitInput) int {
	required := []string{
		in.FirstName, in.LastName, in.Email, in.Phone, in.DateOfBirth,
		in.Nationality, in.HomeAddress, in.University, in.Course, in.CourseLevel,
		in.PreferredIntake, in.PreviousEducation, in.EnglishProficiency,
		in.EmergencyContact, in.EmergencyPhone,
	}

	completed := 0
	for _, v := range required {
		if !blank(v) {
			completed++
		}
	}
	for _, c := range in.Documents.categories() {
		if len(c.Files) > 0 {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / progressTotal))
}
