package bundb

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/sakif/student-crm/internal/model"
)

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID               string     `bun:"id,pk"`
	Email            string     `bun:"email,notnull,unique"`
	Password         *string    `bun:"password"`
	Name             *string    `bun:"name"`
	Image            *string    `bun:"image"`
	Role             string     `bun:"role,notnull,default:'USER'"`
	GoogleID         *string    `bun:"google_id,unique"`
	EmailVerified    *time.Time `bun:"email_verified"`
	ResetOTP         *string    `bun:"reset_otp"`
	ResetOTPExpiry   *time.Time `bun:"reset_otp_expiry"`
	ResetToken       *string    `bun:"reset_token"`
	ResetTokenExpiry *time.Time `bun:"reset_token_expiry"`
	CreatedAt        time.Time  `bun:"created_at,notnull"`
	UpdatedAt        time.Time  `bun:"updated_at,notnull"`
}

type applicationRow struct {
	bun.BaseModel `bun:"table:applications,alias:a"`

	ID                 string    `bun:"id,pk"`
	FirstName          string    `bun:"first_name,notnull"`
	LastName           string    `bun:"last_name,notnull"`
	Email              string    `bun:"email,notnull"`
	Phone              string    `bun:"phone,notnull"`
	DateOfBirth        string    `bun:"date_of_birth,notnull"`
	Nationality        string    `bun:"nationality,notnull"`
	HomeAddress        string    `bun:"home_address,notnull"`
	University         string    `bun:"university,notnull"`
	Course             string    `bun:"course,notnull"`
	CourseLevel        string    `bun:"course_level,notnull"`
	PreferredIntake    string    `bun:"preferred_intake,notnull"`
	PreviousEducation  string    `bun:"previous_education,notnull"`
	EnglishProficiency string    `bun:"english_proficiency,notnull"`
	EnglishScore       *string   `bun:"english_score"`
	EmergencyContact   string    `bun:"emergency_contact,notnull"`
	EmergencyPhone     string    `bun:"emergency_phone,notnull"`
	FinancialSupport   *string   `bun:"financial_support"`
	Notes              *string   `bun:"notes"`
	Status             string    `bun:"status,notnull,default:'PENDING'"`
	DecisionReason     *string   `bun:"decision_reason"`
	SubmittedAt        time.Time `bun:"submitted_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`

	Documents []*documentRow `bun:"rel:has-many,join:id=application_id"`
}

type documentRow struct {
	bun.BaseModel `bun:"table:application_documents,alias:d"`

	ID            string    `bun:"id,pk"`
	ApplicationID string    `bun:"application_id,notnull"`
	Type          string    `bun:"type,notnull"`
	FileName      string    `bun:"file_name,notnull"`
	FileURL       string    `bun:"file_url,notnull"`
	FileSize      int64     `bun:"file_size,notnull"`
	MimeType      string    `bun:"mime_type,notnull"`
	UploadedAt    time.Time `bun:"uploaded_at,notnull"`
}

func userToRow(u *model.User) *userRow {
	return &userRow{
		ID:               u.ID,
		Email:            u.Email,
		Password:         u.Password,
		Name:             u.Name,
		Image:            u.Image,
		Role:             string(u.Role),
		GoogleID:         u.GoogleID,
		EmailVerified:    dbTimePtr(u.EmailVerified),
		ResetOTP:         u.ResetOTP,
		ResetOTPExpiry:   dbTimePtr(u.ResetOTPExpiry),
		ResetToken:       u.ResetToken,
		ResetTokenExpiry: dbTimePtr(u.ResetTokenExpiry),
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

func rowToUser(r *userRow) *model.User {
	return &model.User{
		ID:               r.ID,
		Email:            r.Email,
		Password:         r.Password,
		Name:             r.Name,
		Image:            r.Image,
		Role:             model.Role(r.Role),
		GoogleID:         r.GoogleID,
		EmailVerified:    utcPtr(r.EmailVerified),
		ResetOTP:         r.ResetOTP,
		ResetOTPExpiry:   utcPtr(r.ResetOTPExpiry),
		ResetToken:       r.ResetToken,
		ResetTokenExpiry: utcPtr(r.ResetTokenExpiry),
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

func applicationToRow(a *model.Application) *applicationRow {
	return &applicationRow{
		ID:                 a.ID,
		FirstName:          a.FirstName,
		LastName:           a.LastName,
		Email:              a.Email,
		Phone:              a.Phone,
		DateOfBirth:        a.DateOfBirth,
		Nationality:        a.Nationality,
		HomeAddress:        a.HomeAddress,
		University:         a.University,
		Course:             a.Course,
		CourseLevel:        a.CourseLevel,
		PreferredIntake:    a.PreferredIntake,
		PreviousEducation:  a.PreviousEducation,
		EnglishProficiency: a.EnglishProficiency,
		EnglishScore:       a.EnglishScore,
		EmergencyContact:   a.EmergencyContact,
		EmergencyPhone:     a.EmergencyPhone,
		FinancialSupport:   a.FinancialSupport,
		Notes:              a.Notes,
		Status:             string(a.Status),
		DecisionReason:     a.DecisionReason,
		SubmittedAt:        a.SubmittedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func rowToApplication(r *applicationRow) *model.Application {
	app := &model.Application{
		ID:                 r.ID,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		Email:              r.Email,
		Phone:              r.Phone,
		DateOfBirth:        r.DateOfBirth,
		Nationality:        r.Nationality,
		HomeAddress:        r.HomeAddress,
		University:         r.University,
		Course:             r.Course,
		CourseLevel:        r.CourseLevel,
		PreferredIntake:    r.PreferredIntake,
		PreviousEducation:  r.PreviousEducation,
		EnglishProficiency: r.EnglishProficiency,
		EnglishScore:       r.EnglishScore,
		EmergencyContact:   r.EmergencyContact,
		EmergencyPhone:     r.EmergencyPhone,
		FinancialSupport:   r.FinancialSupport,
		Notes:              r.Notes,
		Status:             model.ApplicationStatus(r.Status),
		DecisionReason:     r.DecisionReason,
		SubmittedAt:        r.SubmittedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
		Documents:          make([]model.ApplicationDocument, 0, len(r.Documents)),
	}
	for _, d := range r.Documents {
		app.Documents = append(app.Documents, rowToDocument(d))
	}
	return app
}

func documentToRow(d *model.ApplicationDocument) *documentRow {
	return &documentRow{
		ID:            d.ID,
		ApplicationID: d.ApplicationID,
		Type:          string(d.Type),
		FileName:      d.FileName,
		FileURL:       d.FileURL,
		FileSize:      d.FileSize,
		MimeType:      d.MimeType,
		UploadedAt:    d.UploadedAt,
	}
}

func rowToDocument(r *documentRow) model.ApplicationDocument {
	return model.ApplicationDocument{
		ID:            r.ID,
		ApplicationID: r.ApplicationID,
		Type:          model.DocumentType(r.Type),
		FileName:      r.FileName,
		FileURL:       r.FileURL,
		FileSize:      r.FileSize,
		MimeType:      r.MimeType,
		UploadedAt:    r.UploadedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
