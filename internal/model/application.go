package model

import "time"

// ApplicationStatus is the review state of an Application.
type ApplicationStatus string

const (
	StatusPending     ApplicationStatus = "PENDING"
	StatusUnderReview ApplicationStatus = "UNDER_REVIEW"
	StatusApproved    ApplicationStatus = "APPROVED"
	StatusRejected    ApplicationStatus = "REJECTED"
	StatusWaitlisted  ApplicationStatus = "WAITLISTED"
)

// IsOpen reports whether the status still blocks a new submission from the
// same email.
func (s ApplicationStatus) IsOpen() bool {
	return s == StatusPending || s == StatusUnderReview
}

// Valid reports whether s is one of the known statuses.
func (s ApplicationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUnderReview, StatusApproved, StatusRejected, StatusWaitlisted:
		return true
	}
	return false
}

// DecisionAction is what an admin asks for on the review screen.
type DecisionAction string

const (
	ActionApprove  DecisionAction = "APPROVE"
	ActionReject   DecisionAction = "REJECT"
	ActionWaitlist DecisionAction = "WAITLIST"
)

// decisionStatus is the fixed action -> status table.
var decisionStatus = map[DecisionAction]ApplicationStatus{
	ActionApprove:  StatusApproved,
	ActionReject:   StatusRejected,
	ActionWaitlist: StatusWaitlisted,
}

// Status returns the status a decision moves an application to.
// ok is false for an unknown action.
func (a DecisionAction) Status() (ApplicationStatus, bool) {
	s, ok := decisionStatus[a]
	return s, ok
}

// DocumentType is the category a supporting document was uploaded under.
type DocumentType string

const (
	DocPassport          DocumentType = "PASSPORT"
	DocTranscripts       DocumentType = "TRANSCRIPTS"
	DocEnglishTest       DocumentType = "ENGLISH_TEST"
	DocPersonalStatement DocumentType = "PERSONAL_STATEMENT"
	DocReferences        DocumentType = "REFERENCES"
)

// Application is one submitted study application.
type Application struct {
	ID string `json:"id"`

	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	DateOfBirth string `json:"dateOfBirth"`
	Nationality string `json:"nationality"`
	HomeAddress string `json:"homeAddress"`

	University         string  `json:"university"`
	Course             string  `json:"course"`
	CourseLevel        string  `json:"courseLevel"`
	PreferredIntake    string  `json:"preferredIntake"`
	PreviousEducation  string  `json:"previousEducation"`
	EnglishProficiency string  `json:"englishProficiency"`
	EnglishScore       *string `json:"englishScore"`

	EmergencyContact string  `json:"emergencyContact"`
	EmergencyPhone   string  `json:"emergencyPhone"`
	FinancialSupport *string `json:"financialSupport"`
	Notes            *string `json:"notes"`

	Status         ApplicationStatus `json:"status"`
	DecisionReason *string           `json:"decisionReason,omitempty"`
	SubmittedAt    time.Time         `json:"submittedAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`

	Documents []ApplicationDocument `json:"documents"`
}

// FullName joins first and last name for greetings.
func (a *Application) FullName() string {
	return a.FirstName + " " + a.LastName
}

// ApplicationDocument is the metadata of a file that was uploaded to object
// storage before the application was submitted.
type ApplicationDocument struct {
	ID            string       `json:"id"`
	ApplicationID string       `json:"applicationId"`
	Type          DocumentType `json:"type"`
	FileName      string       `json:"fileName"`
	FileURL       string       `json:"fileUrl"`
	FileSize      int64        `json:"fileSize"`
	MimeType      string       `json:"mimeType"`
	UploadedAt    time.Time    `json:"uploadedAt"`
}
