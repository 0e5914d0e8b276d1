package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/student-crm/internal/apperror"
)

var validate = newValidator()

// newValidator reports fields by their JSON names so error details line up
// with the request body.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages holds the wording the web form shows for top-level fields.
var fieldMessages = map[string]string{
	"firstName":          "First name must be at least 2 characters",
	"lastName":           "Last name must be at least 2 characters",
	"email":              "Please enter a valid email address",
	"phone":              "Phone number must be at least 10 digits",
	"dateOfBirth":        "Date of birth is required",
	"nationality":        "Nationality is required",
	"homeAddress":        "Home address must be at least 10 characters",
	"university":         "University selection is required",
	"course":             "Course name must be at least 2 characters",
	"courseLevel":        "Course level is required",
	"preferredIntake":    "Preferred intake is required",
	"previousEducation":  "Previous education details must be at least 10 characters",
	"englishProficiency": "English proficiency test is required",
	"emergencyContact":   "Emergency contact name is required",
	"emergencyPhone":     "Emergency contact phone is required",
	"applicationId":      "Application ID is required",
	"action":             "Action must be one of APPROVE, REJECT, WAITLIST",
}

// validateStruct runs the struct tags on v and converts failures into a
// validation AppError whose Details map JSON paths to messages.
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("service: validating %T: %w", v, err)
	}

	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		path := fieldPath(fe)
		if msg, ok := fieldMessages[path]; ok {
			details[path] = msg
			continue
		}
		details[path] = formatValidationError(fe)
	}
	return apperror.ValidationDetails("Validation failed", details)
}

// fieldPath strips the root struct name: "SubmitInput.documents.passport[0].fileUrl"
// becomes "documents.passport[0].fileUrl".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "gte":
		return e.Field() + " must be at least " + e.Param()
	case "email":
		return e.Field() + " must be a valid email address"
	case "oneof":
		return e.Field() + " must be one of: " + e.Param()
	default:
		return e.Field() + " validation failed: " + e.Tag()
	}
}
