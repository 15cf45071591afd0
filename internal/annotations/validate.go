package annotations

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/htrap1211/GraphX-OSINT/api/schemas"
)

// Validation failures. No request is issued when one of these is returned.
var (
	ErrNoSelection       = errors.New("no entity selected")
	ErrBlankContent      = errors.New("note content is blank")
	ErrBlankTag          = errors.New("tag is blank")
	ErrBlankNoteID       = errors.New("note id is blank")
	ErrInvalidAnnotation = errors.New("invalid annotation")
)

// validate is a singleton validator instance
var validate = validator.New()

func validateNote(req schemas.NoteCreate) error {
	if strings.TrimSpace(req.Content) == "" {
		return ErrBlankContent
	}
	return formatValidationError(validate.Struct(req))
}

func validateTag(req schemas.Tag) error {
	if strings.TrimSpace(req.Tag) == "" {
		return ErrBlankTag
	}
	return formatValidationError(validate.Struct(req))
}

// formatValidationError reports the first failing field, wrapped in ErrInvalidAnnotation.
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAnnotation, err)
	}
	e := validationErrs[0]
	switch e.Tag() {
	case "required":
		return fmt.Errorf("%w: %s is required", ErrInvalidAnnotation, e.Field())
	case "max":
		return fmt.Errorf("%w: %s must not exceed %s characters", ErrInvalidAnnotation, e.Field(), e.Param())
	case "min":
		return fmt.Errorf("%w: %s must be at least %s characters", ErrInvalidAnnotation, e.Field(), e.Param())
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidAnnotation, e.Field(), e.Tag())
	}
}
