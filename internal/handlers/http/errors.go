package http

import (
	"errors"
	"strings"

	"memberdash/internal/core/domain"
	apperrors "memberdash/pkg/errors"
	"memberdash/pkg/validation"

	"github.com/go-playground/validator/v10"
)

// validationError turns binding and field validation failures into a
// VALIDATION_FAILED error with one detail per field.
func validationError(err error) *apperrors.AppError {
	if errors.Is(err, domain.ErrEmptyPatch) {
		return apperrors.NewValidationError("nothing to update")
	}

	appErr := apperrors.NewValidationError("invalid input")

	var fieldErrs validation.FieldErrors
	if errors.As(err, &fieldErrs) {
		for field, msg := range fieldErrs {
			appErr.WithContext(field, msg)
		}
		return appErr
	}

	var bindErrs validator.ValidationErrors
	if errors.As(err, &bindErrs) {
		for _, fe := range bindErrs {
			appErr.WithContext(jsonField(fe), "failed on "+fe.Tag())
		}
		return appErr
	}

	appErr.Message = "invalid request body"
	return appErr
}

// jsonField relies on the request structs naming fields like their JSON keys.
func jsonField(fe validator.FieldError) string {
	name := fe.Field()
	if name == "ConfirmPassword" {
		return "confirm"
	}
	return strings.ToLower(name)
}
