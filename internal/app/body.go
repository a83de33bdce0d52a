package app

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return validate
}

// fieldErrors validates a request body and folds violations into the wire
// shape: field name to code, REQUIRED for missing values, INVALID for the
// rest.
func (s *Service) fieldErrors(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}

	violations, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	fields := make(map[string]string, len(violations))
	for _, violation := range violations {
		code := "INVALID"
		if violation.Tag() == "required" {
			code = "REQUIRED"
		}
		fields[violation.Field()] = code
	}
	return fieldErrors(fields)
}

func fieldErrors(fields map[string]string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION", "Validation failed", fields)
}
