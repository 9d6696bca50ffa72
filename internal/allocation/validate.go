package allocation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"bay-allocation-backend/internal/parse"
)

var validate = newValidator()

// ValidationError describes one malformed command field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationErrors is returned for malformed command input. It matches
// ErrValidation under errors.Is.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

func (v ValidationErrors) Unwrap() error { return ErrValidation }

func invalid(field, message string) error {
	return ValidationErrors{{Field: field, Message: message}}
}

// RegisterCallsign installs the "callsign" tag on v.
func RegisterCallsign(v *validator.Validate) error {
	return v.RegisterValidation("callsign", func(fl validator.FieldLevel) bool {
		return parse.IsCallsign(fl.Field().String())
	})
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	if err := RegisterCallsign(v); err != nil {
		panic(fmt.Sprintf("failed to register callsign validator: %v", err))
	}
	return v
}

func validateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translateValidationErrors(validationErrs)
		}
		return err
	}
	return nil
}

func translateValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, 0, len(errs))
	for _, fe := range errs {
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "is required"
		case "callsign":
			msg = "must be 3-8 letters or digits"
		case "gt":
			msg = fmt.Sprintf("must be greater than %s", fe.Param())
		case "max":
			msg = fmt.Sprintf("must be at most %s characters", fe.Param())
		default:
			msg = fmt.Sprintf("failed %q validation", fe.Tag())
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}
