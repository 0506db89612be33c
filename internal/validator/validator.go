package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/chatrelay/internal/apperr"
)

// Validator validates request bodies and event payloads against their `validate` tags.
type Validator struct {
	cli *validator.Validate
}

// ValidationError is one failed rule, keyed by the field's JSON name.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	cli.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{cli: cli}
}

func (v *Validator) formatError(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}

// ValidateStruct returns every failed rule of s, or nil.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	if err := v.cli.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Check is ValidateStruct folded into a single apperr.ErrInvalid.
func (v *Validator) Check(s any) error {
	verrs := v.ValidateStruct(s)
	if len(verrs) == 0 {
		return nil
	}
	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return apperr.Invalid(strings.Join(parts, "; "))
}

var std = New()

// Check validates s with the shared validator.
func Check(s any) error {
	return std.Check(s)
}
