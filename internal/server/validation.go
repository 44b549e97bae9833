package server

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/fiscalsync/internal/identifier"
)

var registerValidatorsOnce sync.Once

// registerValidators adds the fiscal tags to gin's binding validator:
// cnpj (check digits, punctuation allowed) and uf (known federative unit).
func registerValidators() {
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		// report json names so errors point at the request field
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = v.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
			return identifier.ValidateCNPJ(identifier.NormalizeCNPJ(fl.Field().String()))
		})
		_ = v.RegisterValidation("uf", func(fl validator.FieldLevel) bool {
			return identifier.ValidUF(fl.Field().String())
		})
	})
}

// bindingError turns validator failures into field-level validation errors.
// Malformed bodies collapse into a single invalid_request entry.
func bindingError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		field := fe.Field()
		out.Errors = append(out.Errors, ValidationError{
			Field:   field,
			Code:    "invalid_" + field,
			Message: validationMessage(fe.Tag()),
		})
	}
	return out
}

func validationMessage(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "cnpj":
		return "CNPJ check digits do not match"
	case "uf":
		return "unknown federative unit"
	case "oneof":
		return "value is not allowed"
	default:
		return "invalid value"
	}
}
