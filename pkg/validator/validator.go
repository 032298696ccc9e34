package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Usar el nombre JSON del campo en los mensajes.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// Validate ejecuta la validación por tags de go-playground/validator.
func Validate(s any) error {
	return validate.Struct(s)
}

// FormatValidationErrors convierte validator.ValidationErrors en campo → mensaje legible.
func FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return out
	}
	for _, e := range ve {
		out[e.Field()] = formatFieldError(e)
	}
	return out
}

// Describe resume los errores de validación en una sola línea ordenada por campo.
func Describe(err error) string {
	fields := FormatValidationErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "campo obligatorio"
	case "uuid", "uuid4":
		return "debe ser un UUID válido"
	case "min":
		return fmt.Sprintf("mínimo %s", e.Param())
	case "max":
		return fmt.Sprintf("máximo %s", e.Param())
	case "gt":
		return fmt.Sprintf("debe ser mayor que %s", e.Param())
	case "gte":
		return fmt.Sprintf("debe ser mayor o igual a %s", e.Param())
	case "nefield":
		return fmt.Sprintf("debe ser distinto de %s", e.Param())
	case "oneof":
		return fmt.Sprintf("debe ser uno de [%s]", e.Param())
	default:
		return fmt.Sprintf("validación '%s' fallida", e.Tag())
	}
}
