package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// InteractionInput is one time entry submitted with an activity.
type InteractionInput struct {
	CantiereID int64  `json:"cantiereId" validate:"gt=0"`
	MezzoID    *int64 `json:"mezzoId,omitempty" validate:"omitempty,gt=0"`
	Ore        int    `json:"ore" validate:"gte=0"`
	Minuti     int    `json:"minuti" validate:"gte=0,lte=59"`
}

// CreateAttivitaInput is the payload for creating an activity with its interactions.
type CreateAttivitaInput struct {
	Date        string             `json:"date" validate:"required"`
	UserID      string             `json:"userId,omitempty"`
	Interazioni []InteractionInput `json:"interazioni" validate:"min=1,dive"`
}

// UpdateAttivitaInput changes the date of an existing activity.
type UpdateAttivitaInput struct {
	Date string `json:"date" validate:"required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Validate checks a struct against its validate tags and reports field-level messages.
func Validate(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fieldPath(fe.Namespace())] = fieldMessage(fe)
	}
	return out
}

// fieldPath drops the struct name prefix: "CreateAttivitaInput.interazioni[0].minuti" -> "interazioni[0].minuti".
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "campo obbligatorio"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("inserire almeno %s elementi", fe.Param())
		}
		return fmt.Sprintf("deve essere almeno %s", fe.Param())
	case "gt":
		return fmt.Sprintf("deve essere maggiore di %s", fe.Param())
	case "gte":
		return fmt.Sprintf("deve essere maggiore o uguale a %s", fe.Param())
	case "lte":
		return fmt.Sprintf("deve essere minore o uguale a %s", fe.Param())
	default:
		return "valore non valido"
	}
}
