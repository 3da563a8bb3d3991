package httputil

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
	"github.com/bjyoucef/inaya-project-sub001/pkg/i18n"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// date: YYYY-MM-DD string
	_ = v.RegisterValidation("date", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
	// decimal: string parseable by shopspring/decimal
	_ = v.RegisterValidation("decimal", func(fl validator.FieldLevel) bool {
		_, err := decimal.NewFromString(fl.Field().String())
		return err == nil
	})

	return v
}

// Validate validates a struct using go-playground/validator
func Validate(v interface{}) error {
	return ValidateCtx(context.Background(), v)
}

// ValidateCtx validates a struct and localizes field messages with the
// locale carried by ctx.
func ValidateCtx(ctx context.Context, v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.BadRequest(err.Error())
	}

	l := i18n.LocalizerFromContext(ctx)
	details := make(map[string]string, len(validationErrors))
	for _, e := range validationErrors {
		details[e.Field()] = formatValidationError(l, e)
	}

	return errors.Validation(details)
}

func formatValidationError(l *i18n.Localizer, e validator.FieldError) string {
	switch e.Tag() {
	case "required", "uuid", "gt", "gte", "min", "max", "oneof", "date", "decimal", "nefield":
		return l.T("validation."+e.Tag(), map[string]string{"param": e.Param()})
	default:
		return l.T("validation.invalid")
	}
}
