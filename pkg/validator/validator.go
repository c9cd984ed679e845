package validator

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	playground "github.com/go-playground/validator/v10"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// Error joins the field messages in a stable order.
func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f, v[f]))
	}
	return strings.Join(parts, "; ")
}

var (
	validate     *playground.Validate
	validateOnce sync.Once
)

func instance() *playground.Validate {
	validateOnce.Do(func() {
		validate = playground.New(playground.WithRequiredStructEnabled())
		// Report json names so field errors match the request body.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Struct validates s against its `validate` tags. It returns an empty map
// when s is valid.
func Struct(s any) ValidationErrors {
	errs := make(ValidationErrors)

	err := instance().Struct(s)
	if err == nil {
		return errs
	}

	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		errs.Add("_", err.Error())
		return errs
	}

	for _, fe := range fieldErrs {
		errs.Add(fe.Field(), translate(fe))
	}
	return errs
}

func translate(fe playground.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a valid id", field)
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
