package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields under their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

var validationMessages = map[string]func(param string) string{
	"required":      func(string) string { return "is required" },
	"required_with": func(p string) string { return "is required with " + p },
	"min":           func(p string) string { return "must be at least " + p + " characters" },
	"max":           func(p string) string { return "must be at most " + p + " characters" },
	"oneof":         func(p string) string { return "must be one of: " + p },
}

// Validate runs the validate tags on s and returns field name to message,
// or nil when s is valid.
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return map[string]string{"_": err.Error()}
	}

	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg, ok := validationMessages[fe.Tag()]
		if !ok {
			out[fe.Field()] = fmt.Sprintf("failed %s validation", fe.Tag())
			continue
		}
		out[fe.Field()] = msg(fe.Param())
	}
	return out
}
