package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"elibrary/internal/platform/crypto"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("password_strength", func(fl validator.FieldLevel) bool {
			return crypto.ValidatePasswordStrength(fl.Field().String()) == nil
		})
	})
	return validate
}

// ValidateStruct runs the struct's validate tags and returns one detail per
// failing field.
func ValidateStruct(s any) []ErrorDetail {
	err := getValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ErrorDetail{{Field: "", Message: err.Error()}}
	}
	details := make([]ErrorDetail, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, ErrorDetail{Field: fe.Field(), Message: messageFor(fe)})
	}
	return details
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "password_strength":
		return "must be 8+ characters with upper, lower, number and special character"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
