package middleware

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/auth-service/internal/apperror"
)

// Validator adapts validator/v10 to echo.Validator. Failures come back as
// VALIDATION_ERROR naming the first offending field.
type Validator struct{ v *validator.Validate }

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	return &Validator{v: v}
}

func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var fe validator.ValidationErrors
	if errors.As(err, &fe) && len(fe) > 0 {
		f := fe[0]
		switch f.Tag() {
		case "required":
			return apperror.Validation(fmt.Sprintf("%s is required", f.Field()))
		case "max":
			return apperror.Validation(fmt.Sprintf("%s must be at most %s characters", f.Field(), f.Param()))
		case "oneof":
			return apperror.Validation(fmt.Sprintf("%s must be one of %s", f.Field(), f.Param()))
		}
		return apperror.Validation(fmt.Sprintf("%s is invalid", f.Field()))
	}
	return apperror.Validation("invalid request body")
}

// jsonName reports fields by their JSON name.
func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return f.Name
	}
	return name
}
