package utils

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	// Format validation errors
	var msgs []string
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		param := e.Param()

		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+param)
		case "max":
			msgs = append(msgs, field+" must be at most "+param)
		case "gte":
			msgs = append(msgs, field+" must be greater than or equal to "+param)
		case "lte":
			msgs = append(msgs, field+" must be less than or equal to "+param)
		case "gt":
			msgs = append(msgs, field+" must be greater than "+param)
		case "oneof":
			msgs = append(msgs, field+" must be one of "+param)
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}
