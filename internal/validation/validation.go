// Package validation turns struct tag validation failures into domain validation errors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// Validator wraps a cached validator instance that reports fields by their JSON names.
type Validator struct {
	validate *validator.Validate
}

// New constructs a Validator. Instances are safe for concurrent use and cache struct metadata.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Struct validates s and returns a *domain.ValidationError listing every failing field.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate %T: %w", s, err)
	}

	verr := &domain.ValidationError{}
	for _, fe := range fieldErrs {
		verr.Add(fieldPath(fe), describe(fe))
	}
	return verr
}

// fieldPath drops the top-level struct name from the namespace, so "Params.gallery[0]" becomes "gallery[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " long"
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}
