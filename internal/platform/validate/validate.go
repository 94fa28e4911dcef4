// Package validate checks request payloads with struct tags and reports the
// first failure as an apperr.ValidationError keyed by the JSON field name.
package validate

import (
	"errors"
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinic/internal/platform/apperr"
)

var validate *validator.Validate

var messages = map[string]string{
	"required":         "is required",
	"required_without": "is required when %s is absent",
	"email":            "must be a valid email",
	"min":              "must be at least %s",
	"max":              "must be at most %s",
	"gt":               "must be greater than %s",
	"gte":              "must be greater than or equal to %s",
	"lte":              "must be less than or equal to %s",
	"oneof":            "must be one of [%s]",
	"e164":             "must be a phone number in international format",
	"uuid":             "must be a UUID",
}

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// decimal amounts are compared as numbers by gt/gte/lte
	validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
		d, ok := v.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
}

// Struct validates s. The returned error is nil or a *apperr.ValidationError.
func Struct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return apperr.Validation("", err.Error())
	}
	first := fields[0]
	msg, ok := messages[first.Tag()]
	if !ok {
		msg = "is invalid"
	}
	if strings.Contains(msg, "%s") {
		param := first.Param()
		if first.Tag() == "oneof" {
			param = strings.Join(strings.Fields(param), ", ")
		}
		msg = strings.Replace(msg, "%s", param, 1)
	}
	return apperr.Validation(fieldPath(first.Namespace()), msg)
}

// fieldPath keeps the JSON names of a namespace. The root type and embedded
// structs carry Go names and are dropped:
// "Request.Charges.payment.amount" -> "payment.amount".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")[1:]
	kept := parts[:0]
	for _, p := range parts {
		if r, _ := utf8.DecodeRuneInString(p); unicode.IsUpper(r) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ".")
}
