package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sipico/freesub/internal/record"
)

// GitHub usernames: 1-39 alphanumerics or single hyphens, not at either end.
var ghUserRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)

// TTL bounds. A TTL of 1 asks the provider to pick one automatically.
const (
	AutoTTL = 1
	MinTTL  = 60
	MaxTTL  = 86400
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "ghuser", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return ghUserRe.MatchString(s) && !strings.Contains(s, "--")
	})
	mustRegister(v, "dnslabel", func(fl validator.FieldLevel) bool {
		return record.ValidLabel(fl.Field().String())
	})
	mustRegister(v, "rrtype", func(fl validator.FieldLevel) bool {
		_, ok := record.Lookup(record.Type(fl.Field().String()))
		return ok
	})
	mustRegister(v, "ttl", func(fl validator.FieldLevel) bool {
		f := fl.Field()
		if f.Kind() == reflect.Pointer {
			if f.IsNil() {
				return true
			}
			f = f.Elem()
		}
		ttl := f.Int()
		return ttl == AutoTTL || (ttl >= MinTTL && ttl <= MaxTTL)
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %s validation: %v", tag, err))
	}
}

// schemaErrors runs struct-tag validation and turns each failure into a
// human-readable reason.
func schemaErrors(v *validator.Validate, req *record.Request) []string {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, describe(fe))
	}
	return out
}

// fieldPath drops the root struct name: "Request.record.ttl" -> "record.ttl".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func describe(fe validator.FieldError) string {
	path := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "fqdn":
		return fmt.Sprintf("%s %q is not a valid domain name", path, fe.Value())
	case "dnslabel":
		return fmt.Sprintf("%s %q must be 1-63 lowercase letters, digits or hyphens, with no leading, trailing or consecutive hyphens", path, fe.Value())
	case "ghuser":
		return fmt.Sprintf("%s %q is not a valid GitHub username", path, fe.Value())
	case "email":
		return fmt.Sprintf("%s %q is not a valid email address", path, fe.Value())
	case "rrtype":
		return fmt.Sprintf("%s %q is not supported (supported: %s)", path, fe.Value(), supportedTypes())
	case "ttl":
		return fmt.Sprintf("%s must be %d (automatic) or between %d and %d", path, AutoTTL, MinTTL, MaxTTL)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", path, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
	}
}

func supportedTypes() string {
	types := record.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
