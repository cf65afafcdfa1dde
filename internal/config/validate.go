package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their YAML keys.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}

	if c.Connection.LivenessTimeout <= c.Connection.LivenessInterval {
		return fmt.Errorf("connection.liveness_timeout (%s) must exceed liveness_interval (%s)",
			c.Connection.LivenessTimeout, c.Connection.LivenessInterval)
	}

	hb := c.Heartbeat
	set := 0
	for _, v := range []string{hb.AccountID, hb.AppName, hb.AppVersion} {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("heartbeat.account_id, app_name and app_version must be set together")
	}

	return nil
}

// fieldError renders a validator failure as "section.field ...".
func fieldError(fe validator.FieldError) error {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}

	switch fe.Tag() {
	case "required", "required_with":
		return fmt.Errorf("%s is required", ns)
	case "gt":
		return fmt.Errorf("%s must be > %s", ns, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be >= %s", ns, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of [%s], got %q", ns, fe.Param(), fe.Value())
	case "url":
		return fmt.Errorf("%s must be a URL, got %q", ns, fe.Value())
	case "file":
		return fmt.Errorf("%s must be an existing file, got %q", ns, fe.Value())
	default:
		return fmt.Errorf("%s failed %s validation", ns, fe.Tag())
	}
}
