package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers echo-gate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("origin", validateOrigin); err != nil {
		return fmt.Errorf("failed to register origin validator: %w", err)
	}
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateOrigin accepts a browser origin: http(s)://host[:port] with no
// path, query or fragment.
func validateOrigin(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if u.Host == "" || u.User != nil {
		return false
	}
	return (u.Path == "" || u.Path == "/") && u.RawQuery == "" && u.Fragment == ""
}

// validateDuration accepts a non-negative Go duration string ("30s", "1h", "0").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateShutdownTimeout(); err != nil {
		return err
	}

	if err := c.validateRateLimit(); err != nil {
		return err
	}

	return nil
}

// validateShutdownTimeout rejects an explicit zero shutdown bound.
func (c *Config) validateShutdownTimeout() error {
	if c.Server.ShutdownTimeout != "" && c.Server.ShutdownTimeoutDuration() <= 0 {
		return errors.New("server.shutdown_timeout must be greater than zero")
	}
	return nil
}

// validateRateLimit requires usable limits once rate limiting is on.
func (c *Config) validateRateLimit() error {
	if !c.RateLimit.Enabled {
		return nil
	}
	if c.RateLimit.SessionRate < 1 {
		return errors.New("rate_limit.session_rate must be at least 1 when rate limiting is enabled")
	}
	if c.RateLimit.Burst < 1 {
		return errors.New("rate_limit.burst must be at least 1 when rate limiting is enabled")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "origin":
		return fmt.Sprintf("%s must be an origin like http://host:port (got %q)", field, e.Value())
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration like 30s or 5m (got %q)", field, e.Value())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
