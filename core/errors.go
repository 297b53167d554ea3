package core

import (
	"errors"
	"fmt"
)

// ConfigError is a configuration problem with an instruction for fixing it.
type ConfigError struct {
	Code    string // for programmatic handling
	Message string
	Action  string
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

const (
	ErrCodeMissingConfig   = "MISSING_CONFIG"
	ErrCodeInvalidValue    = "INVALID_VALUE"
	ErrCodeMissingAuth     = "MISSING_AUTH"
	ErrCodeUnknownProvider = "UNKNOWN_PROVIDER"
	ErrCodeUnknownDevice   = "UNKNOWN_DEVICE"
)

// ErrMissingConfig reports a required variable that is unset.
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in your .env file", varName),
	}
}

// ErrInvalidValue reports a variable whose value is out of range.
func ErrInvalidValue(varName string, value interface{}, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidValue,
		Message: fmt.Sprintf("Invalid %s=%v: %s", varName, value, reason),
		Action:  fmt.Sprintf("Fix %s in your .env file", varName),
	}
}

// ErrMissingAuth reports a provider selected without its credentials.
func ErrMissingAuth(provider, varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingAuth,
		Message: fmt.Sprintf("Provider %q needs credentials", provider),
		Action:  fmt.Sprintf("Set %s in your .env file or switch SD_PROVIDER to synthetic", varName),
	}
}

func ErrUnknownProvider(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownProvider,
		Message: fmt.Sprintf("Unknown SD_PROVIDER %q", name),
		Action:  "Use one of: synthetic, openai",
	}
}

func ErrUnknownDevice(name string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeUnknownDevice,
		Message: fmt.Sprintf("Unknown AI_DEVICE %q", name),
		Action:  "Use one of: cuda, mps, cpu, or leave it empty for auto-detection",
	}
}

// IsConfigError unwraps err looking for a *ConfigError.
func IsConfigError(err error) (*ConfigError, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// GetErrorCode returns the ConfigError code of err, or "".
func GetErrorCode(err error) string {
	if ce, ok := IsConfigError(err); ok {
		return ce.Code
	}
	return ""
}
