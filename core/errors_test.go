package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConfigError_Error(t *testing.T) {
	withAction := &ConfigError{Code: "X", Message: "Broken", Action: "Fix it"}
	if got := withAction.Error(); got != "Broken. Fix it" {
		t.Errorf("Error() = %q, want %q", got, "Broken. Fix it")
	}
	bare := &ConfigError{Code: "X", Message: "Broken"}
	if got := bare.Error(); got != "Broken" {
		t.Errorf("Error() = %q, want %q", got, "Broken")
	}
}

func TestConfigErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		code     string
		contains string
	}{
		{"missing", ErrMissingConfig("SD_BASE_MODEL"), ErrCodeMissingConfig, "SD_BASE_MODEL"},
		{"invalid", ErrInvalidValue("PORT", 0, "must be positive"), ErrCodeInvalidValue, "PORT=0"},
		{"auth", ErrMissingAuth("openai", "OPENAI_API_KEY"), ErrCodeMissingAuth, "OPENAI_API_KEY"},
		{"provider", ErrUnknownProvider("dalle"), ErrCodeUnknownProvider, "dalle"},
		{"device", ErrUnknownDevice("tpu"), ErrCodeUnknownDevice, "tpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Error() = %q, want it to contain %q", tt.err.Error(), tt.contains)
			}
		})
	}
}

func TestIsConfigError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("startup: %w", ErrUnknownDevice("tpu"))

	ce, ok := IsConfigError(wrapped)
	if !ok {
		t.Fatal("IsConfigError() = false for wrapped ConfigError")
	}
	if ce.Code != ErrCodeUnknownDevice {
		t.Errorf("Code = %q, want %q", ce.Code, ErrCodeUnknownDevice)
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("GetErrorCode() of plain error should be empty")
	}
}

func TestExitCodeName(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{ExitCodeSuccess, "success"},
		{ExitCodeError, "error"},
		{ExitCodeConfig, "configuration error"},
		{ExitCodeSIGINT, "interrupted (SIGINT)"},
		{ExitCodeSIGTERM, "terminated (SIGTERM)"},
		{99, "unknown"},
	}
	for _, tt := range tests {
		if got := ExitCodeName(tt.code); got != tt.want {
			t.Errorf("ExitCodeName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
	if !IsSignalExit(ExitCodeSIGTERM) || IsSignalExit(ExitCodeError) {
		t.Error("IsSignalExit() misclassifies codes")
	}
}
