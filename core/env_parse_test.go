package core

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	const key = "TEST_RETOUCH_ENV_STRING"

	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"set", "custom", "custom"},
		{"empty", "", "default"},
		{"whitespace", "   ", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(key, tt.value)
			if got := GetEnvOrDefault(key, "default"); got != tt.want {
				t.Errorf("GetEnvOrDefault() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	const key = "TEST_RETOUCH_ENV_INT"

	tests := []struct {
		value string
		want  int
	}{
		{"42", 42},
		{"-3", -3},
		{"", 7},
		{"abc", 7},
		{"4.5", 7},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.value), func(t *testing.T) {
			t.Setenv(key, tt.value)
			if got := ParseIntEnv(key, 7); got != tt.want {
				t.Errorf("ParseIntEnv() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseFloat64Env(t *testing.T) {
	const key = "TEST_RETOUCH_ENV_FLOAT"
	t.Setenv(key, "7.5")
	if got := ParseFloat64Env(key, 1); got != 7.5 {
		t.Errorf("ParseFloat64Env() = %v, want 7.5", got)
	}
	t.Setenv(key, "nope")
	if got := ParseFloat64Env(key, 1); got != 1 {
		t.Errorf("ParseFloat64Env() = %v, want default 1", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	const key = "TEST_RETOUCH_ENV_BOOL"

	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"off", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.value), func(t *testing.T) {
			t.Setenv(key, tt.value)
			if got := ParseBoolEnv(key, tt.def); got != tt.want {
				t.Errorf("ParseBoolEnv(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseDurationEnv(t *testing.T) {
	const key = "TEST_RETOUCH_ENV_DURATION"
	t.Setenv(key, "5")
	if got := ParseDurationEnv(key, 30); got != 5*time.Second {
		t.Errorf("ParseDurationEnv() = %v, want 5s", got)
	}
}

func TestParseListEnv(t *testing.T) {
	const key = "TEST_RETOUCH_ENV_LIST"
	t.Setenv(key, " a,,b ,")
	if got := ParseListEnv(key, nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("ParseListEnv() = %v, want [a b]", got)
	}
	t.Setenv(key, " , ")
	if got := ParseListEnv(key, []string{"x"}); !reflect.DeepEqual(got, []string{"x"}) {
		t.Errorf("ParseListEnv() = %v, want default", got)
	}
}
