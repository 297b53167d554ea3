package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/kardianos/service"
)

func TestHandleServiceCommand_NotHandled(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{}},
		{"program only", []string{"retouch-studio"}},
		{"unknown command", []string{"retouch-studio", "serve"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			handled, err := HandleServiceCommand(tt.args, &out)
			if handled || err != nil {
				t.Errorf("HandleServiceCommand(%v) = %v, %v; want false, nil", tt.args, handled, err)
			}
			if out.Len() != 0 {
				t.Errorf("unexpected output %q", out.String())
			}
		})
	}
}

func TestHandleServiceCommand_Help(t *testing.T) {
	for _, cmd := range []string{"help", "-h", "--help", "-help"} {
		t.Run(cmd, func(t *testing.T) {
			var out bytes.Buffer
			handled, err := HandleServiceCommand([]string{"retouch-studio", cmd}, &out)
			if !handled || err != nil {
				t.Fatalf("HandleServiceCommand(%q) = %v, %v; want true, nil", cmd, handled, err)
			}
			if !strings.Contains(out.String(), "install") {
				t.Errorf("usage output missing commands: %q", out.String())
			}
		})
	}
}

func TestPrintServiceUsage(t *testing.T) {
	var out bytes.Buffer
	PrintServiceUsage(&out)

	for _, want := range []string{"AI Retouch Studio", "uninstall", "status", "foreground"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("PrintServiceUsage() output missing %q", want)
		}
	}
}

func TestServiceConfig(t *testing.T) {
	cfg := ServiceConfig()
	if cfg.Name != "RetouchStudio" {
		t.Errorf("Name = %q, want RetouchStudio", cfg.Name)
	}
	if cfg.Option["Restart"] != "on-failure" {
		t.Errorf("Option[Restart] = %v, want on-failure", cfg.Option["Restart"])
	}
}

func TestDescribeStatus(t *testing.T) {
	tests := []struct {
		status service.Status
		want   string
	}{
		{service.StatusRunning, "Service is running"},
		{service.StatusStopped, "Service is stopped"},
		{service.StatusUnknown, "Service status unknown"},
	}
	for _, tt := range tests {
		if got := describeStatus(tt.status); got != tt.want {
			t.Errorf("describeStatus(%v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestProgram_StopWithoutStart(t *testing.T) {
	p := &Program{runner: &runner{}}
	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if !p.runner.stopRequested() {
		t.Error("Stop() did not mark the runner stopped")
	}
}

func TestProgram_StopWaitsForExit(t *testing.T) {
	p := &Program{runner: &runner{}, exit: make(chan struct{})}
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(p.exit)
	}()

	if err := p.Stop(nil); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
