package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/kardianos/service"
)

// serviceStopTimeout bounds how long Stop waits for the server to drain.
// It should exceed SHUTDOWN_TIMEOUT_SECONDS.
const serviceStopTimeout = 45 * time.Second

// Program adapts a runner to the kardianos service lifecycle, so the same
// binary runs under the Windows service manager, systemd or launchd.
type Program struct {
	runner *runner
	exit   chan struct{}
	code   int
}

// Start must not block; the server runs in its own goroutine.
func (p *Program) Start(s service.Service) error {
	p.exit = make(chan struct{})
	go p.run()
	return nil
}

func (p *Program) run() {
	defer close(p.exit)
	p.code = p.runner.run()
	// Exiting non-zero on our own lets the service manager restart us.
	if !p.runner.stopRequested() && p.code != 0 {
		os.Exit(p.code)
	}
}

// Stop triggers graceful shutdown and waits for it.
func (p *Program) Stop(s service.Service) error {
	p.runner.stop()
	if p.exit == nil {
		return nil
	}
	select {
	case <-p.exit:
		return nil
	case <-time.After(serviceStopTimeout):
		return fmt.Errorf("timeout waiting for service to stop")
	}
}

// ServiceConfig describes the installed service.
func ServiceConfig() *service.Config {
	return &service.Config{
		Name:        "RetouchStudio",
		DisplayName: "AI Retouch Studio",
		Description: "Stable Diffusion retouching backend: generation, LUT grading and segmentation over HTTP",
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}
}

func newService(r *runner) (service.Service, error) {
	s, err := service.New(&Program{runner: r}, ServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}

// RunAsService runs r under the platform service manager. It returns false
// without running anything when started from a terminal.
func RunAsService(r *runner) (bool, error) {
	if service.Interactive() {
		return false, nil
	}
	s, err := newService(r)
	if err != nil {
		return false, err
	}
	if err := s.Run(); err != nil {
		return true, fmt.Errorf("service run failed: %w", err)
	}
	return true, nil
}

// HandleServiceCommand handles service management arguments such as
// "install" or "status". It reports false when args hold no such command
// and the server should start normally.
func HandleServiceCommand(args []string, out io.Writer) (bool, error) {
	if len(args) < 2 {
		return false, nil
	}

	cmd := args[1]
	switch {
	case cmd == "help" || cmd == "-h" || cmd == "--help" || cmd == "-help":
		PrintServiceUsage(out)
		return true, nil
	case cmd == "remove":
		cmd = "uninstall"
	case cmd == "status":
		s, err := newService(&runner{})
		if err != nil {
			return true, err
		}
		status, err := s.Status()
		if err != nil {
			return true, fmt.Errorf("failed to get service status: %w", err)
		}
		fmt.Fprintln(out, describeStatus(status))
		return true, nil
	case !slices.Contains(service.ControlAction[:], cmd):
		return false, nil
	}

	s, err := newService(&runner{})
	if err != nil {
		return true, err
	}
	if err := service.Control(s, cmd); err != nil {
		return true, fmt.Errorf("failed to %s service: %w", cmd, err)
	}
	fmt.Fprintf(out, "Service %s: ok\n", cmd)
	return true, nil
}

func describeStatus(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Service is running"
	case service.StatusStopped:
		return "Service is stopped"
	default:
		return "Service status unknown"
	}
}

// PrintServiceUsage prints the service management commands.
func PrintServiceUsage(out io.Writer) {
	fmt.Fprintln(out, "AI Retouch Studio")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: retouch-studio <command>")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  install    Install the server as a system service")
	fmt.Fprintln(out, "  uninstall  Remove the system service (alias: remove)")
	fmt.Fprintln(out, "  start      Start the system service")
	fmt.Fprintln(out, "  stop       Stop the system service")
	fmt.Fprintln(out, "  restart    Restart the system service")
	fmt.Fprintln(out, "  status     Show the current service status")
	fmt.Fprintln(out, "  help       Show this help message")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Run without arguments to start the server in the foreground.")
}
