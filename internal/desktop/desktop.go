// Package desktop drives the host's native folder picker and file browser.
package desktop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strings"
)

// ErrNoPicker is returned when no supported dialog tool is installed.
var ErrNoPicker = errors.New("no folder picker available")

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Shell is the desktop integration for the host OS.
type Shell struct {
	goos     string
	run      Runner
	lookPath func(string) (string, error)
}

// New returns a Shell for the running OS.
func New() *Shell {
	return &Shell{goos: runtime.GOOS, run: execRun, lookPath: exec.LookPath}
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		err = fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// PickFolder shows a directory chooser opened at start. It returns "" if
// the user cancels.
func (s *Shell) PickFolder(ctx context.Context, start string) (string, error) {
	name, args, err := s.pickerCommand(start)
	if err != nil {
		return "", err
	}
	log.Printf("[desktop] opening folder picker (%s)", name)
	out, err := s.run(ctx, name, args...)
	if err != nil {
		// zenity, kdialog and osascript all exit non-zero on cancel.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}

func (s *Shell) pickerCommand(start string) (string, []string, error) {
	switch s.goos {
	case "darwin":
		script := `POSIX path of (choose folder with prompt "Save logs to")`
		if start != "" {
			script = `POSIX path of (choose folder with prompt "Save logs to" default location POSIX file "` + appleScriptEscape(start) + `")`
		}
		return "osascript", []string{"-e", script}, nil
	case "windows":
		ps := "Add-Type -AssemblyName System.Windows.Forms;" +
			"$d = New-Object System.Windows.Forms.FolderBrowserDialog;" +
			"$d.SelectedPath = '" + strings.ReplaceAll(start, "'", "''") + "';" +
			"if ($d.ShowDialog() -eq 'OK') { $d.SelectedPath }"
		return "powershell", []string{"-NoProfile", "-STA", "-Command", ps}, nil
	default:
		if _, err := s.lookPath("zenity"); err == nil {
			args := []string{"--file-selection", "--directory", "--title=Save logs to"}
			if start != "" {
				args = append(args, "--filename="+strings.TrimRight(start, "/")+"/")
			}
			return "zenity", args, nil
		}
		if _, err := s.lookPath("kdialog"); err == nil {
			return "kdialog", []string{"--getexistingdirectory", start}, nil
		}
		return "", nil, ErrNoPicker
	}
}

// AppleScript string literals only escape backslash and double quote.
var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func appleScriptEscape(s string) string { return appleScriptEscaper.Replace(s) }

// OpenFolder shows path in the system file browser.
func (s *Shell) OpenFolder(ctx context.Context, path string) error {
	name := "xdg-open"
	switch s.goos {
	case "darwin":
		name = "open"
	case "windows":
		name = "explorer"
	}
	log.Printf("[desktop] opening %s", path)
	_, err := s.run(ctx, name, path)
	// explorer exits 1 even when the window opened.
	if s.goos == "windows" {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
