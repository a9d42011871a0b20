package desktop

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"
)

type call struct {
	name string
	args []string
}

func fakeShell(goos string, installed map[string]bool, out string, err error) (*Shell, *[]call) {
	var calls []call
	s := &Shell{
		goos: goos,
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, call{name, args})
			return []byte(out), err
		},
		lookPath: func(name string) (string, error) {
			if installed[name] {
				return "/usr/bin/" + name, nil
			}
			return "", exec.ErrNotFound
		},
	}
	return s, &calls
}

func TestPickFolderCommand(t *testing.T) {
	tests := []struct {
		name      string
		goos      string
		installed map[string]bool
		wantCmd   string
	}{
		{"zenity preferred", "linux", map[string]bool{"zenity": true, "kdialog": true}, "zenity"},
		{"kdialog fallback", "linux", map[string]bool{"kdialog": true}, "kdialog"},
		{"macOS", "darwin", nil, "osascript"},
		{"windows", "windows", nil, "powershell"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, calls := fakeShell(tt.goos, tt.installed, "/home/op/logs\n", nil)
			got, err := s.PickFolder(context.Background(), "/home/op")
			if err != nil {
				t.Fatalf("PickFolder: %v", err)
			}
			if got != "/home/op/logs" {
				t.Errorf("PickFolder = %q", got)
			}
			if len(*calls) != 1 || (*calls)[0].name != tt.wantCmd {
				t.Errorf("calls = %+v, want one %s", *calls, tt.wantCmd)
			}
		})
	}
}

func TestPickFolderMacStartLocation(t *testing.T) {
	tests := []struct {
		start string
		want  string
	}{
		{"/Users/zoë/logs", `POSIX file "/Users/zoë/logs"`},
		{"/Users/op/日志", `POSIX file "/Users/op/日志"`},
		{`/Volumes/rig "B"/logs`, `POSIX file "/Volumes/rig \"B\"/logs"`},
		{`/tmp/back\slash`, `POSIX file "/tmp/back\\slash"`},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			s, calls := fakeShell("darwin", nil, "", nil)
			if _, err := s.PickFolder(context.Background(), tt.start); err != nil {
				t.Fatalf("PickFolder: %v", err)
			}
			if len(*calls) != 1 || len((*calls)[0].args) != 2 {
				t.Fatalf("calls = %+v", *calls)
			}
			script := (*calls)[0].args[1]
			if !strings.Contains(script, tt.want) {
				t.Errorf("script = %s, want it to contain %s", script, tt.want)
			}
			if strings.Contains(script, `\u`) || strings.Contains(script, `\x`) {
				t.Errorf("script has Go escapes: %s", script)
			}
		})
	}
}

func TestPickFolderNoTool(t *testing.T) {
	s, calls := fakeShell("linux", nil, "", nil)
	if _, err := s.PickFolder(context.Background(), ""); !errors.Is(err, ErrNoPicker) {
		t.Errorf("err = %v, want ErrNoPicker", err)
	}
	if len(*calls) != 0 {
		t.Errorf("ran %+v", *calls)
	}
}

func TestPickFolderCancelled(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}
	s := &Shell{
		goos: "linux",
		run: func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			return execRun(ctx, "sh", "-c", "exit 1")
		},
		lookPath: func(string) (string, error) { return "/usr/bin/zenity", nil },
	}
	got, err := s.PickFolder(context.Background(), "")
	if err != nil || got != "" {
		t.Errorf("PickFolder = %q, %v; want cancelled", got, err)
	}
}

func TestOpenFolderCommand(t *testing.T) {
	tests := []struct {
		goos string
		want call
	}{
		{"linux", call{"xdg-open", []string{"/srv/logs"}}},
		{"darwin", call{"open", []string{"/srv/logs"}}},
		{"windows", call{"explorer", []string{"/srv/logs"}}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			s, calls := fakeShell(tt.goos, nil, "", nil)
			if err := s.OpenFolder(context.Background(), "/srv/logs"); err != nil {
				t.Fatalf("OpenFolder: %v", err)
			}
			if len(*calls) != 1 || !reflect.DeepEqual((*calls)[0], tt.want) {
				t.Errorf("calls = %+v, want %+v", *calls, tt.want)
			}
		})
	}
}
