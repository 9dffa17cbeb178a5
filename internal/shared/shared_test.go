package shared

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogger(t *testing.T) {
	t.Run("NewLogger Writes To Writer", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		logger.Info("hello", "key", "value")

		if !strings.Contains(buf.String(), "hello") || !strings.Contains(buf.String(), "key=value") {
			t.Errorf("unexpected log output: %s", buf.String())
		}
	})

	t.Run("WithLogger Adds Fields", func(t *testing.T) {
		var buf bytes.Buffer
		child := WithLogger(NewLogger(&buf), "session", "abc")
		child.Info("event")

		if !strings.Contains(buf.String(), "session=abc") {
			t.Errorf("expected session field, got %s", buf.String())
		}
	})

	t.Run("SetLogLevel Filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		SetLogLevel(logger, log.WarnLevel)
		logger.Info("quiet")

		if buf.Len() != 0 {
			t.Errorf("expected info to be filtered, got %s", buf.String())
		}
	})

	t.Run("NewFileLogger Creates Directories", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "upx.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		logger.Info("to file")

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(content), "to file") {
			t.Errorf("expected log line in file, got %q", content)
		}
	})
}

func TestIDs(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique IDs")
	}
	if len(a) != 36 {
		t.Errorf("expected 36 character uuid, got %d", len(a))
	}
	if got := ShortID(a); got != a[:8] {
		t.Errorf("ShortID() = %s, want %s", got, a[:8])
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID() = %s, want abc", got)
	}
}

func TestOpenCommand(t *testing.T) {
	orig := getRuntime
	t.Cleanup(func() { getRuntime = orig })

	tc := []struct {
		goos    string
		want    string
		wantErr bool
	}{
		{goos: "darwin", want: "open"},
		{goos: "linux", want: "xdg-open"},
		{goos: "windows", want: "cmd"},
		{goos: "plan9", wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.goos, func(t *testing.T) {
			getRuntime = func() string { return tt.goos }
			cmd, err := openCommand("/tmp/out.png")
			if tt.wantErr {
				if err == nil {
					t.Error("expected error for unsupported platform")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if filepath.Base(cmd.Path) != tt.want && cmd.Args[0] != tt.want {
				t.Errorf("expected %s, got %v", tt.want, cmd.Args)
			}
			if cmd.Args[len(cmd.Args)-1] != "/tmp/out.png" {
				t.Errorf("expected target as last arg, got %v", cmd.Args)
			}
		})
	}
}
