package utils

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestBaseName(t *testing.T) {
	tests := []struct {
		in, def, want string
	}{
		{"out.mp4", "d.mp4", "out.mp4"},
		{"../../etc/passwd", "d.mp4", "passwd"},
		{"/abs/path/clip.mp4", "d.mp4", "clip.mp4"},
		{`..\..\win.mp4`, "d.mp4", "win.mp4"},
		{"", "d.mp4", "d.mp4"},
		{"..", "d.mp4", "d.mp4"},
		{"/", "d.mp4", "d.mp4"},
	}
	for _, tt := range tests {
		if got := BaseName(tt.in, tt.def); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	if err := RequireTool("sh"); err != nil {
		t.Skip(err)
	}
	cmd := NewSafeCommand(context.Background(), "sh", "-c", "echo worker exploded >&2; exit 3")
	if err := cmd.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if got := cmd.Logs(); got != "worker exploded" {
		t.Errorf("Expected captured stderr, got %q", got)
	}

	var out bytes.Buffer
	writeError(&out, "Worker crashed", errors.New("exit status 3"), cmd)
	for _, want := range []string{"Worker crashed", "exit status 3", "worker exploded"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Error box missing %q:\n%s", want, out.String())
		}
	}
}

func TestShowErrorWithoutCommand(t *testing.T) {
	var out bytes.Buffer
	writeError(&out, "Configuration Error", nil, nil)
	if strings.Contains(out.String(), "SUBPROCESS LOGS") {
		t.Error("Did not expect a logs section without a command")
	}
}
