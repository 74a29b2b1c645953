package elflog

import (
	"bytes"
	"strings"
	"testing"
)

func TestFilterDropsBelowMinimum(t *testing.T) {
	var buf bytes.Buffer
	h := NewHelper(NewFilter(NewStdLogger(&buf), LevelWarn))

	h.Debugf("debug message %d", 1)
	h.Infof("info message")
	if buf.Len() != 0 {
		t.Fatalf("expected nothing logged below warn, got %q", buf.String())
	}

	h.Warnf("warn message")
	h.Errorf("error message")
	out := buf.String()
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Fatalf("expected warn and error records, got %q", out)
	}
}

func TestNewHelperNilLogger(t *testing.T) {
	h := NewHelper(nil)
	// Should not panic even though no sink was configured explicitly.
	h.Warnf("no backend configured")
}
