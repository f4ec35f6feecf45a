package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestDebugfGatedByLevel(t *testing.T) {
	t.Setenv("INSTANCE_ID", "test")
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetLevel("info")
	Debugf("hidden %d", 1)
	Logf("[test] shown (n=%d)", 2)

	SetLevel("DEBUG")
	if !DebugEnabled() {
		t.Fatal("debug level not enabled")
	}
	Debugf("visible %d", 3)
	SetLevel("info")
	Flush()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line written at info level: %q", out)
	}
	for _, want := range []string{"[test] shown (n=2)", "[debug] visible 3", "[instance="} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}
