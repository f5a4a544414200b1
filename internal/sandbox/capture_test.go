package sandbox

import (
	"bytes"
	"testing"
)

func TestCaptureFileFlushBoundsAndTruncates(t *testing.T) {
	cf, err := newCaptureFile()
	if err != nil {
		t.Fatalf("newCaptureFile: %v", err)
	}
	defer cf.Close()

	if _, err := cf.f.WriteString("hello"); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := cf.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("flush = %q, want %q", out, "hello")
	}

	// A second flush with nothing new written returns empty, proving the
	// file was truncated rather than re-read from the start.
	out, err = cf.Flush()
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("second flush = %q, want empty", out)
	}
}

func TestCaptureFileFlushBoundsSize(t *testing.T) {
	cf, err := newCaptureFile()
	if err != nil {
		t.Fatalf("newCaptureFile: %v", err)
	}
	defer cf.Close()

	big := bytes.Repeat([]byte{'x'}, maxCapturedOutput+100)
	if _, err := cf.f.Write(big); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := cf.Flush()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(out) != maxCapturedOutput {
		t.Fatalf("flush returned %d bytes, want %d", len(out), maxCapturedOutput)
	}
}
