package monitoring

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op; this must not panic
	SetLogger(nil)
	Logf("test message")
}

func TestSetLogWriters(t *testing.T) {
	original := Logf
	defer func() {
		Logf = original
		SetLogWriters(LogWriters{})
	}()

	var ops, diag, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Diag: &diag, Trace: &trace})

	Opsf("tile %d failed", 3)
	Diagf("tier %d: %d polygons", 1, 42)
	Tracef("merge %d -> %d", 7, 9)

	if !strings.Contains(ops.String(), "tile 3 failed") {
		t.Errorf("ops output = %q, want tile failure", ops.String())
	}
	if !strings.Contains(diag.String(), "tier 1: 42 polygons") {
		t.Errorf("diag output = %q, want tier stats", diag.String())
	}
	if !strings.Contains(trace.String(), "merge 7 -> 9") {
		t.Errorf("trace output = %q, want merge detail", trace.String())
	}
}

func TestOpsfFallsBackToLogf(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()
	SetLogWriters(LogWriters{})

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = format
	})
	Opsf("run %s started", "abc")
	if got != "run %s started" {
		t.Errorf("expected Opsf to fall back to Logf, got %q", got)
	}

	// Diag and trace are silent without writers
	Diagf("ignored")
	Tracef("ignored")
}
