package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("resync requested for %s", "pelvis")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op, not a nil func.
	called = false
	SetLogger(nil)
	Logf("should be swallowed")
	if called {
		t.Error("no-op logger invoked the previous callback")
	}
	if Logf == nil {
		t.Error("Logf must never be nil")
	}
}
