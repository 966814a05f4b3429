package region

import "testing"

func TestNewOwned(t *testing.T) {
	r, err := New(nil, 4096)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !r.Owned() {
		t.Error("self-allocated region should be owned")
	}

	if r.Len() != 4096 {
		t.Errorf("Len() = %d, want 4096", r.Len())
	}

	if err := r.Release(); err != nil {
		t.Errorf("Release: %v", err)
	}

	if err := r.Release(); err != nil {
		t.Errorf("double Release should be a no-op, got: %v", err)
	}
}

func TestNewExternal(t *testing.T) {
	buf := make([]byte, 1024)
	r, err := New(buf, 512)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if r.Owned() {
		t.Error("externally supplied region should not be owned")
	}

	if r.Len() != 512 {
		t.Errorf("Len() = %d, want 512", r.Len())
	}

	if err := r.Release(); err != nil {
		t.Errorf("Release on external region should be a no-op, got: %v", err)
	}
}

func TestNewZeroSize(t *testing.T) {
	if _, err := New(nil, 0); err == nil {
		t.Error("New with size 0 should fail")
	}
}

func TestNewExternalTooSmall(t *testing.T) {
	buf := make([]byte, 10)
	if _, err := New(buf, 100); err == nil {
		t.Error("New with an external buffer smaller than the requested size should fail")
	}
}
