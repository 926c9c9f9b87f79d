package redisx

import (
	"testing"
	"time"
)

func TestNewAppliesTimeouts(t *testing.T) {
	r := New("localhost:6379")
	defer r.Close()

	opts := r.Options()
	if opts.ReadTimeout != 2*time.Second {
		t.Fatalf("ReadTimeout = %v, want 2s", opts.ReadTimeout)
	}
	if opts.WriteTimeout != 2*time.Second {
		t.Fatalf("WriteTimeout = %v, want 2s", opts.WriteTimeout)
	}
}
