package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_Nil(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
}

func TestIsTransient_TransientError(t *testing.T) {
	err := NewTransientError(errors.New("upstream 503"))
	if !IsTransient(err) {
		t.Error("TransientError should be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("upstream 502"))
	wrapped := fmt.Errorf("fetch genre: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("wrapped TransientError should be transient")
	}
}

func TestIsTransient_DeadlineExceeded(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be transient")
	}
	wrapped := fmt.Errorf("provider call: %w", context.DeadlineExceeded)
	if !IsTransient(wrapped) {
		t.Error("wrapped deadline exceeded should be transient")
	}
}

func TestIsTransient_NetTimeout(t *testing.T) {
	err := &net.DNSError{Err: "lookup timeout", IsTimeout: true}
	if !IsTransient(err) {
		t.Error("net timeout should be transient")
	}
}

func TestIsTransient_Syscall(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		if !IsTransient(fmt.Errorf("dial: %w", errno)) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_MessageHeuristics(t *testing.T) {
	cases := []string{
		"read tcp: connection reset by peer",
		"write: broken pipe",
		"dial: temporary failure in name resolution",
		"lookup api.example.com: no such host",
		"net/http: TLS handshake timeout",
		"read: i/o timeout",
	}
	for _, msg := range cases {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}
}

func TestIsTransient_PermanentError(t *testing.T) {
	if IsTransient(errors.New("record not found")) {
		t.Error("plain error should not be transient")
	}
	if IsTransient(context.Canceled) {
		t.Error("cancellation is not transient")
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	te := NewTransientError(inner)
	if !errors.Is(te, inner) {
		t.Error("TransientError should unwrap to its cause")
	}
	if te.Error() != "boom" {
		t.Errorf("unexpected message: %s", te.Error())
	}
}
