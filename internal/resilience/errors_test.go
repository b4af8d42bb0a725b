package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_TypedErrors(t *testing.T) {
	rateLimited := NewTransientError(errors.New("rate limited"), 429)
	if !IsTransient(rateLimited) {
		t.Error("expected TransientError to be transient")
	}
	wrapped := fmt.Errorf("isochrone fetch failed: %w", rateLimited)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilAndPermanent(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
	if IsTransient(errors.New("invalid coordinates: lat out of range")) {
		t.Error("a plain request error should not be transient")
	}
}

func TestIsTransient_SyscallErrors(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsTransient(err) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_MessagePatterns(t *testing.T) {
	patterns := []string{
		"connection reset by peer",
		"broken pipe",
		"TLS handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range patterns {
		if !IsTransient(errors.New(p)) {
			t.Errorf("expected %q to be transient", p)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to be transient", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 405, 409, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected HTTP %d to NOT be transient", code)
		}
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if !errors.Is(te, inner) {
		t.Error("TransientError.Unwrap should return the inner error")
	}
	if te.StatusCode != 500 {
		t.Errorf("expected StatusCode 500, got %d", te.StatusCode)
	}
}

func TestTransientError_ErrorMessage(t *testing.T) {
	te := NewTransientError(errors.New("something went wrong"), 503)
	if te.Error() != "something went wrong" {
		t.Errorf("unexpected message %q", te.Error())
	}
}
