package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrAuth,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "auth: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrUpstream,
				Message: "test message",
				Cause:   nil,
			},
			want: "upstream: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Type:    ErrTimeout,
		Message: "test message",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Error.Unwrap() = %v, want %v", got, cause)
	}

	errNoCause := &Error{
		Type:    ErrTimeout,
		Message: "test message",
		Cause:   nil,
	}

	if got := errNoCause.Unwrap(); got != nil {
		t.Errorf("Error.Unwrap() = %v, want nil", got)
	}
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		predicate func(error) bool
		want      bool
	}{
		{"auth matches", NewAuthError("denied", nil), IsAuth, true},
		{"auth mismatch", NewUpstreamError("boom", nil), IsAuth, false},
		{"upstream matches", NewUpstreamError("boom", nil), IsUpstream, true},
		{"protocol matches", NewProtocolError("bad frame", nil), IsProtocol, true},
		{"quota matches", NewQuotaExceededError("cap reached", nil), IsQuotaExceeded, true},
		{"not connected matches", NewNotConnectedError("no session", nil), IsNotConnected, true},
		{"tool matches", NewToolError("tool failed", nil), IsTool, true},
		{"timeout matches", NewTimeoutError("deadline", nil), IsTimeout, true},
		{"wrapped error matches", fmt.Errorf("context: %w", NewQuotaExceededError("cap reached", nil)), IsQuotaExceeded, true},
		{"plain error", errors.New("plain"), IsTool, false},
		{"nil error", nil, IsTimeout, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.predicate(tt.err); got != tt.want {
				t.Errorf("predicate = %v, want %v", got, tt.want)
			}
		})
	}
}
