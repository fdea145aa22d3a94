package sender

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// SenderError classifies channel send failures as transient/permanent.
// Classification feeds logging and metrics; the retry coordinator bounds
// attempts by count either way.
type SenderError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *SenderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "sender error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SenderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a send failure looks recoverable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var senderErr *SenderError
	if errors.As(err, &senderErr) {
		return senderErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// FailureReason renders the transient/permanent split as a metric label.
func FailureReason(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
