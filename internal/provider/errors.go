package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// PlatformError classifies platform call failures as transient/permanent.
type PlatformError struct {
	Platform   string
	StatusCode int
	Message    string
	Transient  bool
	Response   map[string]any
	Cause      error
}

func (e *PlatformError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if e.Platform != "" {
		parts = append(parts, e.Platform+" error")
	} else {
		parts = append(parts, "platform error")
	}

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

func (e *PlatformError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a failure is worth retrying later.
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

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// ErrorMessage is the human readable text stored in the attempt log: the
// platform's own message when it sent one, the transport error otherwise.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		if msg := strings.TrimSpace(platformErr.Message); msg != "" {
			return msg
		}
		if platformErr.Cause != nil {
			return platformErr.Cause.Error()
		}
	}
	return err.Error()
}

func responseOf(err error) map[string]any {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Response
	}
	return nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}
