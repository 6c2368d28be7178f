package queue

import (
	"context"
	"errors"
	"net"
	"strings"
)

var ErrInvalidConfig = errors.New("invalid consumer configuration")

var connectionErrorMarkers = []string{
	"connection",
	"disconnected",
	"broken pipe",
	"reset by peer",
	"refused",
	"timed out",
	"eof",
	"io error",
	"i/o timeout",
}

// IsNoGroup reports whether the broker lost the consumer group or the stream.
func IsNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

// IsConnectionError reports whether err looks like a transient broker fault.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range connectionErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isReadTimeout reports whether a bounded read ran out of time.
func isReadTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
