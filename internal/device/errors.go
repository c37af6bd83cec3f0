package device

import (
	"errors"

	"github.com/nvarga/daq-gateway/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via errors.Is.
var (
	ErrConnect        = errors.New("connect")
	ErrConnRead       = errors.New("conn_read")
	ErrConnWrite      = errors.New("conn_write")
	ErrQueueFull      = errors.New("command queue full")
	ErrNotTriggerMode = errors.New("device not in trigger mode")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrConnect):
		return metrics.ErrDeviceConnect
	case errors.Is(err, ErrConnRead):
		return metrics.ErrTransportRead
	case errors.Is(err, ErrConnWrite):
		return metrics.ErrTransportWrite
	default:
		return "other"
	}
}
