package main

import (
	"fmt"

	"github.com/nvarga/daq-gateway/internal/device"
	"github.com/nvarga/daq-gateway/internal/transport"
)

// buildDialer returns the device.Dialer matching cfg.endpoint.
func buildDialer(cfg *appConfig) (device.Dialer, error) {
	switch cfg.endpoint {
	case "stream":
		return func() (transport.Transport, error) {
			return transport.Stream(cfg.streamAddr, cfg.dialTimeout, cfg.readTimeout)
		}, nil
	case "serial":
		return func() (transport.Transport, error) {
			return transport.Serial(cfg.serialDev, cfg.baud, cfg.readTimeout)
		}, nil
	default:
		return nil, fmt.Errorf("unknown endpoint %q (use serial|stream)", cfg.endpoint)
	}
}
