package main

import (
	"context"
	"log/slog"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/device"
	"github.com/nvarga/daq-gateway/internal/fanout"
	"github.com/nvarga/daq-gateway/internal/processor"
)

// runEventRouter is T2 (spec §5): the single consumer of session.Events(),
// translating each DeviceEvent into processor state and fan-out broadcasts.
// It owns no lock of its own -- all shared state lives behind Processor's
// and Hub's.
func runEventRouter(ctx context.Context, session *device.Session, proc *processor.Processor, hub *fanout.Hub, l *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-session.Events():
			if !ok {
				return
			}
			handleEvent(ev, proc, hub, l)
		}
	}
}

func handleEvent(ev daqproto.DeviceEvent, proc *processor.Processor, hub *fanout.Hub, l *slog.Logger) {
	switch ev.Kind {
	case daqproto.EventConnected:
		l.Info("device_connected", "detail", ev.Connected)
	case daqproto.EventDisconnected:
		l.Info("device_disconnected")
	case daqproto.EventFrameReceived:
		// raw frame trace only; nothing downstream consumes it.
	case daqproto.EventDataPacket:
		pd, err := proc.HandleDataPacket(ev.DataPacket)
		if err != nil {
			l.Warn("data_packet_decode_failed", "error", err)
			return
		}
		hub.BroadcastData(pd)
	case daqproto.EventStatusUpdate:
		l.Debug("device_status_update", "status", ev.Status)
	case daqproto.EventTriggerEvent:
		if abandoned := proc.HandleTriggerEvent(ev.TriggerEvent); abandoned != nil {
			l.Warn("trigger_burst_abandoned", "burst_id", abandoned.BurstID)
		}
		hub.BroadcastTriggerEvent(ev.TriggerEvent)
	case daqproto.EventBufferTransferComplete:
		b := proc.HandleBufferTransferComplete()
		if b == nil {
			l.Warn("buffer_transfer_complete_without_open_burst")
			return
		}
		hub.BroadcastTriggerBurstComplete(b)
	case daqproto.EventLogMessage:
		l.Info("device_log", "level", ev.LogLevel, "message", ev.LogMessage)
	case daqproto.EventError:
		l.Warn("device_error", "error", ev.ErrorMessage)
	}
}
