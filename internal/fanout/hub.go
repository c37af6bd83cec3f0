package fanout

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nvarga/daq-gateway/internal/burst"
	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/logging"
	"github.com/nvarga/daq-gateway/internal/metrics"
	"github.com/nvarga/daq-gateway/internal/sample"
)

const clientSendBuffer = 256

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Hub is the client registry and broadcast fan-out (spec §4.6, T4). Safe for
// concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *slog.Logger
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{clients: make(map[string]*Client), log: logging.L()}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetFanoutClients(n)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetFanoutClients(n)
	close(c.send)
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	out := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	h.mu.RUnlock()
	return out
}

// send delivers raw to a client's outbound queue, dropping on backpressure
// (spec §4.6: drop, don't block — one slow client never delays others).
func send(c *Client, raw []byte) {
	select {
	case c.send <- raw:
	default:
		metrics.IncFanoutDropped()
	}
}

// BroadcastData pushes a decoded sample to every client whose subscription
// filters allow it.
func (h *Hub) BroadcastData(pd sample.ProcessedData) {
	clients := h.snapshot()
	metrics.SetFanoutBroadcast(len(clients))
	if len(clients) == 0 {
		return
	}
	msg := dataPayload{
		Type:         "data",
		Timestamp:    pd.Timestamp,
		Sequence:     pd.Sequence,
		ChannelCount: pd.ChannelCount,
		SampleRate:   pd.SampleRate,
		Data:         pd.Data,
		Metadata:     pd.Metadata,
		DataType:     pd.DataType,
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("fanout_marshal_failed", "message", "data", "error", err)
		return
	}
	for _, c := range clients {
		if c.Subscriptions().wantsData(pd.DataType.Source) {
			send(c, raw)
		}
	}
}

// BroadcastTriggerEvent pushes a trigger event to trigger_events subscribers.
func (h *Hub) BroadcastTriggerEvent(te daqproto.TriggerEvent) {
	clients := h.snapshot()
	if len(clients) == 0 {
		return
	}
	raw, err := json.Marshal(triggerEventPayload{
		Type:        "trigger_event",
		Timestamp:   te.Timestamp,
		Channel:     te.Channel,
		PreSamples:  te.PreSamples,
		PostSamples: te.PostSamples,
		EventTimeMs: time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Warn("fanout_marshal_failed", "message", "trigger_event", "error", err)
		return
	}
	for _, c := range clients {
		if c.Subscriptions().TriggerEvents {
			send(c, raw)
		}
	}
}

// BroadcastTriggerBurstComplete pushes a completed burst summary to
// trigger_bursts subscribers.
func (h *Hub) BroadcastTriggerBurstComplete(b *burst.Burst) {
	clients := h.snapshot()
	if len(clients) == 0 {
		return
	}
	raw, err := json.Marshal(triggerBurstCompletePayload{
		Type:             "trigger_burst_complete",
		BurstID:          b.BurstID,
		TriggerTimestamp: b.TriggerTimestamp,
		TriggerChannel:   b.TriggerChannel,
		TotalSamples:     b.TotalSamples,
		TotalPackets:     len(b.DataPackets),
		Quality:          b.QualitySummary.OverallQuality,
		CanSave:          b.IsComplete && len(b.DataPackets) > 0,
		CreatedAtMs:      b.CreatedAtMs,
		PreviewSamples:   extractPreviewSamples(b),
		ChannelStats:     b.QualitySummary.ChannelStats,
		ValueRangeMin:    b.QualitySummary.ValueRangeMin,
		ValueRangeMax:    b.QualitySummary.ValueRangeMax,
		EventTimeMs:      time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Warn("fanout_marshal_failed", "message", "trigger_burst_complete", "error", err)
		return
	}
	for _, c := range clients {
		if c.Subscriptions().TriggerBursts {
			send(c, raw)
		}
	}
}

// ServeWS upgrades the request to a websocket connection and runs it until
// the peer disconnects. Mount at the fan-out endpoint (spec §6, "/ws").
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("fanout_upgrade_failed", "error", err)
		return
	}

	c := newClient(uuid.NewString())
	h.register(c)
	h.log.Info("fanout_client_connected", "client_id", c.ID)

	welcome, _ := json.Marshal(map[string]interface{}{
		"type":      "welcome",
		"client_id": c.ID,
		"timestamp": time.Now().UnixMilli(),
		"server_capabilities": map[string]bool{
			"data_streaming":         true,
			"trigger_events":         true,
			"trigger_burst_complete": true,
			"subscription_control":   true,
		},
	})
	send(c, welcome)

	go writePump(conn, c)
	readPump(conn, c, h)

	h.unregister(c)
	_ = conn.Close()
	h.log.Info("fanout_client_disconnected", "client_id", c.ID)
}

// writePump drains c.send to the websocket connection until the channel is
// closed (by unregister) or a write fails.
func writePump(conn *websocket.Conn, c *Client) {
	for raw := range c.send {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump handles inbound client messages ("subscribe", "ping") until the
// connection closes.
func readPump(conn *websocket.Conn, c *Client, h *Hub) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Type     string   `json:"type"`
			Channels []string `json:"channels"`
		}
		if err := json.Unmarshal(msg, &req); err != nil {
			continue
		}
		switch req.Type {
		case "subscribe":
			var s Subscriptions
			s.Apply(req.Channels)
			c.setSubscriptions(s)
			ack, _ := json.Marshal(map[string]interface{}{
				"type":          "subscription_updated",
				"client_id":     c.ID,
				"subscriptions": s,
				"timestamp":     time.Now().UnixMilli(),
			})
			send(c, ack)
		case "ping":
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"timestamp": time.Now().UnixMilli(),
			})
			send(c, pong)
		default:
			h.log.Debug("fanout_unknown_message", "client_id", c.ID, "type", req.Type)
		}
	}
}
