// Package fanout implements the broadcast fan-out (spec §4.6): a websocket
// hub that streams ProcessedData, TriggerEvents and completed TriggerBursts
// to subscribed clients, each filtered by its own subscription set.
package fanout

import (
	"sync"

	"github.com/nvarga/daq-gateway/internal/burst"
	"github.com/nvarga/daq-gateway/internal/daqproto"
)

// Subscriptions is a client's filter set (spec §4.6). ContinuousOnly and
// TriggerOnly are mutually exclusive; setting one clears the other so the
// "latter applied wins" policy holds even when a single subscribe message
// names both.
type Subscriptions struct {
	DataStream     bool `json:"data_stream"`
	TriggerEvents  bool `json:"trigger_events"`
	TriggerBursts  bool `json:"trigger_bursts"`
	ContinuousOnly bool `json:"continuous_only"`
	TriggerOnly    bool `json:"trigger_only"`
}

// DefaultSubscriptions is what a client is subscribed to immediately after
// connecting, before it sends any "subscribe" message.
func DefaultSubscriptions() Subscriptions {
	return Subscriptions{DataStream: true, TriggerEvents: true, TriggerBursts: true}
}

// Apply folds a requested channel list into s, in order, implementing the
// subscribe message's "latter applied wins" semantics.
func (s *Subscriptions) Apply(channels []string) {
	for _, ch := range channels {
		switch ch {
		case "data":
			s.DataStream = true
		case "trigger_events":
			s.TriggerEvents = true
		case "trigger_bursts":
			s.TriggerBursts = true
		case "continuous_only":
			s.DataStream = true
			s.ContinuousOnly = true
			s.TriggerOnly = false
		case "trigger_only":
			s.DataStream = true
			s.TriggerOnly = true
			s.ContinuousOnly = false
		case "all":
			s.DataStream = true
			s.TriggerEvents = true
			s.TriggerBursts = true
			s.ContinuousOnly = false
			s.TriggerOnly = false
		}
	}
}

// wantsData reports whether a client subscribed to data_stream should
// receive a ProcessedData sample of the given source.
func (s Subscriptions) wantsData(source daqproto.DataSource) bool {
	if !s.DataStream {
		return false
	}
	switch source {
	case daqproto.SourceContinuous:
		return !s.TriggerOnly
	case daqproto.SourceTrigger:
		return !s.ContinuousOnly
	default:
		return true
	}
}

// Client is one connected websocket peer (spec §3: Client subscription set).
type Client struct {
	ID   string
	send chan []byte

	mu   sync.Mutex
	subs Subscriptions
}

func newClient(id string) *Client {
	return &Client{ID: id, send: make(chan []byte, clientSendBuffer), subs: DefaultSubscriptions()}
}

func (c *Client) Subscriptions() Subscriptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs
}

func (c *Client) setSubscriptions(s Subscriptions) {
	c.mu.Lock()
	c.subs = s
	c.mu.Unlock()
}

// dataPayload is the wire shape of a "data" message.
type dataPayload struct {
	Type         string                  `json:"type"`
	Timestamp    uint32                  `json:"timestamp"`
	Sequence     uint64                  `json:"sequence"`
	ChannelCount int                     `json:"channel_count"`
	SampleRate   float64                 `json:"sample_rate"`
	Data         []float64               `json:"data"`
	Metadata     interface{}             `json:"metadata"`
	DataType     interface{}             `json:"data_type"`
}

// triggerEventPayload is the wire shape of a "trigger_event" message.
type triggerEventPayload struct {
	Type        string `json:"type"`
	Timestamp   uint32 `json:"timestamp"`
	Channel     uint16 `json:"channel"`
	PreSamples  uint32 `json:"pre_samples"`
	PostSamples uint32 `json:"post_samples"`
	EventTimeMs int64  `json:"event_time"`
}

// triggerBurstCompletePayload is the wire shape of a "trigger_burst_complete"
// message. PreviewSamples is capped at previewSampleLimit for a quick
// frontend preview without shipping the whole burst.
type triggerBurstCompletePayload struct {
	Type             string               `json:"type"`
	BurstID          string               `json:"burst_id"`
	TriggerTimestamp uint32               `json:"trigger_timestamp"`
	TriggerChannel   uint16               `json:"trigger_channel"`
	TotalSamples     int                  `json:"total_samples"`
	TotalPackets     int                  `json:"total_packets"`
	Quality          string               `json:"quality"`
	CanSave          bool                 `json:"can_save"`
	CreatedAtMs      int64                `json:"created_at"`
	PreviewSamples   []float64            `json:"preview_samples"`
	ChannelStats     []burst.QualityStat  `json:"channel_stats"`
	ValueRangeMin    float64              `json:"value_range_min"`
	ValueRangeMax    float64              `json:"value_range_max"`
	EventTimeMs      int64                `json:"event_time"`
}

const previewSampleLimit = 100

func extractPreviewSamples(b *burst.Burst) []float64 {
	preview := make([]float64, 0, previewSampleLimit)
	for _, p := range b.DataPackets {
		for _, v := range p.Data {
			preview = append(preview, v)
			if len(preview) >= previewSampleLimit {
				return preview
			}
		}
	}
	return preview
}
