// Package burst implements the triggered-capture accumulator (spec §4.5):
// burst lifecycle (open/append/close), a bounded completed-burst cache with
// oldest-created_at eviction, and json/csv/binary export.
package burst

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/metrics"
	"github.com/nvarga/daq-gateway/internal/sample"
)

// DefaultCapacity is K, the default completed-burst cache size.
const DefaultCapacity = 10

// ErrNotFound is returned by Get/Export/Delete for an unknown burst_id.
var ErrNotFound = errors.New("burst not found")

// ErrUnsupportedFormat is returned by Export for a format other than
// json/csv/binary.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// QualityStat is one channel's aggregate statistics across an entire burst.
type QualityStat struct {
	ChannelID int     `json:"channel_id"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Avg       float64 `json:"avg"`
	RMS       float64 `json:"rms"`
}

// QualitySummary is computed once, at burst completion, and never changes
// thereafter (spec §4.5 invariants).
type QualitySummary struct {
	OverallQuality string        `json:"overall_quality"`
	ChannelStats   []QualityStat `json:"channel_stats"`
	ValueRangeMin  float64       `json:"value_range_min"`
	ValueRangeMax  float64       `json:"value_range_max"`
	AnomalyCount   int           `json:"anomaly_count"`
}

// Burst is a TriggerBurst (spec §3).
type Burst struct {
	BurstID          string                  `json:"burst_id"`
	TriggerTimestamp uint32                  `json:"trigger_timestamp"`
	TriggerChannel   uint16                  `json:"trigger_channel"`
	PreSamples       uint32                  `json:"pre_samples"`
	PostSamples      uint32                  `json:"post_samples"`
	DataPackets      []sample.ProcessedData  `json:"data_packets"`
	IsComplete       bool                    `json:"is_complete"`
	TotalSamples     int                     `json:"total_samples"`
	CreatedAtMs      int64                   `json:"created_at"`
	QualitySummary   QualitySummary          `json:"quality_summary"`
}

// Accumulator is the burst state machine. Like Decoder, it is not safe for
// concurrent use: callers serialize access behind the processor lock
// (spec §3 Ownership, internal/processor).
type Accumulator struct {
	capacity  int
	current   *Burst
	completed map[string]*Burst
	now       func() time.Time // overridable for tests
}

// NewAccumulator returns an Accumulator with the given completed-burst cache
// capacity K.
func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Accumulator{
		capacity:  capacity,
		completed: make(map[string]*Burst),
		now:       time.Now,
	}
}

// OnTriggerEvent opens a new current burst, returning the previously-open
// burst if one existed (the caller should log it as abandoned; it is
// discarded, not inserted into the cache).
func (a *Accumulator) OnTriggerEvent(e daqproto.TriggerEvent) *Burst {
	abandoned := a.current
	a.current = &Burst{
		BurstID:          fmt.Sprintf("trigger_%d_%d", e.Timestamp, a.now().UnixMilli()),
		TriggerTimestamp: e.Timestamp,
		TriggerChannel:   e.Channel,
		PreSamples:       e.PreSamples,
		PostSamples:      e.PostSamples,
		CreatedAtMs:      a.now().UnixMilli(),
	}
	metrics.IncBurstOpened()
	return abandoned
}

// OnTriggerDataPacket appends a processed Trigger-sourced packet to the
// current burst. A no-op if there is no current burst.
func (a *Accumulator) OnTriggerDataPacket(p sample.ProcessedData) {
	if a.current == nil {
		return
	}
	a.current.DataPackets = append(a.current.DataPackets, p)
	a.current.TotalSamples += len(p.Data)
}

// OnBufferTransferComplete closes the current burst, computes its quality
// summary, inserts it into the completed cache (evicting the
// oldest-created_at entry if over capacity), and returns it. Returns nil if
// there was no current burst.
func (a *Accumulator) OnBufferTransferComplete() *Burst {
	if a.current == nil {
		return nil
	}
	b := a.current
	b.QualitySummary = computeQualitySummary(b)
	b.IsComplete = true
	a.current = nil
	a.insert(b)
	metrics.IncBurstCompleted()
	return b
}

// ResetOnModeSwitch drops the current (in-progress) burst but keeps the
// completed cache, per spec §4.5.
func (a *Accumulator) ResetOnModeSwitch() { a.current = nil }

func (a *Accumulator) insert(b *Burst) {
	a.completed[b.BurstID] = b
	if len(a.completed) <= a.capacity {
		return
	}
	var oldestID string
	oldestAt := int64(math.MaxInt64)
	for id, bb := range a.completed {
		if bb.CreatedAtMs < oldestAt {
			oldestAt = bb.CreatedAtMs
			oldestID = id
		}
	}
	delete(a.completed, oldestID)
	metrics.IncBurstEvicted()
}

// List returns completed burst summaries (the bursts themselves; callers
// that want a lighter summary project the fields they need) sorted by
// created_at descending.
func (a *Accumulator) List() []*Burst {
	out := make([]*Burst, 0, len(a.completed))
	for _, b := range a.completed {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAtMs > out[j].CreatedAtMs })
	return out
}

// Get returns a completed burst by id.
func (a *Accumulator) Get(id string) (*Burst, bool) {
	b, ok := a.completed[id]
	return b, ok
}

// Delete removes a completed burst by id.
func (a *Accumulator) Delete(id string) bool {
	if _, ok := a.completed[id]; !ok {
		return false
	}
	delete(a.completed, id)
	return true
}

// Len returns the number of completed bursts currently cached.
func (a *Accumulator) Len() int { return len(a.completed) }

// HasOpenBurst reports whether a trigger burst is currently being
// accumulated (between OnTriggerEvent and OnBufferTransferComplete).
func (a *Accumulator) HasOpenBurst() bool { return a.current != nil }

func computeQualitySummary(b *Burst) QualitySummary {
	type acc struct {
		min, max, sum, sumSq float64
		n                    int
	}
	stats := make(map[int]*acc)
	var order []int

	globalMin, globalMax := math.Inf(1), math.Inf(-1)
	overall := sample.QualityGood
	anomalies := 0

	for _, p := range b.DataPackets {
		if p.Metadata.Quality.Level != sample.QualityGood {
			anomalies++
			if p.Metadata.Quality.Level == sample.QualityError {
				overall = sample.QualityError
			} else if overall != sample.QualityError {
				overall = sample.QualityWarning
			}
		}

		idx := 0
		for _, ci := range p.Metadata.ChannelInfo {
			st, ok := stats[ci.ChannelID]
			if !ok {
				st = &acc{min: math.Inf(1), max: math.Inf(-1)}
				stats[ci.ChannelID] = st
				order = append(order, ci.ChannelID)
			}
			for i := 0; i < ci.SampleCount && idx < len(p.Data); i++ {
				v := p.Data[idx]
				idx++
				st.sum += v
				st.sumSq += v * v
				st.n++
				if v < st.min {
					st.min = v
				}
				if v > st.max {
					st.max = v
				}
				if v < globalMin {
					globalMin = v
				}
				if v > globalMax {
					globalMax = v
				}
			}
		}
	}

	sort.Ints(order)
	channelStats := make([]QualityStat, 0, len(order))
	for _, id := range order {
		st := stats[id]
		avg, rms := 0.0, 0.0
		if st.n > 0 {
			avg = st.sum / float64(st.n)
			rms = math.Sqrt(st.sumSq / float64(st.n))
		}
		channelStats = append(channelStats, QualityStat{ChannelID: id, Min: st.min, Max: st.max, Avg: avg, RMS: rms})
	}

	if math.IsInf(globalMin, 1) {
		globalMin, globalMax = 0, 0
	}

	return QualitySummary{
		OverallQuality: overall.String(),
		ChannelStats:   channelStats,
		ValueRangeMin:  globalMin,
		ValueRangeMax:  globalMax,
		AnomalyCount:   anomalies,
	}
}
