// Package processor wraps the sample decoder and burst accumulator behind a
// single mutex (spec §3 Ownership), scoped only across non-suspending code:
// callers copy a result out of the lock before doing I/O such as an export
// write or an HTTP response (spec §9 design note).
package processor

import (
	"sync"

	"github.com/nvarga/daq-gateway/internal/burst"
	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/sample"
)

// Processor is the event router's (T2) single point of access to decoded
// sample state and trigger-burst state.
type Processor struct {
	mu      sync.Mutex
	decoder *sample.Decoder
	bursts  *burst.Accumulator
}

// New returns a Processor with a default decoder and a burst cache of the
// given capacity (0 selects burst.DefaultCapacity).
func New(burstCapacity int) *Processor {
	return &Processor{
		decoder: sample.NewDecoder(),
		bursts:  burst.NewAccumulator(burstCapacity),
	}
}

// HandleDataPacket decodes dp and, if it is Trigger-sourced, appends the
// result to the currently-open burst. Decode errors are non-fatal: the
// caller logs and drops the packet (spec §7).
func (p *Processor) HandleDataPacket(dp daqproto.DataPacket) (sample.ProcessedData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out, err := p.decoder.Decode(dp)
	if err != nil {
		return sample.ProcessedData{}, err
	}
	if dp.DataType.Source == daqproto.SourceTrigger {
		p.bursts.OnTriggerDataPacket(out)
	}
	return out, nil
}

// HandleTriggerEvent opens a new burst, returning any previously-open burst
// that was abandoned (for the caller to log).
func (p *Processor) HandleTriggerEvent(te daqproto.TriggerEvent) *burst.Burst {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts.OnTriggerEvent(te)
}

// HandleBufferTransferComplete closes the current burst and returns it.
func (p *Processor) HandleBufferTransferComplete() *burst.Burst {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts.OnBufferTransferComplete()
}

// HandleModeSwitch drops any in-progress burst on a mode change, keeping the
// completed cache (spec §4.5).
func (p *Processor) HandleModeSwitch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bursts.ResetOnModeSwitch()
}

// HasOpenBurst reports whether a trigger burst is currently open.
func (p *Processor) HasOpenBurst() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts.HasOpenBurst()
}

// ListBursts returns completed burst snapshots, newest first.
func (p *Processor) ListBursts() []*burst.Burst {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts.List()
}

// GetBurst returns a completed burst by id.
func (p *Processor) GetBurst(id string) (*burst.Burst, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts.Get(id)
}

// DeleteBurst removes a completed burst by id.
func (p *Processor) DeleteBurst(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bursts.Delete(id)
}

// ExportBurst copies the burst pointer out of the lock, then renders it in
// the requested format. Export is intentionally done outside the critical
// section: it's cheap here, but never grows to hold the lock as bursts get
// larger.
func (p *Processor) ExportBurst(id, format string) ([]byte, error) {
	p.mu.Lock()
	b, ok := p.bursts.Get(id)
	p.mu.Unlock()
	if !ok {
		return nil, burst.ErrNotFound
	}
	return burst.Export(b, format)
}
