package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/nvarga/daq-gateway/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	FrameRxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_rx_total",
		Help: "Total frames decoded from the device transport.",
	})
	FrameTxTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_tx_total",
		Help: "Total frames written to the device transport.",
	})
	CRCMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frame_crc_mismatch_total",
		Help: "Total frames discarded due to CRC mismatch.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total frames discarded for protocol violations other than CRC.",
	})
	DeviceConnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_connects_total",
		Help: "Total successful device connection attempts.",
	})
	DeviceDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "device_disconnects_total",
		Help: "Total device disconnection events.",
	})
	CommandsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_commands_sent_total",
		Help: "Commands sent to the device, by command name.",
	}, []string{"command"})
	NacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "device_nacks_total",
		Help: "Nack responses from the device, by error type.",
	}, []string{"error_type"})
	DataPacketsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "data_packets_processed_total",
		Help: "Total DataPackets decoded into ProcessedData.",
	})
	SamplesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "samples_processed_total",
		Help: "Total individual samples decoded across all channels.",
	})
	BurstsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bursts_opened_total",
		Help: "Total trigger bursts opened.",
	})
	BurstsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bursts_completed_total",
		Help: "Total trigger bursts finalized.",
	})
	BurstsEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bursts_evicted_total",
		Help: "Total bursts evicted from the bounded cache.",
	})
	FanoutActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_active_clients",
		Help: "Current number of connected websocket subscribers.",
	})
	FanoutBroadcastSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	FanoutDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_dropped_messages_total",
		Help: "Total messages dropped due to a full client outbound queue.",
	})
	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "device_command_queue_depth",
		Help: "Current depth of the device command queue.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTransportRead  = "transport_read"
	ErrTransportWrite = "transport_write"
	ErrDeviceConnect  = "device_connect"
	ErrCommandSend    = "command_send"
	ErrWSWrite        = "ws_write"
	ErrWSRead         = "ws_read"
	ErrControlDecode  = "control_decode"
)

// StartHTTP serves Prometheus metrics at /metrics on a fresh mux bound to addr.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localFrameRx     uint64
	localFrameTx     uint64
	localCRCMismatch uint64
	localMalformed   uint64
	localErrors      uint64
	localPackets     uint64
	localSamples     uint64
	localBurstsOpen  uint64
	localBurstsDone  uint64
	localBurstsEvict uint64
	localFanoutConns uint64
	localFanoutDrop  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	FrameRx       uint64
	FrameTx       uint64
	CRCMismatch   uint64
	Malformed     uint64
	Errors        uint64 // sum across error labels
	Packets       uint64
	Samples       uint64
	BurstsOpened  uint64
	BurstsDone    uint64
	BurstsEvicted uint64
	FanoutConns   uint64
	FanoutDropped uint64
}

func Snap() Snapshot {
	return Snapshot{
		FrameRx:       atomic.LoadUint64(&localFrameRx),
		FrameTx:       atomic.LoadUint64(&localFrameTx),
		CRCMismatch:   atomic.LoadUint64(&localCRCMismatch),
		Malformed:     atomic.LoadUint64(&localMalformed),
		Errors:        atomic.LoadUint64(&localErrors),
		Packets:       atomic.LoadUint64(&localPackets),
		Samples:       atomic.LoadUint64(&localSamples),
		BurstsOpened:  atomic.LoadUint64(&localBurstsOpen),
		BurstsDone:    atomic.LoadUint64(&localBurstsDone),
		BurstsEvicted: atomic.LoadUint64(&localBurstsEvict),
		FanoutConns:   atomic.LoadUint64(&localFanoutConns),
		FanoutDropped: atomic.LoadUint64(&localFanoutDrop),
	}
}

// Wrapper helpers to keep call sites simple.
func IncFrameRx() {
	FrameRxTotal.Inc()
	atomic.AddUint64(&localFrameRx, 1)
}

func IncFrameTx() {
	FrameTxTotal.Inc()
	atomic.AddUint64(&localFrameTx, 1)
}

func IncCRCMismatch() {
	CRCMismatchTotal.Inc()
	atomic.AddUint64(&localCRCMismatch, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncDeviceConnect() { DeviceConnectsTotal.Inc() }

func IncDeviceDisconnect() { DeviceDisconnectsTotal.Inc() }

func IncCommandSent(name string) { CommandsSent.WithLabelValues(name).Inc() }

func IncNack(errType string) { NacksTotal.WithLabelValues(errType).Inc() }

func IncDataPacket() {
	DataPacketsProcessed.Inc()
	atomic.AddUint64(&localPackets, 1)
}

func AddSamples(n int) {
	SamplesProcessed.Add(float64(n))
	atomic.AddUint64(&localSamples, uint64(n))
}

func IncBurstOpened() {
	BurstsOpenedTotal.Inc()
	atomic.AddUint64(&localBurstsOpen, 1)
}

func IncBurstCompleted() {
	BurstsCompletedTotal.Inc()
	atomic.AddUint64(&localBurstsDone, 1)
}

func IncBurstEvicted() {
	BurstsEvictedTotal.Inc()
	atomic.AddUint64(&localBurstsEvict, 1)
}

func SetFanoutClients(n int) {
	FanoutActiveClients.Set(float64(n))
	atomic.StoreUint64(&localFanoutConns, uint64(n))
}

func SetFanoutBroadcast(n int) { FanoutBroadcastSize.Set(float64(n)) }

func IncFanoutDropped() {
	FanoutDroppedTotal.Inc()
	atomic.AddUint64(&localFanoutDrop, 1)
}

func SetCommandQueueDepth(n int) { CommandQueueDepth.Set(float64(n)) }

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrTransportRead, ErrTransportWrite, ErrDeviceConnect,
		ErrCommandSend, ErrWSWrite, ErrWSRead, ErrControlDecode,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
