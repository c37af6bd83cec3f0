// Package control implements the synchronous control surface (spec §4.7):
// HTTP requests that translate into asynchronous device commands and reads
// of snapshot state, plus the trigger-burst and filesystem endpoints.
package control

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"github.com/nvarga/daq-gateway/internal/burst"
	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/device"
	"github.com/nvarga/daq-gateway/internal/fanout"
	"github.com/nvarga/daq-gateway/internal/files"
	"github.com/nvarga/daq-gateway/internal/logging"
	"github.com/nvarga/daq-gateway/internal/processor"
)

// triggerSupport is always true: every device this gateway talks to
// implements the trigger/continuous mode pair (spec §4.3).
const triggerSupport = true

// Surface is the control surface's shared state (spec §3 AppState-equivalent).
// Mode is mirrored here independently of the session's own copy, per spec §9
// ("keep these two copies, updated together on mode commands; do not
// centralize behind a lock shared with the session task").
type Surface struct {
	session        *device.Session
	proc           *processor.Processor
	hub            *fanout.Hub
	fm             *files.Manager
	log            *slog.Logger
	connectionType string
	startedAt      time.Time
	maxFiles       int

	collecting atomic.Bool
	mode       atomic.Pointer[string]
}

// New returns a Surface wired to the given session, processor, fan-out hub
// and file manager. connectionType is a descriptive label ("serial" or
// "stream") surfaced in status snapshots. maxFiles is the root-level
// retention bound applied after every save (0 disables cleanup).
func New(session *device.Session, proc *processor.Processor, hub *fanout.Hub, fm *files.Manager, connectionType string, maxFiles int) *Surface {
	s := &Surface{
		session:        session,
		proc:           proc,
		hub:            hub,
		fm:             fm,
		log:            logging.L(),
		connectionType: connectionType,
		startedAt:      time.Now(),
		maxFiles:       maxFiles,
	}
	empty := ""
	s.mode.Store(&empty)
	return s
}

// Router builds the full route table (spec §6).
func (s *Surface) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/control/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/control/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/control/ping", s.handlePing).Methods(http.MethodPost)
	r.HandleFunc("/api/control/device_info", s.handleDeviceInfo).Methods(http.MethodPost)
	r.HandleFunc("/api/control/configure", s.handleConfigure).Methods(http.MethodPost)
	r.HandleFunc("/api/control/continuous_mode", s.handleContinuousMode).Methods(http.MethodPost)
	r.HandleFunc("/api/control/trigger_mode", s.handleTriggerMode).Methods(http.MethodPost)
	r.HandleFunc("/api/control/request_trigger_data", s.handleRequestTriggerData).Methods(http.MethodPost)
	r.HandleFunc("/api/control/status", s.handleStatus).Methods(http.MethodGet)

	r.HandleFunc("/api/trigger/list", s.handleTriggerList).Methods(http.MethodGet)
	r.HandleFunc("/api/trigger/preview/{burst_id}", s.handleTriggerPreview).Methods(http.MethodGet)
	r.HandleFunc("/api/trigger/save/{burst_id}", s.handleTriggerSave).Methods(http.MethodPost)
	r.HandleFunc("/api/trigger/delete/{burst_id}", s.handleTriggerDelete).Methods(http.MethodDelete)

	r.HandleFunc("/api/files", s.handleFilesList).Methods(http.MethodGet)
	r.HandleFunc("/api/files/save", s.handleFilesSave).Methods(http.MethodPost)
	r.HandleFunc("/api/files/{rel_path:.*}", s.handleFilesDownload).Methods(http.MethodGet)

	r.HandleFunc("/ws", s.hub.ServeWS)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// --- control/* ---

func (s *Surface) handleStart(w http.ResponseWriter, r *http.Request) {
	s.collecting.Store(true)
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdStartStream}, "data collection started")
}

func (s *Surface) handleStop(w http.ResponseWriter, r *http.Request) {
	s.collecting.Store(false)
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdStopStream}, "data collection stopped")
}

func (s *Surface) handlePing(w http.ResponseWriter, r *http.Request) {
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdPing}, "ping sent")
}

func (s *Surface) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdGetDeviceInfo}, "device_info requested")
}

type channelConfigRequest struct {
	ChannelID  byte   `json:"channel_id"`
	SampleRate uint32 `json:"sample_rate"`
	Format     byte   `json:"format"`
}

func (s *Surface) handleConfigure(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Channels []channelConfigRequest `json:"channels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	channels := make([]daqproto.ChannelConfig, len(body.Channels))
	for i, c := range body.Channels {
		channels[i] = daqproto.ChannelConfig{ChannelID: c.ChannelID, SampleRate: c.SampleRate, Format: c.Format}
	}
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdConfigureStream, Channels: channels}, "stream configured")
}

func (s *Surface) handleContinuousMode(w http.ResponseWriter, r *http.Request) {
	mode := "continuous"
	s.mode.Store(&mode)
	s.proc.HandleModeSwitch()
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdSetModeContinuous}, "continuous mode set")
}

func (s *Surface) handleTriggerMode(w http.ResponseWriter, r *http.Request) {
	mode := "trigger"
	s.mode.Store(&mode)
	s.proc.HandleModeSwitch()
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdSetModeTrigger}, "trigger mode set")
}

func (s *Surface) handleRequestTriggerData(w http.ResponseWriter, r *http.Request) {
	if s.currentMode() != "trigger" {
		writeError(w, http.StatusBadRequest, "not in trigger mode")
		return
	}
	s.enqueueOrGatewayError(w, device.Command{Kind: device.CmdRequestBufferedData}, "buffered data requested")
}

type statusResponse struct {
	Collecting       bool   `json:"collecting"`
	DeviceConnected  bool   `json:"device_connected"`
	ClientCount      int    `json:"client_count"`
	PacketsProcessed uint64 `json:"packets_processed"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ConnectionType   string `json:"connection_type"`
	Mode             string `json:"mode"`
	TriggerSupport   bool   `json:"trigger_support"`
	TriggerStatus    string `json:"trigger_status"`
}

func (s *Surface) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.session.Status()
	triggerStatus := "idle"
	if s.proc.HasOpenBurst() {
		triggerStatus = "capturing"
	}
	writeData(w, http.StatusOK, statusResponse{
		Collecting:       s.collecting.Load(),
		DeviceConnected:  st.Connected,
		ClientCount:      s.hub.Count(),
		PacketsProcessed: s.session.PacketsProcessed(),
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ConnectionType:   s.connectionType,
		Mode:             s.currentMode(),
		TriggerSupport:   triggerSupport,
		TriggerStatus:    triggerStatus,
	})
}

// --- trigger/* ---

func (s *Surface) handleTriggerList(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.proc.ListBursts())
}

func (s *Surface) handleTriggerPreview(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["burst_id"]
	b, ok := s.proc.GetBurst(id)
	if !ok {
		writeError(w, http.StatusNotFound, "burst not found")
		return
	}
	writeData(w, http.StatusOK, b)
}

type triggerSaveRequest struct {
	Dir         string `json:"dir"`
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	Description string `json:"description"`
}

func (s *Surface) handleTriggerSave(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["burst_id"]
	var req triggerSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Format == "" {
		writeError(w, http.StatusBadRequest, "format is required")
		return
	}

	raw, err := s.proc.ExportBurst(id, req.Format)
	if errors.Is(err, burst.ErrNotFound) {
		writeError(w, http.StatusNotFound, "burst not found")
		return
	}
	if errors.Is(err, burst.ErrUnsupportedFormat) {
		writeError(w, http.StatusBadRequest, "unsupported export format")
		return
	}
	if err != nil {
		s.log.Warn("trigger_save_export_failed", "burst_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	filename := req.Filename
	if filename == "" {
		filename = s.fm.AutoName(time.Now()) + "." + req.Format
	}
	rel, err := s.fm.Save(req.Dir, filename, raw, time.Now())
	if err != nil {
		s.log.Warn("trigger_save_write_failed", "burst_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	s.cleanupIfConfigured()
	writeData(w, http.StatusOK, rel)
}

func (s *Surface) handleTriggerDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["burst_id"]
	if !s.proc.DeleteBurst(id) {
		writeError(w, http.StatusNotFound, "burst not found")
		return
	}
	writeData(w, http.StatusOK, "deleted")
}

// --- files/* ---

func (s *Surface) handleFilesList(w http.ResponseWriter, r *http.Request) {
	list, err := s.fm.List(r.URL.Query().Get("dir"))
	if err != nil {
		s.log.Warn("files_list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeData(w, http.StatusOK, list)
}

func (s *Surface) handleFilesDownload(w http.ResponseWriter, r *http.Request) {
	rel := mux.Vars(r)["rel_path"]
	data, err := s.fm.Read(rel)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", baseName(rel)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type filesSaveRequest struct {
	Dir      string `json:"dir"`
	Filename string `json:"filename"`
	Base64   string `json:"base64"`
}

func (s *Surface) handleFilesSave(w http.ResponseWriter, r *http.Request) {
	var req filesSaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Base64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 payload")
		return
	}
	rel, err := s.fm.Save(req.Dir, req.Filename, raw, time.Now())
	if err != nil {
		s.log.Warn("files_save_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "save failed")
		return
	}
	s.cleanupIfConfigured()
	writeData(w, http.StatusOK, rel)
}

func (s *Surface) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "OK")
}

// --- helpers ---

func (s *Surface) currentMode() string { return *s.mode.Load() }

// cleanupIfConfigured enforces the root-level file-count retention bound
// after a save, matching the original implementation's call site (it runs
// cleanup after every save, not on a timer).
func (s *Surface) cleanupIfConfigured() {
	if s.maxFiles <= 0 {
		return
	}
	if err := s.fm.CleanupOldFiles(s.maxFiles); err != nil {
		s.log.Warn("file_retention_cleanup_failed", "error", err)
	}
}

func (s *Surface) enqueueOrGatewayError(w http.ResponseWriter, cmd device.Command, okMessage string) {
	if err := s.session.Enqueue(cmd); err != nil {
		writeError(w, http.StatusBadGateway, "command queue unavailable")
		return
	}
	writeData(w, http.StatusOK, okMessage)
}

func baseName(rel string) string {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' || rel[i] == '\\' {
			return rel[i+1:]
		}
	}
	return rel
}
