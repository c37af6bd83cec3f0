package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nvarga/daq-gateway/internal/daqproto"
	"github.com/nvarga/daq-gateway/internal/device"
	"github.com/nvarga/daq-gateway/internal/fanout"
	"github.com/nvarga/daq-gateway/internal/files"
	"github.com/nvarga/daq-gateway/internal/processor"
	"github.com/nvarga/daq-gateway/internal/transport"
)

func testSurface(t *testing.T) *Surface {
	t.Helper()
	session := device.NewSession(func() (transport.Transport, error) { return nil, nil })
	proc := processor.New(0)
	hub := fanout.New()
	fm, err := files.New(t.TempDir(), "capture", ".bin")
	if err != nil {
		t.Fatalf("files.New: %v", err)
	}
	return New(session, proc, hub, fm, "stream", 0)
}

func decodeAPIResponse(t *testing.T, rec *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v, body=%s", err, rec.Body.String())
	}
	return resp
}

func TestStartStopEnqueueCommands(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/control/start", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", rec.Code)
	}
	if resp := decodeAPIResponse(t, rec); !resp.Success {
		t.Fatalf("start response = %+v, want success", resp)
	}
	if !s.collecting.Load() {
		t.Fatal("collecting flag not set after start")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/control/stop", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if s.collecting.Load() {
		t.Fatal("collecting flag still set after stop")
	}
}

func TestConfigureTranslatesChannels(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	body := `{"channels":[{"channel_id":1,"sample_rate":1000,"format":0}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/control/configure", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("configure status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestConfigureRejectsMalformedBody(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/control/configure", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRequestTriggerDataRefusedOutsideTriggerMode(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodPost, "/api/control/request_trigger_data", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (not in trigger mode)", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/control/trigger_mode", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("trigger_mode status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/control/request_trigger_data", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 once in trigger mode, body=%s", rec.Code, rec.Body.String())
	}
}

func TestStatusReportsSnapshot(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/control/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decodeAPIResponse(t, rec)
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %#v, want map", resp.Data)
	}
	if data["trigger_support"] != true {
		t.Fatalf("trigger_support = %v, want true", data["trigger_support"])
	}
	if data["trigger_status"] != "idle" {
		t.Fatalf("trigger_status = %v, want idle", data["trigger_status"])
	}
	if data["connection_type"] != "stream" {
		t.Fatalf("connection_type = %v, want stream", data["connection_type"])
	}
}

func TestTriggerListPreviewSaveDelete(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	burst := s.proc.HandleTriggerEvent(daqproto.TriggerEvent{Timestamp: 100, Channel: 2, PreSamples: 0, PostSamples: 4})
	if burst != nil {
		t.Fatalf("unexpected abandoned burst: %+v", burst)
	}
	_, err := s.proc.HandleDataPacket(daqproto.DataPacket{
		TimestampMs:     100,
		EnabledChannels: 1 << 2,
		SampleCount:     1,
		SensorData:      []byte{0x10, 0x27}, // 10000 as a little-endian int16 sample
		DataType:        daqproto.DataType{Source: daqproto.SourceTrigger, TriggerTimestamp: 100},
	})
	if err != nil {
		t.Fatalf("HandleDataPacket: %v", err)
	}
	closed := s.proc.HandleBufferTransferComplete()
	if closed == nil {
		t.Fatal("expected a closed burst")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/trigger/list", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/trigger/preview/"+closed.BurstID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/trigger/preview/does-not-exist", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing preview status = %d, want 404", rec.Code)
	}

	saveBody := `{"format":"json"}`
	req = httptest.NewRequest(http.MethodPost, "/api/trigger/save/"+closed.BurstID, bytes.NewBufferString(saveBody))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/trigger/delete/"+closed.BurstID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/trigger/delete/"+closed.BurstID, nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestFilesSaveListDownloadRoundTrip(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	saveBody := `{"filename":"note.txt","base64":"aGVsbG8="}`
	req := httptest.NewRequest(http.MethodPost, "/api/files/save", bytes.NewBufferString(saveBody))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/files/note.txt", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("download body = %q, want hello", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/files/missing.txt", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing download status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := testSurface(t)
	r := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}
}
