package webapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gfermoto/Repetier-Server/printer"
	"github.com/Gfermoto/Repetier-Server/supervisor"
	"github.com/Gfermoto/Repetier-Server/transport"
)

func newTestServer(t *testing.T) (*Server, *transport.Fake) {
	t.Helper()
	fake := transport.NewFake()
	sup := supervisor.New()
	sup.SetTransportFactory(func(cfg *printer.Config) printer.Transport { return fake })

	cfg := &printer.Config{
		Slug: "a", Name: "Printer A", DevicePath: "/dev/a", Baudrate: 115200,
		PingPong: true, ExtruderCount: 1, Active: true,
	}
	if err := sup.Start([]*printer.Config{cfg}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return New(sup), fake
}

func TestListPrinters(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/printers", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Printers []struct {
			Slug string `json:"slug"`
		} `json:"printers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(body.Printers) != 1 || body.Printers[0].Slug != "a" {
		t.Fatalf("expected one printer slugged 'a', got %+v", body.Printers)
	}
}

func TestSnapshotUnknownPrinterReturns404(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/printers/nonexistent/snapshot", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSnapshotReturnsStatusView(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/printers/a/snapshot", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap printer.StatusView
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if snap.Slug != "a" {
		t.Errorf("expected slug 'a', got %q", snap.Slug)
	}
}

func TestManualEnqueuesCommand(t *testing.T) {
	s, fake := newTestServer(t)
	_ = fake.Connect()

	body, _ := json.Marshal(map[string]string{"line": "G28"})
	req := httptest.NewRequest(http.MethodPost, "/printers/a/manual", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestManualRejectsMissingLine(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/printers/a/manual", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPauseTogglesFlowController(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]bool{"paused": true})
	req := httptest.NewRequest(http.MethodPost, "/printers/a/pause", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Paused bool `json:"paused"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !resp.Paused {
		t.Error("expected paused true in response")
	}
}

func TestResponsesSinceReturnsCursorAndEntries(t *testing.T) {
	s, fake := newTestServer(t)
	fake.FeedLine("start")

	req := httptest.NewRequest(http.MethodGet, "/printers/a/responses?since=0&mask=255", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Responses []printer.Response `json:"responses"`
		Cursor    uint32              `json:"cursor"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	_ = body
}
