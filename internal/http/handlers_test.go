package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/handshake"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/logging"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/storage"
	"github.com/example/taxi-dispatch/internal/tariff"
)

func testServer() (*Server, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	logger := logging.NewLogger("test", "error")

	reg := &registry.Service{Drivers: store, Offers: store, History: store, Logger: logger}
	lc := &lifecycle.Service{
		Rides:   store,
		Clients: store,
		Drivers: store,
		Tariff:  tariff.NewEngine(store, logger),
		Logger:  logger,
	}
	srv := NewServer(lc, &matcher.Service{Roster: reg},
		handshake.NewService(store, nil, logger), reg, store, nil,
		dispatch.NewRegistry(), dispatch.NewRegistry(), logger)
	return srv, store
}

func TestUnknownRideMapsTo404(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rides/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["kind"] != "not_found" {
		t.Fatalf("expected not_found kind, got %v", body["kind"])
	}
}

func TestCreateRideValidationMapsTo400(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rides", strings.NewReader(`{}`))
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Kind   string   `json:"kind"`
		Fields []string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != "invalid_input" {
		t.Fatalf("expected invalid_input, got %s", body.Kind)
	}
	if len(body.Fields) == 0 {
		t.Fatal("expected violated fields in the response")
	}
}

func TestCreateRideBadWKTRejected(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/rides",
		strings.NewReader(`{"client_phone":"+58414","origin":"a","destination":"b","passenger_count":1,"origin_wkt":"POINT(bogus)"}`))
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed WKT, got %d", rec.Code)
	}
}

func TestNearestByPhoneRequiresParam(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rides/nearest", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without phone param, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRequestIDHeaderEchoed(t *testing.T) {
	srv, _ := testServer()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	srv.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}
