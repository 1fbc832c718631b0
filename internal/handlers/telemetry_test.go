package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/service"
)

func TestTelemetryHandler_List(t *testing.T) {
	at := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	tel := &mockTelemetry{resp: []models.TelemetryRecord{
		{DeviceID: "dev-1", Temperature: 84.5, NewUnits: 10, RecordedAt: at},
	}}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, TelemetryHistory: tel})

	w := doGet(t, r, "/api/v1/telemetry/?from=2025-08-01&limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", w.Code, w.Body.String())
	}
	if tel.lastFilter.Limit != 5 || !tel.lastFilter.From.Equal(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected filter: %+v", tel.lastFilter)
	}

	var out struct {
		Count   int               `json:"count"`
		Samples []TelemetrySample `json:"samples"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Count != 1 || out.Samples[0].NewUnits != 10 || !out.Samples[0].RecordedAt.Equal(at) {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestTelemetryHandler_Validation(t *testing.T) {
	tel := &mockTelemetry{}
	r := newTestRouter(&service.Service{Authorization: &mockAuth{parseID: 1}, TelemetryHistory: tel})

	for _, q := range []string{"?limit=-1", "?limit=abc", "?to=yesterday"} {
		if w := doGet(t, r, "/api/v1/telemetry/"+q); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: got %d, want 400", q, w.Code)
		}
	}
	if tel.calls != 0 {
		t.Fatalf("service called %d times for invalid queries", tel.calls)
	}

	tel.err = errors.New("boom")
	if w := doGet(t, r, "/api/v1/telemetry/"); w.Code != http.StatusInternalServerError {
		t.Fatalf("service error: got %d, want 500", w.Code)
	}
}
