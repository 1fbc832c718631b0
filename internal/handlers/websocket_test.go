package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// --- parseInterval unit tests ---

func TestParseInterval(t *testing.T) {
	h := NewHandler(&service.Service{}, nil)

	cases := []struct {
		name string
		u    string
		want time.Duration
	}{
		{"default_when_missing", "/ws", 1 * time.Second},
		{"interval_string_valid", "/ws?interval=200ms", 200 * time.Millisecond},
		{"interval_ms_valid", "/ws?interval_ms=150", 150 * time.Millisecond},
		{"interval_too_large", "/ws?interval=20s", 1 * time.Second},
		{"interval_ms_too_large", "/ws?interval_ms=20000", 1 * time.Second},
		{"interval_invalid_string", "/ws?interval=bogus", 1 * time.Second},
		{"interval_ms_invalid", "/ws?interval_ms=NaN", 1 * time.Second},
		{"both_present_interval_wins", "/ws?interval=2s&interval_ms=150", 2 * time.Second},
		{"both_present_invalid_interval_ms_used", "/ws?interval=bogus&interval_ms=250", 250 * time.Millisecond},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.u, nil)
			c, _ := gin.CreateTestContext(w)
			c.Request = req
			got := h.parseInterval(c)
			if got != tc.want {
				t.Fatalf("got %v, want %v for %s", got, tc.want, tc.u)
			}
		})
	}
}

func TestStateStream_Changed(t *testing.T) {
	s := &stateStream{}
	base := models.DeviceState{Revision: 1, Temperature: 20}
	if !s.changed(base) {
		t.Fatal("first state must be sent")
	}
	s.sent, s.last = true, base
	if s.changed(base) {
		t.Fatal("identical state must be skipped")
	}
	hotter := base
	hotter.Temperature = 25
	if !s.changed(hotter) {
		t.Fatal("temperature change must be sent")
	}
	bumped := base
	bumped.Revision = 2
	if !s.changed(bumped) {
		t.Fatal("revision change must be sent")
	}
}

// --- websocket integration tests ---

type envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func dialWS(t *testing.T, mon *mockMonitoring, query url.Values) *websocket.Conn {
	t.Helper()
	s := &service.Service{Monitoring: mon}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(s, nil)
	r.GET("/ws", h.wsConnect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	u.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readState(t *testing.T, conn *websocket.Conn) models.DeviceState {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != "state" || len(env.Data) == 0 {
		t.Fatalf("bad envelope: %+v", env)
	}
	var st models.DeviceState
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return st
}

func TestWebSocket_StateStream_InitialAndOnChange(t *testing.T) {
	mon := &mockMonitoring{states: []models.DeviceState{
		{DeviceID: "dev-1", Temperature: 20, Revision: 1},
		{DeviceID: "dev-1", Temperature: 20, Revision: 1},
		{DeviceID: "dev-1", Temperature: 35, Revision: 1},
	}}
	conn := dialWS(t, mon, url.Values{"interval_ms": {"20"}})

	st := readState(t, conn)
	if st.DeviceID != "dev-1" || st.Temperature != 20 {
		t.Fatalf("unexpected initial state: %+v", st)
	}

	// The unchanged second poll is skipped; the next message is the warmer one.
	st = readState(t, conn)
	if st.Temperature != 35 {
		t.Fatalf("expected changed state, got %+v", st)
	}
}

func TestWebSocket_InitialGetStateError_Closes(t *testing.T) {
	conn := dialWS(t, &mockMonitoring{err: errors.New("boom")}, nil)

	// The server closes right after the initial GetState fails.
	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	var raw json.RawMessage
	if err := conn.ReadJSON(&raw); err == nil {
		t.Fatalf("expected read error (closed), got message: %s", string(raw))
	}
}
