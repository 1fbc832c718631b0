package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

// mockMonitoring returns states in order and repeats the last one.
type mockMonitoring struct {
	mu     sync.Mutex
	states []models.DeviceState
	calls  int
	err    error
}

func (m *mockMonitoring) GetState(ctx context.Context) (models.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return models.DeviceState{}, m.err
	}
	if len(m.states) == 0 {
		return models.DeviceState{}, nil
	}
	st := m.states[0]
	if len(m.states) > 1 {
		m.states = m.states[1:]
	}
	return st, nil
}

type mockEventLog struct {
	resp     []models.DeviceEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.DeviceEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

type mockTelemetry struct {
	resp       []models.TelemetryRecord
	err        error
	lastFilter service.TelemetryFilter
	calls      int
}

func (m *mockTelemetry) List(ctx context.Context, f service.TelemetryFilter) ([]models.TelemetryRecord, error) {
	m.calls++
	m.lastFilter = f
	return m.resp, m.err
}

type mockReconciler struct {
	result    service.ReconcileResult
	syncErr   error
	lastDoc   models.DesiredDocument
	calls     int
	syncCalls int
}

func (m *mockReconciler) Reconcile(ctx context.Context, doc models.DesiredDocument) service.ReconcileResult {
	m.calls++
	m.lastDoc = doc
	return m.result
}
func (m *mockReconciler) Sync(ctx context.Context) (service.ReconcileResult, error) {
	m.syncCalls++
	return m.result, m.syncErr
}
func (m *mockReconciler) Listen(ctx context.Context) error { return nil }

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
