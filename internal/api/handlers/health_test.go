package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockChecker — мок ReadinessChecker.
type mockChecker struct {
	status  string
	message string
}

func (m *mockChecker) CheckReady() (string, string) {
	return m.status, m.message
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d", rec.Code)
	}
	var resp healthLiveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" || resp.Service != "warc-manager" {
		t.Errorf("неверный ответ: %+v", resp)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name       string
		checkers   map[string]ReadinessChecker
		wantStatus string
		wantCode   int
	}{
		{
			name: "все ok",
			checkers: map[string]ReadinessChecker{
				"postgresql": &mockChecker{"ok", "connected"},
				"jwks":       &mockChecker{"ok", "keys: 1"},
			},
			wantStatus: "ok",
			wantCode:   http.StatusOK,
		},
		{
			name: "API манифестов degraded",
			checkers: map[string]ReadinessChecker{
				"postgresql":   &mockChecker{"ok", ""},
				"manifest_api": &mockChecker{"degraded", "timeout"},
			},
			wantStatus: "degraded",
			wantCode:   http.StatusOK,
		},
		{
			name: "PostgreSQL fail",
			checkers: map[string]ReadinessChecker{
				"postgresql":   &mockChecker{"fail", "refused"},
				"manifest_api": &mockChecker{"degraded", ""},
			},
			wantStatus: "fail",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "не инициализирован",
			checkers:   map[string]ReadinessChecker{"postgresql": nil},
			wantStatus: "fail",
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checkers)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("ожидался код %d, получен %d", tt.wantCode, rec.Code)
			}
			var resp healthReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("ожидался статус %s, получен %s", tt.wantStatus, resp.Status)
			}
			if len(resp.Checks) != len(tt.checkers) {
				t.Errorf("ожидалось %d проверок, получено %d", len(tt.checkers), len(resp.Checks))
			}
		})
	}
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := httptest.NewRecorder()
	h.GetMetrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}
