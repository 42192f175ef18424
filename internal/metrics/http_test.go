package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPMiddleware(t *testing.T) {
	m := New()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.HTTPRequestsInFlight.Value() != 1 {
			t.Errorf("in-flight during request = %f, want 1", m.HTTPRequestsInFlight.Value())
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad"))
	})

	rec := httptest.NewRecorder()
	HTTPMiddleware(m, handler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/trigger", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rec.Code)
	}
	if got := m.HTTPRequests.WithLabels("POST", "/api/trigger", "400").Value(); got != 1 {
		t.Errorf("request counter = %d, want 1", got)
	}
	if m.HTTPRequestsInFlight.Value() != 0 {
		t.Errorf("expected in-flight requests to be 0, got %f", m.HTTPRequestsInFlight.Value())
	}
}

func TestHTTPMiddleware_DefaultStatus(t *testing.T) {
	m := New()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	HTTPMiddleware(m, handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := m.HTTPRequests.WithLabels("GET", "/healthz", "200").Value(); got != 1 {
		t.Errorf("request counter = %d, want 1", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/", "/"},
		{"/ws", "/ws"},
		{"/healthz", "/healthz"},
		{"/metrics", "/metrics"},
		{"/api/trigger", "/api/trigger"},
		{"/api/unknown", "/api/{other}"},
		{"/favicon.ico", "{other}"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizePath(tt.input); got != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "200"},
		{201, "2xx"},
		{429, "429"},
		{418, "4xx"},
		{503, "5xx"},
		{999, "999"},
	}

	for _, tt := range tests {
		if got := statusCode(tt.code); got != tt.want {
			t.Errorf("statusCode(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordTriggerReceived()

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "face_triggers_received_total 1") {
		t.Error("exposition missing received counter")
	}

	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestHistoryHandler(t *testing.T) {
	m := New()
	m.RecordTriggerSent(false)
	m.RecordDelivery(20, "", true)

	rec := httptest.NewRecorder()
	m.HistoryHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/history", nil))

	var resp HistoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.TriggerRate) != 1 || resp.TriggerRate[0].Value != 1 {
		t.Errorf("trigger_rate = %v", resp.TriggerRate)
	}
	if len(resp.DeliveryLatency) != 1 || resp.DeliveryLatency[0].Value != 20 {
		t.Errorf("delivery_latency = %v", resp.DeliveryLatency)
	}
	if resp.Persisted {
		t.Error("in-memory metrics reported as persisted")
	}
}
