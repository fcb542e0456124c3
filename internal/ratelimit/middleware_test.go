package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareLimitsPerIP(t *testing.T) {
	m := NewMemoryLimiter(0.01, 2)
	defer closeLimiter(t, m)

	handler := Middleware(m, IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scan/vendor", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d", rec.Code)
	}
	if rec := do("10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("second request: got %d", rec.Code)
	}

	rec := do("10.0.0.1:5678") // same IP, different port
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("missing Retry-After header")
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["detail"] == "" {
		t.Fatal("expected detail in error body")
	}

	// A different client is unaffected.
	if rec := do("10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Fatalf("other client: got %d", rec.Code)
	}
}

func TestMiddlewareNilLimiterPassesThrough(t *testing.T) {
	handler := Middleware(nil, IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
}

func TestNewPerMinuteDefaults(t *testing.T) {
	m := NewPerMinute(0)
	defer closeLimiter(t, m)
	if m.burst != 60 {
		t.Fatalf("default burst = %v, want 60", m.burst)
	}

	m2 := NewPerMinute(30)
	defer closeLimiter(t, m2)
	if m2.burst != 30 {
		t.Fatalf("burst = %v, want 30", m2.burst)
	}
}
