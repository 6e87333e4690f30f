package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddlewareLimitsPerKey(t *testing.T) {
	l := NewLimiter(0.001, 2)
	handler := l.Middleware(IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	expected := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	for i := range expected {
		if codes[i] != expected[i] {
			t.Errorf("request %d: got %d, expected %d", i, codes[i], expected[i])
		}
	}

	// a different client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("second client got %d", rec.Code)
	}
}

func TestIPKeyFunc(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.9:4000"
	if got := IPKeyFunc(req); got != "192.168.1.9" {
		t.Errorf("IPKeyFunc() = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := IPKeyFunc(req); got != "203.0.113.7" {
		t.Errorf("IPKeyFunc() with XFF = %q", got)
	}
}

func TestCleanupOldLimiters(t *testing.T) {
	l := NewLimiter(1, 1)
	l.Allow("a")
	l.Allow("b")

	if removed := l.CleanupOldLimiters(time.Hour); removed != 0 {
		t.Errorf("fresh limiters removed: %d", removed)
	}
	if removed := l.CleanupOldLimiters(-time.Second); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d", l.Len())
	}
}
