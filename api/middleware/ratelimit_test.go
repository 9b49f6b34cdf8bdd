package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/use-agent/pilot/config"
)

func TestRateLimit_AllowsBurstThenRejects(t *testing.T) {
	r := newTestRouter(RateLimit(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected the first two requests (within burst) to pass, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected the third request to be rate limited, got %d", codes[2])
	}
}

func TestRateLimit_SeparateIdentitiesHaveSeparateBuckets(t *testing.T) {
	r := newTestRouter(RateLimit(config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1}))

	req1 := httptest.NewRequest(http.MethodGet, "/", nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req1)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.RemoteAddr = "10.0.0.2:1234"
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)

	if w1.Code != http.StatusOK || w2.Code != http.StatusOK {
		t.Errorf("expected distinct client IPs to each get their own burst allowance, got %d and %d", w1.Code, w2.Code)
	}
}
