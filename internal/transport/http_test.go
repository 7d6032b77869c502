package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/session"
)

func testLogger(t *testing.T) *paseolog.Logger {
	t.Helper()
	log, err := paseolog.New(paseolog.Config{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("paseolog.New: %v", err)
	}
	return log
}

func TestHandleHealthReturnsOK(t *testing.T) {
	log := testLogger(t)
	hub := session.NewHub(nil, log)
	dispatcher := session.NewDispatcher(hub, nil)
	srv := NewServer(hub, dispatcher, nil, log)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleDebugQRWithoutRelayIsUnavailable(t *testing.T) {
	log := testLogger(t)
	hub := session.NewHub(nil, log)
	dispatcher := session.NewDispatcher(hub, nil)
	srv := NewServer(hub, dispatcher, nil, log)

	req := httptest.NewRequest(http.MethodGet, "/debug/qr", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCORSMiddlewareAbortsPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodOptions, "/ws", nil)

	corsMiddleware()(c)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header on preflight response")
	}
}
