package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestHTTPServerRecordsSpans(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	s := NewHTTPServer(0, "test", "engagement-engine", HTTPServerDeps{})
	if err := s.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, expected 200", w.Code)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, expected 1", len(spans))
	}
	if !strings.Contains(spans[0].Name(), "/health") {
		t.Errorf("span name = %q, expected the matched route", spans[0].Name())
	}
}

func TestHTTPServerHealthWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewHTTPServer(0, "test", "engagement-engine", HTTPServerDeps{})
	if err := s.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	// No X-API-Key: probes must still reach /health.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, expected 200", w.Code)
	}
}
