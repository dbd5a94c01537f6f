package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

func testServer(t *testing.T, gw *cluster.MockGateway, opts ...Option) (*Server, *lifecycle.Orchestrator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := lifecycle.New(lifecycle.Config{
		Gateway:   gw,
		Stager:    &cluster.MockStager{Bucket: "bucket"},
		Logger:    logger,
		SessionID: "sess-1",
	})
	return New(o, logger, "127.0.0.1:0", opts...), o
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t, cluster.NewMockGateway("j-1"))
	w := serve(s, "GET", "/api/health")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestGetSession(t *testing.T) {
	s, o := testServer(t, cluster.NewMockGateway("j-ABC123"))
	if err := o.Attach(context.Background(), "j-ABC123"); err != nil {
		t.Fatal(err)
	}

	w := serve(s, "GET", "/api/session")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp SessionResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "sess-1" || resp.State != "RUNNING" || resp.Handle != "j-ABC123" || resp.Final {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGetCluster(t *testing.T) {
	gw := cluster.NewMockGateway("j-ABC123")
	s, o := testServer(t, gw)

	if w := serve(s, "GET", "/api/cluster"); w.Code != http.StatusConflict {
		t.Errorf("before start: status = %d, want 409", w.Code)
	}

	o.Attach(context.Background(), "j-ABC123")
	w := serve(s, "GET", "/api/cluster")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp ClusterResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.State != "WAITING" || !resp.Ready {
		t.Errorf("resp = %+v", resp)
	}

	gw.DescribeErr = &cluster.GatewayError{Op: "DescribeCluster", Kind: cluster.KindUnknownHandle, Err: errors.New("gone")}
	if w := serve(s, "GET", "/api/cluster"); w.Code != http.StatusNotFound {
		t.Errorf("unknown handle: status = %d, want 404", w.Code)
	}

	gw.DescribeErr = errors.New("connection reset")
	if w := serve(s, "GET", "/api/cluster"); w.Code != http.StatusBadGateway {
		t.Errorf("gateway failure: status = %d, want 502", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "clusterlift_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	s, _ := testServer(t, cluster.NewMockGateway("j-1"), WithMetrics(reg))
	w := serve(s, "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "clusterlift_test_total 1") {
		t.Errorf("metrics body:\n%s", w.Body.String())
	}
}

func TestNoMetricsWithoutGatherer(t *testing.T) {
	s, _ := testServer(t, cluster.NewMockGateway("j-1"))
	if w := serve(s, "GET", "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSnapshot(t *testing.T) {
	s, _ := testServer(t, cluster.NewMockGateway("j-1"))
	data, err := s.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"state":"UNSTARTED"`) {
		t.Errorf("snapshot = %s", data)
	}
}

func TestStartShutdown(t *testing.T) {
	s, _ := testServer(t, cluster.NewMockGateway("j-1"))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
