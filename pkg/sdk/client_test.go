package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// fakeServer mimics the tinyuptime API closely enough for client tests.
type fakeServer struct {
	mu         sync.Mutex
	heartbeats map[string][]map[string]any
	imported   map[string][]Heartbeat
	deleted    []string
	failWith   int
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	fs := &fakeServer{
		heartbeats: make(map[string][]map[string]any),
		imported:   make(map[string][]Heartbeat),
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/targets/{id}/heartbeats", fs.handleHeartbeat).Methods("POST")
	router.HandleFunc("/v1/targets/{id}/import", fs.handleImport).Methods("POST")
	router.HandleFunc("/v1/targets/{id}/uptime", func(w http.ResponseWriter, r *http.Request) {
		lat := 42.0
		json.NewEncoder(w).Encode(Uptime{
			Target: mux.Vars(r)["id"],
			Window: Window{Duration: r.URL.Query().Get("duration"), Uptime: 0.75, AvgLatency: &lat, Up: 3, Down: 1},
		})
	}).Methods("GET")
	router.HandleFunc("/v1/targets/{id}/summary", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Summary{
			Target:  mux.Vars(r)["id"],
			Windows: []Window{{Duration: "24h"}, {Duration: "7d"}, {Duration: "30d"}, {Duration: "1y"}},
		})
	}).Methods("GET")
	router.HandleFunc("/v1/targets/{id}", func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.deleted = append(fs.deleted, mux.Vars(r)["id"])
		fs.mu.Unlock()
		w.Write([]byte(`{"status":"deleted"}`))
	}).Methods("DELETE")

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return fs, server
}

func (fs *fakeServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.failWith != 0 {
		w.WriteHeader(fs.failWith)
		w.Write([]byte(`{"error":"failure","message":"injected"}`))
		return
	}

	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	id := mux.Vars(r)["id"]
	fs.heartbeats[id] = append(fs.heartbeats[id], body)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(HeartbeatResponse{Status: "accepted", Target: id, Reported: body["status"].(string)})
}

func (fs *fakeServer) handleImport(w http.ResponseWriter, r *http.Request) {
	var hbs []Heartbeat
	json.NewDecoder(r.Body).Decode(&hbs)
	id := mux.Vars(r)["id"]

	fs.mu.Lock()
	fs.imported[id] = append(fs.imported[id], hbs...)
	fs.mu.Unlock()

	json.NewEncoder(w).Encode(ImportResult{Target: id, Received: len(hbs), Applied: len(hbs)})
}

func (fs *fakeServer) setFail(code int) {
	fs.mu.Lock()
	fs.failWith = code
	fs.mu.Unlock()
}

func (fs *fakeServer) sent(id string) []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]map[string]any(nil), fs.heartbeats[id]...)
}

func (fs *fakeServer) importedFor(id string) []Heartbeat {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]Heartbeat(nil), fs.imported[id]...)
}

func latency(v float64) *float64 { return &v }

func TestNew_Defaults(t *testing.T) {
	client, err := New(ClientConfig{})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if client.config.Endpoint != "http://localhost:8080" {
		t.Errorf("Endpoint = %q", client.config.Endpoint)
	}
	if client.config.SpoolSize != 10000 {
		t.Errorf("SpoolSize = %d, want 10000", client.config.SpoolSize)
	}

	if _, err := New(ClientConfig{Endpoint: "localhost:8080"}); err == nil {
		t.Error("expected error for endpoint without scheme")
	}
}

func TestHeartbeat(t *testing.T) {
	fs, server := newFakeServer(t)
	client, err := New(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	resp, err := client.Heartbeat(context.Background(), "api", Heartbeat{Status: StatusUp, LatencyMs: latency(120)})
	if err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	if resp.Target != "api" || resp.Reported != "up" {
		t.Errorf("unexpected response %+v", resp)
	}

	sent := fs.sent("api")
	if len(sent) != 1 {
		t.Fatalf("server received %d heartbeats, want 1", len(sent))
	}
	if _, ok := sent[0]["timestamp"]; ok {
		t.Error("zero timestamp should be omitted")
	}
	if sent[0]["latency_ms"] != 120.0 {
		t.Errorf("latency_ms = %v, want 120", sent[0]["latency_ms"])
	}
}

func TestReport_SpoolsWhenUnavailable(t *testing.T) {
	fs, server := newFakeServer(t)
	client, _ := New(ClientConfig{Endpoint: server.URL})
	fixed := time.Date(2024, 7, 4, 10, 0, 0, 0, time.UTC)
	client.now = func() time.Time { return fixed }

	fs.setFail(http.StatusServiceUnavailable)
	if err := client.Report(context.Background(), "api", Heartbeat{Status: StatusDown}); err != nil {
		t.Fatalf("Report should spool on 503, got %v", err)
	}
	if client.Spooled() != 1 {
		t.Fatalf("Spooled = %d, want 1", client.Spooled())
	}

	fs.setFail(0)
	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if client.Spooled() != 0 {
		t.Errorf("Spooled after flush = %d, want 0", client.Spooled())
	}

	imported := fs.importedFor("api")
	if len(imported) != 1 {
		t.Fatalf("imported %d heartbeats, want 1", len(imported))
	}
	if !imported[0].Timestamp.Equal(fixed) {
		t.Errorf("spooled heartbeat timestamp = %v, want %v", imported[0].Timestamp, fixed)
	}
	if imported[0].Status != StatusDown {
		t.Errorf("spooled status = %q, want down", imported[0].Status)
	}
}

func TestReport_PermanentErrorNotSpooled(t *testing.T) {
	fs, server := newFakeServer(t)
	client, _ := New(ClientConfig{Endpoint: server.URL})

	fs.setFail(http.StatusBadRequest)
	if err := client.Report(context.Background(), "api", Heartbeat{Status: "sideways"}); err == nil {
		t.Fatal("expected error for rejected heartbeat")
	}
	if client.Spooled() != 0 {
		t.Errorf("rejected heartbeat should not be spooled")
	}
}

func TestQueries(t *testing.T) {
	_, server := newFakeServer(t)
	client, _ := New(ClientConfig{Endpoint: server.URL})
	ctx := context.Background()

	uptime, err := client.Uptime(ctx, "api", "7d")
	if err != nil {
		t.Fatalf("Uptime failed: %v", err)
	}
	if uptime.Duration != "7d" || uptime.Uptime != 0.75 || uptime.AvgLatency == nil || *uptime.AvgLatency != 42 {
		t.Errorf("unexpected uptime %+v", uptime)
	}

	summary, err := client.Summary(ctx, "api")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(summary.Windows) != 4 {
		t.Errorf("expected 4 windows, got %d", len(summary.Windows))
	}
}

func TestImportAndDelete(t *testing.T) {
	fs, server := newFakeServer(t)
	client, _ := New(ClientConfig{Endpoint: server.URL})
	ctx := context.Background()

	ts := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	result, err := client.Import(ctx, "db", []Heartbeat{
		{Status: StatusUp, Timestamp: ts},
		{Status: StatusMaintenance, Timestamp: ts.Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Applied != 2 {
		t.Errorf("Applied = %d, want 2", result.Applied)
	}

	if err := client.Delete(ctx, "db"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.deleted) != 1 || fs.deleted[0] != "db" {
		t.Errorf("deleted = %v, want [db]", fs.deleted)
	}
}

func TestStartStop(t *testing.T) {
	fs, server := newFakeServer(t)
	client, _ := New(ClientConfig{Endpoint: server.URL, FlushEvery: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Start(ctx); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}

	fs.setFail(http.StatusTooManyRequests)
	client.Report(ctx, "api", Heartbeat{Status: StatusUp})
	fs.setFail(0)

	if err := client.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop client: %v", err)
	}
	if len(fs.importedFor("api")) != 1 {
		t.Errorf("Stop should deliver spooled heartbeats, imported %d", len(fs.importedFor("api")))
	}
}
