package Adhoc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"OnnxMarkServer/engine/enginetest"
	"OnnxMarkServer/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registry(t *testing.T, ok bool) (*httptest.Server, chan RegisterRequest) {
	t.Helper()
	got := make(chan RegisterRequest, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/register", r.URL.Path)
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		got <- req
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RegisterResponse{Id: req.Id, Success: ok})
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRegServerConfig(t *testing.T) {
	var cfg RegServerConfig
	cfg.SetAddress("10.0.0.2", 9000)
	assert.Equal(t, "http://10.0.0.2:9000/api/register", cfg.URL())
}

func TestSend(t *testing.T) {
	srv, got := registry(t, true)
	id, err := worker.Add(enginetest.NewResidualEngine(4, 0.1), "residual-demo", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = worker.Remove(id) })

	h := newHeartbeat(srv.URL+"/api/register", Instance{IP: "127.0.0.1", RPCPort: 50051, HTTPPort: 8080, InstanceClass: "Cpu"})
	require.NoError(t, h.send(context.Background()))

	req := <-got
	assert.Equal(t, h.id, req.Id)
	assert.Equal(t, "127.0.0.1", req.IP)
	assert.Equal(t, 50051, req.Port)
	assert.Equal(t, 8080, req.HTTPPort)
	assert.Equal(t, "Cpu", req.InstanceClass)
	assert.Contains(t, req.Engines, "residual-demo")
	assert.NotZero(t, req.TimeStamp)
}

func TestSend_Rejected(t *testing.T) {
	srv, _ := registry(t, false)
	h := newHeartbeat(srv.URL+"/api/register", Instance{})
	assert.Error(t, h.send(context.Background()))

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	assert.Error(t, newHeartbeat(bad.URL, Instance{}).send(context.Background()))
}

func TestRunStopsOnCancel(t *testing.T) {
	srv, got := registry(t, true)
	h := newHeartbeat(srv.URL+"/api/register", Instance{InstanceClass: "Cpu"})
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.run(ctx, 10*time.Millisecond)
	}()

	for i := 0; i < 2; i++ {
		select {
		case req := <-got:
			assert.Equal(t, h.id, req.Id)
		case <-time.After(2 * time.Second):
			t.Fatal("no heartbeat received")
		}
	}
	cancel()
	wg.Wait()
}
