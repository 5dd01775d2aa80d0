package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/offload-engine/internal/config"
	"github.com/devrev/pairdb/offload-engine/internal/model"
	"github.com/devrev/pairdb/offload-engine/internal/registry"
	"github.com/devrev/pairdb/offload-engine/internal/service"
	"github.com/devrev/pairdb/offload-engine/internal/source"
	"github.com/devrev/pairdb/offload-engine/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// immediateDialer commits every segment straight into a counter
type immediateDialer struct {
	mu    sync.Mutex
	bytes int64
}

func (d *immediateDialer) Dial(ctx context.Context, node model.TargetNode) (transport.Channel, error) {
	return &immediateChannel{dialer: d}, nil
}

type immediateChannel struct {
	dialer *immediateDialer
	n      int64
}

func (c *immediateChannel) Send(ctx context.Context, chunk []byte, compressed bool) error {
	c.n += int64(len(chunk))
	return nil
}

func (c *immediateChannel) Commit(ctx context.Context, crc uint32, verify bool) error {
	c.dialer.mu.Lock()
	c.dialer.bytes += c.n
	c.dialer.mu.Unlock()
	return nil
}

func (c *immediateChannel) Close() error { return nil }

func newTestMux(t *testing.T) (*http.ServeMux, *service.Manager, *registry.Registry) {
	t.Helper()

	cfg := config.DefaultOffloadConfig()
	cfg.SegmentSize = 1024
	cfg.TransferBufferSize = 1024
	cfg.MinByteDifference = 1
	cfg.RetryDelay = time.Millisecond
	cfg.CompressTransfers = false

	reg := registry.NewRegistry("us-east-1", nil, zap.NewNop())
	reg.UpsertNode(model.TargetNode{
		NodeID:                "node-a",
		Host:                  "10.0.0.2",
		Port:                  50053,
		Region:                "us-east-1",
		AvailableStorageBytes: 100 * 1024 * 1024 * 1024,
		Health:                model.NodeHealthy,
		AcceptingOffloads:     true,
		MaxConcurrentOffloads: 4,
	})

	m := service.NewManager(cfg, reg, source.NewMemorySource(make([]byte, 4096)), &immediateDialer{}, nil, zap.NewNop())

	mux := http.NewServeMux()
	NewOffloadHandler(m, zap.NewNop()).Register(mux)
	return mux, m, reg
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHandler_StatusAndNodes(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodGet, "/offload/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["status"])
	assert.Equal(t, false, body["active"])

	rec, body = doJSON(t, mux, http.MethodGet, "/offload/nodes", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	nodes := body["nodes"].([]interface{})
	assert.Len(t, nodes, 1)
}

func TestHandler_SelectTarget(t *testing.T) {
	mux, _, reg := newTestMux(t)

	rec, _ := doJSON(t, mux, http.MethodPost, "/offload/target", `{"node_id":"node-a"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	n, ok := reg.SelectedNode()
	require.True(t, ok)
	assert.Equal(t, "node-a", n.NodeID)

	rec, _ = doJSON(t, mux, http.MethodPost, "/offload/target", `{"node_id":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodPost, "/offload/target", `{"node_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodDelete, "/offload/target", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = reg.SelectedNode()
	assert.False(t, ok)
}

func TestHandler_AutoSelect(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodPost, "/offload/target/auto", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "node-a", body["selected"])
}

func TestHandler_StartLifecycle(t *testing.T) {
	mux, m, _ := newTestMux(t)

	// Start without a target is a conflict
	rec, _ := doJSON(t, mux, http.MethodPost, "/offload/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodPost, "/offload/target", `{"node_id":"node-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodPost, "/offload/start", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		return m.Status() == model.StatusCompleted
	}, 5*time.Second, time.Millisecond)

	rec, body := doJSON(t, mux, http.MethodGet, "/offload/progress", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 100.0, body["progress_percent"].(float64), 0.001)

	rec, body = doJSON(t, mux, http.MethodGet, "/offload/result", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	// Reset clears the result
	rec, _ = doJSON(t, mux, http.MethodPost, "/offload/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodGet, "/offload/result", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StartRejectsBadDataIDs(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec, _ := doJSON(t, mux, http.MethodPost, "/offload/target", `{"node_id":"node-a"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, mux, http.MethodPost, "/offload/start",
		fmt.Sprintf(`{"data_ids":["ok","%s"]}`, "bad\\u0000id"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_LifecycleGuards(t *testing.T) {
	mux, _, _ := newTestMux(t)

	// Pause, resume and cancel are conflicts while idle
	for _, path := range []string{"/offload/pause", "/offload/resume", "/offload/cancel"} {
		rec, _ := doJSON(t, mux, http.MethodPost, path, "")
		assert.Equal(t, http.StatusConflict, rec.Code, path)
	}
}

func TestHandler_RefreshWithoutHealthSource(t *testing.T) {
	mux, _, _ := newTestMux(t)

	rec, body := doJSON(t, mux, http.MethodPost, "/offload/nodes/refresh", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, false, body["refreshed"])
}
