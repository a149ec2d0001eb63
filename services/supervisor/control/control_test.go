// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stargate/services/supervisor"
	"github.com/AleutianAI/Stargate/services/supervisor/diagnose"
	"github.com/AleutianAI/Stargate/services/supervisor/injection"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/timetravel"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeController runs queued operations inline.
type fakeController struct {
	ops      []string
	doErr    error
	status   supervisor.Status
	capsule  *timetravel.Capsule
	injected []injection.Injection
	paused   string
	held     bool
	report   diagnose.Report
	corrupt  []string
}

func (f *fakeController) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	f.ops = append(f.ops, name)
	if f.doErr != nil {
		return f.doErr
	}
	return fn(ctx)
}

func (f *fakeController) Status() supervisor.Status { return f.status }

func (f *fakeController) Resolve(context.Context) error { return nil }

func (f *fakeController) Capture(context.Context) (timetravel.Capsule, error) {
	c := timetravel.Capsule{Branch: "main", Frame: 7, Hash: "abc"}
	f.capsule = &c
	return c, nil
}

func (f *fakeController) Recall(context.Context) (timetravel.Capsule, error) {
	if f.capsule == nil {
		return timetravel.Capsule{}, timetravel.ErrNoCapsule
	}
	return *f.capsule, nil
}

func (f *fakeController) Inject(inj injection.Injection) { f.injected = append(f.injected, inj) }
func (f *fakeController) Pause(reason string)             { f.paused = reason }
func (f *fakeController) Resume() bool                   { return !f.held }

func (f *fakeController) Verify(context.Context) (int, []string, error) {
	return 3, f.corrupt, nil
}

func (f *fakeController) Diagnose() diagnose.Report { return f.report }

func newTestServer(ctrl Controller) *Server {
	return NewServer(Config{Controller: ctrl, Timeout: time.Second})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeOp(t *testing.T, w *httptest.ResponseRecorder) OpResponse {
	t.Helper()
	var resp OpResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// =============================================================================
// Read routes
// =============================================================================

func TestStatus_ServesPublishedSnapshot(t *testing.T) {
	ctrl := &fakeController{status: supervisor.Status{Installed: true, Mode: "chaos_lab", HostFrame: 42}}
	w := do(t, newTestServer(ctrl), http.MethodGet, "/v1/status", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var st supervisor.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.True(t, st.Installed)
	assert.Equal(t, int64(42), st.HostFrame)
	assert.Empty(t, ctrl.ops, "status is not queued")
}

func TestHealth(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	w := do(t, s, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"health"}, ctrl.ops)

	ctrl.report = diagnose.Report{Cramps: []diagnose.Cramp{{Check: diagnose.CheckStasis, Message: "held"}}}
	w = do(t, s, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "held")
}

func TestMetrics(t *testing.T) {
	w := do(t, newTestServer(&fakeController{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stargate_")
}

// =============================================================================
// Queued operations
// =============================================================================

func TestCaptureThenRecall(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	w := do(t, s, http.MethodPost, "/v1/recall", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/v1/capture", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeOp(t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, "capture", resp.Op)
	assert.NotEmpty(t, resp.RequestID)

	w = do(t, s, http.MethodPost, "/v1/recall", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"recall", "capture", "recall"}, ctrl.ops)
}

func TestInject_Validates(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	w := do(t, s, http.MethodPost, "/v1/inject", `{"key":"gravity","value":3}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	w = do(t, s, http.MethodPost, "/v1/inject", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, ctrl.ops)

	w = do(t, s, http.MethodPost, "/v1/inject", `{"key":"gravity","value":3,"reason":"tuning"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ctrl.injected, 1)
	assert.Equal(t, injection.Injection{Key: "gravity", Value: 3, Reason: "tuning"}, ctrl.injected[0])
}

func TestPauseResume(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	w := do(t, s, http.MethodPost, "/v1/pause", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", ctrl.paused)

	w = do(t, s, http.MethodPost, "/v1/pause", `{"reason":"inspection"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inspection", ctrl.paused)

	ctrl.held = true
	w = do(t, s, http.MethodPost, "/v1/resume", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, decodeOp(t, w).OK)

	ctrl.held = false
	w = do(t, s, http.MethodPost, "/v1/resume", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVerify(t *testing.T) {
	ctrl := &fakeController{corrupt: []string{"deadbeef"}}
	w := do(t, newTestServer(ctrl), http.MethodPost, "/v1/verify", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deadbeef")
	assert.Contains(t, w.Body.String(), `"checked":3`)
}

func TestQueueFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"closed", supervisor.ErrClosed, http.StatusServiceUnavailable},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{doErr: tt.err}
			w := do(t, newTestServer(ctrl), http.MethodPost, "/v1/resolve", "")
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "resolve", decodeOp(t, w).Op)
		})
	}
}

// =============================================================================
// Event stream
// =============================================================================

func TestEvents_StreamsDispatchedEvents(t *testing.T) {
	events := NewBroadcaster(nil)
	s := NewServer(Config{Controller: &fakeController{}, Events: events})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return events.Clients() == 1 }, time.Second, 5*time.Millisecond)

	raw := []byte(`{"kind":"trace","frame":1}`)
	events.Dispatch(protocol.Event{Kind: protocol.KindTrace}, raw)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, got, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	conn.Close()
	assert.Eventually(t, func() bool { return events.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBroadcaster_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	c, ok := b.add()
	require.True(t, ok)

	for i := 0; i < ClientBuffer+10; i++ {
		b.Dispatch(protocol.Event{}, []byte("x"))
	}
	assert.Len(t, c.send, ClientBuffer)

	b.Close()
	_, ok = b.add()
	assert.False(t, ok)
	assert.Equal(t, 0, b.Clients())
}
