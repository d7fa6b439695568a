package preview

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marinp1/depthcast/internal/encoder"
)

func newTestServer(t *testing.T, withRecorder bool) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	var rm *Recorder
	if withRecorder {
		rm = NewRecorder(dir, 1, encoder.CodecHEVC)
	}
	stats := func() any { return map[string]int{"frames": 7} }
	s, err := NewServer(Options{
		Addr:          "127.0.0.1:0",
		CorsOrigin:    "*",
		RecordingDir:  dir,
		StatsInterval: 10 * time.Millisecond,
	}, NewClientManager(1, encoder.CodecHEVC, 30), rm, stats)
	require.NoError(t, err)
	return s, dir
}

func TestServerStatus(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerPreflight(t *testing.T) {
	s, _ := newTestServer(t, true)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/record/start", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestServerRecordingDisabled(t *testing.T) {
	s, _ := newTestServer(t, false)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/record/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status RecordingStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Available)
	assert.Equal(t, "recording disabled", status.UnavailableReason)

	for _, path := range []string{"/record/start", "/record/stop"} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestServerRecordingHandlers(t *testing.T) {
	s, dir := newTestServer(t, true)
	h := s.Handler()

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/record/start", http.StatusMethodNotAllowed},
		{http.MethodPost, "/record/start", http.StatusConflict}, // no parameter sets yet
		{http.MethodPost, "/record/stop", http.StatusConflict},
		{http.MethodPost, "/record/list", http.StatusMethodNotAllowed},
		{http.MethodGet, "/record/download/", http.StatusBadRequest},
		{http.MethodGet, "/record/download/missing.mp4", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		assert.Equal(t, tt.code, rec.Code, "%s %s", tt.method, tt.path)
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "recording_x.mp4"), []byte("data"), 0o644))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/record/list", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Recordings []RecordingFile `json:"recordings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Recordings, 1)
	assert.Equal(t, "recording_x.mp4", list.Recordings[0].Filename)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/record/download/recording_x.mp4", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data", rec.Body.String())
	assert.Equal(t, "4", rec.Header().Get("Content-Length"))
	assert.True(t, strings.Contains(rec.Header().Get("Content-Disposition"), "recording_x.mp4"))
}

func TestServerOfferRejectsBadBody(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/offer", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerStatsWebSocket(t *testing.T) {
	s, _ := newTestServer(t, false)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/stats"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	for i := 0; i < 2; i++ {
		var got map[string]int
		require.NoError(t, ws.ReadJSON(&got))
		assert.Equal(t, 7, got["frames"])
	}
}

func TestServerStartShutdown(t *testing.T) {
	s, _ := newTestServer(t, true)
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
