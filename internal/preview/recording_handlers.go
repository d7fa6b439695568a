package preview

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const downloadPrefix = "/record/download/"

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// recordingRoute guards a recorder endpoint: wrong methods get 405 and a
// disabled recorder gets 503.
func (s *Server) recordingRoute(method string, h func(http.ResponseWriter, *http.Request, *Recorder)) http.Handler {
	return s.cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if s.recorder == nil {
			http.Error(w, "recording not available", http.StatusServiceUnavailable)
			return
		}
		h(w, r, s.recorder)
	}))
}

// handleRecordStatus answers even without a recorder so clients can tell why
// recording is off.
func (s *Server) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.recorder == nil {
		writeJSON(w, &RecordingStatus{UnavailableReason: s.recordingUnavailable})
		return
	}
	writeJSON(w, s.recorder.GetStatus())
}

func handleRecordStart(w http.ResponseWriter, _ *http.Request, rm *Recorder) {
	status, err := rm.Start()
	if err != nil {
		rm.log.WithError(err).Warn("Failed to start recording")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, status)
}

func handleRecordStop(w http.ResponseWriter, _ *http.Request, rm *Recorder) {
	status, err := rm.Stop()
	if err != nil {
		rm.log.WithError(err).Warn("Failed to stop recording")
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	rm.log.WithFields(logrus.Fields{
		"file":        status.FilePath,
		"duration_ms": status.DurationMs,
		"bytes":       status.BytesWritten,
		"frames":      status.FramesWritten,
	}).Info("Recording saved")
	writeJSON(w, status)
}

func handleRecordList(w http.ResponseWriter, _ *http.Request, rm *Recorder) {
	recordings, err := rm.ListRecordings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"recordings": recordings})
}

// handleRecordDownload streams /record/download/{filename}.
func handleRecordDownload(w http.ResponseWriter, r *http.Request, rm *Recorder) {
	name, ok := strings.CutPrefix(r.URL.Path, downloadPrefix)
	if !ok || name == "" {
		http.Error(w, "filename required", http.StatusBadRequest)
		return
	}
	path, err := rm.GetFilePath(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "failed to open file", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		http.Error(w, "failed to stat file", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "video/mp4")
	h.Set("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	if _, err := io.Copy(w, f); err != nil {
		rm.log.WithError(err).WithField("file", info.Name()).Debug("Download interrupted")
	}
}
