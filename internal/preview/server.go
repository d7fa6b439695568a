package preview

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Options configure the preview server.
type Options struct {
	Addr          string
	CorsOrigin    string
	ICEServers    []string
	RecordingDir  string
	StatsInterval time.Duration
}

// Server is the HTTP surface around a running session.
type Server struct {
	opts     Options
	clients  *ClientManager
	recorder *Recorder
	stats    StatsFunc

	recordingUnavailable string
	httpServer           *http.Server
	done                 chan struct{}
	log                  *logrus.Entry
}

// NewServer builds the routes. recorder may be nil when recording is off.
func NewServer(opts Options, clients *ClientManager, recorder *Recorder, stats StatsFunc) (*Server, error) {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = time.Second
	}
	s := &Server{
		opts:     opts,
		clients:  clients,
		recorder: recorder,
		stats:    stats,
		done:     make(chan struct{}),
		log:      logrus.WithField("component", "http"),
	}
	if recorder == nil {
		s.recordingUnavailable = "recording disabled"
	} else if err := os.MkdirAll(opts.RecordingDir, 0o755); err != nil {
		s.log.WithError(err).Warn("Recording directory unavailable, recording disabled")
		s.recorder = nil
		s.recordingUnavailable = "recording directory unavailable"
	}

	m, err := SetupMediaEngine(clients.MimeType())
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	mux := http.NewServeMux()
	mux.Handle("/status", s.cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})))
	mux.Handle("/offer", s.cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleOffer(w, r, api, clients, opts.ICEServers)
	})))
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		HandleStats(w, r, stats, opts.StatsInterval, s.done)
	})
	mux.Handle("/record/status", s.cors(http.HandlerFunc(s.handleRecordStatus)))
	mux.Handle("/record/start", s.recordingRoute(http.MethodPost, handleRecordStart))
	mux.Handle("/record/stop", s.recordingRoute(http.MethodPost, handleRecordStop))
	mux.Handle("/record/list", s.recordingRoute(http.MethodGet, handleRecordList))
	mux.Handle(downloadPrefix, s.recordingRoute(http.MethodGet, handleRecordDownload))

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the routes, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Recorder returns the active recorder, nil when recording is unavailable.
func (s *Server) Recorder() *Recorder {
	return s.recorder
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.CorsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	if s.recorder != nil {
		s.recorder.ProcessNALUs()
	}
	s.log.WithField("addr", ln.Addr().String()).Info("Preview server running")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()
	return nil
}

// Shutdown stops serving, closes every viewer and finalizes a running
// recording.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.done)
	err := s.httpServer.Shutdown(ctx)
	s.clients.CloseAll()
	if s.recorder != nil {
		s.recorder.Shutdown()
	}
	return err
}
