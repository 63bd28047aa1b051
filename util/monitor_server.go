package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

var ErrAlreadyRunning = errors.New("already running")

// MonitorServer serves the status API, websocket stream and metrics. Handlers
// survive a Restart; the listener is rebuilt so a changed details_port takes effect.
type MonitorServer struct {
	mux  *http.ServeMux
	port func() int

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

func NewMonitorServer() *MonitorServer {
	return &MonitorServer{
		mux:  http.NewServeMux(),
		port: func() int { return Config.GetInt("details_port") },
	}
}

func (s *MonitorServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return ErrAlreadyRunning
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port()))
	if err != nil {
		return fmt.Errorf("monitor server listen: %w", err)
	}
	srv := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	done := make(chan struct{})
	s.srv, s.addr, s.done = srv, ln.Addr(), done

	go func() {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			Logger.Warn().Msgf("Problem loading monitor server: %v", err)
		}
		Logger.Debug().Msg("monitor server shutdown")
	}()
	return nil
}

// Addr is the bound listener address, or nil when stopped.
func (s *MonitorServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *MonitorServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	<-s.done
	s.srv, s.addr, s.done = nil, nil, nil
	return err
}

func (s *MonitorServer) AddHandler(path string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(path, handler)
}

func (s *MonitorServer) AddRawHandler(path string, handler http.Handler) {
	s.mux.Handle(path, handler)
}

func (s *MonitorServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *MonitorServer) Restart() {
	Logger.Debug().Msg("restarting monitor server")
	if err := s.Stop(context.TODO()); err != nil {
		Logger.Error().Msgf("Error shutting down monitor server: %v", err)
	}
	if err := s.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
}
