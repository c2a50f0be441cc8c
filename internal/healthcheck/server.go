// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package healthcheck serves liveness, readiness and status endpoints.
package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

const DefaultPort = 8090

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

type Response struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status"`
}

// Server holds process health and the latest status document. All setters
// are safe to call from any goroutine.
type Server struct {
	port   int
	status atomic.Int32
	ready  atomic.Bool
	// snapshot is an encoded status document, replaced wholesale.
	snapshot atomic.Pointer[[]byte]
	server   *http.Server
}

func NewServer(port int) *Server {
	if port == 0 {
		port = DefaultPort
	}
	return &Server{port: port}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

func (s *Server) IsReady() bool {
	return s.ready.Load() && s.GetStatus() == StatusHealthy
}

// PublishStatus encodes v and serves it on /statusz until the next call.
func (s *Server) PublishStatus(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to encode status snapshot", slog.Any("error", err))
		return
	}
	s.snapshot.Store(&b)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.probe(func() bool { return s.GetStatus() == StatusHealthy }))
	mux.HandleFunc("/readyz", s.probe(s.IsReady))
	mux.HandleFunc("/livez", s.probe(func() bool { return s.GetStatus() != StatusUnhealthy }))
	mux.HandleFunc("/statusz", s.statusz)
	return mux
}

// Start serves until ctx is done, then shuts the server down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting health check server", slog.Int("port", s.port))

	errc := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("health check server: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Stop()
	}
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) probe(check func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		ok := check()
		w.Header().Set("Content-Type", "application/json")
		if ok {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		resp := Response{Healthy: ok, Status: s.GetStatus().String()}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("Failed to encode health check response", slog.Any("error", err))
		}
	}
}

func (s *Server) statusz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	b := s.snapshot.Load()
	if b == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("{}\n"))
		return
	}
	_, _ = w.Write(*b)
}
