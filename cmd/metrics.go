package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warpdl/warpreq/pkg/logger"
	"github.com/warpdl/warpreq/pkg/reqlib"
)

const (
	metricsShutdownTimeout   = 2 * time.Second
	metricsReadHeaderTimeout = 5 * time.Second
)

type healthz struct {
	Status   string `json:"status"`
	Tracked  int    `json:"tracked"`
	InFlight int    `json:"in_flight"`
	Waiting  int    `json:"waiting"`
}

func newMetricsRouter(reqs *reqlib.Manager) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(healthz{
			Status:   "ok",
			Tracked:  reqs.Tracked(),
			InFlight: reqs.Worker().InFlight(),
			Waiting:  reqs.Worker().Waiting(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// metricsServer exposes the prometheus registry while a command runs.
type metricsServer struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

func startMetricsServer(addr string, reqs *reqlib.Manager, l logger.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s := &metricsServer{
		srv: &http.Server{
			Handler:           newMetricsRouter(reqs),
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		},
		addr: ln.Addr(),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		l.Info("metrics listening on %s", s.addr)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("metrics server: %v", err)
		}
	}()
	return s, nil
}

func (s *metricsServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
