// Package admin exposes the HTTP endpoints of a distapsp process: prometheus
// metrics and single-pair lookups against the configured distance store.
package admin

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mpilab/distapsp/graph"
	"github.com/mpilab/distapsp/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	metricsEndpoint  = "/metrics"
	healthEndpoint   = "/healthz"
	distanceEndpoint = "/jobs/{job}/distance/{from:[0-9]+}/{to:[0-9]+}"
)

// Config encapsulates the settings for the admin server.
type Config struct {
	// The address to listen on.
	ListenAddr string

	// An optional store for serving distance lookups. If nil, lookups
	// fail with 503.
	Store store.DistanceStore

	// A logger instance to use. If not specified, a null logger will be
	// used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	if cfg.ListenAddr == "" {
		return xerrors.Errorf("listen address has not been specified")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: ioutil.Discard})
	}
	return nil
}

// Server implements the admin HTTP server.
type Server struct {
	cfg    Config
	router *mux.Router
}

// NewServer creates a new admin server with the specified config.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, xerrors.Errorf("admin server: config validation failed: %w", err)
	}

	srv := &Server{
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	srv.router.Handle(metricsEndpoint, promhttp.Handler()).Methods("GET")
	srv.router.HandleFunc(healthEndpoint, srv.health).Methods("GET")
	srv.router.HandleFunc(distanceEndpoint, srv.lookupDistance).Methods("GET")
	return srv, nil
}

// Handler returns the HTTP handler serving the admin endpoints.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves the admin endpoints until ctx expires.
func (s *Server) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.cfg.Logger.WithField("addr", l.Addr().String()).Info("starting admin server")
	if err = srv.Serve(l); err == http.ErrServerClosed {
		// Ignore error when the server shuts down.
		err = nil
	}

	return err
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// distanceResponse is the JSON body returned by distance lookups. Distance
// is omitted when the target is unreachable.
type distanceResponse struct {
	JobID     string `json:"job_id"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	Reachable bool   `json:"reachable"`
	Distance  *int64 `json:"distance,omitempty"`
}

func (s *Server) lookupDistance(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		http.Error(w, "no distance store configured", http.StatusServiceUnavailable)
		return
	}

	vars := mux.Vars(r)
	from, fromErr := strconv.Atoi(vars["from"])
	to, toErr := strconv.Atoi(vars["to"])
	if fromErr != nil || toErr != nil {
		http.Error(w, "invalid vertex index", http.StatusBadRequest)
		return
	}

	dist, err := s.cfg.Store.Distance(vars["job"], from, to)
	if err != nil {
		if xerrors.Is(err, store.ErrNotFound) {
			http.Error(w, "distance not found", http.StatusNotFound)
			return
		}
		s.cfg.Logger.WithField("err", err).Error("distance lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	res := distanceResponse{JobID: vars["job"], From: from, To: to}
	if dist != graph.Infinity {
		res.Reachable = true
		res.Distance = &dist
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}
