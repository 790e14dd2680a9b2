package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Poll metrics
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptrack_polls_total",
			Help: "Total server polls performed",
		},
		[]string{"server", "result"},
	)

	PollLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ptrack_poll_latency_seconds",
			Help:    "Server query round-trip latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"server"},
	)

	// Session metrics
	PlayersOnline = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ptrack_players_online",
			Help: "Players currently observed on each server",
		},
		[]string{"server"},
	)

	SessionsOpened = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptrack_sessions_opened_total",
			Help: "Total play sessions opened",
		},
		[]string{"server"},
	)

	SessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptrack_sessions_closed_total",
			Help: "Total play sessions closed",
		},
		[]string{"server"},
	)

	// Store metrics
	TrackedPlayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ptrack_tracked_players",
			Help: "Number of players with tracked history",
		},
	)

	StoreErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ptrack_store_errors_total",
			Help: "Total record store read/write errors",
		},
	)

	// Command metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ptrack_commands_total",
			Help: "Total commands dispatched",
		},
		[]string{"command", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		PollsTotal,
		PollLatency,
		PlayersOnline,
		SessionsOpened,
		SessionsClosed,
		TrackedPlayers,
		StoreErrors,
		CommandsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		mux: mux,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handle registers an additional handler on the server's mux. Must be
// called before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
