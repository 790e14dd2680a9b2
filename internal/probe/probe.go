// Package probe queries game servers over the Steam A2S protocol and
// reduces each query to the status snapshot the tracking loop consumes.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rumblefrog/go-a2s"

	"github.com/goodtune/ptrack/internal/config"
)

// Status is the outcome of one probe of one server. An offline server
// yields Online false with zero latency and an empty roster.
type Status struct {
	Server     string
	Online     bool
	Title      string
	Map        string
	Players    []string
	MaxPlayers int
	Latency    time.Duration
}

// Prober answers the current status of a configured server. Probe never
// returns an error; unreachable servers are a normal outcome, reported as
// an offline Status.
type Prober interface {
	Probe(ctx context.Context, spec config.ServerSpec) Status
}

// A2SProber probes over UDP with a fresh client per query. A2S endpoints
// are connectionless, so nothing is gained by holding clients open between
// polls.
type A2SProber struct {
	timeout time.Duration
	retries uint64
	logger  zerolog.Logger
}

// NewA2S builds a prober with the given per-query timeout and retry count.
func NewA2S(timeout time.Duration, retries uint64, logger zerolog.Logger) *A2SProber {
	return &A2SProber{
		timeout: timeout,
		retries: retries,
		logger:  logger.With().Str("component", "probe").Logger(),
	}
}

// Probe queries server info and the player roster. Transient failures are
// retried with exponential backoff before the server is declared offline.
func (p *A2SProber) Probe(ctx context.Context, spec config.ServerSpec) Status {
	status := Status{Server: spec.Name}

	var (
		info    *a2s.ServerInfo
		players *a2s.PlayerInfo
		latency time.Duration
	)
	query := func() error {
		var err error
		info, players, latency, err = p.queryOnce(spec)
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.retries), ctx)
	if err := backoff.Retry(query, policy); err != nil {
		p.logger.Debug().Err(err).Str("server", spec.Name).Msg("Server unreachable")
		return status
	}

	status.Online = true
	status.Title = info.Name
	status.Map = info.Map
	status.MaxPlayers = int(info.MaxPlayers)
	status.Latency = latency

	for _, pl := range players.Players {
		// Bots and players still connecting report empty names; they have
		// no identity to track.
		if pl.Name == "" {
			continue
		}
		status.Players = append(status.Players, pl.Name)
	}
	return status
}

func (p *A2SProber) queryOnce(spec config.ServerSpec) (*a2s.ServerInfo, *a2s.PlayerInfo, time.Duration, error) {
	client, err := a2s.NewClient(
		fmt.Sprintf("%s:%d", spec.Host, spec.Port),
		a2s.TimeoutOption(p.timeout),
	)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("a2s client: %w", err)
	}
	defer client.Close()

	started := time.Now()
	info, err := client.QueryInfo()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("query info: %w", err)
	}
	latency := time.Since(started)

	players, err := client.QueryPlayer()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("query players: %w", err)
	}
	return info, players, latency, nil
}
