// Package tracker runs the polling loop: it probes every configured
// server on an interval, diffs rosters into join and depart events, and
// drives session transitions on the player store.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/ptrack/internal/config"
	"github.com/goodtune/ptrack/internal/metrics"
	"github.com/goodtune/ptrack/internal/player"
	"github.com/goodtune/ptrack/internal/probe"
	"github.com/goodtune/ptrack/internal/store"
)

// Publisher receives player movement events as the tracker observes them.
// Implementations must not block; slow delivery stalls the poll loop.
type Publisher interface {
	// PlayerJoined fires when a player appears on a roster. firstSeen is
	// true the very first time this player is observed anywhere.
	PlayerJoined(server, name string, firstSeen bool)

	// PlayerDeparted fires when a player leaves a roster, with the length
	// of the session that just closed.
	PlayerDeparted(server, name string, played time.Duration)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) PlayerJoined(string, string, bool)            {}
func (NopPublisher) PlayerDeparted(string, string, time.Duration) {}

// LogPublisher writes join/depart events to the log, the delivery used
// when no chat transport is wired up.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) PlayerJoined(server, name string, firstSeen bool) {
	p.Logger.Info().
		Str("server", server).
		Str("player", name).
		Bool("first_seen", firstSeen).
		Msg("Player joined")
}

func (p LogPublisher) PlayerDeparted(server, name string, played time.Duration) {
	p.Logger.Info().
		Str("server", server).
		Str("player", name).
		Dur("played", played).
		Msg("Player departed")
}

// Tracker owns the poll and reload loops. Server state is confined to the
// tracking goroutine; readers get copies through Snapshots.
type Tracker struct {
	servers []config.ServerSpec
	states  map[string]*ServerState
	store   *store.Store
	prober  probe.Prober
	pub     Publisher
	clock   Clock

	pollEvery   time.Duration
	reloadEvery time.Duration

	logger   zerolog.Logger
	stopChan chan struct{}
	doneChan chan struct{}
	pollNow  chan chan struct{}

	mu    sync.RWMutex
	snaps map[string]ServerSnapshot
}

// New builds a tracker over the given servers and store.
func New(servers []config.ServerSpec, st *store.Store, prober probe.Prober, pub Publisher,
	clock Clock, pollEvery, reloadEvery time.Duration, logger zerolog.Logger) *Tracker {

	states := make(map[string]*ServerState, len(servers))
	snaps := make(map[string]ServerSnapshot, len(servers))
	for _, spec := range servers {
		states[spec.Name] = NewServerState(spec.Name)
		snaps[spec.Name] = states[spec.Name].Snapshot()
	}

	return &Tracker{
		servers:     servers,
		states:      states,
		store:       st,
		prober:      prober,
		pub:         pub,
		clock:       clock,
		pollEvery:   pollEvery,
		reloadEvery: reloadEvery,
		logger:      logger.With().Str("component", "tracker").Logger(),
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		pollNow:     make(chan chan struct{}),
		snaps:       snaps,
	}
}

// Start begins the tracking loop.
func (t *Tracker) Start() {
	go t.run()
	t.logger.Info().
		Int("servers", len(t.servers)).
		Dur("poll_interval", t.pollEvery).
		Dur("reload_interval", t.reloadEvery).
		Msg("Tracker started")
}

// Stop halts the loop and waits for the final checkpoint to finish.
func (t *Tracker) Stop() {
	close(t.stopChan)
	<-t.doneChan
	t.logger.Info().Msg("Tracker stopped")
}

// Refresh forces an immediate poll of all servers and waits for it to
// complete. Safe to call from other goroutines.
func (t *Tracker) Refresh() {
	ack := make(chan struct{})
	select {
	case t.pollNow <- ack:
		<-ack
	case <-t.stopChan:
	}
}

// Snapshots returns a copy of every server's current state, in the
// configured order.
func (t *Tracker) Snapshots() []ServerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]ServerSnapshot, 0, len(t.servers))
	for _, spec := range t.servers {
		out = append(out, t.snaps[spec.Name])
	}
	return out
}

// Snapshot returns one server's state by name.
func (t *Tracker) Snapshot(name string) (ServerSnapshot, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap, ok := t.snaps[name]
	return snap, ok
}

// run is the main tracking loop. All state mutation happens here, so the
// poll and reload paths never race each other.
func (t *Tracker) run() {
	defer close(t.doneChan)

	ctx := context.Background()

	pollTicker := time.NewTicker(t.pollEvery)
	defer pollTicker.Stop()
	reloadTicker := time.NewTicker(t.reloadEvery)
	defer reloadTicker.Stop()

	// First poll right away so status is populated before the first tick.
	t.PollAll(ctx)

	for {
		select {
		case <-pollTicker.C:
			t.PollAll(ctx)
		case <-reloadTicker.C:
			t.reload(ctx)
		case ack := <-t.pollNow:
			t.PollAll(ctx)
			close(ack)
		case <-t.stopChan:
			t.checkpoint(ctx)
			return
		}
	}
}

// PollAll probes every server once and applies the results in two phases:
// departures across every server first, then joins. A player moving from
// one server to another within a single cycle therefore has the old
// session closed before the new join opens the next one, regardless of the
// configured server order.
func (t *Tracker) PollAll(ctx context.Context) {
	now := t.clock.Now()

	polls := make([]pollResult, 0, len(t.servers))
	for _, spec := range t.servers {
		polls = append(polls, t.pollServer(ctx, spec))
	}

	for _, pr := range polls {
		for _, name := range pr.departs {
			t.departPlayer(ctx, pr.spec.Name, name, now)
		}
	}
	for _, pr := range polls {
		for _, name := range pr.joins {
			t.joinPlayer(ctx, pr.spec.Name, name, now)
		}
	}

	for _, pr := range polls {
		state := t.states[pr.spec.Name]
		state.Apply(pr.status, now)
		metrics.PlayersOnline.WithLabelValues(pr.spec.Name).Set(float64(len(state.roster)))

		t.mu.Lock()
		t.snaps[pr.spec.Name] = state.Snapshot()
		t.mu.Unlock()
	}

	metrics.TrackedPlayers.Set(float64(t.store.Len()))
}

type pollResult struct {
	spec    config.ServerSpec
	status  probe.Status
	joins   []string
	departs []string
}

// pollServer probes one server and diffs its roster without touching any
// session state.
func (t *Tracker) pollServer(ctx context.Context, spec config.ServerSpec) pollResult {
	status := t.prober.Probe(ctx, spec)

	result := "up"
	if !status.Online {
		result = "down"
	}
	metrics.PollsTotal.WithLabelValues(spec.Name, result).Inc()
	if status.Online {
		metrics.PollLatency.WithLabelValues(spec.Name).Observe(status.Latency.Seconds())
	}

	joins, departs := t.states[spec.Name].Diff(status)
	return pollResult{spec: spec, status: status, joins: joins, departs: departs}
}

// departPlayer closes the session a roster departure ends. The logoff is
// scoped to the departing server: a name whose open session lives on
// another server was never logged on here, so there is nothing to close.
func (t *Tracker) departPlayer(ctx context.Context, server, name string, now time.Time) {
	played, err := t.store.Logoff(ctx, name, server, now)
	if err != nil {
		if errors.Is(err, store.ErrElsewhere) {
			t.logger.Debug().Err(err).Str("server", server).Str("player", name).Msg("Departure for a session held elsewhere")
			return
		}
		if !errors.Is(err, player.ErrNotOnline) && !errors.Is(err, store.ErrUnknownPlayer) {
			metrics.StoreErrors.Inc()
		}
		t.logger.Warn().Err(err).Str("player", name).Msg("Failed to close session")
		return
	}
	metrics.SessionsClosed.WithLabelValues(server).Inc()
	t.pub.PlayerDeparted(server, name, played)
}

func (t *Tracker) joinPlayer(ctx context.Context, server, name string, now time.Time) {
	_, known := t.store.Get(name)
	if err := t.store.Logon(ctx, name, server, now); err != nil {
		if !errors.Is(err, player.ErrAlreadyOnline) {
			metrics.StoreErrors.Inc()
		}
		t.logger.Warn().Err(err).Str("player", name).Msg("Failed to open session")
		return
	}
	metrics.SessionsOpened.WithLabelValues(server).Inc()
	t.pub.PlayerJoined(server, name, !known)
}

func (t *Tracker) reload(ctx context.Context) {
	if err := t.store.Reload(ctx, t.clock.Now()); err != nil {
		metrics.StoreErrors.Inc()
		t.logger.Error().Err(err).Msg("Reload failed, keeping current snapshot")
	}
}

func (t *Tracker) checkpoint(ctx context.Context) {
	if err := t.store.SaveAll(ctx, t.clock.Now()); err != nil {
		metrics.StoreErrors.Inc()
		t.logger.Error().Err(err).Msg("Final checkpoint failed")
		return
	}
	t.logger.Info().Msg("Final checkpoint saved")
}
