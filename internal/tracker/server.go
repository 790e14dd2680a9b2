package tracker

import (
	"sort"
	"time"

	"github.com/goodtune/ptrack/internal/probe"
)

// PingSample is one latency observation. Offline polls record a zero
// latency with Online false; the ratio of online samples is the server's
// observed uptime.
type PingSample struct {
	At      time.Time
	Latency time.Duration
	Online  bool
}

const maxPingSamples = 4096

// ServerState is the tracker's view of one configured server: who is on
// it now, what map is running, and the observation history used by the
// statistics commands. It is owned by the tracking goroutine and never
// shared; readers get Snapshot copies.
type ServerState struct {
	Name string

	online  bool
	title   string
	roster  map[string]struct{}
	current string         // current map, empty when unknown
	visits  map[string]int // times each map was seen coming up
	maxSlot int
	pings   []PingSample
}

// NewServerState starts tracking a server with an empty roster.
func NewServerState(name string) *ServerState {
	return &ServerState{
		Name:   name,
		roster: make(map[string]struct{}),
		visits: make(map[string]int),
	}
}

// Diff compares a probe result against the known roster and returns who
// joined and who departed, both sorted. An offline status departs the
// entire roster: the players may still be on the box, but an unobservable
// session cannot keep accruing.
func (s *ServerState) Diff(status probe.Status) (joins, departs []string) {
	seen := make(map[string]struct{}, len(status.Players))
	if status.Online {
		for _, name := range status.Players {
			seen[name] = struct{}{}
			if _, ok := s.roster[name]; !ok {
				joins = append(joins, name)
			}
		}
	}
	for name := range s.roster {
		if _, ok := seen[name]; !ok {
			departs = append(departs, name)
		}
	}
	sort.Strings(joins)
	sort.Strings(departs)
	return joins, departs
}

// Apply folds a probe result into the state: roster, map visit counts,
// and the ping history.
func (s *ServerState) Apply(status probe.Status, now time.Time) {
	s.online = status.Online

	s.pings = append(s.pings, PingSample{At: now, Latency: status.Latency, Online: status.Online})
	if len(s.pings) > maxPingSamples {
		s.pings = s.pings[len(s.pings)-maxPingSamples:]
	}

	if !status.Online {
		s.roster = make(map[string]struct{})
		return
	}

	s.title = status.Title
	s.maxSlot = status.MaxPlayers

	roster := make(map[string]struct{}, len(status.Players))
	for _, name := range status.Players {
		roster[name] = struct{}{}
	}
	s.roster = roster

	if status.Map != "" {
		if status.Map != s.current {
			s.visits[status.Map]++
		}
		s.current = status.Map
	}
}

// Roster returns the current player names, sorted.
func (s *ServerState) Roster() []string {
	names := make([]string, 0, len(s.roster))
	for name := range s.roster {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerSnapshot is an immutable copy of a server's state for readers
// outside the tracking goroutine.
type ServerSnapshot struct {
	Name       string
	Online     bool
	Title      string
	Map        string
	Players    []string
	MaxPlayers int

	MapVisits map[string]int
	Pings     []PingSample
}

// Snapshot copies the state.
func (s *ServerState) Snapshot() ServerSnapshot {
	visits := make(map[string]int, len(s.visits))
	for m, n := range s.visits {
		visits[m] = n
	}
	pings := make([]PingSample, len(s.pings))
	copy(pings, s.pings)

	return ServerSnapshot{
		Name:       s.Name,
		Online:     s.online,
		Title:      s.title,
		Map:        s.current,
		Players:    s.Roster(),
		MaxPlayers: s.maxSlot,
		MapVisits:  visits,
		Pings:      pings,
	}
}

// Uptime is the fraction of polls that found the server reachable, in
// percent. A server never polled reports 100.
func (s ServerSnapshot) Uptime() float64 {
	if len(s.Pings) == 0 {
		return 100
	}
	up := 0
	for _, p := range s.Pings {
		if p.Online {
			up++
		}
	}
	return float64(up) / float64(len(s.Pings)) * 100
}

// LastLatency is the most recent latency observation, zero when the last
// poll found the server down.
func (s ServerSnapshot) LastLatency() time.Duration {
	if len(s.Pings) == 0 {
		return 0
	}
	return s.Pings[len(s.Pings)-1].Latency
}
