// Package store owns the in-memory collection of tracked players and its
// mapping onto the durable record store. It is the single mutation point
// for player state: the tracking loop drives transitions through Logon and
// Logoff, query paths read cloned snapshots, and Reload swaps in a fresh
// snapshot from storage as the durability checkpoint.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/ptrack/internal/player"
	"github.com/goodtune/ptrack/internal/storage"
)

// ErrUnknownPlayer is returned when an operation references a name with no
// tracked player behind it.
var ErrUnknownPlayer = errors.New("store: unknown player")

// ErrElsewhere is returned by a server-scoped Logoff when the player's open
// session belongs to a different server.
var ErrElsewhere = errors.New("store: session open on another server")

const lookupCacheSize = 256

// Store is the collection of all known players, keyed by exact name.
type Store struct {
	mu      sync.RWMutex
	records storage.RecordStore
	players map[string]*player.Player
	order   []string // insertion/load order, the tie-break for listings

	// lookups caches resolved fuzzy queries (slug -> canonical name) and is
	// purged whenever membership changes.
	lookups *lru.Cache[string, string]

	logger zerolog.Logger
}

// New creates an empty store over the given record backend.
func New(records storage.RecordStore, logger zerolog.Logger) *Store {
	cache, _ := lru.New[string, string](lookupCacheSize)
	return &Store{
		records: records,
		players: make(map[string]*player.Player),
		lookups: cache,
		logger:  logger.With().Str("component", "player-store").Logger(),
	}
}

// Load reads every durable record into memory. Malformed records are
// logged and skipped; one corrupt file must not take the rest down.
func (s *Store) Load(ctx context.Context) error {
	players, order, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.players = players
	s.order = order
	s.lookups.Purge()
	s.mu.Unlock()

	s.logger.Info().Int("players", len(order)).Msg("Loaded player records")
	return nil
}

// Reload is the durability checkpoint: it persists the in-memory state,
// rebuilds a fresh snapshot from storage, carries open sessions forward,
// and swaps the snapshot in atomically.
func (s *Store) Reload(ctx context.Context, now time.Time) error {
	if err := s.SaveAll(ctx, now); err != nil {
		s.logger.Error().Err(err).Msg("Checkpoint save failed, reloading anyway")
	}

	players, order, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An open session was persisted with now as its end proxy; re-open the
	// matching trailing session so the in-memory state stays authoritative.
	for name, old := range s.players {
		if old.Current == nil {
			continue
		}
		fresh, ok := players[name]
		if !ok || len(fresh.Sessions) == 0 {
			continue
		}
		last := fresh.Sessions[len(fresh.Sessions)-1]
		if last.Server == old.Current.Server && sameStart(last.StartedAt, old.Current.StartedAt) {
			fresh.Sessions = fresh.Sessions[:len(fresh.Sessions)-1]
			cur := *old.Current
			fresh.Current = &cur
		}
	}

	s.players = players
	s.order = order
	s.lookups.Purge()

	s.logger.Debug().Int("players", len(order)).Msg("Reloaded player snapshot")
	return nil
}

// sameStart compares session starts within the record codec's precision.
// Timestamps round-trip through 6-decimal epoch floats, so a reloaded start
// can drift a sub-microsecond amount from the in-memory one.
func sameStart(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Millisecond && d < time.Millisecond
}

func (s *Store) loadSnapshot(ctx context.Context) (map[string]*player.Player, []string, error) {
	records, err := s.records.List(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list records: %w", err)
	}

	players := make(map[string]*player.Player, len(records))
	order := make([]string, 0, len(records))
	for _, record := range records {
		p, err := player.ParseRecord(record.Data)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", record.Key).Msg("Skipping malformed player record")
			continue
		}
		if _, exists := players[p.Name]; exists {
			s.logger.Warn().Str("name", p.Name).Str("key", record.Key).Msg("Duplicate player record, keeping first")
			continue
		}
		players[p.Name] = p
		order = append(order, p.Name)
	}
	return players, order, nil
}

// Logon records a join for the named player, creating or loading the player
// on first sight. A join observed while a session is already open returns
// player.ErrAlreadyOnline with the existing session kept.
func (s *Store) Logon(ctx context.Context, name, server string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.getOrCreateLocked(ctx, name)
	if err != nil {
		return err
	}
	if err := p.Logon(server, now); err != nil {
		return err
	}
	return s.persistLocked(ctx, p, now)
}

// Logoff closes the named player's open session and persists the result,
// returning the closed session's length. A non-empty server closes the
// session only when it was opened there; a departure for a session held on
// another server returns ErrElsewhere. Returns ErrUnknownPlayer for
// untracked names and player.ErrNotOnline for duplicate leave events; every
// error path leaves state unchanged.
func (s *Store) Logoff(ctx context.Context, name, server string, now time.Time) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	if p.Current == nil {
		return 0, player.ErrNotOnline
	}
	if server != "" && p.Current.Server != server {
		return 0, fmt.Errorf("%w: %s is on %s", ErrElsewhere, name, p.Current.Server)
	}

	played := p.Current.Duration(now)
	if err := p.Logoff(now); err != nil {
		return 0, err
	}
	return played, s.persistLocked(ctx, p, now)
}

// getOrCreateLocked loads the durable record for an unseen name if one
// exists, otherwise starts a fresh player. Caller holds the write lock.
func (s *Store) getOrCreateLocked(ctx context.Context, name string) (*player.Player, error) {
	if p, ok := s.players[name]; ok {
		return p, nil
	}

	var p *player.Player
	data, err := s.records.Get(ctx, storage.Key(name))
	switch {
	case err == nil:
		p, err = player.ParseRecord(data)
		if err != nil {
			s.logger.Warn().Err(err).Str("name", name).Msg("Existing record is malformed, starting fresh")
			p = player.New(name)
		}
	case errors.Is(err, storage.ErrNotFound):
		p = player.New(name)
		s.logger.Info().Str("name", name).Msg("Tracking new player")
	default:
		return nil, fmt.Errorf("load record for %s: %w", name, err)
	}

	s.players[name] = p
	s.order = append(s.order, name)
	s.lookups.Purge()
	return p, nil
}

func (s *Store) persistLocked(ctx context.Context, p *player.Player, now time.Time) error {
	if err := s.records.Put(ctx, storage.Key(p.Name), p.MarshalRecord(now)); err != nil {
		return fmt.Errorf("persist %s: %w", p.Name, err)
	}
	return nil
}

// Persist writes one player's record by exact name.
func (s *Store) Persist(ctx context.Context, name string, now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	return s.persistLocked(ctx, p, now)
}

// SaveAll persists every player, collecting rather than aborting on
// individual failures so one full disk error cannot strand the rest.
func (s *Store) SaveAll(ctx context.Context, now time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var errs []error
	for _, name := range s.order {
		if err := s.persistLocked(ctx, s.players[name], now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns a copy of the player with the exact name.
func (s *Store) Get(name string) (*player.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[name]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Find resolves a player by fuzzy name: exact or slug-normalized match
// first, substring containment second. Among several substring matches the
// shortest canonical name wins, making the fallback deterministic.
func (s *Store) Find(name string) (*player.Player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slugged := storage.Key(name)
	if canonical, ok := s.lookups.Get(slugged); ok {
		if p, ok := s.players[canonical]; ok {
			return p.Clone(), true
		}
	}

	if p, ok := s.players[name]; ok {
		s.lookups.Add(slugged, name)
		return p.Clone(), true
	}
	for _, candidate := range s.order {
		if storage.Key(candidate) == slugged {
			s.lookups.Add(slugged, candidate)
			return s.players[candidate].Clone(), true
		}
	}

	var best, bestKey string
	for _, candidate := range s.order {
		key := storage.Key(candidate)
		if !strings.Contains(key, slugged) {
			continue
		}
		if best == "" || len(key) < len(bestKey) {
			best, bestKey = candidate, key
		}
	}
	if best == "" {
		return nil, false
	}
	s.lookups.Add(slugged, best)
	return s.players[best].Clone(), true
}

// Players returns copies of every tracked player in load order.
func (s *Store) Players() []*player.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*player.Player, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.players[name].Clone())
	}
	return out
}

// Len returns the number of tracked players.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Delete removes a player's durable record and drops the in-memory
// instance. The caller is responsible for operator confirmation.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, name)
	}
	if err := s.records.Delete(ctx, storage.Key(name)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete record %s: %w", name, err)
	}

	delete(s.players, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.lookups.Purge()

	s.logger.Info().Str("name", name).Msg("Deleted player data")
	return nil
}

// DeleteAll wipes every durable record and empties the store.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.records.DeleteAll(ctx); err != nil {
		return fmt.Errorf("delete all records: %w", err)
	}
	s.players = make(map[string]*player.Player)
	s.order = nil
	s.lookups.Purge()

	s.logger.Info().Msg("Deleted all player data")
	return nil
}
