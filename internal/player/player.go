// Package player holds the core session-tracking data model: an immutable-
// once-closed Session and the Player that owns an ordered history of them.
package player

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Duplicate-transition sentinels. Both leave the player's state untouched;
// callers log them and carry on.
var (
	ErrAlreadyOnline = errors.New("player: logon while a session is open")
	ErrNotOnline     = errors.New("player: logoff without an open session")
)

// Player owns the ordered session history of one tracked name. Sessions
// holds closed sessions in chronological order; Current is the single open
// session, nil while the player is offline. A player can be on at most one
// server at a time.
type Player struct {
	Name     string
	Sessions []Session
	Current  *Session
}

// New constructs a player with no recorded history.
func New(name string) *Player {
	return &Player{Name: name}
}

// Online reports whether the player has an open session.
func (p *Player) Online() bool {
	return p.Current != nil
}

// Logon opens a new session on the given server. If a session is already
// open the call is rejected with ErrAlreadyOnline and the existing session
// is kept; opening a second one would leak it.
func (p *Player) Logon(server string, now time.Time) error {
	if p.Current != nil {
		return ErrAlreadyOnline
	}
	s := OpenSession(server, now)
	p.Current = &s
	return nil
}

// Logoff closes the open session and appends it to the history. A logoff
// with no open session is rejected with ErrNotOnline, guarding against
// duplicate leave events.
func (p *Player) Logoff(now time.Time) error {
	if p.Current == nil {
		return ErrNotOnline
	}
	closed := *p.Current
	closed.EndedAt = now
	p.Sessions = append(p.Sessions, closed)
	p.Current = nil
	return nil
}

// TimeSince sums the durations of every session, closed or open, that
// started within the lookback window, optionally filtered to one server.
// A negative window (timespan.AllTime) means no lower bound.
func (p *Player) TimeSince(window time.Duration, server string, now time.Time) time.Duration {
	var cutoff time.Time
	if window >= 0 {
		cutoff = now.Add(-window)
	}

	var total time.Duration
	for _, s := range p.Sessions {
		if window >= 0 && s.StartedAt.Before(cutoff) {
			continue
		}
		if server != "" && s.Server != server {
			continue
		}
		total += s.Duration(now)
	}

	if p.Current != nil {
		s := *p.Current
		inWindow := window < 0 || !s.StartedAt.Before(cutoff)
		if inWindow && (server == "" || s.Server == server) {
			total += s.Duration(now)
		}
	}
	return total
}

// WasOnlineDuring returns the server of the most recent session overlapping
// [start, end]. Sessions are non-overlapping and time-ordered, so the scan
// runs newest-first and stops once a session ends before the range starts.
func (p *Player) WasOnlineDuring(start, end time.Time) (string, bool) {
	if p.Current != nil && !p.Current.StartedAt.After(end) {
		return p.Current.Server, true
	}
	for i := len(p.Sessions) - 1; i >= 0; i-- {
		s := p.Sessions[i]
		if s.EndedAt.Before(start) {
			break
		}
		if s.StartedAt.After(end) {
			continue
		}
		return s.Server, true
	}
	return "", false
}

// FirstSeen returns the start of the oldest recorded session.
func (p *Player) FirstSeen() (time.Time, bool) {
	if len(p.Sessions) > 0 {
		return p.Sessions[0].StartedAt, true
	}
	if p.Current != nil {
		return p.Current.StartedAt, true
	}
	return time.Time{}, false
}

// LastSeen returns now for an online player, otherwise the end of the most
// recent closed session.
func (p *Player) LastSeen(now time.Time) (time.Time, bool) {
	if p.Current != nil {
		return now, true
	}
	if len(p.Sessions) > 0 {
		return p.Sessions[len(p.Sessions)-1].EndedAt, true
	}
	return time.Time{}, false
}

// Clone returns an independent copy safe to read while the original keeps
// being mutated by the tracking loop.
func (p *Player) Clone() *Player {
	c := &Player{Name: p.Name}
	if len(p.Sessions) > 0 {
		c.Sessions = append([]Session(nil), p.Sessions...)
	}
	if p.Current != nil {
		cur := *p.Current
		c.Current = &cur
	}
	return c
}

// MarshalRecord serializes the player to the durable record format: the raw
// name on the first line, then one bracketed line per session in insertion
// order, the open session (if any) last with asOf as its end proxy.
func (p *Player) MarshalRecord(asOf time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteString(p.Name)
	buf.WriteByte('\n')
	for _, s := range p.Sessions {
		buf.WriteString(marshalSession(s, asOf))
		buf.WriteByte('\n')
	}
	if p.Current != nil {
		buf.WriteString(marshalSession(*p.Current, asOf))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseRecord reconstructs a player from a durable record. Session lines
// are assumed chronological (file order). Any malformed line aborts the
// load with a ParseError.
func ParseRecord(data []byte) (*Player, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, &ParseError{Line: "", Reason: "empty record"}
	}

	p := New(lines[0])
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		s, err := parseSession(line)
		if err != nil {
			return nil, fmt.Errorf("player %q: %w", p.Name, err)
		}
		p.Sessions = append(p.Sessions, s)
	}
	return p, nil
}
