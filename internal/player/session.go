package player

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldSeparator is the token between the fields of a serialized session.
// It is part of the on-disk format and must never change.
const FieldSeparator = "|+|"

// Session is one continuous presence interval of a player on one server.
// EndedAt is the zero time while the session is open; a closed session is
// never reopened.
type Session struct {
	Server    string
	StartedAt time.Time
	EndedAt   time.Time
}

// OpenSession starts a new open session on the given server.
func OpenSession(server string, now time.Time) Session {
	return Session{Server: server, StartedAt: now}
}

// Open reports whether the session has not ended yet.
func (s Session) Open() bool {
	return s.EndedAt.IsZero()
}

// Duration returns the session length, measuring open sessions up to asOf.
func (s Session) Duration(asOf time.Time) time.Duration {
	if s.Open() {
		return asOf.Sub(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// ParseError describes a malformed serialized session or player record.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("player: malformed record line %q: %s", e.Line, e.Reason)
}

// marshalSession renders a session as a bracketed record line. An open
// session is written with asOf as its end so the duration survives a
// crash-restart.
func marshalSession(s Session, asOf time.Time) string {
	end := s.EndedAt
	if s.Open() {
		end = asOf
	}
	return "[" + s.Server + FieldSeparator +
		formatEpoch(s.StartedAt) + FieldSeparator +
		formatEpoch(end) + "]"
}

// parseSession parses one bracketed record line into a closed session.
func parseSession(line string) (Session, error) {
	if len(line) < 2 || line[0] != '[' || line[len(line)-1] != ']' {
		return Session{}, &ParseError{Line: line, Reason: "missing brackets"}
	}

	fields := strings.Split(line[1:len(line)-1], FieldSeparator)
	if len(fields) != 3 {
		return Session{}, &ParseError{Line: line, Reason: fmt.Sprintf("expected 3 fields, got %d", len(fields))}
	}

	started, err := parseEpoch(fields[1])
	if err != nil {
		return Session{}, &ParseError{Line: line, Reason: "non-numeric start timestamp"}
	}
	ended, err := parseEpoch(fields[2])
	if err != nil {
		return Session{}, &ParseError{Line: line, Reason: "non-numeric end timestamp"}
	}

	return Session{Server: fields[0], StartedAt: started, EndedAt: ended}, nil
}

// formatEpoch writes a timestamp as fractional epoch seconds, the format the
// original data files use.
func formatEpoch(t time.Time) string {
	return strconv.FormatFloat(epochSeconds(t), 'f', 6, 64)
}

func parseEpoch(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
