package player

import (
	"errors"
	"testing"
	"time"
)

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func TestLogonLogoffPairs(t *testing.T) {
	p := New("Alice")

	for i := 0; i < 5; i++ {
		start := at(1000 + int64(i)*100)
		if err := p.Logon("TTT", start); err != nil {
			t.Fatalf("logon %d: %v", i, err)
		}
		if !p.Online() {
			t.Fatalf("expected player online after logon %d", i)
		}
		if err := p.Logoff(start.Add(50 * time.Second)); err != nil {
			t.Fatalf("logoff %d: %v", i, err)
		}
	}

	if len(p.Sessions) != 5 {
		t.Fatalf("expected 5 closed sessions, got %d", len(p.Sessions))
	}
	if p.Online() {
		t.Fatal("expected player offline after final logoff")
	}
}

func TestLogonWhileOpenKeepsExistingSession(t *testing.T) {
	p := New("Bob")

	if err := p.Logon("TTT", at(1000)); err != nil {
		t.Fatalf("logon: %v", err)
	}
	err := p.Logon("JB", at(1100))
	if !errors.Is(err, ErrAlreadyOnline) {
		t.Fatalf("expected ErrAlreadyOnline, got %v", err)
	}
	if p.Current.Server != "TTT" {
		t.Fatalf("expected existing TTT session kept, got %q", p.Current.Server)
	}
}

func TestLogoffTwiceIsNoOp(t *testing.T) {
	p := New("Bob")

	if err := p.Logon("TTT", at(1000)); err != nil {
		t.Fatalf("logon: %v", err)
	}
	if err := p.Logoff(at(1500)); err != nil {
		t.Fatalf("logoff: %v", err)
	}
	err := p.Logoff(at(1600))
	if !errors.Is(err, ErrNotOnline) {
		t.Fatalf("expected ErrNotOnline, got %v", err)
	}
	if len(p.Sessions) != 1 {
		t.Fatalf("expected exactly 1 closed session, got %d", len(p.Sessions))
	}
}

func TestTimeSinceServerFilter(t *testing.T) {
	p := New("Alice")
	if err := p.Logon("TTT", at(1000)); err != nil {
		t.Fatalf("logon: %v", err)
	}
	if err := p.Logoff(at(1500)); err != nil {
		t.Fatalf("logoff: %v", err)
	}

	now := at(2000)
	if got := p.TimeSince(-1, "TTT", now); got != 500*time.Second {
		t.Fatalf("TimeSince(-1, TTT) = %v, want 500s", got)
	}
	if got := p.TimeSince(-1, "JB", now); got != 0 {
		t.Fatalf("TimeSince(-1, JB) = %v, want 0", got)
	}
}

func TestTimeSinceWindow(t *testing.T) {
	p := New("Alice")
	// Old session, entirely outside the window.
	p.Sessions = append(p.Sessions, Session{Server: "TTT", StartedAt: at(1000), EndedAt: at(1500)})
	// Recent session inside the window.
	p.Sessions = append(p.Sessions, Session{Server: "TTT", StartedAt: at(9000), EndedAt: at(9300)})

	now := at(10000)
	if got := p.TimeSince(-1, "", now); got != 800*time.Second {
		t.Fatalf("all-time total = %v, want 800s", got)
	}
	if got := p.TimeSince(2000*time.Second, "", now); got != 300*time.Second {
		t.Fatalf("windowed total = %v, want 300s", got)
	}
}

func TestTimeSinceIncludesOpenSession(t *testing.T) {
	p := New("Alice")
	if err := p.Logon("TTT", at(1000)); err != nil {
		t.Fatalf("logon: %v", err)
	}

	if got := p.TimeSince(-1, "", at(1200)); got != 200*time.Second {
		t.Fatalf("open-session total = %v, want 200s", got)
	}
	// Open session duration grows monotonically.
	if got := p.TimeSince(-1, "", at(1300)); got != 300*time.Second {
		t.Fatalf("open-session total = %v, want 300s", got)
	}
}

func TestWasOnlineDuring(t *testing.T) {
	p := New("Alice")
	p.Sessions = []Session{
		{Server: "TTT", StartedAt: at(1000), EndedAt: at(1500)},
		{Server: "JB", StartedAt: at(2000), EndedAt: at(2500)},
	}

	if server, ok := p.WasOnlineDuring(at(2100), at(2200)); !ok || server != "JB" {
		t.Fatalf("WasOnlineDuring(2100, 2200) = %q, %v; want JB", server, ok)
	}
	if server, ok := p.WasOnlineDuring(at(900), at(1100)); !ok || server != "TTT" {
		t.Fatalf("WasOnlineDuring(900, 1100) = %q, %v; want TTT", server, ok)
	}
	if _, ok := p.WasOnlineDuring(at(1600), at(1900)); ok {
		t.Fatal("expected no match in the gap between sessions")
	}
	if _, ok := p.WasOnlineDuring(at(3000), at(4000)); ok {
		t.Fatal("expected no match after the last session")
	}
}

func TestFirstAndLastSeen(t *testing.T) {
	p := New("Alice")

	if _, ok := p.FirstSeen(); ok {
		t.Fatal("expected no first-seen for empty history")
	}
	if _, ok := p.LastSeen(at(1000)); ok {
		t.Fatal("expected no last-seen for empty history")
	}

	p.Sessions = []Session{
		{Server: "TTT", StartedAt: at(1000), EndedAt: at(1500)},
		{Server: "TTT", StartedAt: at(2000), EndedAt: at(2500)},
	}

	first, ok := p.FirstSeen()
	if !ok || !first.Equal(at(1000)) {
		t.Fatalf("FirstSeen = %v, %v; want t=1000", first, ok)
	}
	last, ok := p.LastSeen(at(3000))
	if !ok || !last.Equal(at(2500)) {
		t.Fatalf("LastSeen = %v, %v; want t=2500", last, ok)
	}

	if err := p.Logon("TTT", at(3000)); err != nil {
		t.Fatalf("logon: %v", err)
	}
	last, ok = p.LastSeen(at(3100))
	if !ok || !last.Equal(at(3100)) {
		t.Fatalf("LastSeen while online = %v, %v; want now", last, ok)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	p := New("Some Player")
	p.Sessions = []Session{
		{Server: "TTT", StartedAt: at(1000), EndedAt: at(1500)},
		{Server: "JB", StartedAt: at(2000).Add(250 * time.Millisecond), EndedAt: at(2500)},
	}

	data := p.MarshalRecord(at(9999))
	got, err := ParseRecord(data)
	if err != nil {
		t.Fatalf("parse record: %v", err)
	}

	if got.Name != p.Name {
		t.Fatalf("expected name %q, got %q", p.Name, got.Name)
	}
	if len(got.Sessions) != len(p.Sessions) {
		t.Fatalf("expected %d sessions, got %d", len(p.Sessions), len(got.Sessions))
	}
	for i := range p.Sessions {
		want, have := p.Sessions[i], got.Sessions[i]
		if have.Server != want.Server {
			t.Fatalf("session %d: server %q != %q", i, have.Server, want.Server)
		}
		if !have.StartedAt.Equal(want.StartedAt) {
			t.Fatalf("session %d: start %v != %v", i, have.StartedAt, want.StartedAt)
		}
		if !have.EndedAt.Equal(want.EndedAt) {
			t.Fatalf("session %d: end %v != %v", i, have.EndedAt, want.EndedAt)
		}
	}
}

func TestMarshalRecordOpenSessionEndProxy(t *testing.T) {
	p := New("Alice")
	if err := p.Logon("TTT", at(1000)); err != nil {
		t.Fatalf("logon: %v", err)
	}

	got, err := ParseRecord(p.MarshalRecord(at(1400)))
	if err != nil {
		t.Fatalf("parse record: %v", err)
	}
	if len(got.Sessions) != 1 {
		t.Fatalf("expected open session written as one line, got %d", len(got.Sessions))
	}
	if !got.Sessions[0].EndedAt.Equal(at(1400)) {
		t.Fatalf("expected end proxy t=1400, got %v", got.Sessions[0].EndedAt)
	}
}

func TestParseRecordMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing brackets", "Alice\nTTT|+|1000|+|1500\n"},
		{"wrong field count", "Alice\n[TTT|+|1000]\n"},
		{"non-numeric start", "Alice\n[TTT|+|abc|+|1500]\n"},
		{"non-numeric end", "Alice\n[TTT|+|1000|+|xyz]\n"},
		{"empty record", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRecord([]byte(tc.data))
			if err == nil {
				t.Fatalf("expected parse error for %q", tc.data)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ParseError, got %T: %v", err, err)
			}
		})
	}
}
