package tracker

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/ptrack/internal/config"
	"github.com/goodtune/ptrack/internal/probe"
	"github.com/goodtune/ptrack/internal/storage/file"
	"github.com/goodtune/ptrack/internal/store"
)

type fakeProber struct {
	statuses map[string]probe.Status
}

func (f *fakeProber) Probe(_ context.Context, spec config.ServerSpec) probe.Status {
	status, ok := f.statuses[spec.Name]
	if !ok {
		return probe.Status{Server: spec.Name}
	}
	return status
}

type recordedEvent struct {
	kind      string
	server    string
	player    string
	firstSeen bool
	played    time.Duration
}

type recordingPublisher struct {
	events []recordedEvent
}

func (r *recordingPublisher) PlayerJoined(server, name string, firstSeen bool) {
	r.events = append(r.events, recordedEvent{kind: "join", server: server, player: name, firstSeen: firstSeen})
}

func (r *recordingPublisher) PlayerDeparted(server, name string, played time.Duration) {
	r.events = append(r.events, recordedEvent{kind: "depart", server: server, player: name, played: played})
}

func online(server string, players ...string) probe.Status {
	return probe.Status{
		Server:  server,
		Online:  true,
		Title:   server + " #1",
		Map:     "de_dust2",
		Players: players,
		Latency: 25 * time.Millisecond,
	}
}

func newTestTracker(t *testing.T, servers []config.ServerSpec, prober probe.Prober, pub Publisher, clock Clock) (*Tracker, *store.Store) {
	t.Helper()

	records, err := file.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open file store: %v", err)
	}
	t.Cleanup(func() { records.Close() })

	st := store.New(records, zerolog.Nop())
	tr := New(servers, st, prober, pub, clock, 20*time.Second, 5*time.Minute, zerolog.Nop())
	return tr, st
}

func TestDiffJoinsAndDeparts(t *testing.T) {
	state := NewServerState("ttt")
	state.Apply(online("ttt", "Alice", "Bob"), time.Unix(1000, 0))

	joins, departs := state.Diff(online("ttt", "Bob", "Carol", "Dave"))
	if want := []string{"Carol", "Dave"}; !reflect.DeepEqual(joins, want) {
		t.Errorf("Expected joins %v, got %v", want, joins)
	}
	if want := []string{"Alice"}; !reflect.DeepEqual(departs, want) {
		t.Errorf("Expected departs %v, got %v", want, departs)
	}
}

func TestDiffOfflineDepartsEveryone(t *testing.T) {
	state := NewServerState("ttt")
	state.Apply(online("ttt", "Alice", "Bob"), time.Unix(1000, 0))

	joins, departs := state.Diff(probe.Status{Server: "ttt"})
	if len(joins) != 0 {
		t.Errorf("Expected no joins, got %v", joins)
	}
	if want := []string{"Alice", "Bob"}; !reflect.DeepEqual(departs, want) {
		t.Errorf("Expected departs %v, got %v", want, departs)
	}
}

func TestMapVisitCounts(t *testing.T) {
	state := NewServerState("ttt")
	now := time.Unix(1000, 0)

	apply := func(mapName string) {
		status := online("ttt")
		status.Map = mapName
		state.Apply(status, now)
		now = now.Add(20 * time.Second)
	}

	apply("de_dust2")
	apply("de_dust2") // same map, no new visit
	apply("ttt_minecraft")
	apply("de_dust2")

	snap := state.Snapshot()
	if snap.MapVisits["de_dust2"] != 2 {
		t.Errorf("Expected 2 visits to de_dust2, got %d", snap.MapVisits["de_dust2"])
	}
	if snap.MapVisits["ttt_minecraft"] != 1 {
		t.Errorf("Expected 1 visit to ttt_minecraft, got %d", snap.MapVisits["ttt_minecraft"])
	}
	if snap.Map != "de_dust2" {
		t.Errorf("Expected current map de_dust2, got %s", snap.Map)
	}
}

func TestOfflinePollKeepsLastMap(t *testing.T) {
	state := NewServerState("ttt")
	state.Apply(online("ttt", "Alice"), time.Unix(1000, 0))
	state.Apply(probe.Status{Server: "ttt"}, time.Unix(1020, 0))

	snap := state.Snapshot()
	if snap.Online {
		t.Error("Expected server to be offline")
	}
	if snap.Map != "de_dust2" {
		t.Errorf("Expected last known map to survive, got %q", snap.Map)
	}
	if len(snap.Players) != 0 {
		t.Errorf("Expected empty roster, got %v", snap.Players)
	}
}

func TestUptimeFromPingSamples(t *testing.T) {
	state := NewServerState("ttt")
	now := time.Unix(1000, 0)
	for i := 0; i < 3; i++ {
		state.Apply(online("ttt"), now)
		now = now.Add(20 * time.Second)
	}
	state.Apply(probe.Status{Server: "ttt"}, now)

	snap := state.Snapshot()
	if got := snap.Uptime(); got != 75 {
		t.Errorf("Expected 75%% uptime, got %v", got)
	}
	if snap.LastLatency() != 0 {
		t.Errorf("Expected zero latency for down sample, got %v", snap.LastLatency())
	}
}

func TestPollAllOpensAndClosesSessions(t *testing.T) {
	servers := []config.ServerSpec{{Name: "ttt", Host: "10.0.0.1", Port: 27015}}
	prober := &fakeProber{statuses: map[string]probe.Status{"ttt": online("ttt", "Alice")}}
	pub := &recordingPublisher{}
	clock := &TestClock{CurrentTime: time.Unix(1000, 0)}

	tr, st := newTestTracker(t, servers, prober, pub, clock)
	ctx := context.Background()

	tr.PollAll(ctx)

	p, ok := st.Get("Alice")
	if !ok || !p.Online() {
		t.Fatal("Expected Alice to have an open session")
	}

	clock.Advance(500 * time.Second)
	prober.statuses["ttt"] = online("ttt") // Alice left
	tr.PollAll(ctx)

	p, _ = st.Get("Alice")
	if p.Online() {
		t.Fatal("Expected Alice's session to be closed")
	}
	if got := p.TimeSince(-1, "", clock.Now()); got != 500*time.Second {
		t.Errorf("Expected 500s playtime, got %v", got)
	}

	want := []recordedEvent{
		{kind: "join", server: "ttt", player: "Alice", firstSeen: true},
		{kind: "depart", server: "ttt", player: "Alice", played: 500 * time.Second},
	}
	if !reflect.DeepEqual(pub.events, want) {
		t.Errorf("Expected events %v, got %v", want, pub.events)
	}
}

func TestPollAllFirstSeenOnlyOnce(t *testing.T) {
	servers := []config.ServerSpec{{Name: "ttt", Host: "10.0.0.1", Port: 27015}}
	prober := &fakeProber{statuses: map[string]probe.Status{"ttt": online("ttt", "Alice")}}
	pub := &recordingPublisher{}
	clock := &TestClock{CurrentTime: time.Unix(1000, 0)}

	tr, _ := newTestTracker(t, servers, prober, pub, clock)
	ctx := context.Background()

	tr.PollAll(ctx)
	clock.Advance(20 * time.Second)
	prober.statuses["ttt"] = online("ttt")
	tr.PollAll(ctx)
	clock.Advance(20 * time.Second)
	prober.statuses["ttt"] = online("ttt", "Alice")
	tr.PollAll(ctx)

	var joins []recordedEvent
	for _, ev := range pub.events {
		if ev.kind == "join" {
			joins = append(joins, ev)
		}
	}
	if len(joins) != 2 {
		t.Fatalf("Expected 2 joins, got %d", len(joins))
	}
	if !joins[0].firstSeen {
		t.Error("Expected first join to be first-seen")
	}
	if joins[1].firstSeen {
		t.Error("Expected second join to not be first-seen")
	}
}

func TestPollAllServerDownClosesAllSessions(t *testing.T) {
	servers := []config.ServerSpec{{Name: "ttt", Host: "10.0.0.1", Port: 27015}}
	prober := &fakeProber{statuses: map[string]probe.Status{"ttt": online("ttt", "Alice", "Bob")}}
	clock := &TestClock{CurrentTime: time.Unix(1000, 0)}

	tr, st := newTestTracker(t, servers, prober, NopPublisher{}, clock)
	ctx := context.Background()

	tr.PollAll(ctx)
	clock.Advance(100 * time.Second)
	prober.statuses["ttt"] = probe.Status{Server: "ttt"}
	tr.PollAll(ctx)

	for _, name := range []string{"Alice", "Bob"} {
		p, ok := st.Get(name)
		if !ok {
			t.Fatalf("Expected %s to be tracked", name)
		}
		if p.Online() {
			t.Errorf("Expected %s to be offline after server went down", name)
		}
	}
}

func TestPlayerMovesBetweenServers(t *testing.T) {
	servers := []config.ServerSpec{
		{Name: "jb", Host: "10.0.0.2", Port: 27015},
		{Name: "ttt", Host: "10.0.0.1", Port: 27015},
	}
	prober := &fakeProber{statuses: map[string]probe.Status{
		"ttt": online("ttt", "Alice"),
		"jb":  online("jb"),
	}}
	pub := &recordingPublisher{}
	clock := &TestClock{CurrentTime: time.Unix(1000, 0)}

	tr, st := newTestTracker(t, servers, prober, pub, clock)
	ctx := context.Background()

	tr.PollAll(ctx)
	clock.Advance(300 * time.Second)
	prober.statuses["ttt"] = online("ttt")
	prober.statuses["jb"] = online("jb", "Alice")
	tr.PollAll(ctx)

	p, _ := st.Get("Alice")
	if !p.Online() {
		t.Fatal("Expected Alice to be online on jb")
	}
	if p.Current.Server != "jb" {
		t.Errorf("Expected current server jb, got %s", p.Current.Server)
	}
	if got := p.TimeSince(-1, "ttt", clock.Now()); got != 300*time.Second {
		t.Errorf("Expected 300s on ttt, got %v", got)
	}

	// The ttt departure must land before the jb join, even though jb is
	// configured first.
	want := []recordedEvent{
		{kind: "join", server: "ttt", player: "Alice", firstSeen: true},
		{kind: "depart", server: "ttt", player: "Alice", played: 300 * time.Second},
		{kind: "join", server: "jb", player: "Alice"},
	}
	if !reflect.DeepEqual(pub.events, want) {
		t.Errorf("Expected events %v, got %v", want, pub.events)
	}
}

func TestDepartureOnOtherServerKeepsSession(t *testing.T) {
	servers := []config.ServerSpec{
		{Name: "jb", Host: "10.0.0.2", Port: 27015},
		{Name: "ttt", Host: "10.0.0.1", Port: 27015},
	}
	prober := &fakeProber{statuses: map[string]probe.Status{
		"ttt": online("ttt", "Alice"),
		"jb":  online("jb"),
	}}
	pub := &recordingPublisher{}
	clock := &TestClock{CurrentTime: time.Unix(1000, 0)}

	tr, st := newTestTracker(t, servers, prober, pub, clock)
	ctx := context.Background()

	tr.PollAll(ctx)

	// The name shows up on jb's roster while the session stays on ttt, then
	// leaves jb again. The resulting jb departure must not touch the ttt
	// session.
	clock.Advance(20 * time.Second)
	prober.statuses["jb"] = online("jb", "Alice")
	tr.PollAll(ctx)
	clock.Advance(20 * time.Second)
	prober.statuses["jb"] = online("jb")
	tr.PollAll(ctx)

	p, _ := st.Get("Alice")
	if !p.Online() {
		t.Fatal("Expected Alice's ttt session to stay open")
	}
	if p.Current.Server != "ttt" {
		t.Errorf("Expected current server ttt, got %s", p.Current.Server)
	}
	for _, ev := range pub.events {
		if ev.kind == "depart" {
			t.Errorf("Expected no departure events, got %v", ev)
		}
	}
}

func TestSnapshotsInConfiguredOrder(t *testing.T) {
	servers := []config.ServerSpec{
		{Name: "jb", Host: "10.0.0.2", Port: 27015},
		{Name: "ttt", Host: "10.0.0.1", Port: 27015},
	}
	prober := &fakeProber{statuses: map[string]probe.Status{
		"jb":  online("jb", "Bob"),
		"ttt": online("ttt", "Alice"),
	}}
	tr, _ := newTestTracker(t, servers, prober, NopPublisher{}, &TestClock{CurrentTime: time.Unix(1000, 0)})

	tr.PollAll(context.Background())

	snaps := tr.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Name != "jb" || snaps[1].Name != "ttt" {
		t.Errorf("Expected configured order [jb ttt], got [%s %s]", snaps[0].Name, snaps[1].Name)
	}
	if !reflect.DeepEqual(snaps[1].Players, []string{"Alice"}) {
		t.Errorf("Expected ttt roster [Alice], got %v", snaps[1].Players)
	}
}

func TestStartStopCheckpoints(t *testing.T) {
	servers := []config.ServerSpec{{Name: "ttt", Host: "10.0.0.1", Port: 27015}}
	prober := &fakeProber{statuses: map[string]probe.Status{"ttt": online("ttt", "Alice")}}
	tr, st := newTestTracker(t, servers, prober, NopPublisher{}, RealClock{})

	tr.Start()
	tr.Refresh()
	tr.Stop()

	if _, ok := st.Get("Alice"); !ok {
		t.Error("Expected Alice tracked after refresh")
	}
}

func ExampleServerSnapshot_Uptime() {
	state := NewServerState("ttt")
	state.Apply(probe.Status{Server: "ttt", Online: true}, time.Unix(0, 0))
	state.Apply(probe.Status{Server: "ttt"}, time.Unix(20, 0))
	fmt.Println(state.Snapshot().Uptime())
	// Output: 50
}
