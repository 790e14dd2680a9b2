package stats

import (
	"reflect"
	"testing"
	"time"

	"github.com/goodtune/ptrack/internal/player"
	"github.com/goodtune/ptrack/internal/timespan"
)

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func playerWith(t *testing.T, name string, sessions ...player.Session) *player.Player {
	t.Helper()

	p := player.New(name)
	for _, s := range sessions {
		if err := p.Logon(s.Server, s.StartedAt); err != nil {
			t.Fatalf("Logon failed: %v", err)
		}
		if err := p.Logoff(s.EndedAt); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}
	}
	return p
}

func sess(server string, start, end int64) player.Session {
	return player.Session{Server: server, StartedAt: at(start), EndedAt: at(end)}
}

func TestLeaderboardOrdering(t *testing.T) {
	players := []*player.Player{
		playerWith(t, "Short", sess("ttt", 0, 100)),
		playerWith(t, "Long", sess("ttt", 0, 1000)),
		playerWith(t, "Medium", sess("ttt", 0, 500)),
	}

	entries := Leaderboard(players, timespan.AllTime, "", at(2000))
	got := []string{entries[0].Name, entries[1].Name, entries[2].Name}
	if want := []string{"Long", "Medium", "Short"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
	if entries[0].Total != 1000*time.Second {
		t.Errorf("Expected 1000s, got %v", entries[0].Total)
	}
}

func TestLeaderboardStableOnTies(t *testing.T) {
	players := []*player.Player{
		playerWith(t, "First", sess("ttt", 0, 100)),
		playerWith(t, "Second", sess("ttt", 0, 100)),
	}

	entries := Leaderboard(players, timespan.AllTime, "", at(2000))
	if entries[0].Name != "First" || entries[1].Name != "Second" {
		t.Errorf("Expected tie to keep input order, got %v", entries)
	}
}

func TestLeaderboardServerFilter(t *testing.T) {
	players := []*player.Player{
		playerWith(t, "TTTOnly", sess("ttt", 0, 800)),
		playerWith(t, "JBOnly", sess("jb", 0, 900)),
	}

	entries := Leaderboard(players, timespan.AllTime, "jb", at(2000))
	if entries[0].Name != "JBOnly" || entries[0].Total != 900*time.Second {
		t.Errorf("Expected JBOnly at 900s, got %v", entries[0])
	}
	if entries[1].Total != 0 {
		t.Errorf("Expected zero jb time for TTTOnly, got %v", entries[1].Total)
	}
}

func TestRank(t *testing.T) {
	entries := []Entry{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	if got := Rank(entries, "B"); got != 2 {
		t.Errorf("Expected rank 2, got %d", got)
	}
	if got := Rank(entries, "Z"); got != 0 {
		t.Errorf("Expected rank 0 for unknown, got %d", got)
	}
}

func TestNewPlayersSince(t *testing.T) {
	players := []*player.Player{
		playerWith(t, "Old", sess("ttt", 100, 200)),
		playerWith(t, "Recent", sess("ttt", 5000, 5100)),
		playerWith(t, "Newest", sess("ttt", 8000, 8100)),
	}

	fresh := NewPlayersSince(players, at(1000))
	if len(fresh) != 2 {
		t.Fatalf("Expected 2 new players, got %d", len(fresh))
	}
	if fresh[0].Name != "Newest" || fresh[1].Name != "Recent" {
		t.Errorf("Expected newest first, got %v", fresh)
	}
}

func TestPlaytimeBuckets(t *testing.T) {
	p := playerWith(t, "Alice",
		sess("ttt", 150, 250), // second bucket of [0, 400) with width 100
		sess("ttt", 350, 380),
	)

	buckets := PlaytimeBuckets(p, 400*time.Second, 100*time.Second, at(400))
	if len(buckets) != 4 {
		t.Fatalf("Expected 4 buckets, got %d", len(buckets))
	}
	if buckets[1] != 100*time.Second {
		t.Errorf("Expected 100s in bucket 1, got %v", buckets[1])
	}
	if buckets[3] != 30*time.Second {
		t.Errorf("Expected 30s in bucket 3, got %v", buckets[3])
	}
	if buckets[0] != 0 || buckets[2] != 0 {
		t.Errorf("Expected empty buckets 0 and 2, got %v", buckets)
	}
}

func TestPlaytimeBucketsIncludesOpenSession(t *testing.T) {
	p := player.New("Alice")
	if err := p.Logon("ttt", at(350)); err != nil {
		t.Fatalf("Logon failed: %v", err)
	}

	buckets := PlaytimeBuckets(p, 400*time.Second, 100*time.Second, at(400))
	if buckets[3] != 50*time.Second {
		t.Errorf("Expected open session to count 50s, got %v", buckets[3])
	}
}

func TestMostActiveWindow(t *testing.T) {
	p := playerWith(t, "Alice",
		sess("ttt", 50, 80),
		sess("ttt", 210, 290), // the busiest bucket
	)

	win, ok := MostActiveWindow(p, 400*time.Second, 100*time.Second, at(400))
	if !ok {
		t.Fatal("Expected an active window")
	}
	if !win.Start.Equal(at(200)) || !win.End.Equal(at(300)) {
		t.Errorf("Expected window [200,300), got [%v,%v)", win.Start, win.End)
	}
	if win.Total != 80*time.Second {
		t.Errorf("Expected 80s, got %v", win.Total)
	}
}

func TestMostActiveWindowNoActivity(t *testing.T) {
	p := player.New("Ghost")
	if _, ok := MostActiveWindow(p, timespan.Week, timespan.Day, at(1000)); ok {
		t.Error("Expected no active window for a player with no sessions")
	}
}

func TestActivityFrames(t *testing.T) {
	now := at(0).Add(2 * timespan.Year)
	recent := now.Add(-2 * timespan.Hour)
	old := now.Add(-2 * timespan.Week)

	players := []*player.Player{
		playerWith(t, "Recent", player.Session{Server: "ttt", StartedAt: recent, EndedAt: recent.Add(timespan.Hour)}),
		playerWith(t, "Old", player.Session{Server: "ttt", StartedAt: old, EndedAt: old.Add(timespan.Hour)}),
		playerWith(t, "Elsewhere", player.Session{Server: "jb", StartedAt: recent, EndedAt: recent.Add(timespan.Hour)}),
	}

	frames := ActivityFrames(players, "ttt", now)
	if len(frames) != 6 {
		t.Fatalf("Expected 6 frames, got %d", len(frames))
	}
	if frames[0].Window != timespan.Day || frames[0].Count != 1 {
		t.Errorf("Expected 1 player in the last day, got %+v", frames[0])
	}
	if frames[3].Window != timespan.Month || frames[3].Count != 2 {
		t.Errorf("Expected 2 players in the last month, got %+v", frames[3])
	}
	if frames[5].Window != timespan.AllTime || frames[5].Count != 2 {
		t.Errorf("Expected 2 players all-time, got %+v", frames[5])
	}
}

func TestTopMaps(t *testing.T) {
	visits := map[string]int{
		"de_dust2":      5,
		"ttt_minecraft": 9,
		"cs_office":     5,
		"de_inferno":    1,
	}

	maps := TopMaps(visits, 3)
	want := []MapCount{
		{Name: "ttt_minecraft", Visits: 9},
		{Name: "cs_office", Visits: 5},
		{Name: "de_dust2", Visits: 5},
	}
	if !reflect.DeepEqual(maps, want) {
		t.Errorf("Expected %v, got %v", want, maps)
	}
}

func TestPlayerCountSeries(t *testing.T) {
	players := []*player.Player{
		playerWith(t, "Alice", sess("ttt", 100, 250)),
		playerWith(t, "Bob", sess("ttt", 150, 450)),
		playerWith(t, "Carol", sess("jb", 100, 450)),
	}

	counts := PlayerCountSeries(players, "ttt", 400*time.Second, 100*time.Second, 50*time.Second, at(500))
	// Samples at 100, 200, 300, 400, 500 with a 50s lookback. A session
	// ending exactly at a window edge still counts.
	want := []int{1, 2, 2, 1, 1}
	if !reflect.DeepEqual(counts, want) {
		t.Errorf("Expected %v, got %v", want, counts)
	}
}
