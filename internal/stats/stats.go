// Package stats computes the aggregate views served by the query
// commands: playtime leaderboards, new-player lists, activity windows,
// and the data series behind the graph outputs.
package stats

import (
	"sort"
	"time"

	"github.com/goodtune/ptrack/internal/player"
	"github.com/goodtune/ptrack/internal/timespan"
)

// Entry is one leaderboard row.
type Entry struct {
	Name  string
	Total time.Duration
}

// Leaderboard ranks players by accumulated playtime within the window
// (negative window means all time), optionally restricted to one server.
// The sort is stable, so ties keep the input order.
func Leaderboard(players []*player.Player, window time.Duration, server string, now time.Time) []Entry {
	entries := make([]Entry, 0, len(players))
	for _, p := range players {
		entries = append(entries, Entry{Name: p.Name, Total: p.TimeSince(window, server, now)})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Total > entries[j].Total
	})
	return entries
}

// Rank returns the 1-based leaderboard position of the named player, or 0
// if the player is not on the board.
func Rank(entries []Entry, name string) int {
	for i, e := range entries {
		if e.Name == name {
			return i + 1
		}
	}
	return 0
}

// NewPlayer is a player first observed after some cutoff.
type NewPlayer struct {
	Name      string
	FirstSeen time.Time
}

// NewPlayersSince lists players whose first observation is at or after
// the cutoff, most recent first.
func NewPlayersSince(players []*player.Player, cutoff time.Time) []NewPlayer {
	var fresh []NewPlayer
	for _, p := range players {
		first, ok := p.FirstSeen()
		if !ok || first.Before(cutoff) {
			continue
		}
		fresh = append(fresh, NewPlayer{Name: p.Name, FirstSeen: first})
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].FirstSeen.After(fresh[j].FirstSeen)
	})
	return fresh
}

// PlaytimeBuckets splits the trailing span into width-sized buckets and
// sums each player session into the bucket holding its start, oldest
// bucket first. An open session counts up to now.
func PlaytimeBuckets(p *player.Player, span, width time.Duration, now time.Time) []time.Duration {
	if width <= 0 || span <= 0 {
		return nil
	}
	n := int((span + width - 1) / width)
	buckets := make([]time.Duration, n)
	earliest := now.Add(-span)

	add := func(s player.Session) {
		if s.StartedAt.Before(earliest) {
			return
		}
		i := int(s.StartedAt.Sub(earliest) / width)
		if i >= n {
			i = n - 1
		}
		buckets[i] += s.Duration(now)
	}

	for _, s := range p.Sessions {
		add(s)
	}
	if p.Current != nil {
		add(*p.Current)
	}
	return buckets
}

// ActiveWindow is the bucket in which a player accumulated the most
// playtime.
type ActiveWindow struct {
	Start time.Time
	End   time.Time
	Total time.Duration
}

// MostActiveWindow finds the width-sized bucket in the trailing span with
// the highest playtime. Ties go to the most recent bucket. ok is false
// when the player has no playtime in the span at all.
func MostActiveWindow(p *player.Player, span, width time.Duration, now time.Time) (ActiveWindow, bool) {
	buckets := PlaytimeBuckets(p, span, width, now)
	best, total := -1, time.Duration(0)
	for i, d := range buckets {
		if d >= total && d > 0 {
			best, total = i, d
		}
	}
	if best < 0 {
		return ActiveWindow{}, false
	}
	start := now.Add(-span).Add(time.Duration(best) * width)
	return ActiveWindow{Start: start, End: start.Add(width), Total: total}, true
}

// FrameCount is the number of players with playtime inside one trailing
// window.
type FrameCount struct {
	Window time.Duration // timespan.AllTime for the unbounded frame
	Count  int
}

// ActivityFrames counts, for a fixed ladder of trailing windows, how many
// players have any playtime on the server within each.
func ActivityFrames(players []*player.Player, server string, now time.Time) []FrameCount {
	windows := []time.Duration{
		timespan.Day,
		3 * timespan.Day,
		timespan.Week,
		timespan.Month,
		timespan.Year,
		timespan.AllTime,
	}

	frames := make([]FrameCount, 0, len(windows))
	for _, w := range windows {
		count := 0
		for _, p := range players {
			if p.TimeSince(w, server, now) > 0 {
				count++
			}
		}
		frames = append(frames, FrameCount{Window: w, Count: count})
	}
	return frames
}

// MapCount is a map name and how many times it was seen coming up.
type MapCount struct {
	Name   string
	Visits int
}

// TopMaps ranks map visit counts, most visited first with name as the
// tiebreak, truncated to limit entries.
func TopMaps(visits map[string]int, limit int) []MapCount {
	maps := make([]MapCount, 0, len(visits))
	for name, n := range visits {
		maps = append(maps, MapCount{Name: name, Visits: n})
	}
	sort.Slice(maps, func(i, j int) bool {
		if maps[i].Visits != maps[j].Visits {
			return maps[i].Visits > maps[j].Visits
		}
		return maps[i].Name < maps[j].Name
	})
	if limit > 0 && len(maps) > limit {
		maps = maps[:limit]
	}
	return maps
}

// PlayerCountSeries samples the trailing span at step intervals and
// counts how many players were observed on the server within the
// lookback window ending at each sample, oldest sample first.
func PlayerCountSeries(players []*player.Player, server string, span, step, lookback time.Duration, now time.Time) []int {
	if step <= 0 || span <= 0 {
		return nil
	}
	var counts []int
	for at := now.Add(-span); !at.After(now); at = at.Add(step) {
		count := 0
		for _, p := range players {
			if srv, ok := p.WasOnlineDuring(at.Add(-lookback), at); ok && srv == server {
				count++
			}
		}
		counts = append(counts, count)
	}
	return counts
}
