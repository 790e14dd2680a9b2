package command

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/ptrack/internal/config"
	"github.com/goodtune/ptrack/internal/player"
	"github.com/goodtune/ptrack/internal/stats"
	"github.com/goodtune/ptrack/internal/store"
	"github.com/goodtune/ptrack/internal/timespan"
	"github.com/goodtune/ptrack/internal/tracker"
)

const dateLayout = "03:04:05 PM 01/02/2006"

// Env bundles the dependencies the command handlers share.
type Env struct {
	Store     *store.Store
	Tracker   *tracker.Tracker
	Servers   []config.ServerSpec
	Clock     tracker.Clock
	StartedAt time.Time
	Version   string
	Logger    zerolog.Logger
}

func (e *Env) isServer(name string) bool {
	for _, spec := range e.Servers {
		if spec.Name == name {
			return true
		}
	}
	return false
}

func (e *Env) serverNames() []string {
	names := make([]string, 0, len(e.Servers))
	for _, spec := range e.Servers {
		names = append(names, spec.Name)
	}
	return names
}

// RegisterAll wires every handler into the registry.
func RegisterAll(r *Registry, env *Env) {
	r.Register(&playtimeHandler{env})
	r.Register(&playerInfoHandler{env})
	r.Register(&newPlayersHandler{env})
	r.Register(&mostActiveHandler{env})
	r.Register(&statisticsHandler{env})
	r.Register(&graphHandler{env})
	r.Register(&saveHandler{env})
	r.Register(&refreshHandler{env})
	newDeleteHandler(env, r)
	r.Register(&helpHandler{env: env, registry: r})
}

// playtime

type playtimeHandler struct {
	env *Env
}

func (h *playtimeHandler) Name() string      { return "playtime" }
func (h *playtimeHandler) Aliases() []string { return []string{"pt"} }
func (h *playtimeHandler) Usage() string     { return "playtime [player] [server] [timespan]" }
func (h *playtimeHandler) Description() string {
	return "List players ranked by accumulated playtime"
}
func (h *playtimeHandler) AdminOnly() bool { return false }

func (h *playtimeHandler) Run(_ context.Context, req Request) (*Reply, error) {
	now := h.env.Clock.Now()

	// Arguments are positionally free: any arg naming a server filters by
	// it, any parsable span bounds the window, the rest is a player name.
	window := timespan.AllTime
	server := ""
	var nameParts []string
	for _, arg := range req.Args {
		if server == "" && h.env.isServer(arg) {
			server = arg
			continue
		}
		if window == timespan.AllTime {
			if d, err := timespan.Parse(arg); err == nil {
				window = d
				continue
			}
		}
		nameParts = append(nameParts, arg)
	}

	players := h.env.Store.Players()
	if len(players) == 0 {
		return &Reply{Title: "Leaderboard", Lines: []string{"No playtimes"}}, nil
	}
	entries := stats.Leaderboard(players, window, server, now)

	title := "Leaderboard"
	var scopes []string
	if server != "" {
		scopes = append(scopes, server)
	}
	if window != timespan.AllTime {
		scopes = append(scopes, timespan.Format(window))
	}
	if len(scopes) > 0 {
		title = fmt.Sprintf("Leaderboard (%s)", strings.Join(scopes, " | "))
	}

	reply := &Reply{Title: title}
	for i, e := range entries {
		reply.Lines = append(reply.Lines, fmt.Sprintf("%d. %s: %s", i+1, e.Name, timespan.Format(e.Total)))
	}

	if len(nameParts) > 0 {
		name := strings.Join(nameParts, " ")
		p, ok := h.env.Store.Find(name)
		if !ok {
			return nil, &UsageError{Usage: h.Usage(), Hint: fmt.Sprintf("unknown player %q", name)}
		}
		reply.Fields = append(reply.Fields, Field{
			Name:  "Rank",
			Value: fmt.Sprintf("#%d %s", stats.Rank(entries, p.Name), p.Name),
		})
	}
	return reply, nil
}

// playerinfo

type playerInfoHandler struct {
	env *Env
}

func (h *playerInfoHandler) Name() string        { return "playerinfo" }
func (h *playerInfoHandler) Aliases() []string   { return []string{"pi"} }
func (h *playerInfoHandler) Usage() string       { return "playerinfo <player>" }
func (h *playerInfoHandler) Description() string { return "Show one player's playtime profile" }
func (h *playerInfoHandler) AdminOnly() bool     { return false }

func (h *playerInfoHandler) Run(_ context.Context, req Request) (*Reply, error) {
	if len(req.Args) == 0 {
		return nil, &UsageError{Usage: h.Usage(), Hint: "specify a player to look up"}
	}
	name := strings.Join(req.Args, " ")
	p, ok := h.env.Store.Find(name)
	if !ok {
		return nil, &UsageError{Usage: h.Usage(), Hint: fmt.Sprintf("unknown player %q", name)}
	}

	now := h.env.Clock.Now()
	reply := &Reply{Title: p.Name + "'s Information"}

	reply.Lines = append(reply.Lines, "Online time since:")
	for _, w := range []time.Duration{timespan.Day, timespan.Week, timespan.Month} {
		reply.Lines = append(reply.Lines, fmt.Sprintf("%s: %s",
			timespan.Format(w), timespan.Format(p.TimeSince(w, "", now))))
	}

	if first, ok := p.FirstSeen(); ok {
		reply.Fields = append(reply.Fields, Field{Name: "First Seen", Value: first.Format(dateLayout)})
	}
	if last, ok := p.LastSeen(now); ok {
		reply.Fields = append(reply.Fields, Field{Name: "Last Seen", Value: last.Format(dateLayout)})
	}
	if p.Current != nil {
		reply.Fields = append(reply.Fields, Field{Name: "Online", Value: p.Current.Server})
	}

	reply.Fields = append(reply.Fields, Field{Name: "All Time", Value: serverBreakdown(p, now)})
	return reply, nil
}

// serverBreakdown totals playtime per server, busiest first.
func serverBreakdown(p *player.Player, now time.Time) string {
	totals := make(map[string]time.Duration)
	for _, s := range p.Sessions {
		totals[s.Server] += s.Duration(now)
	}
	if p.Current != nil {
		totals[p.Current.Server] += p.Current.Duration(now)
	}

	servers := make([]string, 0, len(totals))
	for srv := range totals {
		servers = append(servers, srv)
	}
	sort.Slice(servers, func(i, j int) bool {
		if totals[servers[i]] != totals[servers[j]] {
			return totals[servers[i]] > totals[servers[j]]
		}
		return servers[i] < servers[j]
	})

	var b strings.Builder
	for _, srv := range servers {
		fmt.Fprintf(&b, "%s: %s\n", srv, timespan.Format(totals[srv]))
	}
	return strings.TrimRight(b.String(), "\n")
}

// getnewplayers

type newPlayersHandler struct {
	env *Env
}

func (h *newPlayersHandler) Name() string        { return "getnewplayers" }
func (h *newPlayersHandler) Aliases() []string   { return []string{"gnp", "np", "new"} }
func (h *newPlayersHandler) Usage() string       { return "getnewplayers [timespan]" }
func (h *newPlayersHandler) Description() string { return "List players first seen recently" }
func (h *newPlayersHandler) AdminOnly() bool     { return false }

func (h *newPlayersHandler) Run(_ context.Context, req Request) (*Reply, error) {
	span := timespan.Day
	if len(req.Args) > 0 {
		parsed, err := timespan.Parse(strings.Join(req.Args, " "))
		if err != nil {
			return nil, &UsageError{Usage: h.Usage(), Hint: err.Error()}
		}
		span = parsed
	}

	now := h.env.Clock.Now()
	cutoff := now.Add(-span)
	fresh := stats.NewPlayersSince(h.env.Store.Players(), cutoff)

	reply := &Reply{Title: fmt.Sprintf("Players after %s", cutoff.Format(dateLayout))}
	for _, np := range fresh {
		reply.Lines = append(reply.Lines,
			fmt.Sprintf("%s joined %s ago", np.Name, timespan.Format(now.Sub(np.FirstSeen))))
	}
	if len(fresh) == 0 {
		reply.Lines = []string{"No new players"}
	}
	return reply, nil
}

// mostactive

type mostActiveHandler struct {
	env *Env
}

func (h *mostActiveHandler) Name() string        { return "mostactive" }
func (h *mostActiveHandler) Aliases() []string   { return []string{"ma", "active"} }
func (h *mostActiveHandler) Usage() string       { return "mostactive <player> [timespan] <period>" }
func (h *mostActiveHandler) Description() string { return "Find when a player was most active" }
func (h *mostActiveHandler) AdminOnly() bool     { return false }

func (h *mostActiveHandler) Run(_ context.Context, req Request) (*Reply, error) {
	if len(req.Args) < 2 {
		return nil, &UsageError{Usage: h.Usage(), Hint: "supply a player and a period"}
	}

	period, err := timespan.Parse(req.Args[len(req.Args)-1])
	if err != nil {
		return nil, &UsageError{Usage: h.Usage(), Hint: err.Error()}
	}

	span := timespan.Year
	nameEnd := len(req.Args) - 1
	if len(req.Args) > 2 {
		if parsed, err := timespan.Parse(req.Args[len(req.Args)-2]); err == nil {
			span = parsed
			nameEnd--
		}
	}

	name := strings.Join(req.Args[:nameEnd], " ")
	p, ok := h.env.Store.Find(name)
	if !ok {
		return nil, &UsageError{Usage: h.Usage(), Hint: fmt.Sprintf("unknown player %q", name)}
	}

	win, ok := stats.MostActiveWindow(p, span, period, h.env.Clock.Now())
	if !ok {
		return &Reply{
			Title: "Most Active",
			Lines: []string{fmt.Sprintf("%s has no playtime in the last %s.", p.Name, timespan.Format(span))},
		}, nil
	}

	return &Reply{
		Title: "Most Active",
		Lines: []string{fmt.Sprintf("%s was most active for %s from %s to %s, they achieved %s.",
			p.Name, timespan.Format(period),
			win.Start.Format(dateLayout), win.End.Format(dateLayout),
			timespan.Format(win.Total))},
	}, nil
}

// statistics

type statisticsHandler struct {
	env *Env
}

func (h *statisticsHandler) Name() string        { return "statistics" }
func (h *statisticsHandler) Aliases() []string   { return []string{"stats", "uptime"} }
func (h *statisticsHandler) Usage() string       { return "statistics [server]" }
func (h *statisticsHandler) Description() string { return "View tracker or per-server statistics" }
func (h *statisticsHandler) AdminOnly() bool     { return false }

func (h *statisticsHandler) Run(_ context.Context, req Request) (*Reply, error) {
	now := h.env.Clock.Now()

	if len(req.Args) == 0 {
		return &Reply{
			Title: "Statistics",
			Fields: []Field{
				{Name: "Total Players", Value: fmt.Sprintf("%d", h.env.Store.Len())},
				{Name: "Servers", Value: strings.Join(h.env.serverNames(), ", ")},
				{Name: "Version", Value: h.env.Version},
				{Name: "Uptime", Value: timespan.Format(now.Sub(h.env.StartedAt))},
			},
		}, nil
	}

	name := req.Args[0]
	snap, ok := h.env.Tracker.Snapshot(name)
	if !ok {
		return nil, &UsageError{Usage: h.Usage(), Hint: fmt.Sprintf("unknown server %q", name)}
	}

	players := h.env.Store.Players()
	reply := &Reply{Title: "Server Statistics " + name}

	reply.Lines = append(reply.Lines, "Total Players in:")
	for _, frame := range stats.ActivityFrames(players, name, now) {
		label := "All Time"
		if frame.Window != timespan.AllTime {
			label = timespan.Format(frame.Window)
		}
		reply.Lines = append(reply.Lines, fmt.Sprintf("%s: %d", label, frame.Count))
	}

	reply.Lines = append(reply.Lines, "", "Maps")
	for _, mc := range stats.TopMaps(snap.MapVisits, 5) {
		reply.Lines = append(reply.Lines, fmt.Sprintf("%s: %d", mc.Name, mc.Visits))
	}

	reply.Fields = append(reply.Fields, Field{Name: "Uptime", Value: fmt.Sprintf("%.2f%%", snap.Uptime())})
	if snap.Online {
		reply.Fields = append(reply.Fields, Field{Name: "Latency", Value: snap.LastLatency().String()})
	}

	// Latency history in milliseconds, oldest first, for plotting.
	for _, sample := range snap.Pings {
		reply.Series = append(reply.Series, float64(sample.Latency.Milliseconds()))
	}
	return reply, nil
}

// graph

type graphHandler struct {
	env *Env
}

func (h *graphHandler) Name() string        { return "graph" }
func (h *graphHandler) Aliases() []string   { return []string{"g"} }
func (h *graphHandler) Usage() string       { return "graph <player|server> [timespan] [period]" }
func (h *graphHandler) Description() string { return "Produce playtime or player-count graph data" }
func (h *graphHandler) AdminOnly() bool     { return false }

func (h *graphHandler) Run(_ context.Context, req Request) (*Reply, error) {
	if len(req.Args) == 0 {
		return nil, &UsageError{Usage: h.Usage(), Hint: "specify a player or server"}
	}

	now := h.env.Clock.Now()
	span := timespan.Month
	var period time.Duration

	// Trailing args that parse as spans set the window and bucket width.
	args := req.Args
	if len(args) > 1 {
		if d, err := timespan.Parse(args[len(args)-1]); err == nil {
			period = d
			args = args[:len(args)-1]
		}
	}
	if len(args) > 1 {
		if d, err := timespan.Parse(args[len(args)-1]); err == nil {
			span = d
			args = args[:len(args)-1]
		}
	}

	if h.env.isServer(args[0]) {
		if period == 0 {
			period = timespan.Hour
		}
		counts := stats.PlayerCountSeries(h.env.Store.Players(), args[0],
			span, period, 10*timespan.Minute, now)
		reply := &Reply{Title: args[0] + "'s Player Count"}
		for _, c := range counts {
			reply.Series = append(reply.Series, float64(c))
		}
		return reply, nil
	}

	if period == 0 {
		period = timespan.Day
	}
	name := strings.Join(args, " ")
	p, ok := h.env.Store.Find(name)
	if !ok {
		return nil, &UsageError{Usage: h.Usage(), Hint: fmt.Sprintf("no playtime data for %q", name)}
	}

	reply := &Reply{Title: fmt.Sprintf("%s's Playtime (%s)", p.Name, timespan.Format(span))}
	for _, d := range stats.PlaytimeBuckets(p, span, period, now) {
		reply.Series = append(reply.Series, d.Hours())
	}
	return reply, nil
}

// save

type saveHandler struct {
	env *Env
}

func (h *saveHandler) Name() string        { return "save" }
func (h *saveHandler) Aliases() []string   { return nil }
func (h *saveHandler) Usage() string       { return "save" }
func (h *saveHandler) Description() string { return "Persist all player data now" }
func (h *saveHandler) AdminOnly() bool     { return true }

func (h *saveHandler) Run(ctx context.Context, _ Request) (*Reply, error) {
	if err := h.env.Store.SaveAll(ctx, h.env.Clock.Now()); err != nil {
		return nil, fmt.Errorf("save player data: %w", err)
	}
	return &Reply{Title: "Save", Lines: []string{"Successfully saved player data."}}, nil
}

// refresh

type refreshHandler struct {
	env *Env
}

func (h *refreshHandler) Name() string        { return "refresh" }
func (h *refreshHandler) Aliases() []string   { return []string{"ref", "update"} }
func (h *refreshHandler) Usage() string       { return "refresh" }
func (h *refreshHandler) Description() string { return "Reload records and poll all servers now" }
func (h *refreshHandler) AdminOnly() bool     { return true }

func (h *refreshHandler) Run(ctx context.Context, _ Request) (*Reply, error) {
	if err := h.env.Store.Reload(ctx, h.env.Clock.Now()); err != nil {
		return nil, fmt.Errorf("reload player data: %w", err)
	}
	if h.env.Tracker != nil {
		h.env.Tracker.Refresh()
	}
	return &Reply{Title: "Refresh", Lines: []string{"Successfully updated playtimes manually."}}, nil
}

// deleteplaytime

const confirmTTL = time.Minute

type pendingDelete struct {
	target  string // exact player name, or "all"
	expires time.Time
}

type deleteHandler struct {
	env *Env

	mu      sync.Mutex
	pending map[string]pendingDelete
}

func newDeleteHandler(env *Env, r *Registry) {
	r.Register(&deleteHandler{env: env, pending: make(map[string]pendingDelete)})
}

func (h *deleteHandler) Name() string      { return "deleteplaytime" }
func (h *deleteHandler) Aliases() []string { return []string{"dp"} }
func (h *deleteHandler) Usage() string {
	return "deleteplaytime <player|all> | deleteplaytime confirm <token>"
}
func (h *deleteHandler) Description() string { return "Delete a player's playtime data" }
func (h *deleteHandler) AdminOnly() bool     { return true }

func (h *deleteHandler) Run(ctx context.Context, req Request) (*Reply, error) {
	if len(req.Args) == 0 {
		return nil, &UsageError{Usage: h.Usage(), Hint: "specify a username or all"}
	}

	if req.Args[0] == "confirm" {
		if len(req.Args) != 2 {
			return nil, &UsageError{Usage: h.Usage(), Hint: "confirm takes exactly one token"}
		}
		return h.confirm(ctx, req.Args[1])
	}

	target := strings.Join(req.Args, " ")
	if target != "all" {
		p, ok := h.env.Store.Find(target)
		if !ok {
			return nil, &UsageError{Usage: h.Usage(), Hint: fmt.Sprintf("%q was not found", target)}
		}
		target = p.Name
	}

	token := newToken()
	h.mu.Lock()
	h.pending[token] = pendingDelete{target: target, expires: h.env.Clock.Now().Add(confirmTTL)}
	h.mu.Unlock()

	return &Reply{
		Title: "Confirm Delete",
		Lines: []string{fmt.Sprintf("Do you really want to delete %s player data?", target)},
		Fields: []Field{
			{Name: "Confirm", Value: fmt.Sprintf("deleteplaytime confirm %s", token)},
		},
	}, nil
}

func (h *deleteHandler) confirm(ctx context.Context, token string) (*Reply, error) {
	h.mu.Lock()
	pd, ok := h.pending[token]
	delete(h.pending, token)
	h.mu.Unlock()

	if !ok || h.env.Clock.Now().After(pd.expires) {
		return nil, &UsageError{Usage: h.Usage(), Hint: "unknown or expired confirmation token"}
	}

	if pd.target == "all" {
		if err := h.env.Store.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("delete all player data: %w", err)
		}
		return &Reply{Title: "Delete", Lines: []string{"Successfully deleted all player data."}}, nil
	}

	if err := h.env.Store.Delete(ctx, pd.target); err != nil {
		return nil, fmt.Errorf("delete player data: %w", err)
	}
	return &Reply{
		Title: "Delete",
		Lines: []string{fmt.Sprintf("Successfully deleted player data of %s.", pd.target)},
	}, nil
}

func newToken() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// help

type helpHandler struct {
	env      *Env
	registry *Registry
}

func (h *helpHandler) Name() string        { return "help" }
func (h *helpHandler) Aliases() []string   { return nil }
func (h *helpHandler) Usage() string       { return "help" }
func (h *helpHandler) Description() string { return "List available commands" }
func (h *helpHandler) AdminOnly() bool     { return false }

func (h *helpHandler) Run(_ context.Context, req Request) (*Reply, error) {
	reply := &Reply{Title: "Help", Lines: []string{"Format: [command] <args>", ""}}
	for _, cmd := range h.registry.Handlers() {
		if cmd.AdminOnly() && !req.Admin {
			continue
		}
		line := fmt.Sprintf("%s - %s", cmd.Usage(), cmd.Description())
		if cmd.AdminOnly() {
			line += " (administrator)"
		}
		reply.Lines = append(reply.Lines, line)
		if aliases := cmd.Aliases(); len(aliases) > 0 {
			reply.Lines = append(reply.Lines, fmt.Sprintf("  aliases: %s", strings.Join(aliases, ", ")))
		}
	}
	return reply, nil
}
