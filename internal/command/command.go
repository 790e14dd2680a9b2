// Package command implements the chat-style query and admin commands and
// the registry that dispatches them by name or alias.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Dispatch failure sentinels.
var (
	ErrUnknownCommand   = errors.New("command: unknown command")
	ErrPermissionDenied = errors.New("command: administrator permission required")
)

// UsageError reports arguments that do not fit a command's grammar. The
// dispatcher renders it to the caller instead of treating it as a fault.
type UsageError struct {
	Usage string
	Hint  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage: %s (%s)", e.Usage, e.Hint)
}

// Request is one parsed command invocation.
type Request struct {
	Name  string
	Args  []string
	Admin bool
}

// Field is a labeled value in a reply.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Reply is the structured result of a command, shaped like the embeds the
// original chat surface rendered. Series carries graph data points for
// commands that produce a plot.
type Reply struct {
	Title  string    `json:"title"`
	Lines  []string  `json:"lines,omitempty"`
	Fields []Field   `json:"fields,omitempty"`
	Series []float64 `json:"series,omitempty"`
}

// Handler is one command implementation.
type Handler interface {
	Name() string
	Aliases() []string
	Usage() string
	Description() string
	AdminOnly() bool
	Run(ctx context.Context, req Request) (*Reply, error)
}

// Registry resolves command names and aliases to handlers.
type Registry struct {
	handlers []Handler
	byName   map[string]Handler
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Handler),
		logger: logger.With().Str("component", "command").Logger(),
	}
}

// Register adds a handler under its name and all aliases. Duplicate names
// panic; they are wiring mistakes, not runtime conditions.
func (r *Registry) Register(h Handler) {
	names := append([]string{h.Name()}, h.Aliases()...)
	for _, name := range names {
		key := strings.ToLower(name)
		if _, exists := r.byName[key]; exists {
			panic(fmt.Sprintf("command: duplicate registration of %q", key))
		}
		r.byName[key] = h
	}
	r.handlers = append(r.handlers, h)
}

// Resolve finds a handler by name or alias, case-insensitive.
func (r *Registry) Resolve(name string) (Handler, bool) {
	h, ok := r.byName[strings.ToLower(name)]
	return h, ok
}

// Handlers returns the registered handlers sorted by primary name.
func (r *Registry) Handlers() []Handler {
	out := make([]Handler, len(r.handlers))
	copy(out, r.handlers)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Dispatch parses a raw command line ("playtime 1d") and runs the matching
// handler, enforcing the admin gate.
func (r *Registry) Dispatch(ctx context.Context, line string, admin bool) (*Reply, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, ErrUnknownCommand
	}

	h, ok := r.Resolve(parts[0])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, parts[0])
	}
	if h.AdminOnly() && !admin {
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, h.Name())
	}

	req := Request{Name: h.Name(), Args: parts[1:], Admin: admin}
	r.logger.Info().
		Str("command", h.Name()).
		Strs("args", req.Args).
		Bool("admin", admin).
		Msg("Dispatching command")

	return h.Run(ctx, req)
}
