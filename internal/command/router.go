// Package command matches message text against a table of prefixed command
// names.
package command

import (
	"context"
	"strings"
	"sync"

	"whatt/internal/message"
)

// DefaultPrefix is the command prefix when none is configured.
const DefaultPrefix = "!"

// Handler runs a matched command.
type Handler func(ctx context.Context, msg message.Message, args []string)

// Match is the result of a successful lookup.
type Match struct {
	Name    string
	Handler Handler
	Args    []string
}

// Router holds commands in registration order. It is safe for concurrent use.
type Router struct {
	prefix string

	mu       sync.RWMutex
	order    []string
	handlers map[string]Handler
}

// NewRouter returns an empty router using prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		prefix:   prefix,
		handlers: make(map[string]Handler),
	}
}

// Prefix returns the configured prefix.
func (r *Router) Prefix() string { return r.prefix }

// Register adds or replaces a command. A replaced command keeps its place in
// the matching order.
func (r *Router) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.handlers[name] = h
}

// Unregister removes a command. Unknown names are ignored.
func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		return
	}
	delete(r.handlers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Names returns the registered names in matching order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Match returns the first registered command whose prefixed name is a
// literal prefix of text. Later commands are not considered, so with "a"
// registered before "ab", "!ab" matches "a".
func (r *Router) Match(text string) (Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		trigger := r.prefix + name
		if !strings.HasPrefix(text, trigger) {
			continue
		}
		return Match{
			Name:    name,
			Handler: r.handlers[name],
			Args:    Args(text[len(trigger):]),
		}, true
	}
	return Match{}, false
}

// Args splits what follows the trigger into arguments. The first token after
// the separating space is discarded: " hello world" yields ["world"].
func Args(rest string) []string {
	rest = strings.TrimPrefix(rest, " ")
	tokens := strings.Split(rest, " ")
	if len(tokens) <= 1 {
		return []string{}
	}
	return tokens[1:]
}
