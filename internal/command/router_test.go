package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"whatt/internal/message"
)

func noop(context.Context, message.Message, []string) {}

func TestMatch_FirstRegisteredWins(t *testing.T) {
	r := NewRouter("!")
	r.Register("a", noop)
	r.Register("ab", noop)

	m, ok := r.Match("!ab hello")
	require.True(t, ok)
	require.Equal(t, "a", m.Name)
}

func TestMatch_ArgsSkipFirstToken(t *testing.T) {
	r := NewRouter("!")
	r.Register("greet", noop)

	m, ok := r.Match("!greet hello world")
	require.True(t, ok)
	require.Equal(t, "greet", m.Name)
	require.Equal(t, []string{"world"}, m.Args)
}

func TestArgs(t *testing.T) {
	tests := []struct {
		rest string
		want []string
	}{
		{"", []string{}},
		{" one", []string{}},
		{" one two three", []string{"two", "three"}},
		{"  one two", []string{"one", "two"}},
		{"suffix more", []string{"more"}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Args(tt.rest), "rest=%q", tt.rest)
	}
}

func TestMatch_NoMatch(t *testing.T) {
	r := NewRouter("!")
	r.Register("ping", noop)

	_, ok := r.Match("ping")
	require.False(t, ok)
	_, ok = r.Match("?ping")
	require.False(t, ok)
	_, ok = r.Match("")
	require.False(t, ok)
}

func TestMatch_CustomPrefix(t *testing.T) {
	r := NewRouter("/")
	r.Register("help", noop)

	_, ok := r.Match("!help")
	require.False(t, ok)
	m, ok := r.Match("/help me now")
	require.True(t, ok)
	require.Equal(t, []string{"now"}, m.Args)
}

func TestRegister_ReplaceKeepsOrder(t *testing.T) {
	r := NewRouter("!")
	var called string
	r.Register("a", noop)
	r.Register("b", noop)
	r.Register("a", func(context.Context, message.Message, []string) { called = "second a" })

	require.Equal(t, []string{"a", "b"}, r.Names())
	m, ok := r.Match("!a")
	require.True(t, ok)
	m.Handler(context.Background(), message.Message{}, m.Args)
	require.Equal(t, "second a", called)
}

func TestUnregister(t *testing.T) {
	r := NewRouter("!")
	r.Register("a", noop)
	r.Register("ab", noop)
	r.Unregister("a")
	r.Unregister("missing")

	m, ok := r.Match("!ab x y")
	require.True(t, ok)
	require.Equal(t, "ab", m.Name)
	require.Equal(t, []string{"y"}, m.Args)
	require.Equal(t, []string{"ab"}, r.Names())
}
