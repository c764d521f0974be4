// Package view defines the narrow capability interfaces the client uses to
// read the host page's conversation surface and to simulate user input.
//
// Implementations live elsewhere: internal/browser drives a live Chrome page
// via go-rod, internal/view/viewtest provides in-memory fakes for tests.
package view

import (
	"context"
	"errors"
	"strings"

	"whatt/internal/message"
)

// ErrNotFound is returned by an Accessor when the requested node is not
// present in the page right now.
var ErrNotFound = errors.New("view: node not found")

// Entry is one rendered conversation entry.
type Entry interface {
	// ID returns the entry identifier, or "" when the entry has none.
	ID() string
	message.ParsableEntry
}

// Conversation is the container of the currently open chat.
type Conversation interface {
	// Last returns up to n of the most recent entries in view order
	// (oldest first).
	Last(ctx context.Context, n int) ([]Entry, error)
}

// ChatItem is one row of the chat list.
type ChatItem interface {
	// AtTop reports whether the row is rendered at the top offset of the list.
	AtTop() bool
	// Select simulates the pointer action that opens the chat.
	Select(ctx context.Context) error
}

// ChatList is the list of chats shown beside the conversation.
type ChatList interface {
	Items(ctx context.Context) ([]ChatItem, error)
}

// TextInput is the compose box.
type TextInput interface {
	Content(ctx context.Context) (string, error)
	// SetContent replaces the content and fires the input event the host
	// application listens for.
	SetContent(ctx context.Context, text string) error
}

// SendControl is the submit button next to the compose box.
type SendControl interface {
	Press(ctx context.Context) error
}

// Accessor exposes the host page structure. Every method returns
// ErrNotFound (possibly wrapped) when the node is absent.
type Accessor interface {
	CurrentConversation(ctx context.Context) (Conversation, error)
	ConversationList(ctx context.Context) (ChatList, error)
	TextInput(ctx context.Context) (TextInput, error)
	SendControl(ctx context.Context) (SendControl, error)
}

// Origin classifies who produced an entry.
type Origin int

const (
	OriginUnknown Origin = iota
	OriginSelf
	OriginOther
)

// Identifier prefixes the host page uses to encode origin.
const (
	SelfPrefix  = "true_"
	OtherPrefix = "false_"
)

// OriginOf classifies an entry identifier by its prefix.
func OriginOf(id string) Origin {
	switch {
	case strings.HasPrefix(id, SelfPrefix):
		return OriginSelf
	case strings.HasPrefix(id, OtherPrefix):
		return OriginOther
	default:
		return OriginUnknown
	}
}

func (o Origin) String() string {
	switch o {
	case OriginSelf:
		return "self"
	case OriginOther:
		return "other"
	default:
		return "unknown"
	}
}
