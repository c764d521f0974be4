// Package viewtest provides in-memory implementations of the view
// interfaces for tests.
package viewtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"whatt/internal/message"
	"whatt/internal/view"
)

var errNoReaction = errors.New("viewtest: no reaction substructure")

// Entry is a fake conversation entry. A zero Marker means the metadata
// marker is missing; a nil Quoted means there is no reaction substructure.
type Entry struct {
	Identifier string
	Marker     string
	Body       string
	BodyErr    error
	Quoted     *string
	Pictures   []message.ImageRef
}

// NewEntry builds a well-formed entry labelled "[ts] sender:".
func NewEntry(id, ts, sender, text string) *Entry {
	return &Entry{
		Identifier: id,
		Marker:     fmt.Sprintf("[%s] %s: ", ts, sender),
		Body:       text,
	}
}

func (e *Entry) ID() string { return e.Identifier }

func (e *Entry) Label() (string, bool) {
	return e.Marker, e.Marker != ""
}

func (e *Entry) Text() (string, error) {
	if e.BodyErr != nil {
		return "", e.BodyErr
	}
	return e.Body, nil
}

func (e *Entry) ReactionTarget() (string, error) {
	if e.Quoted == nil {
		return "", errNoReaction
	}
	return *e.Quoted, nil
}

func (e *Entry) Images() []message.ImageRef { return e.Pictures }

// Conversation is an append-only fake chat.
type Conversation struct {
	mu      sync.Mutex
	entries []view.Entry
	reads   int
}

// Append adds entries at the newest end.
func (c *Conversation) Append(entries ...view.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entries...)
}

// Reads reports how many times Last was called.
func (c *Conversation) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func (c *Conversation) Last(_ context.Context, n int) ([]view.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	start := len(c.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]view.Entry, len(c.entries)-start)
	copy(out, c.entries[start:])
	return out, nil
}

// ChatItem is a fake chat-list row.
type ChatItem struct {
	mu       sync.Mutex
	Top      bool
	selected int
}

func (i *ChatItem) AtTop() bool { return i.Top }

func (i *ChatItem) Select(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.selected++
	return nil
}

// Selected reports how many times the row was selected.
func (i *ChatItem) Selected() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.selected
}

// ChatList is a fake chat list.
type ChatList struct {
	Rows []*ChatItem
}

func (l *ChatList) Items(context.Context) ([]view.ChatItem, error) {
	out := make([]view.ChatItem, 0, len(l.Rows))
	for _, r := range l.Rows {
		out = append(out, r)
	}
	return out, nil
}

// TextInput is a fake compose box that records every content it held.
type TextInput struct {
	// FailSet, when set, is consulted before the nth (1-based) SetContent
	// call; a non-nil result is returned and the content is left unchanged.
	FailSet func(n int) error

	mu      sync.Mutex
	content string
	history []string
	sets    int
}

// NewTextInput returns a compose box holding draft.
func NewTextInput(draft string) *TextInput {
	return &TextInput{content: draft}
}

func (t *TextInput) Content(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.content, nil
}

func (t *TextInput) SetContent(_ context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets++
	if t.FailSet != nil {
		if err := t.FailSet(t.sets); err != nil {
			return err
		}
	}
	t.content = text
	t.history = append(t.history, text)
	return nil
}

// History returns every value passed to SetContent.
func (t *TextInput) History() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.history...)
}

// SendButton records the compose box content each time it is pressed.
type SendButton struct {
	// PressErr is returned from Press instead of submitting.
	PressErr error

	mu    sync.Mutex
	input *TextInput
	sent  []string
}

// NewSendButton returns a button bound to input.
func NewSendButton(input *TextInput) *SendButton {
	return &SendButton{input: input}
}

func (b *SendButton) Press(ctx context.Context) error {
	if b.PressErr != nil {
		return b.PressErr
	}
	text, _ := b.input.Content(ctx)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, text)
	return nil
}

// Sent returns the texts submitted so far.
func (b *SendButton) Sent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

// Page is a fake view.Accessor. Nil fields are reported as
// view.ErrNotFound.
type Page struct {
	mu    sync.Mutex
	Chat  *Conversation
	Chats *ChatList
	Input *TextInput
	Send  *SendButton
}

// NewPage returns a page with an open, empty conversation, an empty compose
// box and a send button.
func NewPage() *Page {
	input := NewTextInput("")
	return &Page{
		Chat:  &Conversation{},
		Chats: &ChatList{},
		Input: input,
		Send:  NewSendButton(input),
	}
}

// CloseChat removes the open conversation.
func (p *Page) CloseChat() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Chat = nil
}

func (p *Page) CurrentConversation(context.Context) (view.Conversation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Chat == nil {
		return nil, view.ErrNotFound
	}
	return p.Chat, nil
}

func (p *Page) ConversationList(context.Context) (view.ChatList, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Chats == nil {
		return nil, view.ErrNotFound
	}
	return p.Chats, nil
}

func (p *Page) TextInput(context.Context) (view.TextInput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Input == nil {
		return nil, view.ErrNotFound
	}
	return p.Input, nil
}

func (p *Page) SendControl(context.Context) (view.SendControl, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Send == nil {
		return nil, view.ErrNotFound
	}
	return p.Send, nil
}
