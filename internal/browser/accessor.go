package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"whatt/internal/message"
	"whatt/internal/view"
)

// Accessor implements view.Accessor over a rod page. Every call evaluates
// a small script; no element handles are kept between calls.
type Accessor struct {
	page *rod.Page
	sel  Selectors
}

var _ view.Accessor = (*Accessor)(nil)

// NewAccessor returns an accessor over page.
func NewAccessor(page *rod.Page, sel Selectors) *Accessor {
	if sel.IDAttribute == "" {
		sel.IDAttribute = "data-id"
	}
	if sel.MarkerAttribute == "" {
		sel.MarkerAttribute = "data-pre-plain-text"
	}
	return &Accessor{page: page, sel: sel}
}

func (a *Accessor) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	res, err := a.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, errors.New("empty evaluation result")
	}
	return res, nil
}

// present reports whether selector matches an element.
func (a *Accessor) present(ctx context.Context, selector string) error {
	res, err := a.eval(ctx, `(sel) => document.querySelector(sel) !== null`, selector)
	if err != nil {
		return fmt.Errorf("query %q: %w", selector, err)
	}
	if !res.Value.Bool() {
		return view.ErrNotFound
	}
	return nil
}

func (a *Accessor) CurrentConversation(ctx context.Context) (view.Conversation, error) {
	if err := a.present(ctx, a.sel.Conversation); err != nil {
		return nil, err
	}
	return &conversation{a: a}, nil
}

func (a *Accessor) ConversationList(ctx context.Context) (view.ChatList, error) {
	if err := a.present(ctx, a.sel.ChatList); err != nil {
		return nil, err
	}
	return &chatList{a: a}, nil
}

func (a *Accessor) TextInput(ctx context.Context) (view.TextInput, error) {
	if err := a.present(ctx, a.sel.TextInput); err != nil {
		return nil, err
	}
	return &textInput{a: a}, nil
}

func (a *Accessor) SendControl(ctx context.Context) (view.SendControl, error) {
	if err := a.present(ctx, a.sel.SendControl); err != nil {
		return nil, err
	}
	return &sendControl{a: a}, nil
}

// snapshotJS serializes the last n children of the conversation container.
// Sub-structure lookups that throw leave their field null.
const snapshotJS = `(sel, idAttr, markerAttr, n) => {
	const chat = document.querySelector(sel);
	if (chat === null) return null;
	return Array.from(chat.children).slice(-n).map((el) => {
		const out = { id: el.getAttribute(idAttr) || "", label: null, text: null, reaction: null, images: [] };
		const marker = el.querySelector('[' + markerAttr + ']');
		if (marker === null) return out;
		out.label = marker.getAttribute(markerAttr);
		try {
			const body = marker.lastElementChild;
			out.text = body.children[body.childElementCount - 2].innerText;
		} catch (e) {}
		try {
			const quoted = marker.firstElementChild.firstElementChild.firstElementChild.lastElementChild.firstElementChild;
			if (quoted !== null) out.reaction = quoted.lastElementChild.innerText;
		} catch (e) {}
		out.images = Array.from(marker.querySelectorAll('[src^=data]')).map((img) => img.getAttribute('src'));
		return out;
	});
}`

type conversation struct{ a *Accessor }

func (c *conversation) Last(ctx context.Context, n int) ([]view.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	sel := c.a.sel
	res, err := c.a.eval(ctx, snapshotJS, sel.Conversation, sel.IDAttribute, sel.MarkerAttribute, n)
	if err != nil {
		return nil, fmt.Errorf("snapshot conversation: %w", err)
	}
	if res.Value.Nil() {
		return nil, view.ErrNotFound
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	var snaps []entrySnapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	entries := make([]view.Entry, 0, len(snaps))
	for i := range snaps {
		entries = append(entries, &snaps[i])
	}
	return entries, nil
}

var (
	errNoText     = errors.New("entry has no text node")
	errNoReaction = errors.New("entry has no quoted message")
)

// entrySnapshot is one serialized conversation entry.
type entrySnapshot struct {
	Identifier string   `json:"id"`
	Marker     *string  `json:"label"`
	Body       *string  `json:"text"`
	Quoted     *string  `json:"reaction"`
	Sources    []string `json:"images"`
}

func (e *entrySnapshot) ID() string { return e.Identifier }

func (e *entrySnapshot) Label() (string, bool) {
	if e.Marker == nil {
		return "", false
	}
	return *e.Marker, true
}

func (e *entrySnapshot) Text() (string, error) {
	if e.Body == nil {
		return "", errNoText
	}
	return *e.Body, nil
}

func (e *entrySnapshot) ReactionTarget() (string, error) {
	if e.Quoted == nil {
		return "", errNoReaction
	}
	return *e.Quoted, nil
}

func (e *entrySnapshot) Images() []message.ImageRef {
	refs := make([]message.ImageRef, 0, len(e.Sources))
	for _, src := range e.Sources {
		refs = append(refs, message.ImageRef{Source: src})
	}
	return refs
}

type chatList struct{ a *Accessor }

func (l *chatList) Items(ctx context.Context) ([]view.ChatItem, error) {
	res, err := l.a.eval(ctx, `(sel) => {
		const list = document.querySelector(sel);
		if (list === null) return null;
		return Array.from(list.children).map((el) => el.style.transform === 'translateY(0px)');
	}`, l.a.sel.ChatList)
	if err != nil {
		return nil, fmt.Errorf("read chat list: %w", err)
	}
	if res.Value.Nil() {
		return nil, view.ErrNotFound
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal chat list: %w", err)
	}
	var tops []bool
	if err := json.Unmarshal(raw, &tops); err != nil {
		return nil, fmt.Errorf("decode chat list: %w", err)
	}

	items := make([]view.ChatItem, 0, len(tops))
	for i, top := range tops {
		items = append(items, &chatItem{a: l.a, index: i, top: top})
	}
	return items, nil
}

type chatItem struct {
	a     *Accessor
	index int
	top   bool
}

func (i *chatItem) AtTop() bool { return i.top }

// Select dispatches mousedown on the row's inner clickable node, falling
// back to the row itself when the layout differs.
func (i *chatItem) Select(ctx context.Context) error {
	res, err := i.a.eval(ctx, `(sel, idx) => {
		const list = document.querySelector(sel);
		const row = list === null ? null : list.children[idx];
		if (!row) return false;
		let target = row;
		try {
			const inner = row.firstElementChild.firstElementChild.lastElementChild.firstElementChild.firstElementChild.firstElementChild.firstElementChild;
			if (inner) target = inner;
		} catch (e) {}
		target.dispatchEvent(new MouseEvent('mousedown', { bubbles: true }));
		return true;
	}`, i.a.sel.ChatList, i.index)
	if err != nil {
		return fmt.Errorf("select chat %d: %w", i.index, err)
	}
	if !res.Value.Bool() {
		return view.ErrNotFound
	}
	return nil
}

type textInput struct{ a *Accessor }

func (t *textInput) Content(ctx context.Context) (string, error) {
	res, err := t.a.eval(ctx, `(sel) => {
		const el = document.querySelector(sel);
		return el === null ? null : el.textContent;
	}`, t.a.sel.TextInput)
	if err != nil {
		return "", fmt.Errorf("read text input: %w", err)
	}
	if res.Value.Nil() {
		return "", view.ErrNotFound
	}
	return res.Value.Str(), nil
}

// SetContent replaces the compose box text and fires the input event the
// page listens for.
func (t *textInput) SetContent(ctx context.Context, text string) error {
	res, err := t.a.eval(ctx, `(sel, text) => {
		const el = document.querySelector(sel);
		if (el === null) return false;
		el.textContent = text;
		el.dispatchEvent(new InputEvent('input', { bubbles: true }));
		return true;
	}`, t.a.sel.TextInput, text)
	if err != nil {
		return fmt.Errorf("write text input: %w", err)
	}
	if !res.Value.Bool() {
		return view.ErrNotFound
	}
	return nil
}

type sendControl struct{ a *Accessor }

func (s *sendControl) Press(ctx context.Context) error {
	res, err := s.a.eval(ctx, `(sel) => {
		const el = document.querySelector(sel);
		if (el === null) return false;
		(el.closest('button') || el).click();
		return true;
	}`, s.a.sel.SendControl)
	if err != nil {
		return fmt.Errorf("press send: %w", err)
	}
	if !res.Value.Bool() {
		return view.ErrNotFound
	}
	return nil
}
