package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"whatt/internal/command"
	"whatt/internal/events"
	"whatt/internal/kv"
	"whatt/internal/message"
	"whatt/internal/metrics"
	"whatt/internal/view"
	"whatt/internal/view/viewtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestClient(t *testing.T, page *viewtest.Page, store kv.Store, mutate func(*Options)) *Client {
	t.Helper()
	if store == nil {
		store = kv.NewMemory()
	}
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.PersistInterval = time.Hour
	if mutate != nil {
		mutate(&opts)
	}
	c, err := New(page, store, opts, WithLogger(zaptest.NewLogger(t)), WithID("test"))
	require.NoError(t, err)
	return c
}

// recorder collects dispatched messages per event.
type recorder struct {
	mu   sync.Mutex
	seen map[string][]string
}

func record(c *Client) *recorder {
	r := &recorder{seen: map[string][]string{}}
	for _, ev := range []string{events.Message, events.MessageSelf, events.MessageOther} {
		ev := ev
		c.On(ev, func(args ...any) {
			m := args[0].(message.Message)
			r.mu.Lock()
			defer r.mu.Unlock()
			r.seen[ev] = append(r.seen[ev], m.Content.Text)
		})
	}
	return r
}

func (r *recorder) texts(ev string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen[ev]...)
}

func TestNew_RejectsBadOptions(t *testing.T) {
	page := viewtest.NewPage()
	opts := DefaultOptions()
	opts.QueueMaxLength = 0
	_, err := New(page, kv.NewMemory(), opts)
	require.Error(t, err)

	_, err = New(nil, kv.NewMemory(), DefaultOptions())
	require.Error(t, err)

	_, err = New(page, nil, DefaultOptions())
	require.Error(t, err)
}

func TestTick_DispatchesEachEntryOnce(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, nil)
	rec := record(c)

	calls := 0
	c.RegisterCommand("ping", func(context.Context, message.Message, []string) { calls++ })

	page.Chat.Append(viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "!ping"))
	ctx := context.Background()
	c.tick(ctx)
	c.tick(ctx)
	c.tick(ctx)

	require.Equal(t, 1, calls)
	require.Equal(t, []string{"!ping"}, rec.texts(events.Message))
	require.Equal(t, []string{"!ping"}, rec.texts(events.MessageOther))
	require.Empty(t, rec.texts(events.MessageSelf))
}

func TestTick_NewestOnlyWithoutQueueMode(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, nil)
	rec := record(c)

	page.Chat.Append(
		viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "one"),
		viewtest.NewEntry("false_2", "10:01, 1/1/2024", "Ann", "two"),
		viewtest.NewEntry("false_3", "10:02, 1/1/2024", "Ann", "three"),
	)
	ctx := context.Background()
	c.tick(ctx)
	page.Chat.Append(viewtest.NewEntry("false_4", "10:03, 1/1/2024", "Ann", "four"))
	c.tick(ctx)

	require.Equal(t, []string{"three", "four"}, rec.texts(events.Message))
}

func TestTick_QueueModeDispatchesOldestFirst(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, func(o *Options) {
		o.QueueMode = true
		o.QueueMaxLength = 3
	})
	rec := record(c)

	for i, text := range []string{"a", "b", "c", "d", "e"} {
		id := "false_" + string(rune('1'+i))
		page.Chat.Append(viewtest.NewEntry(id, "10:00, 1/1/2024", "Ann", text))
	}
	c.tick(context.Background())
	c.tick(context.Background())

	require.Equal(t, []string{"c", "d", "e"}, rec.texts(events.Message))
}

func TestTick_OriginRouting(t *testing.T) {
	tests := []struct {
		name         string
		id           string
		selfCommands bool
		wantCommand  bool
		wantEvent    string
	}{
		{name: "self with self commands", id: "true_1", selfCommands: true, wantCommand: true, wantEvent: events.MessageSelf},
		{name: "self without self commands", id: "true_1", selfCommands: false, wantCommand: false, wantEvent: events.MessageSelf},
		{name: "other without self commands", id: "false_1", selfCommands: false, wantCommand: true, wantEvent: events.MessageOther},
		{name: "unknown origin with self commands", id: "abc", selfCommands: true, wantCommand: true, wantEvent: events.MessageOther},
		{name: "unknown origin without self commands", id: "abc", selfCommands: false, wantCommand: false, wantEvent: events.MessageOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := viewtest.NewPage()
			c := newTestClient(t, page, nil, func(o *Options) { o.SelfCommands = tt.selfCommands })
			rec := record(c)

			ran := false
			c.RegisterCommand("ping", func(context.Context, message.Message, []string) { ran = true })
			page.Chat.Append(viewtest.NewEntry(tt.id, "10:00, 1/1/2024", "Me", "!ping"))
			c.tick(context.Background())

			require.Equal(t, tt.wantCommand, ran)
			require.Equal(t, []string{"!ping"}, rec.texts(events.Message))
			require.Equal(t, []string{"!ping"}, rec.texts(tt.wantEvent))
		})
	}
}

func TestTick_CommandArgsAndEventOrder(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, nil)

	var order []string
	var gotArgs []string
	var gotSender string
	c.RegisterCommand("greet", func(_ context.Context, m message.Message, args []string) {
		order = append(order, "handler")
		gotArgs = args
		gotSender = m.Sender
	})
	c.OnCommand(func(name string, h command.Handler) {
		require.NotNil(t, h)
		order = append(order, "command:"+name)
	})
	c.OnMessage(func(message.Message) { order = append(order, "message") })
	c.OnOtherMessage(func(message.Message) { order = append(order, "message_other") })

	page.Chat.Append(viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Bob", "!greet hello world"))
	c.tick(context.Background())

	require.Equal(t, []string{"world"}, gotArgs)
	require.Equal(t, "Bob", gotSender)
	require.Equal(t, []string{"handler", "command:greet", "message", "message_other"}, order)
}

func TestTick_UnparseableEntryIsNotRetried(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, nil)
	rec := record(c)

	entry := viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "hello")
	marker := entry.Marker
	entry.Marker = ""
	page.Chat.Append(entry)
	c.tick(context.Background())

	entry.Marker = marker
	c.tick(context.Background())

	require.Empty(t, rec.texts(events.Message))
	require.True(t, c.seen.Has("false_1"))
}

func TestTick_SkipsEntriesWithoutID(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, nil)
	rec := record(c)

	page.Chat.Append(viewtest.NewEntry("", "10:00, 1/1/2024", "Ann", "hello"))
	c.tick(context.Background())

	require.Empty(t, rec.texts(events.Message))
	require.Equal(t, 0, c.seen.Len())
}

func TestTick_NoConversationIsNoop(t *testing.T) {
	page := viewtest.NewPage()
	page.CloseChat()
	c := newTestClient(t, page, nil, nil)
	rec := record(c)

	c.tick(context.Background())
	require.Empty(t, rec.texts(events.Message))
}

func TestTick_RecoversHandlerPanics(t *testing.T) {
	page := viewtest.NewPage()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg, "test")
	require.NoError(t, err)

	c, err := New(page, kv.NewMemory(), DefaultOptions(), WithMetrics(m), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	rec := record(c)

	c.RegisterCommand("boom", func(context.Context, message.Message, []string) { panic("kaboom") })
	c.OnMessage(func(message.Message) { panic("listener kaboom") })

	page.Chat.Append(viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "!boom"))
	require.NotPanics(t, func() { c.tick(context.Background()) })

	page.Chat.Append(viewtest.NewEntry("false_2", "10:01, 1/1/2024", "Ann", "after"))
	require.NotPanics(t, func() { c.tick(context.Background()) })

	require.Equal(t, []string{"!boom", "after"}, rec.texts(events.Message))
	require.Equal(t, []string{"!boom", "after"}, rec.texts(events.MessageOther))
	require.Equal(t, float64(3), testutil.ToFloat64(m.Panics))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Entries.WithLabelValues(metrics.OutcomeDispatched)))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Commands.WithLabelValues("boom")))
}

func TestFlush_PersistsAcrossRestart(t *testing.T) {
	store := kv.NewMemory()
	page := viewtest.NewPage()
	page.Chat.Append(viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "hello"))

	first := newTestClient(t, page, store, nil)
	first.tick(context.Background())
	first.flush()

	second := newTestClient(t, page, store, nil)
	rec := record(second)
	second.tick(context.Background())

	require.Empty(t, rec.texts(events.Message))
	require.True(t, second.seen.Has("false_1"))
}

func TestFlush_TruncatesToCapacity(t *testing.T) {
	store := kv.NewMemory()
	page := viewtest.NewPage()
	c := newTestClient(t, page, store, func(o *Options) { o.QueueMaxLength = 1 })

	for i := 0; i < 15; i++ {
		c.seen.Record(string(rune('a' + i)))
	}
	c.flush()
	require.Equal(t, 10, c.seen.Len())
	require.False(t, c.seen.Has("a"))
	require.True(t, c.seen.Has("o"))
}

func TestClient_Lifecycle(t *testing.T) {
	store := kv.NewMemory()
	page := viewtest.NewPage()
	c := newTestClient(t, page, store, nil)
	rec := record(c)

	inits := 0
	c.OnInit(func() { inits++ })
	require.Equal(t, StateIdle, c.State())

	require.NoError(t, c.Start(context.Background()))
	require.Equal(t, 1, inits)
	require.Equal(t, StateRunning, c.State())
	require.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)

	page.Chat.Append(viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "hello"))
	require.Eventually(t, func() bool {
		return len(rec.texts(events.Message)) == 1
	}, time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
	c.Wait()
	require.Equal(t, StateStopped, c.State())
	require.ErrorIs(t, c.Start(context.Background()), ErrStopped)

	raw, ok, err := store.Get(c.Options().PersistKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `["false_1"]`, raw)
}

func TestClient_StopFromHandler(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, nil)

	c.RegisterCommand("quit", func(context.Context, message.Message, []string) { c.Stop() })
	require.NoError(t, c.Start(context.Background()))
	page.Chat.Append(viewtest.NewEntry("false_1", "10:00, 1/1/2024", "Ann", "!quit"))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not stop")
	}
	require.Equal(t, StateStopped, c.State())
}

func TestClient_StopBeforeStart(t *testing.T) {
	c := newTestClient(t, viewtest.NewPage(), nil, nil)
	c.Stop()
	c.Wait()
	require.ErrorIs(t, c.Start(context.Background()), ErrStopped)
}

func TestClient_ParentContextStopsLoop(t *testing.T) {
	c := newTestClient(t, viewtest.NewPage(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()
	c.Wait()
}

func TestSendMessage_RestoresDraft(t *testing.T) {
	page := viewtest.NewPage()
	page.Input = viewtest.NewTextInput("half-written")
	page.Send = viewtest.NewSendButton(page.Input)
	c := newTestClient(t, page, nil, nil)

	require.NoError(t, c.SendMessage(context.Background(), "pong"))

	require.Equal(t, []string{"pong"}, page.Send.Sent())
	draft, err := page.Input.Content(context.Background())
	require.NoError(t, err)
	require.Equal(t, "half-written", draft)
}

func TestSendMessage_NoSendControl(t *testing.T) {
	page := viewtest.NewPage()
	page.Input = viewtest.NewTextInput("draft")
	page.Send = nil
	c := newTestClient(t, page, nil, nil)

	require.NoError(t, c.SendMessage(context.Background(), "pong"))
	require.Equal(t, []string{"pong", "draft"}, page.Input.History())
}

func TestSendMessage_NoSendControlRestoreFails(t *testing.T) {
	page := viewtest.NewPage()
	page.Input = viewtest.NewTextInput("draft")
	page.Input.FailSet = func(n int) error {
		if n == 2 {
			return errors.New("input detached")
		}
		return nil
	}
	page.Send = nil
	c := newTestClient(t, page, nil, nil)

	err := c.SendMessage(context.Background(), "pong")
	require.Error(t, err)
	require.Contains(t, err.Error(), "restore draft")
	require.NotErrorIs(t, err, errNoSendControl)

	content, _ := page.Input.Content(context.Background())
	require.Equal(t, "pong", content)
}

func TestSendMessage_ControlVanishesBeforePress(t *testing.T) {
	page := viewtest.NewPage()
	page.Input = viewtest.NewTextInput("draft")
	page.Send = viewtest.NewSendButton(page.Input)
	page.Send.PressErr = fmt.Errorf("click: %w", view.ErrNotFound)
	c := newTestClient(t, page, nil, nil)

	require.NoError(t, c.SendMessage(context.Background(), "pong"))
	require.Empty(t, page.Send.Sent())
	require.Equal(t, []string{"pong", "draft"}, page.Input.History())
}

func TestSendMessage_NoTextInput(t *testing.T) {
	page := viewtest.NewPage()
	page.Input = nil
	c := newTestClient(t, page, nil, nil)

	err := c.SendMessage(context.Background(), "pong")
	require.ErrorIs(t, err, view.ErrNotFound)
}

func TestSendMessage_RateLimited(t *testing.T) {
	page := viewtest.NewPage()
	c := newTestClient(t, page, nil, func(o *Options) {
		o.SendRate = 0.001
		o.SendBurst = 1
	})

	require.NoError(t, c.SendMessage(context.Background(), "one"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.SendMessage(ctx, "two")
	require.Error(t, err)
	require.Equal(t, []string{"one"}, page.Send.Sent())
}

func TestGotoNewestChat(t *testing.T) {
	page := viewtest.NewPage()
	rows := []*viewtest.ChatItem{{}, {Top: true}, {Top: true}}
	page.Chats = &viewtest.ChatList{Rows: rows}
	c := newTestClient(t, page, nil, nil)

	require.NoError(t, c.GotoNewestChat(context.Background()))
	require.Equal(t, 0, rows[0].Selected())
	require.Equal(t, 1, rows[1].Selected())
	require.Equal(t, 0, rows[2].Selected())
}

func TestGotoNewestChat_NoTopRow(t *testing.T) {
	page := viewtest.NewPage()
	page.Chats = &viewtest.ChatList{Rows: []*viewtest.ChatItem{{}, {}}}
	c := newTestClient(t, page, nil, nil)

	err := c.GotoNewestChat(context.Background())
	require.True(t, errors.Is(err, ErrNoNewestChat))

	page.Chats = nil
	err = c.GotoNewestChat(context.Background())
	require.ErrorIs(t, err, ErrNoNewestChat)
	require.ErrorIs(t, err, view.ErrNotFound)
}
