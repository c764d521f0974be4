// Package client composes the poller, seen-set, command router and event bus
// into the automation client.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"whatt/internal/command"
	"whatt/internal/events"
	"whatt/internal/kv"
	"whatt/internal/logging"
	"whatt/internal/message"
	"whatt/internal/metrics"
	"whatt/internal/seen"
	"whatt/internal/view"
)

var (
	ErrAlreadyStarted = errors.New("client already started")
	ErrStopped        = errors.New("client stopped")
	ErrNoNewestChat   = errors.New("no chat at the top of the list")
)

// Options configures a Client. It is copied at construction and never
// changes afterwards.
type Options struct {
	Prefix          string
	SelfCommands    bool
	QueueMode       bool
	QueueMaxLength  int
	PollInterval    time.Duration
	PersistInterval time.Duration
	// PersistKey is the storage slot of the seen-set. Clients sharing one
	// kv.Store need distinct keys.
	PersistKey string
	// SendRate limits SendMessage to this many calls per second; 0 disables
	// limiting.
	SendRate  float64
	SendBurst int
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		Prefix:          command.DefaultPrefix,
		SelfCommands:    true,
		QueueMode:       false,
		QueueMaxLength:  5,
		PollInterval:    100 * time.Millisecond,
		PersistInterval: 10 * time.Second,
		PersistKey:      seen.DefaultKey,
	}
}

func (o Options) validate() error {
	if o.QueueMaxLength <= 0 {
		return fmt.Errorf("queue max length must be positive, got %d", o.QueueMaxLength)
	}
	if o.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", o.PollInterval)
	}
	if o.PersistInterval <= 0 {
		return fmt.Errorf("persist interval must be positive, got %v", o.PersistInterval)
	}
	if o.SendRate < 0 {
		return fmt.Errorf("send rate must not be negative, got %v", o.SendRate)
	}
	return nil
}

// State is the lifecycle position of a Client.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger logs through l with every category enabled.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logs = logging.NewSet(l, logging.Options{}) }
}

// WithLogSet logs through the categorized loggers of s.
func WithLogSet(s *logging.Set) Option {
	return func(c *Client) { c.logs = s }
}

// WithMetrics records into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithID sets the instance identifier used in logs. Defaults to a UUID.
func WithID(id string) Option {
	return func(c *Client) { c.id = id }
}

// Client watches one conversation surface and dispatches new entries.
type Client struct {
	id      string
	opts    Options
	view    view.Accessor
	store   *seen.Store
	seen    *seen.Set
	router  *command.Router
	bus     events.Bus
	limiter *rate.Limiter
	metrics *metrics.Metrics

	logs      *logging.Set
	pollLog   *zap.Logger
	parserLog *zap.Logger
	routerLog *zap.Logger
	storeLog  *zap.Logger
	sendLog   *zap.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an idle client and loads the persisted seen-set from backend.
// Polling and the init event begin with Start.
func New(accessor view.Accessor, backend kv.Store, opts Options, options ...Option) (*Client, error) {
	if accessor == nil {
		return nil, errors.New("view accessor required")
	}
	if backend == nil {
		return nil, errors.New("kv store required")
	}
	if opts.Prefix == "" {
		opts.Prefix = command.DefaultPrefix
	}
	if opts.PersistKey == "" {
		opts.PersistKey = seen.DefaultKey
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid client options: %w", err)
	}

	c := &Client{
		opts:   opts,
		view:   accessor,
		router: command.NewRouter(opts.Prefix),
		done:   make(chan struct{}),
	}
	for _, o := range options {
		o(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.logs == nil {
		c.logs = logging.NewSet(nil, logging.Options{})
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop()
	}
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}

	tag := zap.String("client", c.id)
	c.pollLog = c.logs.Get(logging.CategoryPoller).With(tag)
	c.parserLog = c.logs.Get(logging.CategoryParser).With(tag)
	c.routerLog = c.logs.Get(logging.CategoryRouter).With(tag)
	c.storeLog = c.logs.Get(logging.CategoryStore).With(tag)
	c.sendLog = c.logs.Get(logging.CategorySend).With(tag)

	c.store = seen.NewStore(backend, opts.PersistKey, seen.Capacity(opts.QueueMaxLength), c.storeLog)
	c.seen = c.store.Load()
	c.metrics.SeenSize.Set(float64(c.seen.Len()))
	return c, nil
}

// ID returns the instance identifier.
func (c *Client) ID() string { return c.id }

// Options returns the configuration the client was built with.
func (c *Client) Options() Options { return c.opts }

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start emits init and begins polling. The loop runs until Stop is called
// or ctx is cancelled. A client can be started once.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateRunning:
		c.mu.Unlock()
		return ErrAlreadyStarted
	case StateStopped:
		c.mu.Unlock()
		return ErrStopped
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = StateRunning
	c.mu.Unlock()

	c.pollLog.Info("client started",
		zap.Duration("poll_interval", c.opts.PollInterval),
		zap.Duration("persist_interval", c.opts.PersistInterval),
		zap.Bool("queue_mode", c.opts.QueueMode),
		zap.Int("seen", c.seen.Len()))

	c.emit(events.Init)
	go c.run(loopCtx)
	return nil
}

// Stop prevents further ticks. It does not wait; a tick in progress
// finishes. Safe to call from handlers and more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		c.state = StateStopped
		close(c.done)
	case StateRunning:
		c.state = StateStopped
		c.cancel()
	}
}

// Wait blocks until the loop has exited and the seen-set was flushed.
func (c *Client) Wait() {
	<-c.done
}

// Done is closed once the loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// RegisterCommand adds or replaces the handler for name.
func (c *Client) RegisterCommand(name string, h command.Handler) {
	c.router.Register(name, h)
}

// UnregisterCommand removes name.
func (c *Client) UnregisterCommand(name string) {
	c.router.Unregister(name)
}

// Commands lists registered command names in matching order.
func (c *Client) Commands() []string {
	return c.router.Names()
}

// On subscribes fn to an event. A panicking listener is recovered and
// logged. The returned function unsubscribes.
func (c *Client) On(event string, fn events.Listener) (unsubscribe func()) {
	return c.bus.On(event, func(args ...any) {
		c.safely("listener "+event, func() { fn(args...) })
	})
}

// OnInit subscribes to the init event.
func (c *Client) OnInit(fn func()) func() {
	return c.On(events.Init, func(...any) { fn() })
}

// OnMessage subscribes to every dispatched message.
func (c *Client) OnMessage(fn func(message.Message)) func() {
	return c.On(events.Message, messageListener(fn))
}

// OnSelfMessage subscribes to messages sent by the automated account.
func (c *Client) OnSelfMessage(fn func(message.Message)) func() {
	return c.On(events.MessageSelf, messageListener(fn))
}

// OnOtherMessage subscribes to messages sent by anyone else.
func (c *Client) OnOtherMessage(fn func(message.Message)) func() {
	return c.On(events.MessageOther, messageListener(fn))
}

// OnCommand subscribes to command dispatches.
func (c *Client) OnCommand(fn func(name string, h command.Handler)) func() {
	return c.On(events.Command, func(args ...any) {
		if len(args) != 2 {
			return
		}
		name, _ := args[0].(string)
		h, _ := args[1].(command.Handler)
		fn(name, h)
	})
}

func messageListener(fn func(message.Message)) events.Listener {
	return func(args ...any) {
		if len(args) == 0 {
			return
		}
		if m, ok := args[0].(message.Message); ok {
			fn(m)
		}
	}
}

func (c *Client) emit(event string, args ...any) {
	c.bus.Emit(event, args...)
}

func (c *Client) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.Panics.Inc()
			c.routerLog.Error("recovered panic",
				zap.String("in", what),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}
