package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"whatt/internal/events"
	"whatt/internal/logging"
	"whatt/internal/message"
	"whatt/internal/metrics"
	"whatt/internal/view"
)

// run owns the seen-set for the lifetime of the loop. Work inside a tick
// uses a context detached from cancellation so Stop never interrupts it.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	work := context.WithoutCancel(ctx)
	poll := time.NewTicker(c.opts.PollInterval)
	defer poll.Stop()
	persist := time.NewTicker(c.opts.PersistInterval)
	defer persist.Stop()

	for {
		select {
		case <-ctx.Done():
			c.flush()
			c.pollLog.Info("client stopped", zap.Int("seen", c.seen.Len()))
			return
		case <-poll.C:
			if ctx.Err() != nil {
				continue
			}
			c.tick(work)
		case <-persist.C:
			c.flush()
		}
	}
}

// tick reads the newest entries of the open conversation and dispatches
// the unseen ones, oldest first.
func (c *Client) tick(ctx context.Context) {
	start := time.Now()
	c.metrics.Ticks.Inc()
	defer func() {
		elapsed := time.Since(start)
		c.metrics.TickDuration.Observe(elapsed.Seconds())
		if elapsed > c.opts.PollInterval {
			c.pollLog.Warn("poll tick overran interval",
				zap.Duration("elapsed", elapsed),
				zap.Duration("interval", c.opts.PollInterval))
		}
	}()

	conv, err := c.view.CurrentConversation(ctx)
	if err != nil {
		c.metrics.SkippedTicks.Inc()
		if !errors.Is(err, view.ErrNotFound) {
			c.pollLog.Warn("reading conversation failed", zap.Error(err))
		}
		return
	}

	n := 1
	if c.opts.QueueMode {
		n = c.opts.QueueMaxLength
	}
	entries, err := conv.Last(ctx, n)
	if err != nil {
		c.metrics.SkippedTicks.Inc()
		c.pollLog.Warn("reading entries failed", zap.Int("n", n), zap.Error(err))
		return
	}
	for _, e := range entries {
		c.process(ctx, e)
	}
	c.metrics.SeenSize.Set(float64(c.seen.Len()))
}

// process records e before parsing it, so an unparseable entry is never
// retried.
func (c *Client) process(ctx context.Context, e view.Entry) {
	id := e.ID()
	if id == "" {
		c.metrics.Entries.WithLabelValues(metrics.OutcomeNoID).Inc()
		return
	}
	if !c.seen.Record(id) {
		c.metrics.Entries.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		return
	}

	msg, err := message.Parse(e)
	if err != nil {
		c.metrics.Entries.WithLabelValues(metrics.OutcomeUnparseable).Inc()
		c.parserLog.Debug("entry dropped", zap.String("id", id), zap.Error(err))
		return
	}
	c.metrics.Entries.WithLabelValues(metrics.OutcomeDispatched).Inc()
	c.dispatch(ctx, id, msg)
}

func (c *Client) dispatch(ctx context.Context, id string, msg message.Message) {
	origin := view.OriginOf(id)
	c.pollLog.Debug("dispatching message",
		zap.String("id", id),
		zap.Stringer("origin", origin),
		zap.String("sender", msg.Sender))

	if c.opts.SelfCommands || origin == view.OriginOther {
		if m, ok := c.router.Match(msg.Content.Text); ok {
			c.routerLog.Info("command matched",
				zap.String("command", m.Name),
				zap.Strings("args", m.Args),
				zap.String("sender", msg.Sender))
			c.safely("command "+m.Name, func() { m.Handler(ctx, msg, m.Args) })
			c.metrics.Commands.WithLabelValues(m.Name).Inc()
			c.emit(events.Command, m.Name, m.Handler)
		}
	}

	c.emit(events.Message, msg)
	if origin == view.OriginSelf {
		c.emit(events.MessageSelf, msg)
	} else {
		c.emit(events.MessageOther, msg)
	}
}

// flush truncates the seen-set to its cap and writes it out.
func (c *Client) flush() {
	timer := logging.StartTimer(c.storeLog, "seen-set flush")
	dropped := c.seen.Truncate()
	if err := c.store.Persist(c.seen); err != nil {
		c.metrics.Flushes.WithLabelValues(metrics.ResultError).Inc()
		c.storeLog.Warn("persisting seen-set failed", zap.String("key", c.store.Key()), zap.Error(err))
		return
	}
	c.metrics.Flushes.WithLabelValues(metrics.ResultOK).Inc()
	c.metrics.SeenSize.Set(float64(c.seen.Len()))
	if dropped > 0 {
		c.storeLog.Debug("seen-set truncated", zap.Int("dropped", dropped), zap.Int("kept", c.seen.Len()))
	}
	timer.Stop()
}
