package client

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"whatt/internal/metrics"
	"whatt/internal/view"
)

// SendMessage submits text through the compose box of the open
// conversation and restores whatever draft was there before. When the page
// has no send control the text is not sent, the draft is still restored
// and no error is returned.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.metrics.Sends.WithLabelValues(metrics.ResultRateLimited).Inc()
			return fmt.Errorf("send rate limit: %w", err)
		}
	}

	err := c.send(ctx, text)
	switch {
	case errors.Is(err, errNoSendControl):
		c.metrics.Sends.WithLabelValues(metrics.ResultNoControl).Inc()
		c.sendLog.Debug("send control not present, message not sent")
		return nil
	case err != nil:
		c.metrics.Sends.WithLabelValues(metrics.ResultError).Inc()
		c.sendLog.Warn("send failed", zap.Error(err))
		return err
	}
	c.metrics.Sends.WithLabelValues(metrics.ResultOK).Inc()
	c.sendLog.Debug("message sent", zap.Int("length", len(text)))
	return nil
}

var errNoSendControl = errors.New("send control not present")

func (c *Client) send(ctx context.Context, text string) error {
	input, err := c.view.TextInput(ctx)
	if err != nil {
		return fmt.Errorf("text input: %w", err)
	}
	draft, err := input.Content(ctx)
	if err != nil {
		return fmt.Errorf("read draft: %w", err)
	}
	if err := input.SetContent(ctx, text); err != nil {
		return fmt.Errorf("fill text input: %w", err)
	}

	sendErr := c.press(ctx)
	if err := input.SetContent(ctx, draft); err != nil {
		restoreErr := fmt.Errorf("restore draft: %w", err)
		if errors.Is(sendErr, errNoSendControl) {
			return restoreErr
		}
		return errors.Join(sendErr, restoreErr)
	}
	return sendErr
}

func (c *Client) press(ctx context.Context) error {
	ctrl, err := c.view.SendControl(ctx)
	if errors.Is(err, view.ErrNotFound) {
		return errNoSendControl
	}
	if err != nil {
		return fmt.Errorf("send control: %w", err)
	}
	if err := ctrl.Press(ctx); err != nil {
		if errors.Is(err, view.ErrNotFound) {
			return errNoSendControl
		}
		return fmt.Errorf("press send: %w", err)
	}
	return nil
}

// GotoNewestChat selects the chat-list row at the top of the list.
func (c *Client) GotoNewestChat(ctx context.Context) error {
	list, err := c.view.ConversationList(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoNewestChat, err)
	}
	items, err := list.Items(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoNewestChat, err)
	}
	for _, item := range items {
		if item.AtTop() {
			return item.Select(ctx)
		}
	}
	return ErrNoNewestChat
}
