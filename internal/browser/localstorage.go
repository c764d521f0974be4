package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"

	"whatt/internal/kv"
)

// LocalStorage is a kv.Store backed by the page's localStorage, the same
// place the web client keeps its own state.
type LocalStorage struct {
	page    *rod.Page
	timeout time.Duration
}

var _ kv.Store = (*LocalStorage)(nil)

// NewLocalStorage returns a store over page. Each call is bounded by timeout
// alone, independent of the context the page was opened with.
func NewLocalStorage(page *rod.Page, timeout time.Duration) *LocalStorage {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &LocalStorage{page: page, timeout: timeout}
}

func (l *LocalStorage) Get(key string) (string, bool, error) {
	p := l.page.Context(context.Background()).Timeout(l.timeout)
	defer p.CancelTimeout()

	res, err := p.Evaluate(&rod.EvalOptions{
		JS:      `(key) => localStorage.getItem(key)`,
		JSArgs:  []interface{}{key},
		ByValue: true,
	})
	if err != nil {
		return "", false, fmt.Errorf("localStorage get %q: %w", key, err)
	}
	if res == nil || res.Value.Nil() {
		return "", false, nil
	}
	return res.Value.Str(), true, nil
}

func (l *LocalStorage) Set(key, value string) error {
	p := l.page.Context(context.Background()).Timeout(l.timeout)
	defer p.CancelTimeout()

	_, err := p.Evaluate(&rod.EvalOptions{
		JS:      `(key, value) => { localStorage.setItem(key, value); }`,
		JSArgs:  []interface{}{key, value},
		ByValue: true,
	})
	if err != nil {
		return fmt.Errorf("localStorage set %q: %w", key, err)
	}
	return nil
}

// Close is a no-op; the page belongs to the session.
func (l *LocalStorage) Close() error { return nil }
