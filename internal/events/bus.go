// Package events is a synchronous in-process publish/subscribe bus.
//
// Emit delivers on the caller's goroutine, in subscription order. The
// listener list is snapshotted before delivery: a listener that unsubscribes
// itself or another listener during an Emit does not change who receives
// that Emit.
package events

import "sync"

// Event names emitted by the client.
const (
	Init         = "init"
	Message      = "message"
	MessageSelf  = "message_self"
	MessageOther = "message_other"
	Command      = "command"
)

// Listener receives the arguments passed to Emit.
type Listener func(args ...any)

type subscription struct {
	id uint64
	fn Listener
}

// Bus fans events out to listeners. The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscription
}

// On subscribes fn to name and returns a function that removes it. The
// returned function may be called more than once.
func (b *Bus) On(name string, fn Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[string][]subscription)
	}
	b.nextID++
	id := b.nextID
	b.subs[name] = append(b.subs[name], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, id) })
	}
}

func (b *Bus) remove(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		kept := make([]subscription, 0, len(subs)-1)
		kept = append(kept, subs[:i]...)
		kept = append(kept, subs[i+1:]...)
		if len(kept) == 0 {
			delete(b.subs, name)
		} else {
			b.subs[name] = kept
		}
		return
	}
}

// Emit calls every listener of name with args. Names nobody listens to are
// a no-op.
func (b *Bus) Emit(name string, args ...any) {
	b.mu.RLock()
	snapshot := b.subs[name]
	b.mu.RUnlock()

	for _, s := range snapshot {
		s.fn(args...)
	}
}

// Count returns the number of listeners subscribed to name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}
