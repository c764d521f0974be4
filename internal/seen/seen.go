// Package seen records which conversation entries have already been
// dispatched, so each one is delivered at most once across restarts.
package seen

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"whatt/internal/kv"
)

// DefaultKey is the storage slot the original page script used.
const DefaultKey = "handledMessages"

// Capacity returns the number of identifiers kept for a queue length.
func Capacity(queueMaxLength int) int {
	return queueMaxLength * 10
}

// Set is an insertion-ordered set of entry identifiers. It is not safe for
// concurrent use; the client's loop goroutine owns it.
type Set struct {
	ids   []string
	index map[string]struct{}
	limit int
}

// NewSet returns a set bounded to limit identifiers on Truncate, seeded with
// ids (duplicates dropped, first occurrence kept).
func NewSet(limit int, ids ...string) *Set {
	s := &Set{
		ids:   make([]string, 0, len(ids)),
		index: make(map[string]struct{}, len(ids)),
		limit: limit,
	}
	for _, id := range ids {
		s.Record(id)
	}
	return s
}

// Has reports whether id was recorded.
func (s *Set) Has(id string) bool {
	_, ok := s.index[id]
	return ok
}

// Record appends id unless present. It reports whether id was new.
func (s *Set) Record(id string) bool {
	if s.Has(id) {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Len returns the number of identifiers held.
func (s *Set) Len() int { return len(s.ids) }

// Limit returns the truncation bound.
func (s *Set) Limit() int { return s.limit }

// IDs returns a copy of all identifiers, oldest first.
func (s *Set) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Recent returns a copy of the newest Limit identifiers, oldest first.
func (s *Set) Recent() []string {
	start := len(s.ids) - s.limit
	if start < 0 || s.limit <= 0 {
		start = 0
	}
	return append([]string(nil), s.ids[start:]...)
}

// Truncate drops the oldest identifiers beyond Limit and returns how many
// were dropped.
func (s *Set) Truncate() int {
	if s.limit <= 0 || len(s.ids) <= s.limit {
		return 0
	}
	drop := len(s.ids) - s.limit
	for _, id := range s.ids[:drop] {
		delete(s.index, id)
	}
	kept := make([]string, s.limit)
	copy(kept, s.ids[drop:])
	s.ids = kept
	return drop
}

// Store persists a Set into one slot of a kv.Store.
type Store struct {
	kv     kv.Store
	key    string
	limit  int
	logger *zap.Logger
}

// NewStore binds a Store to key in backend. A nil logger is replaced by a
// no-op logger.
func NewStore(backend kv.Store, key string, limit int, logger *zap.Logger) *Store {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: backend, key: key, limit: limit, logger: logger}
}

// Key returns the slot name.
func (st *Store) Key() string { return st.key }

// Load reads the persisted set. Absent, unreadable or corrupt state yields
// an empty set; Load never fails.
func (st *Store) Load() *Set {
	raw, ok, err := st.kv.Get(st.key)
	if err != nil {
		st.logger.Warn("seen-set read failed, starting empty", zap.String("key", st.key), zap.Error(err))
		return NewSet(st.limit)
	}
	if !ok {
		return NewSet(st.limit)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		st.logger.Warn("seen-set state corrupt, starting empty", zap.String("key", st.key), zap.Error(err))
		return NewSet(st.limit)
	}

	set := NewSet(st.limit, ids...)
	set.Truncate()
	st.logger.Debug("seen-set loaded", zap.String("key", st.key), zap.Int("ids", set.Len()))
	return set
}

// Persist writes the newest Limit identifiers of set.
func (st *Store) Persist(set *Set) error {
	recent := set.Recent()
	raw, err := json.Marshal(recent)
	if err != nil {
		return fmt.Errorf("encode seen-set: %w", err)
	}
	if err := st.kv.Set(st.key, string(raw)); err != nil {
		return fmt.Errorf("persist seen-set %q: %w", st.key, err)
	}
	return nil
}

// Clear resets the persisted slot to an empty set.
func (st *Store) Clear() error {
	if err := st.kv.Set(st.key, "[]"); err != nil {
		return fmt.Errorf("clear seen-set %q: %w", st.key, err)
	}
	return nil
}
