package kv

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Pebble stores keys in an embedded Pebble LSM directory.
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) the Pebble directory at path.
func OpenPebble(path string) (*Pebble, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble store: path required")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) Get(key string) (string, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("pebble get %q: %w", key, err)
	}
	defer closer.Close()
	return string(v), true, nil
}

func (p *Pebble) Set(key, value string) error {
	if err := p.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return fmt.Errorf("pebble set %q: %w", key, err)
	}
	return nil
}

func (p *Pebble) Close() error {
	return p.db.Close()
}
