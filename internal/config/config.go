// Package config holds the console settings: a key/value table in SQLite
// fronted by an in-memory copy, and the optional TOML startup file.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// ErrEmptyKey is returned by Set for a blank key.
var ErrEmptyKey = errors.New("config: empty key")

const upsert = `INSERT INTO config (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// Config is safe for concurrent use. Reads never touch the database.
type Config struct {
	db *sql.DB

	mu        sync.RWMutex
	values    map[string]string
	listeners []func(key, value string)
}

// New loads every stored setting from db.
func New(db *sql.DB) *Config {
	c := &Config{db: db, values: map[string]string{}}
	if err := c.load(); err != nil {
		slog.Error("failed to load settings", "error", err)
	}
	return c
}

func (c *Config) load() error {
	rows, err := c.db.Query("SELECT key, value FROM config")
	if err != nil {
		return fmt.Errorf("config: load: %w", err)
	}
	defer rows.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("config: scan: %w", err)
		}
		c.values[k] = v
	}
	return rows.Err()
}

// Get returns the value of key, or fallback when it is not set.
func (c *Config) Get(key, fallback string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.values[key]; ok {
		return v
	}
	return fallback
}

// Set stores value under key and notifies OnSet listeners.
func (c *Config) Set(key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if _, err := c.db.Exec(upsert, key, value); err != nil {
		return fmt.Errorf("config: set %s: %w", key, err)
	}
	c.mu.Lock()
	c.values[key] = value
	fns := c.listeners
	c.mu.Unlock()

	for _, fn := range fns {
		fn(key, value)
	}
	return nil
}

// OnSet registers fn to run after every successful Set.
func (c *Config) OnSet(fn func(key, value string)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// All returns a copy of every setting.
func (c *Config) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}
