// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package filecache is a read-through disk cache with a time-to-live. Each
// entry is a data file next to a control file holding its write time.
// Concurrent writers of the same key may race; every writer stores the same
// bytes so the last one wins harmlessly.
package filecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Cache stores blobs under Dir.
type Cache struct {
	Dir string
	TTL time.Duration
	Ext string
	now func() time.Time
}

// New returns a cache rooted at dir whose data files carry ext.
func New(dir string, ttl time.Duration, ext string) *Cache {
	return &Cache{Dir: dir, TTL: ttl, Ext: ext, now: time.Now}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Key hashes parts into a stable cache key.
func Key(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) paths(key string) (string, string) {
	base := filepath.Join(c.Dir, Key(key)[:16])
	return base + c.Ext, base + ".control"
}

// Path returns where the data for key lives.
func (c *Cache) Path(key string) string {
	data, _ := c.paths(key)
	return data
}

// Get returns the bytes stored under key when present and fresh.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || c.Dir == "" {
		return nil, false
	}
	data, control := c.paths(key)
	raw, err := os.ReadFile(control)
	if err != nil {
		return nil, false
	}
	stamp, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return nil, false
	}
	if c.TTL > 0 && c.now().Sub(time.Unix(0, stamp)) > c.TTL {
		return nil, false
	}
	b, err := os.ReadFile(data)
	if err != nil {
		return nil, false
	}
	return b, true
}

// Put writes b under key and stamps its control file.
func (c *Cache) Put(key string, b []byte) error {
	if c == nil || c.Dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	data, control := c.paths(key)
	if err := os.WriteFile(data, b, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	stamp := strconv.FormatInt(c.now().UnixNano(), 10)
	if err := os.WriteFile(control, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("writing cache control: %w", err)
	}
	return nil
}
