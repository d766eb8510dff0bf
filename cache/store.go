// Package cache provides the shared bbolt-backed store used both to memoize
// enrichment results and to throttle outbound fetches per origin. It is the
// one shared mutable resource in the pipeline; when the underlying database
// is unavailable it fails open (always miss, always admit) so a cache outage
// never stops enrichment.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	cacheBucket = []byte("cache")
	rateBucket  = []byte("ratewin")
)

// Entry is a cached value with its expiry. Expired entries are treated as
// misses and lazily deleted.
type Entry struct {
	Value     json.RawMessage `json:"value"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type rateWindow struct {
	Count   int       `json:"count"`
	StartAt time.Time `json:"start_at"`
}

// Store is a TTL cache plus a per-origin fixed-window rate limiter backed by
// a single bolt database.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
	now    func() time.Time

	// rate limiter settings
	maxPerWindow int
	window       time.Duration
}

// Options configures the store.
type Options struct {
	Path         string
	MaxPerWindow int
	Window       time.Duration
}

// Open opens (or creates) the bolt database and its buckets. An open failure
// is returned to the caller; callers that want fail-open behavior can keep
// running with a nil *Store.
func Open(opts Options, logger *zap.Logger) (*Store, error) {
	if opts.MaxPerWindow <= 0 {
		opts.MaxPerWindow = 10
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(cacheBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(rateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{
		db:           db,
		logger:       logger,
		now:          time.Now,
		maxPerWindow: opts.MaxPerWindow,
		window:       opts.Window,
	}, nil
}

// WithNow sets a fixed clock for testing.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// Get returns the entry for key, or nil on miss or TTL expiry. Store errors
// degrade to a miss.
func (s *Store) Get(key string) *Entry {
	if s == nil || s.db == nil {
		return nil
	}
	var entry *Entry
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			// corrupt entry, drop it
			return b.Delete([]byte(key))
		}
		if s.now().After(e.ExpiresAt) {
			return b.Delete([]byte(key))
		}
		entry = &e
		return nil
	})
	if err != nil {
		s.logger.Warn("cache degraded, treating as miss",
			zap.String("key", key), zap.Error(err))
		return nil
	}
	return entry
}

// Put upserts a value under key with the given TTL, overwriting silently.
func (s *Store) Put(key string, value any, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return nil
	}
	if ttl <= 0 {
		return fmt.Errorf("invalid ttl %s", ttl)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	now := s.now()
	entry, err := json.Marshal(Entry{
		Value:     raw,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(key), entry)
	})
	if err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Admit atomically checks and increments the per-origin counter for the
// current window. It returns false when the configured threshold is already
// reached. The check and increment run inside a single bolt update
// transaction, so concurrent callers for the same origin cannot race. Store
// failures fail open.
func (s *Store) Admit(origin string) bool {
	if s == nil || s.db == nil {
		return true
	}
	admitted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rateBucket)
		key := []byte(origin)
		now := s.now()

		var win rateWindow
		if raw := b.Get(key); raw != nil {
			if err := json.Unmarshal(raw, &win); err != nil {
				win = rateWindow{}
			}
		}
		if win.StartAt.IsZero() || now.Sub(win.StartAt) >= s.window {
			win = rateWindow{StartAt: now}
		}
		if win.Count >= s.maxPerWindow {
			admitted = false
			return nil
		}
		win.Count++
		admitted = true
		raw, err := json.Marshal(win)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
	if err != nil {
		s.logger.Warn("rate limiter degraded, admitting",
			zap.String("origin", origin), zap.Error(err))
		return true
	}
	return admitted
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
