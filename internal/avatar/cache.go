// Package avatar caches profile photos. A lookup is three-valued (the
// blob, a confirmed "no photo", or "never attempted") so that settled
// absences are never re-fetched.
package avatar

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"chatview/internal/store"
	"chatview/internal/transport"
)

// DefaultConcurrency caps simultaneous photo fetches in a batch.
const DefaultConcurrency = 10

// State classifies a lookup result.
type State int

const (
	// Unknown means the user was never fetched.
	Unknown State = iota
	// Present means a photo blob is cached.
	Present
	// Absent means the service confirmed the user has no photo.
	Absent
)

type entry struct {
	data   []byte
	absent bool
}

// Cache is the keyed avatar blob cache.
type Cache struct {
	mu       sync.Mutex
	mem      map[int64]entry
	inflight map[int64]bool

	db          *store.DB
	tp          transport.Transport
	logger      *zap.Logger
	concurrency int64
}

// New creates an avatar cache over the given blob database.
func New(db *store.DB, tp transport.Transport, logger *zap.Logger, concurrency int) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Cache{
		mem:         make(map[int64]entry),
		inflight:    make(map[int64]bool),
		db:          db,
		tp:          tp,
		logger:      logger,
		concurrency: int64(concurrency),
	}
}

// Get returns the cached avatar for a user. Data is nil unless the state
// is Present. Get never touches the network; use FetchMany to resolve
// Unknown users.
func (c *Cache) Get(userID int64) ([]byte, State) {
	c.mu.Lock()
	if e, ok := c.mem[userID]; ok {
		c.mu.Unlock()
		return stateOf(e)
	}
	c.mu.Unlock()

	row, err := c.db.GetAvatar(userID)
	if err != nil {
		c.logger.Warn("avatar lookup failed", zap.Int64("user", userID), zap.Error(err))
		return nil, Unknown
	}
	if row == nil {
		return nil, Unknown
	}

	e := entry{data: row.Data, absent: row.Absent}
	c.mu.Lock()
	c.mem[userID] = e
	c.mu.Unlock()
	return stateOf(e)
}

// FetchMany resolves the given users' avatars. Users already resolved or
// already being fetched are skipped; the rest are fetched with bounded
// concurrency. A successful fetch settles the user to Present or Absent,
// so repeated calls never re-fetch a known-absent photo. A failed fetch
// leaves the user Unknown and a later batch retries it.
func (c *Cache) FetchMany(ctx context.Context, userIDs []int64) error {
	var todo []int64
	c.mu.Lock()
	for _, id := range userIDs {
		if _, ok := c.mem[id]; ok || c.inflight[id] {
			continue
		}
		c.inflight[id] = true
		todo = append(todo, id)
	}
	c.mu.Unlock()

	// Check the blob store before going to the network.
	var misses []int64
	for _, id := range todo {
		row, err := c.db.GetAvatar(id)
		if err == nil && row != nil {
			c.settle(id, entry{data: row.Data, absent: row.Absent}, false)
			continue
		}
		misses = append(misses, id)
	}
	if len(misses) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(c.concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range misses {
		id := id
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				c.release(id)
				return err
			}
			defer sem.Release(1)

			data, err := c.tp.FetchProfilePhoto(ctx, id)
			if err != nil {
				// Leave the user Unknown so a later batch retries.
				c.logger.Warn("avatar fetch failed", zap.Int64("user", id), zap.Error(err))
				c.release(id)
				return nil
			}
			c.settle(id, entry{data: data, absent: data == nil}, true)
			return nil
		})
	}
	return g.Wait()
}

func (c *Cache) settle(userID int64, e entry, persist bool) {
	c.mu.Lock()
	c.mem[userID] = e
	delete(c.inflight, userID)
	c.mu.Unlock()

	if !persist {
		return
	}
	if err := c.db.PutAvatar(userID, e.data, time.Now().UnixMilli()); err != nil {
		c.logger.Warn("avatar persist failed", zap.Int64("user", userID), zap.Error(err))
	}
}

func (c *Cache) release(userID int64) {
	c.mu.Lock()
	delete(c.inflight, userID)
	c.mu.Unlock()
}

func stateOf(e entry) ([]byte, State) {
	if e.absent {
		return nil, Absent
	}
	return e.data, Present
}
