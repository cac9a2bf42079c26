package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shiftgate/kiosk/internal/core"
)

// CacheClient is the minimal Redis surface the shared tier needs. Satisfied
// by infra.RedisCache; cmd/kiosk creates the concrete client and injects it,
// or passes nil to run in-process only.
type CacheClient interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

const (
	defaultTTL  = 5 * time.Minute
	cachePrefix = "kiosk:dir:"
)

type cacheEntry struct {
	subject core.Subject
	expires time.Time
}

// Cached is a read-through Directory: in-process map, optional shared Redis
// tier, then the backend. Expired entries are kept and served stale when the
// backend is unreachable, so a Supabase outage never blanks the station.
type Cached struct {
	backend Directory
	redis   CacheClient
	ttl     time.Duration

	mu sync.RWMutex
	l1 map[string]cacheEntry

	redisWarn sync.Once
	staleWarn sync.Once
}

func NewCached(backend Directory, redis CacheClient, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cached{
		backend: backend,
		redis:   redis,
		ttl:     ttl,
		l1:      make(map[string]cacheEntry),
	}
}

func (c *Cached) Lookup(ctx context.Context, id string) (*core.Subject, error) {
	c.mu.RLock()
	ent, cached := c.l1[id]
	c.mu.RUnlock()
	if cached && time.Now().Before(ent.expires) {
		out := ent.subject
		return &out, nil
	}

	if s := c.fromRedis(ctx, id); s != nil {
		c.remember(*s)
		return s, nil
	}

	s, err := c.backend.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if cached {
			c.staleWarn.Do(func() {
				slog.Warn("[Directory] Backend unreachable, serving cached subjects", "error", err)
			})
			out := ent.subject
			return &out, nil
		}
		return nil, err
	}

	c.remember(*s)
	c.toRedis(ctx, *s)
	return s, nil
}

// AllWithEmbeddings always asks the backend and refreshes the in-process
// tier wholesale on success.
func (c *Cached) AllWithEmbeddings(ctx context.Context) ([]core.Subject, error) {
	subjects, err := c.backend.AllWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	expires := time.Now().Add(c.ttl)
	c.mu.Lock()
	for _, s := range subjects {
		c.l1[s.ID] = cacheEntry{subject: s, expires: expires}
	}
	c.mu.Unlock()
	return subjects, nil
}

// Invalidate drops a subject from both tiers after an enrolment change.
func (c *Cached) Invalidate(ctx context.Context, id string) {
	c.mu.Lock()
	delete(c.l1, id)
	c.mu.Unlock()
	if c.redis != nil {
		if err := c.redis.Del(ctx, cachePrefix+id); err != nil {
			slog.Warn("[Directory] Redis invalidate failed", "subject", id, "error", err)
		}
	}
}

func (c *Cached) remember(s core.Subject) {
	c.mu.Lock()
	c.l1[s.ID] = cacheEntry{subject: s, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Cached) fromRedis(ctx context.Context, id string) *core.Subject {
	if c.redis == nil {
		return nil
	}
	raw, err := c.redis.Get(ctx, cachePrefix+id)
	if err != nil || len(raw) == 0 {
		return nil
	}
	var s core.Subject
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func (c *Cached) toRedis(ctx context.Context, s core.Subject) {
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, cachePrefix+s.ID, raw, c.ttl); err != nil {
		c.redisWarn.Do(func() {
			slog.Warn("[Directory] Redis tier unavailable, continuing without it", "error", err)
		})
	}
}

var _ Directory = (*Cached)(nil)
