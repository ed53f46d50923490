// ABOUTME: User directory resolving user ids to display names and avatars
// ABOUTME: Fronts the store's profile table with a TTL cache and coalesces concurrent lookups

package directory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/discuss-gateway/internal/store"
)

// DefaultTTL is how long a resolved profile is served from cache.
const DefaultTTL = 5 * time.Minute

// ProfileStore is the subset of store.Store the directory needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	UpsertProfile(ctx context.Context, p *store.Profile) error
}

type entry struct {
	profile store.Profile
	found   bool
	expires time.Time
}

// Directory caches profile lookups.
type Directory struct {
	profiles ProfileStore
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// New creates a Directory. A non-positive ttl uses DefaultTTL.
func New(profiles ProfileStore, ttl time.Duration, logger *slog.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		profiles: profiles,
		ttl:      ttl,
		logger:   logger.With("component", "directory"),
		now:      time.Now,
		entries:  make(map[string]entry),
	}
}

// Lookup resolves a user id. ok is false when the user has no profile.
// Store failures are logged and reported as not found so callers fall back
// to whatever the credential carried.
func (d *Directory) Lookup(ctx context.Context, userID string) (store.Profile, bool) {
	if userID == "" {
		return store.Profile{}, false
	}

	d.mu.RLock()
	e, cached := d.entries[userID]
	d.mu.RUnlock()
	if cached && d.now().Before(e.expires) {
		return e.profile, e.found
	}

	v, err, _ := d.group.Do(userID, func() (any, error) {
		p, err := d.profiles.GetProfile(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			e := entry{expires: d.now().Add(d.ttl)}
			d.put(userID, e)
			return e, nil
		}
		if err != nil {
			return nil, err
		}
		e := entry{profile: *p, found: true, expires: d.now().Add(d.ttl)}
		d.put(userID, e)
		return e, nil
	})
	if err != nil {
		d.logger.Warn("profile lookup failed", "user_id", userID, "error", err)
		return store.Profile{}, false
	}
	e = v.(entry)
	return e.profile, e.found
}

// Remember records a user's current profile in the store and the cache.
func (d *Directory) Remember(ctx context.Context, p store.Profile) error {
	if err := d.profiles.UpsertProfile(ctx, &p); err != nil {
		return err
	}
	d.put(p.UserID, entry{profile: p, found: true, expires: d.now().Add(d.ttl)})
	return nil
}

func (d *Directory) put(userID string, e entry) {
	d.mu.Lock()
	d.entries[userID] = e
	d.mu.Unlock()
}
