package vim

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// UserLookup fetches a single user profile.
type UserLookup interface {
	Get(ctx context.Context, id string) (*User, error)
}

// UserCache keeps display data of users seen in chats. Concurrent
// fetches of the same id share one request.
type UserCache struct {
	api   UserLookup
	log   *slog.Logger
	group singleflight.Group

	mu    sync.RWMutex
	users map[string]UserSimple
	errs  map[string]error
}

// NewUserCache creates an empty cache backed by api.
func NewUserCache(api UserLookup, log *slog.Logger) *UserCache {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &UserCache{
		api:   api,
		log:   log,
		users: make(map[string]UserSimple),
		errs:  make(map[string]error),
	}
}

// Fetch returns the user's display data, asking the server when it is
// not cached yet.
func (c *UserCache) Fetch(ctx context.Context, id string) (UserSimple, error) {
	if u, ok := c.Get(id); ok {
		return u, nil
	}
	return c.fetch(ctx, id)
}

// Refresh asks the server even when id is cached.
func (c *UserCache) Refresh(ctx context.Context, id string) (UserSimple, error) {
	return c.fetch(ctx, id)
}

func (c *UserCache) fetch(ctx context.Context, id string) (UserSimple, error) {
	v, err, _ := c.group.Do(id, func() (any, error) {
		u, err := c.api.Get(ctx, id)
		if err != nil {
			c.mu.Lock()
			c.errs[id] = err
			c.mu.Unlock()
			return nil, err
		}
		simple := UserSimple{Name: u.Name, Avatar: u.Avatar}
		c.Store(id, simple)
		return simple, nil
	})
	if err != nil {
		return UserSimple{}, err
	}
	return v.(UserSimple), nil
}

// Get returns cached data without contacting the server.
func (c *UserCache) Get(id string) (UserSimple, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// Lookup returns cached data and starts a background fetch for ids that
// are not cached and not already being fetched.
func (c *UserCache) Lookup(ctx context.Context, id string) (UserSimple, bool) {
	if u, ok := c.Get(id); ok {
		return u, true
	}
	go func() {
		if _, err := c.fetch(ctx, id); err != nil {
			c.log.Debug("user lookup failed", "user_id", id, "error", err)
		}
	}()
	return UserSimple{}, false
}

// Err returns the last fetch error for id.
func (c *UserCache) Err(id string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errs[id]
}

// Store records display data for id.
func (c *UserCache) Store(id string, u UserSimple) {
	c.mu.Lock()
	c.users[id] = u
	delete(c.errs, id)
	c.mu.Unlock()
}

// Clear forgets id, or everything when id is empty.
func (c *UserCache) Clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		c.users = make(map[string]UserSimple)
		c.errs = make(map[string]error)
		return
	}
	delete(c.users, id)
	delete(c.errs, id)
}
