package vim

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/zongyulang/IM/internal/clock"
)

// ReloadDelay coalesces bursts of request notices into one reload.
const ReloadDelay = 500 * time.Millisecond

// FriendSource lists friends and pending friend requests.
type FriendSource interface {
	List(ctx context.Context) ([]User, error)
	WaitCheckList(ctx context.Context) ([]Friend, error)
}

// GroupRequestSource lists pending group join requests.
type GroupRequestSource interface {
	WaitCheckList(ctx context.Context) ([]GroupInviteCount, error)
}

// Directory holds the friend list and the pending friend and group
// requests. Reloads requested through the router are debounced.
type Directory struct {
	friends FriendSource
	groups  GroupRequestSource
	users   *UserCache
	clock   clock.Clock
	delay   time.Duration
	events  *emitter
	log     *slog.Logger

	mu            sync.RWMutex
	friendList    []User
	friendPending []Friend
	groupPending  map[string]int
	friendTimer   *clock.Timer
	groupTimer    *clock.Timer
}

// DirectoryConfig configures a Directory.
type DirectoryConfig struct {
	Friends FriendSource
	Groups  GroupRequestSource
	// Users, when set, receives the display data of every loaded friend.
	Users  *UserCache
	Clock  clock.Clock
	Delay  time.Duration
	Logger *slog.Logger
}

// NewDirectory creates an empty Directory.
func NewDirectory(cfg DirectoryConfig) *Directory {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Delay == 0 {
		cfg.Delay = ReloadDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Directory{
		friends:      cfg.Friends,
		groups:       cfg.Groups,
		users:        cfg.Users,
		clock:        cfg.Clock,
		delay:        cfg.Delay,
		events:       newEmitter(cfg.Logger),
		log:          cfg.Logger,
		groupPending: make(map[string]int),
	}
}

// Subscribe registers h for EventDirectory notifications.
func (d *Directory) Subscribe(h EventHandler) func() { return d.events.Subscribe(h) }

// LoadFriends reloads the friend list and feeds the user cache.
func (d *Directory) LoadFriends(ctx context.Context) error {
	list, err := d.friends.List(ctx)
	if err != nil {
		return err
	}
	if d.users != nil {
		for _, u := range list {
			d.users.Store(u.ID, UserSimple{Name: u.Name, Avatar: u.Avatar})
		}
	}
	d.mu.Lock()
	d.friendList = list
	d.mu.Unlock()
	d.events.emit(Event{Kind: EventDirectory})
	return nil
}

// LoadFriendRequests reloads pending friend requests.
func (d *Directory) LoadFriendRequests(ctx context.Context) error {
	list, err := d.friends.WaitCheckList(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.friendPending = list
	d.mu.Unlock()
	d.events.emit(Event{Kind: EventDirectory})
	return nil
}

// LoadGroupRequests reloads pending group join requests.
func (d *Directory) LoadGroupRequests(ctx context.Context) error {
	list, err := d.groups.WaitCheckList(ctx)
	if err != nil {
		return err
	}
	pending := make(map[string]int, len(list))
	for _, item := range list {
		pending[item.GroupID] = item.Count
	}
	d.mu.Lock()
	d.groupPending = pending
	d.mu.Unlock()
	d.events.emit(Event{Kind: EventDirectory})
	return nil
}

// RequestFriendReload schedules a reload of the friend requests and the
// friend list, replacing any reload still pending.
func (d *Directory) RequestFriendReload(ctx context.Context) {
	d.mu.Lock()
	d.friendTimer.Stop()
	d.friendTimer = d.clock.AfterFunc(d.delay, func() {
		if err := d.LoadFriendRequests(ctx); err != nil {
			d.log.Warn("reload friend requests failed", "error", err)
			return
		}
		if err := d.LoadFriends(ctx); err != nil {
			d.log.Warn("reload friends failed", "error", err)
		}
	})
	d.mu.Unlock()
}

// RequestGroupReload schedules a reload of the group requests.
func (d *Directory) RequestGroupReload(ctx context.Context) {
	d.mu.Lock()
	d.groupTimer.Stop()
	d.groupTimer = d.clock.AfterFunc(d.delay, func() {
		if err := d.LoadGroupRequests(ctx); err != nil {
			d.log.Warn("reload group requests failed", "error", err)
		}
	})
	d.mu.Unlock()
}

// Friends returns the friend list.
func (d *Directory) Friends() []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.friendList)
}

// FriendRequests returns the pending friend requests.
func (d *Directory) FriendRequests() []Friend {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.friendPending)
}

// GroupRequestCount sums pending join requests over all groups.
func (d *Directory) GroupRequestCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, n := range d.groupPending {
		total += n
	}
	return total
}

// Stop cancels pending reloads.
func (d *Directory) Stop() {
	d.mu.Lock()
	d.friendTimer.Stop()
	d.groupTimer.Stop()
	d.mu.Unlock()
}
