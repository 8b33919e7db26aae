package vim

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/zongyulang/IM/internal/clock"
)

type failingFriends struct{ fakeFriendSource }

func (f *failingFriends) WaitCheckList(context.Context) ([]Friend, error) {
	return nil, errors.New("unavailable")
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()

	t.Run("friends feed the user cache", func(t *testing.T) {
		users := NewUserCache(&fakeUserLookup{err: errors.New("no network")}, nil)
		d := NewDirectory(DirectoryConfig{Friends: &fakeFriendSource{}, Groups: &fakeGroupRequests{}, Users: users})
		if err := d.LoadFriends(ctx); err != nil {
			t.Fatal(err)
		}
		u, err := users.Fetch(ctx, "u2")
		if err != nil || u.Name != "Bob" {
			t.Errorf("cached user = %+v, %v", u, err)
		}
	})

	t.Run("loads publish events", func(t *testing.T) {
		d := NewDirectory(DirectoryConfig{Friends: &fakeFriendSource{}, Groups: &fakeGroupRequests{}})
		var n int
		d.Subscribe(func(ev Event) {
			if ev.Kind == EventDirectory {
				n++
			}
		})
		d.LoadFriends(ctx)
		d.LoadFriendRequests(ctx)
		d.LoadGroupRequests(ctx)
		if n != 3 {
			t.Errorf("events = %d, want 3", n)
		}
	})

	t.Run("failed request reload keeps the old list", func(t *testing.T) {
		c := clock.Fake(time.Unix(0, 0))
		friends := &failingFriends{}
		d := NewDirectory(DirectoryConfig{Friends: friends, Groups: &fakeGroupRequests{}, Clock: c})
		d.RequestFriendReload(ctx)
		c.Advance(ReloadDelay)
		if lists, _ := friends.counts(); lists != 0 {
			t.Errorf("friend list reloaded after failure: %d", lists)
		}
	})

	t.Run("custom delay", func(t *testing.T) {
		c := clock.Fake(time.Unix(0, 0))
		groups := &fakeGroupRequests{}
		d := NewDirectory(DirectoryConfig{Friends: &fakeFriendSource{}, Groups: groups, Clock: c, Delay: 2 * time.Second})
		d.RequestGroupReload(ctx)
		c.Advance(time.Second)
		d.RequestGroupReload(ctx)
		c.Advance(time.Second)
		if groups.calls.Load() != 0 {
			t.Fatal("reload ran before the delay after the last request")
		}
		c.Advance(time.Second)
		if groups.calls.Load() != 1 {
			t.Errorf("reloads = %d, want 1", groups.calls.Load())
		}
	})

	t.Run("stop cancels pending reloads", func(t *testing.T) {
		c := clock.Fake(time.Unix(0, 0))
		friends := &fakeFriendSource{}
		groups := &fakeGroupRequests{}
		d := NewDirectory(DirectoryConfig{Friends: friends, Groups: groups, Clock: c})

		d.RequestFriendReload(ctx)
		d.RequestGroupReload(ctx)
		d.Stop()
		c.Advance(time.Minute)

		if lists, pending := friends.counts(); lists != 0 || pending != 0 {
			t.Errorf("friend reload ran after Stop: %d %d", lists, pending)
		}
		if groups.calls.Load() != 0 {
			t.Error("group reload ran after Stop")
		}
	})
}

func TestEmitter(t *testing.T) {
	e := newEmitter(slog.New(slog.DiscardHandler))
	var got []EventKind
	unsub := e.Subscribe(func(ev Event) { got = append(got, ev.Kind) })
	e.Subscribe(func(Event) { panic("bad subscriber") })
	e.Subscribe(func(ev Event) { got = append(got, ev.Kind+"!") })

	e.emit(Event{Kind: EventLogout})
	unsub()
	e.emit(Event{Kind: EventDirectory})

	want := []EventKind{EventLogout, EventLogout + "!", EventDirectory + "!"}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
