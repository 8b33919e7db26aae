package vim

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeFriendSource struct {
	mu      sync.Mutex
	lists   int
	pending int
}

func (f *fakeFriendSource) List(context.Context) ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return []User{{ID: "u2", Name: "Bob"}}, nil
}

func (f *fakeFriendSource) WaitCheckList(context.Context) ([]Friend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending++
	return []Friend{{UserID: "u3", FriendID: "me"}}, nil
}

func (f *fakeFriendSource) counts() (lists, pending int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists, f.pending
}

type fakeGroupRequests struct {
	calls atomic.Int32
}

func (f *fakeGroupRequests) WaitCheckList(context.Context) ([]GroupInviteCount, error) {
	f.calls.Add(1)
	return []GroupInviteCount{{GroupID: "g1", Count: 2}, {GroupID: "g2", Count: 1}}, nil
}

type routerHarness struct {
	conv    *convHarness
	dir     *Directory
	friends *fakeFriendSource
	groups  *fakeGroupRequests
	logouts atomic.Int32
	alerts  []string
	r       *Router
}

func newRouterHarness(t *testing.T) *routerHarness {
	t.Helper()
	h := &routerHarness{
		conv:    newConvHarness(t),
		friends: &fakeFriendSource{},
		groups:  &fakeGroupRequests{},
	}
	h.dir = NewDirectory(DirectoryConfig{Friends: h.friends, Groups: h.groups, Clock: h.conv.clock})
	h.r = NewRouter(context.Background(), RouterConfig{
		Conversations: h.conv.c,
		Directory:     h.dir,
		ClientID:      func() string { return "client-1" },
		Alert:         func(text string) { h.alerts = append(h.alerts, text) },
		Logout:        func() { h.logouts.Add(1) },
	})
	return h
}

func TestNormalize(t *testing.T) {
	t.Run("own message", func(t *testing.T) {
		m := Message{ChatID: "u2", FromID: "me", ChatType: ChatFriend}
		Normalize(&m, "me")
		if !m.Mine || m.ChatID != "u2" {
			t.Errorf("got %+v", m)
		}
	})

	t.Run("friend message files under sender", func(t *testing.T) {
		m := Message{ChatID: "me", FromID: "u2", ChatType: ChatFriend}
		Normalize(&m, "me")
		if m.Mine || m.ChatID != "u2" {
			t.Errorf("got %+v", m)
		}
	})

	t.Run("group message keeps chat", func(t *testing.T) {
		m := Message{ChatID: "g1", FromID: "u2", ChatType: ChatGroup}
		Normalize(&m, "me")
		if m.ChatID != "g1" {
			t.Errorf("got %+v", m)
		}
	})
}

func TestRouterRoute(t *testing.T) {
	t.Run("message reaches conversations under the peer chat", func(t *testing.T) {
		h := newRouterHarness(t)
		h.r.Route(MessageFrame{Message: Message{ID: "m1", ChatID: "me", FromID: "u2", ChatType: ChatFriend, Timestamp: 1}})
		h.conv.c.Wait()

		if _, ok := h.conv.c.GetMessage("u2", "m1"); !ok {
			t.Fatal("message not filed under u2")
		}
		if n := h.conv.c.UnreadCount("u2"); n != 1 {
			t.Errorf("unread = %d, want 1", n)
		}
	})

	t.Run("read receipt only moves the marker", func(t *testing.T) {
		h := newRouterHarness(t)
		h.conv.load(t, nil, []Chat{{ID: "u2", Type: ChatFriend}})
		h.r.Route(ReadFrame{Receipt: ReadReceipt{ChatID: "me", FromID: "u2", Timestamp: 9}})

		chat, _ := h.conv.c.Chat("u2")
		if chat.LastReadTime != 9 {
			t.Errorf("LastReadTime = %d", chat.LastReadTime)
		}
	})

	t.Run("other login from this client is ignored", func(t *testing.T) {
		h := newRouterHarness(t)
		h.r.Route(OtherLoginFrame{OtherLogin: OtherLogin{UUID: "client-1"}})
		if h.logouts.Load() != 0 || len(h.alerts) != 0 {
			t.Error("own login treated as duplicate")
		}
	})

	t.Run("other login elsewhere forces logout", func(t *testing.T) {
		h := newRouterHarness(t)
		h.r.Route(OtherLoginFrame{OtherLogin: OtherLogin{UUID: "client-2"}})
		if h.logouts.Load() != 1 {
			t.Errorf("logouts = %d, want 1", h.logouts.Load())
		}
		if len(h.alerts) != 1 || h.alerts[0] != AlertOtherLogin {
			t.Errorf("alerts = %v", h.alerts)
		}
	})

	t.Run("friend requests reload once per burst", func(t *testing.T) {
		h := newRouterHarness(t)
		for range 3 {
			h.r.Route(FriendRequestFrame{Raw: json.RawMessage(`{}`)})
		}
		h.conv.clock.Advance(ReloadDelay)

		lists, pending := h.friends.counts()
		if lists != 1 || pending != 1 {
			t.Errorf("lists = %d, pending = %d, want 1 each", lists, pending)
		}
		if got := h.dir.FriendRequests(); len(got) != 1 {
			t.Errorf("friend requests = %v", got)
		}
		if got := h.dir.Friends(); len(got) != 1 || got[0].Name != "Bob" {
			t.Errorf("friends = %v", got)
		}
	})

	t.Run("group requests reload", func(t *testing.T) {
		h := newRouterHarness(t)
		h.r.Route(GroupRequestFrame{})
		h.r.Route(GroupRequestFrame{})
		h.conv.clock.Advance(ReloadDelay)

		if n := h.groups.calls.Load(); n != 1 {
			t.Errorf("reloads = %d, want 1", n)
		}
		if n := h.dir.GroupRequestCount(); n != 3 {
			t.Errorf("pending = %d, want 3", n)
		}
	})

	t.Run("unknown and control frames are harmless", func(t *testing.T) {
		h := newRouterHarness(t)
		h.r.Route(UnknownFrame{Code: "mystery"})
		h.r.Route(AckFrame{})
		h.r.Route(ReadyFrame{})
		h.r.Route(PongFrame{})
		if len(h.conv.c.Chats()) != 0 {
			t.Error("control frame changed state")
		}
	})
}
