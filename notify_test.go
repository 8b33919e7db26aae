package vim

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/zongyulang/IM/internal/clock"
)

func newTestPolicy() (*Policy, *recordingNotifier, *clock.FakeClock) {
	n := &recordingNotifier{}
	c := clock.Fake(time.Unix(1700000000, 0))
	p := NewPolicy(PolicyConfig{SoundURL: "http://h/sound.mp3", Notifier: n, Clock: c})
	return p, n, c
}

func TestCanTips(t *testing.T) {
	at := func(all bool, ids ...string) json.RawMessage {
		b, _ := json.Marshal(ExtendAt{AtUserIDs: ids, AtAll: all})
		return b
	}

	tests := []struct {
		name   string
		immune []string
		msg    Message
		want   bool
	}{
		{"peer message", nil, Message{ChatID: "u2", FromID: "u2", MessageType: MessageText}, true},
		{"own text", nil, Message{ChatID: "u2", FromID: "me", MessageType: MessageText}, false},
		{"own event", nil, Message{ChatID: "u2", FromID: "me", MessageType: MessageEvent}, true},
		{"muted chat", []string{"g1"}, Message{ChatID: "g1", FromID: "u2", ChatType: ChatGroup}, false},
		{"muted chat mentions me", []string{"g1"}, Message{ChatID: "g1", FromID: "u2", ChatType: ChatGroup, Extend: at(false, "me")}, true},
		{"muted chat mentions all", []string{"g1"}, Message{ChatID: "g1", FromID: "u2", ChatType: ChatGroup, Extend: at(true)}, true},
		{"muted chat mentions someone else", []string{"g1"}, Message{ChatID: "g1", FromID: "u2", ChatType: ChatGroup, Extend: at(false, "u3")}, false},
		{"mention outside a group", []string{"u2"}, Message{ChatID: "u2", FromID: "u2", ChatType: ChatFriend, Extend: at(true)}, false},
		{"garbage extend", []string{"g1"}, Message{ChatID: "g1", FromID: "u2", ChatType: ChatGroup, Extend: json.RawMessage(`"x"`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, _ := newTestPolicy()
			p.SetImmune(tt.immune)
			if got := p.CanTips(&tt.msg, "me"); got != tt.want {
				t.Errorf("CanTips = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSoundThrottle(t *testing.T) {
	enabled := &Setting{CanSoundRemind: Yes}

	t.Run("one sound per interval", func(t *testing.T) {
		p, n, c := newTestPolicy()
		p.SetSetting(enabled)
		p.SetBlur(true)

		msg := &Message{}
		p.Attend(msg, true)
		p.Attend(msg, true)
		c.Advance(SoundInterval / 2)
		p.Attend(msg, true)
		if got := n.soundCount(); got != 1 {
			t.Fatalf("sounds = %d, want 1", got)
		}

		c.Advance(SoundInterval)
		p.Attend(msg, true)
		if got := n.soundCount(); got != 2 {
			t.Errorf("sounds after interval = %d, want 2", got)
		}
		if got := n.flashCount(); got != 4 {
			t.Errorf("flashes = %d, want 4", got)
		}
	})

	t.Run("silent while focused", func(t *testing.T) {
		p, n, _ := newTestPolicy()
		p.SetSetting(enabled)
		p.Attend(&Message{}, true)
		if n.soundCount() != 0 {
			t.Error("sound played with focus")
		}
	})

	t.Run("silent when disabled", func(t *testing.T) {
		p, n, _ := newTestPolicy()
		p.SetSetting(&Setting{CanSoundRemind: "1"})
		p.SetBlur(true)
		p.Attend(&Message{}, true)
		if n.soundCount() != 0 {
			t.Error("sound played while disabled")
		}
	})

	t.Run("plays the configured url", func(t *testing.T) {
		p, n, _ := newTestPolicy()
		p.SetSetting(enabled)
		p.SetBlur(true)
		p.Attend(&Message{}, true)
		if len(n.sounds) != 1 || n.sounds[0] != "http://h/sound.mp3" {
			t.Errorf("sounds = %v", n.sounds)
		}
	})
}

func TestAttendNotification(t *testing.T) {
	p, n, _ := newTestPolicy()
	p.Attend(&Message{Content: "system notice", Notification: true}, false)
	if !slices.Equal(n.notified, []string{"system notice"}) {
		t.Errorf("notified = %v", n.notified)
	}
	if n.flashCount() != 0 {
		t.Error("flashed without canTips")
	}
}

type fakeImmunity struct {
	list []Immunity
	err  error
}

func (f fakeImmunity) List(context.Context, string) ([]Immunity, error) { return f.list, f.err }

func TestImmunityList(t *testing.T) {
	t.Run("load", func(t *testing.T) {
		p, _, _ := newTestPolicy()
		api := fakeImmunity{list: []Immunity{{UserID: "me", ChatID: "g1"}, {UserID: "me", ChatID: "u2"}}}
		if err := p.LoadImmunity(context.Background(), api, "me"); err != nil {
			t.Fatalf("LoadImmunity: %v", err)
		}
		if got := p.Immune(); !slices.Equal(got, []string{"g1", "u2"}) {
			t.Errorf("immune = %v", got)
		}
	})

	t.Run("load failure keeps list", func(t *testing.T) {
		p, _, _ := newTestPolicy()
		p.SetImmune([]string{"g1"})
		err := p.LoadImmunity(context.Background(), fakeImmunity{err: errors.New("down")}, "me")
		if err == nil {
			t.Fatal("expected error")
		}
		if got := p.Immune(); !slices.Equal(got, []string{"g1"}) {
			t.Errorf("immune = %v", got)
		}
	})

	t.Run("mute and unmute", func(t *testing.T) {
		p, _, _ := newTestPolicy()
		p.Mute("g1")
		p.Mute("g1")
		p.Mute("g2")
		p.Unmute("g1")
		if got := p.Immune(); !slices.Equal(got, []string{"g2"}) {
			t.Errorf("immune = %v", got)
		}
	})
}
