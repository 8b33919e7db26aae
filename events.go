package vim

import (
	"log/slog"
	"sync"
)

// EventKind names a state change published to subscribers.
type EventKind string

const (
	EventChatsChanged    EventKind = "chats.changed"
	EventChatUpdated     EventKind = "chat.updated"
	EventMessageAdded    EventKind = "message.added"
	EventMessageRecalled EventKind = "message.recalled"
	EventMessagesCleared EventKind = "messages.cleared"
	EventUnreadChanged   EventKind = "unread.changed"
	EventReadTime        EventKind = "chat.read_time"
	EventChatOpened      EventKind = "chat.opened"
	EventDirectory       EventKind = "directory.changed"
	EventSessionState    EventKind = "session.state"
	EventLogout          EventKind = "logout"
)

// Event is a state-changed notification. ChatID is empty for list-wide
// changes.
type Event struct {
	Kind    EventKind
	ChatID  string
	Message *Message
	State   SessionState
}

// EventHandler receives published events. Handlers run on the
// publishing goroutine and must not block.
type EventHandler func(Event)

type subscription struct {
	id int
	h  EventHandler
}

type emitter struct {
	mu   sync.RWMutex
	next int
	subs []subscription
	log  *slog.Logger
}

func newEmitter(log *slog.Logger) *emitter {
	return &emitter{log: log}
}

// Subscribe registers h and returns a function that removes it.
func (e *emitter) Subscribe(h EventHandler) (unsubscribe func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs = append(e.subs, subscription{id: id, h: h})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("event handler panicked", "kind", ev.Kind, "panic", r)
				}
			}()
			s.h(ev)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	e.subs = nil
	e.mu.Unlock()
}
