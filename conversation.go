package vim

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zongyulang/IM/internal/clock"
)

const (
	// MaxBufferedMessages bounds each chat's in-memory message buffer.
	MaxBufferedMessages = 150
	// TrimBlock is how many of the oldest messages are dropped at once
	// when a buffer grows past MaxBufferedMessages.
	TrimBlock = 50
	// HideIndex is the list position past which a chat that receives a
	// message is promoted to just after the pinned chats.
	HideIndex = 10

	PlaceholderName = "loading…"
	RecalledContent = "This message has been recalled"

	persistTimeout = 15 * time.Second
)

// ChatAPI persists the chat list on the server. Calls are best effort:
// the local list is never rolled back when one fails.
type ChatAPI interface {
	List(ctx context.Context) ([]Chat, error)
	TopList(ctx context.Context) ([]Chat, error)
	Add(ctx context.Context, chat Chat) error
	Update(ctx context.Context, chat Chat) error
	Move(ctx context.Context, chatID string) error
	Top(ctx context.Context, chatID string) error
	CancelTop(ctx context.Context, chatID string) error
	Delete(ctx context.Context, chatID string) error
}

// GroupLookup fetches a group profile.
type GroupLookup interface {
	Get(ctx context.Context, id string) (*Group, error)
}

// UserResolver returns display data for a user id.
type UserResolver interface {
	Fetch(ctx context.Context, id string) (UserSimple, error)
	Refresh(ctx context.Context, id string) (UserSimple, error)
}

// ReceiptSender delivers read receipts to the server.
type ReceiptSender interface {
	SendReceipt(r ReadReceipt) error
}

// ConversationsConfig wires a Conversations engine to its collaborators.
// Any collaborator may be nil; the corresponding side effect is skipped.
type ConversationsConfig struct {
	Chats    ChatAPI
	Groups   GroupLookup
	Users    UserResolver
	Receipts ReceiptSender
	Policy   *Policy
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Conversations is the conversation state engine: the chat list with its
// pinned prefix, a bounded, time-ordered message buffer per chat, and the
// unread id sets that unread counts are derived from.
//
// All state sits behind one mutex. Collaborator calls and event handlers
// run outside it.
type Conversations struct {
	api      ChatAPI
	groups   GroupLookup
	users    UserResolver
	receipts ReceiptSender
	policy   *Policy
	clock    clock.Clock
	log      *slog.Logger
	events   *emitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	me          *User
	list        []*Chat
	openID      string
	active      bool
	chatView    bool
	buffers     map[string][]Message
	lastTime    map[string]int64
	lastMessage map[string]string
	unread      map[string][]string
}

// NewConversations creates an empty engine. The application starts
// active with the chat view shown.
func NewConversations(cfg ConversationsConfig) *Conversations {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Policy == nil {
		cfg.Policy = NewPolicy(PolicyConfig{Clock: cfg.Clock, Logger: cfg.Logger})
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Conversations{
		api:         cfg.Chats,
		groups:      cfg.Groups,
		users:       cfg.Users,
		receipts:    cfg.Receipts,
		policy:      cfg.Policy,
		clock:       cfg.Clock,
		log:         cfg.Logger,
		events:      newEmitter(cfg.Logger),
		ctx:         ctx,
		cancel:      cancel,
		active:      true,
		chatView:    true,
		buffers:     make(map[string][]Message),
		lastTime:    make(map[string]int64),
		lastMessage: make(map[string]string),
		unread:      make(map[string][]string),
	}
}

// Subscribe registers h for state-changed events.
func (c *Conversations) Subscribe(h EventHandler) func() { return c.events.Subscribe(h) }

// SetReceiptSender sets where read receipts go.
func (c *Conversations) SetReceiptSender(r ReceiptSender) {
	c.mu.Lock()
	c.receipts = r
	c.mu.Unlock()
}

// SetUser sets the logged-in user.
func (c *Conversations) SetUser(u *User) {
	c.mu.Lock()
	c.me = u
	c.mu.Unlock()
}

// Me returns the logged-in user, or nil.
func (c *Conversations) Me() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.me == nil {
		return nil
	}
	u := *c.me
	return &u
}

// Policy returns the notification policy in use.
func (c *Conversations) Policy() *Policy { return c.policy }

// ============================================================================
// Incoming messages
// ============================================================================

// PushMessage applies an incoming message: promotes its chat if it sat
// below HideIndex, materializes a placeholder chat when the id is new,
// buffers the message, updates unread state, raises notifications and
// finally emits a read receipt if the open chat is being looked at.
func (c *Conversations) PushMessage(msg Message) {
	c.mu.Lock()
	moved := false
	if idx := c.indexLocked(msg.ChatID); idx > HideIndex {
		if pinned := c.pinnedLocked(); pinned < HideIndex {
			chat := c.list[idx]
			c.list = slices.Delete(c.list, idx, idx+1)
			c.list = slices.Insert(c.list, pinned, chat)
			moved = true
		}
	}

	var placeholder *Chat
	chat := c.chatLocked(msg.ChatID)
	if chat == nil {
		placeholder = &Chat{ID: msg.ChatID, Name: PlaceholderName, Type: msg.ChatType}
		c.lastMessage[msg.ChatID] = msg.Content
		c.lastTime[msg.ChatID] = msg.Timestamp
		c.insertChatLocked(placeholder)
		chat = placeholder
	}
	res := c.addMessageLocked(chat, &msg)
	var created Chat
	if placeholder != nil {
		created = c.snapshotLocked(placeholder)
	}
	receipt := c.receiptLocked()
	receipts := c.receipts
	c.mu.Unlock()

	if moved {
		c.persist("move", msg.ChatID, func(ctx context.Context) error { return c.api.Move(ctx, msg.ChatID) })
	}
	if placeholder != nil {
		c.materialize(created, msg)
	}

	c.policy.Attend(&msg, res.canTips)

	if moved || placeholder != nil {
		c.events.emit(Event{Kind: EventChatsChanged})
	}
	if !res.duplicate {
		m := msg
		c.events.emit(Event{Kind: EventMessageAdded, ChatID: msg.ChatID, Message: &m})
	}
	if res.unreadChanged {
		c.events.emit(Event{Kind: EventUnreadChanged, ChatID: msg.ChatID})
	}
	c.deliverReceipt(receipts, receipt)
}

type addResult struct {
	canTips       bool
	duplicate     bool
	unreadChanged bool
}

func (c *Conversations) addMessageLocked(chat *Chat, msg *Message) addResult {
	var res addResult
	res.canTips = c.policy.CanTips(msg, c.meIDLocked())

	if c.viewingLocked(chat.ID) {
		res.unreadChanged = len(c.unread[chat.ID]) > 0
		delete(c.unread, chat.ID)
		c.lastMessage[chat.ID] = msg.Content
		c.lastTime[chat.ID] = msg.Timestamp
		res.duplicate = c.bufferLocked(chat.ID, *msg)
		return res
	}

	res.duplicate = c.bufferLocked(chat.ID, *msg)
	if res.canTips && !res.duplicate {
		c.lastMessage[chat.ID] = msg.Content
		c.lastTime[chat.ID] = msg.Timestamp
		if msg.ID != "" && !slices.Contains(c.unread[chat.ID], msg.ID) {
			c.unread[chat.ID] = append(c.unread[chat.ID], msg.ID)
			res.unreadChanged = true
		}
	}
	return res
}

// viewingLocked reports whether the user is looking at chatID right now.
func (c *Conversations) viewingLocked(chatID string) bool {
	return chatID == c.openID &&
		c.chatView &&
		c.active &&
		!c.policy.Blurred() &&
		!c.policy.Asleep()
}

// bufferLocked inserts msg into the chat's buffer and trims it. It
// reports whether msg was already present.
func (c *Conversations) bufferLocked(chatID string, msg Message) bool {
	list := c.buffers[chatID]
	n := len(list)
	list = InsertMessage(list, msg)
	duplicate := len(list) == n
	if len(list) > MaxBufferedMessages {
		list = append([]Message(nil), list[TrimBlock:]...)
	}
	c.buffers[chatID] = list
	return duplicate
}

// InsertMessage inserts msg before the first entry with a later
// timestamp, keeping list sorted by timestamp with ties in arrival
// order. A message whose id is already present is not inserted again.
func InsertMessage(list []Message, msg Message) []Message {
	if msg.ID != "" && slices.ContainsFunc(list, func(m Message) bool { return m.ID == msg.ID }) {
		return list
	}
	idx := slices.IndexFunc(list, func(m Message) bool { return m.Timestamp > msg.Timestamp })
	if idx < 0 {
		return append(list, msg)
	}
	return slices.Insert(list, idx, msg)
}

// materialize persists a freshly created placeholder chat and back-fills
// its display name and avatar from the group or user collaborator.
func (c *Conversations) materialize(chat Chat, msg Message) {
	c.background("create chat", chat.ID, func(ctx context.Context) error {
		if c.api != nil {
			if err := c.api.Add(ctx, chat); err != nil {
				c.log.Warn("add chat failed", "chat_id", chat.ID, "error", err)
			}
		}

		var name, avatar string
		switch msg.ChatType {
		case ChatGroup:
			if c.groups == nil {
				return nil
			}
			g, err := c.groups.Get(ctx, msg.ChatID)
			if err != nil {
				return err
			}
			name, avatar = g.Name, g.Avatar
		default:
			if c.users == nil {
				return nil
			}
			peer := msg.FromID
			if msg.Mine {
				peer = msg.ChatID
			}
			u, err := c.users.Fetch(ctx, peer)
			if err != nil {
				return err
			}
			name, avatar = u.Name, u.Avatar
		}
		c.UpdateChat(chat.ID, name, avatar, false)
		return nil
	})
}

// ============================================================================
// Read receipts
// ============================================================================

// HandleReceipt sends a read receipt for the open chat when the user is
// actually looking at it, and clears its unread set.
func (c *Conversations) HandleReceipt() {
	c.mu.Lock()
	receipt := c.receiptLocked()
	receipts := c.receipts
	c.mu.Unlock()
	c.deliverReceipt(receipts, receipt)
}

func (c *Conversations) receiptLocked() *ReadReceipt {
	if c.openID == "" || !c.active || c.policy.Asleep() || c.policy.Blurred() {
		return nil
	}
	chat := c.chatLocked(c.openID)
	if chat == nil || c.me == nil || c.openID == c.me.ID {
		return nil
	}
	delete(c.unread, chat.ID)
	return &ReadReceipt{
		ChatID:    chat.ID,
		FromID:    c.me.ID,
		Timestamp: c.clock.Now().UnixMilli(),
		Type:      chat.Type,
	}
}

func (c *Conversations) deliverReceipt(to ReceiptSender, r *ReadReceipt) {
	if r == nil {
		return
	}
	c.events.emit(Event{Kind: EventUnreadChanged, ChatID: r.ChatID})
	if to == nil {
		return
	}
	if err := to.SendReceipt(*r); err != nil {
		c.log.Debug("read receipt not sent", "chat_id", r.ChatID, "error", err)
	}
}

// SetLastReadTime records how far a peer has read. Only the peer's
// marker changes; unread state is untouched.
func (c *Conversations) SetLastReadTime(r ReadReceipt) {
	c.mu.Lock()
	changed := false
	for _, chat := range c.list {
		if chat.ID == r.FromID {
			chat.LastReadTime = r.Timestamp
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.events.emit(Event{Kind: EventReadTime, ChatID: r.FromID})
	}
}

// SetCurrentChatLastReadTime sets the read marker of the open chat.
func (c *Conversations) SetCurrentChatLastReadTime(t int64) {
	c.mu.Lock()
	chat := c.chatLocked(c.openID)
	if chat != nil {
		chat.LastReadTime = t
	}
	c.mu.Unlock()
	if chat != nil {
		c.events.emit(Event{Kind: EventReadTime, ChatID: chat.ID})
	}
}

// ============================================================================
// Chat list operations
// ============================================================================

// OpenChat makes chat the open chat, adding it to the list after the
// pinned chats if it is new, and clears its unread set.
func (c *Conversations) OpenChat(chat Chat) {
	c.mu.Lock()
	created := false
	if c.chatLocked(chat.ID) == nil {
		cp := chat
		cp.UnreadCount = 0
		c.insertChatLocked(&cp)
		created = true
	}
	c.openID = chat.ID
	delete(c.unread, chat.ID)
	persisted := c.snapshotLocked(c.chatLocked(chat.ID))
	c.mu.Unlock()

	if created {
		c.persist("add", chat.ID, func(ctx context.Context) error { return c.api.Add(ctx, persisted) })
		c.events.emit(Event{Kind: EventChatsChanged})
	}
	if chat.Type == ChatFriend && c.users != nil {
		c.background("refresh user", chat.ID, func(ctx context.Context) error {
			_, err := c.users.Refresh(ctx, chat.ID)
			return err
		})
	}
	c.events.emit(Event{Kind: EventChatOpened, ChatID: chat.ID})
	c.events.emit(Event{Kind: EventUnreadChanged, ChatID: chat.ID})
	c.HandleReceipt()
}

// CloseChat leaves the open chat.
func (c *Conversations) CloseChat() {
	c.mu.Lock()
	c.openID = ""
	c.mu.Unlock()
}

// NewChat adds chat right after the pinned chats unless it is already
// listed.
func (c *Conversations) NewChat(chat Chat) {
	c.mu.Lock()
	if c.chatLocked(chat.ID) != nil {
		c.mu.Unlock()
		return
	}
	cp := chat
	c.insertChatLocked(&cp)
	c.mu.Unlock()

	c.persist("add", chat.ID, func(ctx context.Context) error { return c.api.Add(ctx, chat) })
	c.events.emit(Event{Kind: EventChatsChanged})
}

// UpdateChat overwrites a chat's display fields, optionally clearing its
// unread set, and persists the result.
func (c *Conversations) UpdateChat(id, name, avatar string, resetUnread bool) {
	c.mu.Lock()
	chat := c.chatLocked(id)
	if chat == nil {
		c.mu.Unlock()
		return
	}
	chat.Name = name
	chat.Avatar = avatar
	if resetUnread {
		delete(c.unread, id)
	}
	persisted := c.snapshotLocked(chat)
	c.mu.Unlock()

	c.persist("update", id, func(ctx context.Context) error { return c.api.Update(ctx, persisted) })
	c.events.emit(Event{Kind: EventChatUpdated, ChatID: id})
}

// TopChat pins a chat, moving it to the front of the pinned block.
func (c *Conversations) TopChat(id string) {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	chat := c.list[idx]
	c.list = slices.Delete(c.list, idx, idx+1)
	at := slices.IndexFunc(c.list, func(ch *Chat) bool { return ch.Top })
	if at < 0 {
		at = 0
	}
	c.list = slices.Insert(c.list, at, chat)
	chat.Top = true
	c.mu.Unlock()

	c.persist("top", id, func(ctx context.Context) error { return c.api.Top(ctx, id) })
	c.events.emit(Event{Kind: EventChatsChanged})
}

// CancelTop unpins a chat and moves it to the end of the list.
func (c *Conversations) CancelTop(id string) {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 || !c.list[idx].Top {
		c.mu.Unlock()
		return
	}
	chat := c.list[idx]
	chat.Top = false
	c.list = append(slices.Delete(c.list, idx, idx+1), chat)
	c.mu.Unlock()

	c.persist("cancel top", id, func(ctx context.Context) error { return c.api.CancelTop(ctx, id) })
	c.events.emit(Event{Kind: EventChatsChanged})
}

// DeleteChat removes a chat from the list.
func (c *Conversations) DeleteChat(id string) {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	c.list = slices.Delete(c.list, idx, idx+1)
	if c.openID == id {
		c.openID = ""
	}
	c.mu.Unlock()

	c.persist("delete", id, func(ctx context.Context) error { return c.api.Delete(ctx, id) })
	c.events.emit(Event{Kind: EventChatsChanged})
}

// RecallMessage replaces a buffered message with the recall notice.
func (c *Conversations) RecallMessage(msg Message) {
	c.mu.Lock()
	found := false
	list := c.buffers[msg.ChatID]
	for i := range list {
		if list[i].ID != msg.ID {
			continue
		}
		if msg.Content == c.lastMessage[msg.ChatID] {
			c.lastMessage[msg.ChatID] = ""
		}
		list[i].Content = RecalledContent
		list[i].MessageType = MessageEvent
		found = true
	}
	c.mu.Unlock()

	if found {
		c.events.emit(Event{Kind: EventMessageRecalled, ChatID: msg.ChatID})
	}
}

// ReloadChats replaces the list with the server's pinned and recent
// chats, fetched in parallel. Pinned chats come first; duplicates keep
// their first occurrence.
func (c *Conversations) ReloadChats(ctx context.Context) error {
	if c.api == nil {
		return nil
	}
	var top, recent []Chat
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		top, err = c.api.TopList(gctx)
		return err
	})
	g.Go(func() (err error) {
		recent, err = c.api.List(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		c.log.Error("reload chats failed", "error", err)
		return err
	}

	list := make([]*Chat, 0, len(top)+len(recent))
	seen := make(map[string]bool, cap(list))
	add := func(chat Chat, pinned bool) {
		if seen[chat.ID] {
			return
		}
		seen[chat.ID] = true
		if pinned {
			chat.Top = true
		}
		list = append(list, &chat)
	}
	for _, chat := range top {
		add(chat, true)
	}
	for _, chat := range recent {
		add(chat, false)
	}

	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	c.events.emit(Event{Kind: EventChatsChanged})
	return nil
}

// SetChatActive records whether the chat window is active. Activating
// or deactivating the window clears the blur and sleep flags.
func (c *Conversations) SetChatActive(active bool) {
	c.policy.SetBlur(false)
	c.policy.SetSleep(false)
	c.mu.Lock()
	c.active = active
	c.mu.Unlock()
}

// SetViewing records whether the chat view, as opposed to another
// screen, is shown.
func (c *Conversations) SetViewing(viewing bool) {
	c.mu.Lock()
	c.chatView = viewing
	c.mu.Unlock()
}

// ScrollToFirstUnread opens the first chat with unread messages and
// returns its id.
func (c *Conversations) ScrollToFirstUnread() (string, bool) {
	c.mu.Lock()
	var target *Chat
	for _, chat := range c.list {
		if len(c.unread[chat.ID]) > 0 {
			t := c.snapshotLocked(chat)
			target = &t
			break
		}
	}
	c.mu.Unlock()
	if target == nil {
		return "", false
	}
	c.OpenChat(*target)
	return target.ID, true
}

// ClearMessages drops every message buffer. Used on logout.
func (c *Conversations) ClearMessages() {
	c.mu.Lock()
	c.buffers = make(map[string][]Message)
	c.openID = ""
	c.mu.Unlock()
	c.events.emit(Event{Kind: EventMessagesCleared})
}

// Reset forgets every chat together with its buffers, unread sets and
// last-message data. Used on logout so the next account starts empty.
func (c *Conversations) Reset() {
	c.mu.Lock()
	c.list = nil
	c.openID = ""
	c.buffers = make(map[string][]Message)
	c.lastTime = make(map[string]int64)
	c.lastMessage = make(map[string]string)
	c.unread = make(map[string][]string)
	c.mu.Unlock()
	c.events.emit(Event{Kind: EventMessagesCleared})
	c.events.emit(Event{Kind: EventChatsChanged})
}

// ============================================================================
// Queries
// ============================================================================

// Chats returns a copy of the chat list.
func (c *Conversations) Chats() []Chat {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Chat, len(c.list))
	for i, chat := range c.list {
		out[i] = c.snapshotLocked(chat)
	}
	return out
}

// Chat returns one chat.
func (c *Conversations) Chat(id string) (Chat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	chat := c.chatLocked(id)
	if chat == nil {
		return Chat{}, false
	}
	return c.snapshotLocked(chat), true
}

// OpenChatID returns the open chat's id, or "".
func (c *Conversations) OpenChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openID
}

// Messages returns a copy of a chat's buffer, oldest first.
func (c *Conversations) Messages(chatID string) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.buffers[chatID])
}

// GetMessage finds a buffered message by id.
func (c *Conversations) GetMessage(chatID, id string) (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.buffers[chatID] {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// UnreadCount is the size of the chat's unread id set.
func (c *Conversations) UnreadCount(chatID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.unread[chatID])
}

// UnreadIDs returns the chat's unread message ids.
func (c *Conversations) UnreadIDs(chatID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.unread[chatID])
}

// LastMessage returns the preview text and time shown for a chat.
func (c *Conversations) LastMessage(chatID string) (string, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMessage[chatID], c.lastTime[chatID]
}

// ============================================================================
// Persistence
// ============================================================================

// Snapshot returns the state that is kept across restarts.
func (c *Conversations) Snapshot() ChatState {
	c.mu.Lock()
	defer c.mu.Unlock()
	unread := make(map[string][]string, len(c.unread))
	for id, ids := range c.unread {
		if len(ids) > 0 {
			unread[id] = slices.Clone(ids)
		}
	}
	return ChatState{
		LastTime:    maps.Clone(c.lastTime),
		LastMessage: maps.Clone(c.lastMessage),
		UnreadIDs:   unread,
	}
}

// Restore loads state saved by Snapshot. It is trusted as consistent.
func (c *Conversations) Restore(s ChatState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTime = orEmpty(maps.Clone(s.LastTime))
	c.lastMessage = orEmpty(maps.Clone(s.LastMessage))
	c.unread = orEmpty(maps.Clone(s.UnreadIDs))
}

func orEmpty[V any](m map[string]V) map[string]V {
	if m == nil {
		return make(map[string]V)
	}
	return m
}

// Wait blocks until background persistence and lookups finish.
func (c *Conversations) Wait() { c.wg.Wait() }

// Close cancels background work and waits for it.
func (c *Conversations) Close() {
	c.cancel()
	c.wg.Wait()
}

// ============================================================================
// Helpers
// ============================================================================

func (c *Conversations) indexLocked(id string) int {
	return slices.IndexFunc(c.list, func(ch *Chat) bool { return ch.ID == id })
}

func (c *Conversations) chatLocked(id string) *Chat {
	if idx := c.indexLocked(id); idx >= 0 {
		return c.list[idx]
	}
	return nil
}

func (c *Conversations) pinnedLocked() int {
	n := 0
	for _, chat := range c.list {
		if chat.Top {
			n++
		}
	}
	return n
}

// insertChatLocked places chat right after the pinned chats.
func (c *Conversations) insertChatLocked(chat *Chat) {
	c.list = slices.Insert(c.list, c.pinnedLocked(), chat)
}

func (c *Conversations) snapshotLocked(chat *Chat) Chat {
	out := *chat
	out.UnreadCount = len(c.unread[chat.ID])
	return out
}

func (c *Conversations) meIDLocked() string {
	if c.me == nil {
		return ""
	}
	return c.me.ID
}

// persist runs a ChatAPI call in the background when an API is set.
func (c *Conversations) persist(op, chatID string, f func(ctx context.Context) error) {
	if c.api == nil {
		return
	}
	c.background(op, chatID, f)
}

func (c *Conversations) background(op, chatID string, f func(ctx context.Context) error) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, persistTimeout)
		defer cancel()
		if err := f(ctx); err != nil {
			c.log.Warn("chat collaborator call failed", "op", op, "chat_id", chatID, "error", err)
		}
	}()
}
