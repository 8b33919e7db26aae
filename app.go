package vim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zongyulang/IM/internal/clock"
)

// NewFriendGreeting is sent to a new friend once a request is accepted.
const NewFriendGreeting = "We are friends now, let's chat!"

const (
	persistDelay  = time.Second
	storeTimeout  = 5 * time.Second
	logoutTimeout = 5 * time.Second
	storeFileName = "vim.db"
)

// ============================================================================
// Options
// ============================================================================

type appOptions struct {
	logger     *slog.Logger
	store      KV
	notifier   Notifier
	dialer     Dialer
	clock      clock.Clock
	httpClient *http.Client
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

func WithLogger(l *slog.Logger) AppOption { return func(o *appOptions) { o.logger = l } }

// WithStore replaces the local store. By default the app opens
// vim.db under the configured data dir, or keeps state in memory when no
// data dir is set.
func WithStore(kv KV) AppOption { return func(o *appOptions) { o.store = kv } }

func WithNotifier(n Notifier) AppOption { return func(o *appOptions) { o.notifier = n } }

func WithDialer(d Dialer) AppOption { return func(o *appOptions) { o.dialer = d } }

func WithClock(c clock.Clock) AppOption { return func(o *appOptions) { o.clock = c } }

func WithAppHTTPClient(c *http.Client) AppOption { return func(o *appOptions) { o.httpClient = c } }

// ============================================================================
// App
// ============================================================================

// App wires the REST client, the session, the router and the state
// engines into one running client.
type App struct {
	cfg   *Config
	log   *slog.Logger
	clock clock.Clock

	Client        *Client
	Store         KV
	Session       *Session
	Conversations *Conversations
	Directory     *Directory
	Users         *UserCache
	Policy        *Policy
	Router        *Router

	events   *emitter
	ctx      context.Context
	cancel   context.CancelFunc
	loggedIn atomic.Bool

	persistMu    sync.Mutex
	persistTimer *clock.Timer
}

// NewApp builds an App from cfg. Nothing touches the network until
// Login or Start.
func NewApp(cfg *Config, opts ...AppOption) (*App, error) {
	o := appOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.clock == nil {
		o.clock = clock.Real()
	}
	if o.notifier == nil {
		o.notifier = LogNotifier{Logger: o.logger}
	}
	if o.store == nil {
		kv, err := openStore(cfg.Client.DataDir)
		if err != nil {
			return nil, err
		}
		o.store = kv
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:    cfg,
		log:    o.logger,
		clock:  o.clock,
		Store:  o.store,
		events: newEmitter(o.logger),
		ctx:    ctx,
		cancel: cancel,
	}

	clientOpts := []ClientOption{WithBaseURL(cfg.HTTPBaseURL()), WithUnauthorizedHandler(a.forceLogout)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, WithHTTPClient(o.httpClient))
	}
	a.Client = NewClient(cfg.Auth.Token, clientOpts...)
	a.Users = NewUserCache(a.Client.Users, o.logger)
	a.Policy = NewPolicy(PolicyConfig{
		SoundURL: cfg.SoundURL(),
		Notifier: o.notifier,
		Clock:    o.clock,
		Logger:   o.logger,
	})
	a.Session = NewSession(SessionConfig{
		URL:           cfg.WSURL,
		Token:         a.Client.Token,
		ClientType:    cfg.Client.Type,
		Heartbeat:     cfg.Heartbeat(),
		Timeout:       cfg.Timeout(),
		RetryInterval: cfg.RetryInterval(),
		MaxRetries:    cfg.Session.MaxRetries,
		Dialer:        o.dialer,
		Clock:         o.clock,
		Logger:        o.logger.With("component", "session"),
		Alert:         a.Policy.Alert,
		OnFatal:       a.forceLogout,
		OnState: func(s SessionState) {
			a.events.emit(Event{Kind: EventSessionState, State: s})
		},
	})
	a.Conversations = NewConversations(ConversationsConfig{
		Chats:    a.Client.Chats,
		Groups:   a.Client.Groups,
		Users:    a.Users,
		Receipts: a.Session,
		Policy:   a.Policy,
		Clock:    o.clock,
		Logger:   o.logger.With("component", "conversations"),
	})
	a.Directory = NewDirectory(DirectoryConfig{
		Friends: a.Client.Friends,
		Groups:  a.Client.Groups,
		Users:   a.Users,
		Clock:   o.clock,
		Logger:  o.logger,
	})
	a.Router = NewRouter(ctx, RouterConfig{
		Conversations: a.Conversations,
		Directory:     a.Directory,
		ClientID:      a.Session.ClientID,
		Alert:         a.Policy.Alert,
		Logout:        a.forceLogout,
		Logger:        o.logger.With("component", "router"),
	})
	a.Session.SetHandler(a.Router.Route)
	a.Conversations.Subscribe(a.onConversationEvent)
	return a, nil
}

func openStore(dir string) (KV, error) {
	if dir == "" {
		return NewMemoryStore(), nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create data directory: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	return OpenSQLiteStore(ctx, filepath.Join(dir, storeFileName))
}

// Config returns the configuration the app was built with.
func (a *App) Config() *Config { return a.cfg }

// Subscribe registers h for events from the session, the conversation
// engine and the directory.
func (a *App) Subscribe(h EventHandler) func() {
	unsubs := []func(){
		a.events.Subscribe(h),
		a.Conversations.Subscribe(h),
		a.Directory.Subscribe(h),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// ============================================================================
// Login lifecycle
// ============================================================================

// Login authenticates and records the current user.
func (a *App) Login(ctx context.Context, username, password string) error {
	res, err := a.Client.Auth.Login(ctx, username, password, "", "")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	a.cfg.Auth.Token = res.Token
	a.cfg.Auth.Username = username

	me, err := a.Client.Users.Current(ctx)
	if err != nil {
		return fmt.Errorf("load current user: %w", err)
	}
	a.cfg.Auth.UserID = me.ID
	a.Conversations.SetUser(me)
	a.loggedIn.Store(true)

	if err := a.Store.Put(ctx, keyToken, res.Token); err != nil {
		a.log.Warn("persist token failed", "error", err)
	}
	if err := a.Store.Put(ctx, keyUser, me); err != nil {
		a.log.Warn("persist user failed", "error", err)
	}
	if err := a.Store.Put(ctx, keyHost, a.cfg.Server.Host); err != nil {
		a.log.Warn("persist host failed", "error", err)
	}
	return nil
}

// Start restores local state, loads the chat list and the directory and
// opens the session. A failed first connection is not an error: the
// session keeps retrying in the background.
func (a *App) Start(ctx context.Context) error {
	if a.Client.Token() == "" {
		var token string
		if ok, err := a.Store.Get(ctx, keyToken, &token); err != nil || !ok {
			return ErrUnauthorized
		}
		a.Client.SetToken(token)
	}
	a.loggedIn.Store(true)

	me := a.Conversations.Me()
	if me == nil {
		var err error
		if me, err = a.currentUser(ctx); err != nil {
			return fmt.Errorf("load current user: %w", err)
		}
		a.Conversations.SetUser(me)
	}

	var state ChatState
	if ok, err := a.Store.Get(ctx, keyChatState, &state); err != nil {
		a.log.Warn("restore chat state failed", "error", err)
	} else if ok {
		a.Conversations.Restore(state)
	}

	if err := a.Policy.LoadImmunity(ctx, a.Client.Immunity, me.ID); err != nil {
		a.log.Warn("load immunity failed", "error", err)
	}
	if setting, err := a.Client.Settings.Get(ctx, me.ID); err != nil {
		a.log.Warn("load settings failed", "error", err)
	} else {
		a.Policy.SetSetting(setting)
	}

	if err := a.Conversations.ReloadChats(ctx); err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	if err := a.Directory.LoadFriends(ctx); err != nil {
		a.log.Warn("load friends failed", "error", err)
	}
	if err := a.Directory.LoadFriendRequests(ctx); err != nil {
		a.log.Warn("load friend requests failed", "error", err)
	}
	if err := a.Directory.LoadGroupRequests(ctx); err != nil {
		a.log.Warn("load group requests failed", "error", err)
	}

	if err := a.Session.Open(ctx); err != nil {
		a.log.Warn("first connection failed, retrying", "error", err)
	}
	return nil
}

// currentUser prefers the stored user over asking the server.
func (a *App) currentUser(ctx context.Context) (*User, error) {
	var u User
	if ok, err := a.Store.Get(ctx, keyUser, &u); err == nil && ok && u.ID != "" {
		return &u, nil
	}
	return a.Client.Users.Current(ctx)
}

// Logout ends the login: the server is told best effort, the chat state
// of the account is dropped locally and in the store, the session closes
// and the token is forgotten.
// Calling Logout while logged out does nothing.
func (a *App) Logout(ctx context.Context) error {
	if !a.loggedIn.CompareAndSwap(true, false) {
		return nil
	}

	lctx, cancel := context.WithTimeout(ctx, logoutTimeout)
	defer cancel()
	if err := a.Client.Auth.Logout(lctx); err != nil && !errors.Is(err, ErrUnauthorized) {
		a.log.Warn("server logout failed", "error", err)
	}

	a.Session.Close()
	a.Conversations.Reset()
	a.Directory.Stop()
	a.Client.SetToken("")
	a.Users.Clear("")
	a.Conversations.SetUser(nil)
	a.cfg.Auth = AuthConfig{}

	a.persistMu.Lock()
	a.persistTimer.Stop()
	a.persistMu.Unlock()
	for _, key := range []string{keyToken, keyUser, keyChatState} {
		if err := a.Store.Delete(lctx, key); err != nil {
			a.log.Warn("clear stored login failed", "key", key, "error", err)
		}
	}
	a.log.Info("logged out")
	a.events.emit(Event{Kind: EventLogout})
	return nil
}

func (a *App) forceLogout() {
	if err := a.Logout(a.ctx); err != nil {
		a.log.Error("forced logout failed", "error", err)
	}
}

// LoggedIn reports whether a login is active.
func (a *App) LoggedIn() bool { return a.loggedIn.Load() }

// Shutdown saves local state and releases every resource.
func (a *App) Shutdown() error {
	a.persistMu.Lock()
	a.persistTimer.Stop()
	a.persistTimer = nil
	a.persistMu.Unlock()
	a.persist()

	a.Session.Close()
	a.Directory.Stop()
	a.cancel()
	a.Conversations.Close()
	return a.Store.Close()
}

// ============================================================================
// Messaging
// ============================================================================

// SendText sends a text message. The server echoes it back, and the echo
// is what lands in the chat buffer.
func (a *App) SendText(chatID string, chatType ChatType, text string) error {
	return a.send(Message{
		ChatID:      chatID,
		Content:     text,
		ChatType:    chatType,
		MessageType: MessageText,
	})
}

// SendFile uploads data and sends it as a file message, or as an image
// message when name has an image extension.
func (a *App) SendFile(ctx context.Context, chatID string, chatType ChatType, name string, data []byte) error {
	if a.Conversations.Me() == nil {
		return ErrUnauthorized
	}
	res, err := a.Client.Files.Upload(ctx, name, data)
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	extend, err := json.Marshal(ExtendFile{URL: res.URL, Name: name, Size: int64(len(data))})
	if err != nil {
		return err
	}
	kind := MessageFile
	if strings.HasPrefix(mime.TypeByExtension(filepath.Ext(name)), "image/") {
		kind = MessageImage
	}
	return a.send(Message{
		ChatID:      chatID,
		Content:     res.URL,
		ChatType:    chatType,
		MessageType: kind,
		Extend:      extend,
	})
}

func (a *App) send(msg Message) error {
	me := a.Conversations.Me()
	if me == nil {
		return ErrUnauthorized
	}
	msg.FromID = me.ID
	msg.Mine = true
	msg.Timestamp = a.clock.Now().UnixMilli()
	return a.Session.SendMessage(msg)
}

// NewFriendNotify greets friendID after a friendship is accepted.
func (a *App) NewFriendNotify(friendID string) error {
	return a.SendText(friendID, ChatFriend, NewFriendGreeting)
}

// NotifyFriendFlush asks userID's clients to reload their friend data.
func (a *App) NotifyFriendFlush(userID string) error {
	me := a.Conversations.Me()
	if me == nil {
		return ErrUnauthorized
	}
	return a.Session.SendEnvelope(CodeFriendRequest, Message{
		ChatID:      userID,
		FromID:      me.ID,
		Mine:        true,
		ChatType:    ChatFriend,
		MessageType: MessageText,
		Timestamp:   a.clock.Now().UnixMilli(),
	})
}

// ============================================================================
// Presence
// ============================================================================

// Focus records whether the window has focus. Regaining focus sends a
// read receipt for the open chat.
func (a *App) Focus(focused bool) {
	a.Policy.SetBlur(!focused)
	if focused {
		a.Conversations.HandleReceipt()
	}
}

// Suspend marks the machine as asleep.
func (a *App) Suspend() { a.Policy.SetSleep(true) }

// Resume clears the sleep flag and probes the connection.
func (a *App) Resume() {
	a.Policy.SetSleep(false)
	a.Session.CheckStatus()
	a.Conversations.HandleReceipt()
}

// ============================================================================
// Persistence
// ============================================================================

func (a *App) onConversationEvent(ev Event) {
	switch ev.Kind {
	case EventMessageAdded, EventUnreadChanged, EventMessageRecalled, EventChatsChanged:
	default:
		return
	}
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	a.persistTimer.Stop()
	a.persistTimer = a.clock.AfterFunc(persistDelay, a.persist)
}

func (a *App) persist() {
	if !a.loggedIn.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.Store.Put(ctx, keyChatState, a.Conversations.Snapshot()); err != nil {
		a.log.Warn("persist chat state failed", "error", err)
	}
}
