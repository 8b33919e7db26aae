package vim

import (
	"context"
	"log/slog"
)

// AlertOtherLogin is shown when the account signs in on another client.
const AlertOtherLogin = "account logged in elsewhere"

// RouterConfig wires a Router.
type RouterConfig struct {
	Conversations *Conversations
	Directory     *Directory
	// ClientID returns this client's instance id.
	ClientID func() string
	// Alert shows a user-visible notice.
	Alert func(text string)
	// Logout forces a logout after a duplicate login.
	Logout func()
	Logger *slog.Logger
}

// Router dispatches decoded frames to the conversation engine and the
// directory.
type Router struct {
	ctx   context.Context
	conv  *Conversations
	dir   *Directory
	id    func() string
	alert func(string)
	out   func()
	log   *slog.Logger
}

// NewRouter creates a Router. ctx bounds the reloads it schedules.
func NewRouter(ctx context.Context, cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.ClientID == nil {
		cfg.ClientID = func() string { return "" }
	}
	return &Router{
		ctx:   ctx,
		conv:  cfg.Conversations,
		dir:   cfg.Directory,
		id:    cfg.ClientID,
		alert: cfg.Alert,
		out:   cfg.Logout,
		log:   cfg.Logger,
	}
}

// Route handles one frame.
func (r *Router) Route(f Frame) {
	switch f := f.(type) {
	case MessageFrame:
		msg := f.Message
		Normalize(&msg, r.me())
		r.conv.PushMessage(msg)
	case ReadFrame:
		r.conv.SetLastReadTime(f.Receipt)
	case OtherLoginFrame:
		if f.OtherLogin.UUID == r.id() {
			return
		}
		r.log.Warn("logged in on another client", "uuid", f.OtherLogin.UUID)
		if r.alert != nil {
			r.alert(AlertOtherLogin)
		}
		if r.out != nil {
			r.out()
		}
	case FriendRequestFrame:
		if r.dir != nil {
			r.dir.RequestFriendReload(r.ctx)
		}
	case GroupRequestFrame:
		if r.dir != nil {
			r.dir.RequestGroupReload(r.ctx)
		}
	case AckFrame:
		r.log.Debug("ack", "message", string(f.Raw))
	case ReadyFrame:
		r.log.Debug("ready from server", "client", f.Auth.Client)
	case PongFrame:
	case UnknownFrame:
		r.log.Warn("unknown frame code", "code", f.Code)
	default:
		r.log.Warn("unhandled frame", "frame", f)
	}
}

func (r *Router) me() string {
	if u := r.conv.Me(); u != nil {
		return u.ID
	}
	return ""
}

// Normalize rewrites an inbound message relative to the user me: own
// messages are marked Mine, and a friend message from a peer is filed
// under the peer's chat.
func Normalize(msg *Message, me string) {
	if me == "" {
		return
	}
	if msg.FromID == me {
		msg.Mine = true
		return
	}
	if msg.ChatType == ChatFriend {
		msg.ChatID = msg.FromID
	}
}
