package vim

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zongyulang/IM/internal/clock"
)

// SoundInterval is the minimum gap between two notification sounds.
const SoundInterval = time.Second

// Notifier is how the core gets the user's attention. The CLI logs;
// a desktop shell would show system notifications and play audio.
type Notifier interface {
	// Notify shows a system notification with content.
	Notify(content string)
	// Sound plays the message sound located at url.
	Sound(url string)
	// Flash asks the shell to flash or bounce its icon.
	Flash()
	// Alert shows a transient notice, e.g. a connectivity failure.
	Alert(text string)
}

// LogNotifier is a Notifier that writes to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(content string) { n.Logger.Info("notification", "content", content) }
func (n LogNotifier) Sound(url string)      { n.Logger.Debug("sound", "url", url) }
func (n LogNotifier) Flash()                { n.Logger.Debug("flash") }
func (n LogNotifier) Alert(text string)     { n.Logger.Warn(text) }

// ImmunityLoader fetches the muted chats of a user.
type ImmunityLoader interface {
	List(ctx context.Context, userID string) ([]Immunity, error)
}

// ============================================================================
// Policy
// ============================================================================

// Policy decides which messages deserve attention and tracks the
// window presence flags the decision depends on.
type Policy struct {
	mu       sync.Mutex
	immune   []string
	setting  *Setting
	blur     bool
	sleep    bool
	soundURL string
	limiter  *rate.Limiter

	clock    clock.Clock
	notifier Notifier
	log      *slog.Logger
}

// PolicyConfig configures a Policy.
type PolicyConfig struct {
	SoundURL string
	Notifier Notifier
	Clock    clock.Clock
	Logger   *slog.Logger
}

// NewPolicy creates a Policy with an empty immunity list and sound off.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = LogNotifier{Logger: cfg.Logger}
	}
	return &Policy{
		soundURL: cfg.SoundURL,
		limiter:  rate.NewLimiter(rate.Every(SoundInterval), 1),
		clock:    cfg.Clock,
		notifier: cfg.Notifier,
		log:      cfg.Logger,
	}
}

// CanTips reports whether msg should make noise for the user me. Own
// messages only do when they are events; messages in muted chats only
// do when they mention me.
func (p *Policy) CanTips(msg *Message, me string) bool {
	p.mu.Lock()
	immune := slices.Contains(p.immune, msg.ChatID)
	p.mu.Unlock()

	switch {
	case msg.FromID != me && !immune:
		return true
	case msg.ChatType == ChatGroup && mentions(msg, me):
		return true
	case msg.FromID == me && msg.MessageType == MessageEvent:
		return true
	}
	return false
}

func mentions(msg *Message, me string) bool {
	if me == "" {
		return false
	}
	at, ok := msg.Mentions()
	if !ok {
		return false
	}
	return at.AtAll || slices.Contains(at.AtUserIDs, me)
}

// Attend raises the notification, sound and flash a message calls for.
func (p *Policy) Attend(msg *Message, canTips bool) {
	if msg.Notification {
		p.notifier.Notify(msg.Content)
	}
	if canTips {
		p.soundTips()
		p.notifier.Flash()
	}
}

// soundTips plays at most one sound per SoundInterval, and only while
// the window is blurred and the user has sounds enabled. The interval is
// consumed even when the sound is suppressed.
func (p *Policy) soundTips() {
	if !p.limiter.AllowN(p.clock.Now(), 1) {
		return
	}
	p.mu.Lock()
	play := p.setting.SoundEnabled() && p.blur
	p.mu.Unlock()
	if play {
		p.notifier.Sound(p.soundURL)
	}
}

// Alert forwards a user-visible notice.
func (p *Policy) Alert(text string) { p.notifier.Alert(text) }

// ============================================================================
// Presence
// ============================================================================

func (p *Policy) SetBlur(blur bool) {
	p.mu.Lock()
	p.blur = blur
	p.mu.Unlock()
}

func (p *Policy) SetSleep(sleep bool) {
	p.mu.Lock()
	p.sleep = sleep
	p.mu.Unlock()
}

func (p *Policy) Blurred() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blur
}

func (p *Policy) Asleep() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleep
}

// ============================================================================
// Immunity list and settings
// ============================================================================

// SetSetting replaces the user's preferences.
func (p *Policy) SetSetting(s *Setting) {
	p.mu.Lock()
	p.setting = s
	p.mu.Unlock()
}

// SetImmune replaces the muted chat list.
func (p *Policy) SetImmune(chatIDs []string) {
	p.mu.Lock()
	p.immune = slices.Clone(chatIDs)
	p.mu.Unlock()
}

// Mute adds chatID to the muted list.
func (p *Policy) Mute(chatID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !slices.Contains(p.immune, chatID) {
		p.immune = append(p.immune, chatID)
	}
}

// Unmute removes chatID from the muted list.
func (p *Policy) Unmute(chatID string) {
	p.mu.Lock()
	p.immune = slices.DeleteFunc(p.immune, func(id string) bool { return id == chatID })
	p.mu.Unlock()
}

// Immune returns a copy of the muted chat list.
func (p *Policy) Immune() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.immune)
}

// LoadImmunity replaces the muted list with the server's copy.
func (p *Policy) LoadImmunity(ctx context.Context, api ImmunityLoader, userID string) error {
	if userID == "" {
		return nil
	}
	list, err := api.List(ctx, userID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(list))
	for _, item := range list {
		ids = append(ids, item.ChatID)
	}
	p.SetImmune(ids)
	return nil
}
