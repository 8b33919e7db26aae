package vim

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is a non-success response from the REST server.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// Result is the envelope every REST endpoint answers with.
type Result struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the Data field into v.
func (r *Result) Decode(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Chat Types
// ============================================================================

// ChatType distinguishes one-to-one chats from group chats.
type ChatType string

const (
	ChatFriend ChatType = "friend"
	ChatGroup  ChatType = "group"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageEvent MessageType = "event"
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
	MessageVoice MessageType = "voice"
	MessageVideo MessageType = "video"
)

// Message is a chat message as carried on the wire.
//
// ID is assigned by the server and grows monotonically; it is empty for
// messages the server has not acknowledged yet. Timestamp is in
// milliseconds since the epoch, zero when absent.
type Message struct {
	ID           string          `json:"id,omitempty"`
	MessageType  MessageType     `json:"messageType"`
	ChatID       string          `json:"chatId"`
	FromID       string          `json:"fromId"`
	Mine         bool            `json:"mine,omitempty"`
	Content      string          `json:"content"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	ChatType     ChatType        `json:"chatType"`
	Extend       json.RawMessage `json:"extend,omitempty"`
	Notification bool            `json:"notification,omitempty"`
}

// ExtendAt is the extension payload of a group message with mentions.
type ExtendAt struct {
	AtUserIDs []string `json:"atUserIds,omitempty"`
	AtAll     bool     `json:"atAll,omitempty"`
}

// ExtendFile is the extension payload of a file message.
type ExtendFile struct {
	URL  string `json:"url"`
	Name string `json:"fileName"`
	Size int64  `json:"size"`
}

// ExtendVoice is the extension payload of a voice message.
type ExtendVoice struct {
	URL    string `json:"url"`
	Length int    `json:"length"`
}

// Mentions decodes the mention extension, if any.
func (m *Message) Mentions() (ExtendAt, bool) {
	var at ExtendAt
	if len(m.Extend) == 0 {
		return at, false
	}
	if err := json.Unmarshal(m.Extend, &at); err != nil {
		return at, false
	}
	return at, true
}

// Chat is one entry of the chat list.
//
// UnreadCount is filled from the unread id set whenever the engine hands
// a Chat out; it is never mutated on its own.
type Chat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar"`
	Type         ChatType `json:"type"`
	UnreadCount  int      `json:"unreadCount"`
	Top          bool     `json:"top,omitempty"`
	LastReadTime int64    `json:"lastReadTime,omitempty"`
}

// ReadReceipt tells a peer how far a user has read a chat.
type ReadReceipt struct {
	ChatID    string   `json:"chatId"`
	FromID    string   `json:"fromId"`
	Timestamp int64    `json:"timestamp"`
	Type      ChatType `json:"type"`
}

// ReadyAuth is the handshake payload sent right after connecting.
type ReadyAuth struct {
	Token  string `json:"token"`
	Client string `json:"client"`
	UUID   string `json:"uuid"`
}

// OtherLogin reports that the account connected from another client.
type OtherLogin struct {
	UUID string `json:"uuid"`
}

// ============================================================================
// Directory Types
// ============================================================================

// User is a user profile.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	Mobile   string `json:"mobile,omitempty"`
	Email    string `json:"email,omitempty"`
	Sex      string `json:"sex,omitempty"`
	Sign     string `json:"sign,omitempty"`
	DeptID   string `json:"deptId,omitempty"`
	Username string `json:"username,omitempty"`
}

// UserSimple is the display subset of a User kept in the user cache.
type UserSimple struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Group is a group chat's profile.
type Group struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	Master       string `json:"master,omitempty"`
	Announcement string `json:"announcement,omitempty"`
	OpenInvite   string `json:"openInvite,omitempty"`
	InviteCheck  string `json:"inviteCheck,omitempty"`
}

// Friend is a pending or accepted friendship request.
type Friend struct {
	ID       string `json:"id,omitempty"`
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
	Message  string `json:"message,omitempty"`
	State    string `json:"state,omitempty"`
}

// GroupInviteCount is the number of join requests waiting in one group.
type GroupInviteCount struct {
	GroupID string `json:"groupId"`
	Count   int    `json:"count"`
}

// Immunity marks a chat as muted for a user.
type Immunity struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// Setting holds a user's client preferences.
type Setting struct {
	UserID         string `json:"userId,omitempty"`
	CanSoundRemind string `json:"canSoundRemind"`
	CanVoiceRemind string `json:"canVoiceRemind,omitempty"`
	CanFriendAdd   string `json:"canAddFriend,omitempty"`
}

// Yes is the dictionary value the server uses for enabled flags.
const Yes = "0"

// SoundEnabled reports whether message sounds are switched on.
func (s *Setting) SoundEnabled() bool {
	return s != nil && s.CanSoundRemind == Yes
}

// Page is a page of results from a paged endpoint.
type Page[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
	Size    int `json:"size"`
	Current int `json:"current"`
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// UploadResult describes a stored file.
type UploadResult struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

// ============================================================================
// Option Types
// ============================================================================

// MessagePageOptions filters MessagesClient.Page.
type MessagePageOptions struct {
	ChatID      string
	FromID      string
	SearchText  string
	ChatType    ChatType
	MessageType MessageType
	Current     int
	Size        int
	DateFrom    string
	DateTo      string
}
