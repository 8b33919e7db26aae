// Package vim is the core of an instant-messaging client: a persistent
// WebSocket session with heartbeat and reconnection, a router for the
// server's envelopes, and a conversation state engine that keeps chats,
// message buffers and unread sets consistent.
//
// Example:
//
//	cfg, _ := vim.LoadConfig(path)
//	app, _ := vim.NewApp(cfg)
//	if err := app.Login(ctx, "alice", "secret"); err != nil { ... }
//	if err := app.Start(ctx); err != nil { ... }
//	defer app.Shutdown()
//
//	app.Conversations.Subscribe(func(ev vim.Event) { ... })
//	app.SendText("bob", vim.ChatFriend, "hello")
//
// The REST collaborators are reachable on their own through Client:
//
//	client := vim.NewClient(token, vim.WithBaseURL(cfg.HTTPBaseURL()))
//	chats, _ := client.Chats.List(ctx)
package vim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8080"
	DefaultTimeout = 30 * time.Second

	tokenHeader = "sa-token"
)

// ErrUnauthorized is returned when the server rejects the token.
var ErrUnauthorized = errors.New("token expired, please log in again")

// ============================================================================
// Client
// ============================================================================

// Client talks to the REST side of the server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu             sync.RWMutex
	token          string
	onUnauthorized func()

	Auth     *AuthClient
	Chats    *ChatsClient
	Groups   *GroupsClient
	Users    *UsersClient
	Friends  *FriendsClient
	Messages *MessagesClient
	Immunity *ImmunityClient
	Settings *SettingsClient
	Files    *FilesClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithUnauthorizedHandler registers f to run whenever the server answers
// with code 401.
func WithUnauthorizedHandler(f func()) ClientOption {
	return func(c *Client) { c.onUnauthorized = f }
}

// NewClient creates a REST client. token may be empty before login.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{c: c}
	c.Chats = &ChatsClient{c: c}
	c.Groups = &GroupsClient{c: c}
	c.Users = &UsersClient{c: c}
	c.Friends = &FriendsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Immunity = &ImmunityClient{c: c}
	c.Settings = &SettingsClient{c: c}
	c.Files = &FilesClient{c: c}
	return c
}

// SetToken replaces the auth token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current auth token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetUnauthorizedHandler replaces the 401 hook.
func (c *Client) SetUnauthorizedHandler(f func()) {
	c.mu.Lock()
	c.onUnauthorized = f
	c.mu.Unlock()
}

// BaseURL returns the REST root.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values, withToken bool) (*Result, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil && method != http.MethodGet {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); withToken && token != "" {
		req.Header.Set(tokenHeader, token)
	}

	return c.send(req)
}

func (c *Client) send(req *http.Request) (*Result, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	switch res.Code {
	case http.StatusOK:
		return &res, nil
	case http.StatusUnauthorized:
		c.mu.RLock()
		hook := c.onUnauthorized
		c.mu.RUnlock()
		if hook != nil {
			hook()
		}
		return nil, ErrUnauthorized
	default:
		return nil, &APIError{Code: res.Code, Message: res.Message}
	}
}

// call performs an authenticated request and decodes data into T.
func call[T any](ctx context.Context, c *Client, method, path string, body any, query url.Values) (T, error) {
	var out T
	res, err := c.doRequest(ctx, method, path, body, query, true)
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return out, nil
}

// exec performs an authenticated request whose data is not needed.
func exec(ctx context.Context, c *Client, method, path string, body any, query url.Values) error {
	_, err := c.doRequest(ctx, method, path, body, query, true)
	return err
}

// ============================================================================
// Auth
// ============================================================================

type AuthClient struct{ c *Client }

// Login exchanges credentials for a token and stores it on the client.
func (a *AuthClient) Login(ctx context.Context, username, password, code, uuid string) (*LoginResult, error) {
	res, err := a.c.doRequest(ctx, http.MethodPost, "/login", map[string]string{
		"username": username,
		"password": password,
		"code":     code,
		"uuid":     uuid,
	}, nil, false)
	if err != nil {
		return nil, err
	}
	var out LoginResult
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode login: %w", err)
	}
	if out.Token == "" {
		return nil, fmt.Errorf("login returned no token")
	}
	a.c.SetToken(out.Token)
	return &out, nil
}

// Logout invalidates the token server side.
func (a *AuthClient) Logout(ctx context.Context) error {
	return exec(ctx, a.c, http.MethodGet, "/logout", nil, nil)
}

// CheckLogin reports whether the token is still accepted.
func (a *AuthClient) CheckLogin(ctx context.Context) (bool, error) {
	_, err := a.c.doRequest(ctx, http.MethodGet, "/checkLogin", nil, nil, true)
	if errors.Is(err, ErrUnauthorized) {
		return false, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false, nil
	}
	return err == nil, err
}

// ============================================================================
// Chats
// ============================================================================

const chatPath = "/vim/server/chat"

type ChatsClient struct{ c *Client }

func (cc *ChatsClient) List(ctx context.Context) ([]Chat, error) {
	return call[[]Chat](ctx, cc.c, http.MethodGet, chatPath+"/list", nil, nil)
}

func (cc *ChatsClient) TopList(ctx context.Context) ([]Chat, error) {
	return call[[]Chat](ctx, cc.c, http.MethodGet, chatPath+"/topList", nil, nil)
}

func (cc *ChatsClient) Add(ctx context.Context, chat Chat) error {
	return exec(ctx, cc.c, http.MethodPost, chatPath, chat, nil)
}

// Update persists chat metadata. Unread counts are local, so the server
// always receives zero.
func (cc *ChatsClient) Update(ctx context.Context, chat Chat) error {
	chat.UnreadCount = 0
	return exec(ctx, cc.c, http.MethodPut, chatPath, chat, nil)
}

// Batch persists several chats at once, with unread counts zeroed.
func (cc *ChatsClient) Batch(ctx context.Context, chats []Chat) error {
	out := make([]Chat, len(chats))
	for i, chat := range chats {
		chat.UnreadCount = 0
		out[i] = chat
	}
	return exec(ctx, cc.c, http.MethodPut, chatPath+"/batch", out, nil)
}

func (cc *ChatsClient) Move(ctx context.Context, chatID string) error {
	return exec(ctx, cc.c, http.MethodGet, chatPath+"/move", nil, url.Values{"chatId": {chatID}})
}

func (cc *ChatsClient) Top(ctx context.Context, chatID string) error {
	return exec(ctx, cc.c, http.MethodGet, chatPath+"/top", nil, url.Values{"chatId": {chatID}})
}

func (cc *ChatsClient) CancelTop(ctx context.Context, chatID string) error {
	return exec(ctx, cc.c, http.MethodGet, chatPath+"/cancelTop", nil, url.Values{"chatId": {chatID}})
}

func (cc *ChatsClient) Delete(ctx context.Context, chatID string) error {
	return exec(ctx, cc.c, http.MethodDelete, chatPath+"/"+url.PathEscape(chatID), nil, nil)
}

// ============================================================================
// Groups, users, friends
// ============================================================================

type GroupsClient struct{ c *Client }

func (g *GroupsClient) Get(ctx context.Context, id string) (*Group, error) {
	return call[*Group](ctx, g.c, http.MethodGet, "/vim/server/groups/"+url.PathEscape(id), nil, nil)
}

func (g *GroupsClient) List(ctx context.Context) ([]Group, error) {
	return call[[]Group](ctx, g.c, http.MethodGet, "/vim/server/groups", nil, nil)
}

func (g *GroupsClient) Users(ctx context.Context, id string) ([]User, error) {
	return call[[]User](ctx, g.c, http.MethodGet, "/vim/server/groups/"+url.PathEscape(id)+"/users", nil, nil)
}

// WaitCheckList returns pending join requests per group.
func (g *GroupsClient) WaitCheckList(ctx context.Context) ([]GroupInviteCount, error) {
	return call[[]GroupInviteCount](ctx, g.c, http.MethodGet, "/vim/server/groupInvites/waitCheckList", nil, nil)
}

type UsersClient struct{ c *Client }

func (u *UsersClient) Get(ctx context.Context, id string) (*User, error) {
	return call[*User](ctx, u.c, http.MethodGet, "/vim/server/users/"+url.PathEscape(id), nil, nil)
}

// Current returns the logged-in user.
func (u *UsersClient) Current(ctx context.Context) (*User, error) {
	return call[*User](ctx, u.c, http.MethodGet, "/vim/server/users/my", nil, nil)
}

// Search finds users by mobile number, for adding friends.
func (u *UsersClient) Search(ctx context.Context, mobile string) ([]User, error) {
	return call[[]User](ctx, u.c, http.MethodGet, "/vim/server/users/search", nil, url.Values{"mobile": {mobile}})
}

type FriendsClient struct{ c *Client }

func (f *FriendsClient) List(ctx context.Context) ([]User, error) {
	return call[[]User](ctx, f.c, http.MethodGet, "/vim/server/friends", nil, nil)
}

// WaitCheckList returns friend requests waiting for approval.
func (f *FriendsClient) WaitCheckList(ctx context.Context) ([]Friend, error) {
	return call[[]Friend](ctx, f.c, http.MethodGet, "/vim/server/friends/validateList", nil, nil)
}

// ============================================================================
// Messages
// ============================================================================

const messagePath = "/vim/sdk/message"

type MessagesClient struct{ c *Client }

// List returns the latest pageSize messages of a chat.
func (m *MessagesClient) List(ctx context.Context, chatID string, chatType ChatType, pageSize int) ([]Message, error) {
	q := url.Values{
		"chatId":   {chatID},
		"chatType": {string(chatType)},
		"pageSize": {fmt.Sprint(pageSize)},
	}
	return call[[]Message](ctx, m.c, http.MethodGet, messagePath, nil, q)
}

// Page searches the message history.
func (m *MessagesClient) Page(ctx context.Context, opts MessagePageOptions) (*Page[Message], error) {
	q := url.Values{
		"chatId":      {opts.ChatID},
		"fromId":      {opts.FromID},
		"searchText":  {opts.SearchText},
		"chatType":    {string(opts.ChatType)},
		"messageType": {string(opts.MessageType)},
		"current":     {fmt.Sprint(opts.Current)},
		"size":        {fmt.Sprint(opts.Size)},
	}
	if opts.DateFrom != "" {
		q.Add("dateRange", opts.DateFrom)
	}
	if opts.DateTo != "" {
		q.Add("dateRange", opts.DateTo)
	}
	return call[*Page[Message]](ctx, m.c, http.MethodGet, messagePath+"/page", nil, q)
}

// ReadTime returns when fromID last read chatID.
func (m *MessagesClient) ReadTime(ctx context.Context, chatID, fromID string) (string, error) {
	return call[string](ctx, m.c, http.MethodGet, messagePath+"/getReadTime", nil, url.Values{
		"chatId": {chatID},
		"fromId": {fromID},
	})
}

// ============================================================================
// Immunity and settings
// ============================================================================

const immunityPath = "/vim/server/immunity"

type ImmunityClient struct{ c *Client }

func (i *ImmunityClient) List(ctx context.Context, userID string) ([]Immunity, error) {
	return call[[]Immunity](ctx, i.c, http.MethodGet, immunityPath+"/"+url.PathEscape(userID), nil, nil)
}

func (i *ImmunityClient) Save(ctx context.Context, userID, chatID string) error {
	return exec(ctx, i.c, http.MethodPost, immunityPath, Immunity{UserID: userID, ChatID: chatID}, nil)
}

func (i *ImmunityClient) Delete(ctx context.Context, userID, chatID string) error {
	return exec(ctx, i.c, http.MethodDelete, immunityPath+"/"+url.PathEscape(userID+"-"+chatID), nil, nil)
}

type SettingsClient struct{ c *Client }

func (s *SettingsClient) Get(ctx context.Context, userID string) (*Setting, error) {
	return call[*Setting](ctx, s.c, http.MethodGet, "/vim/server/setting/"+url.PathEscape(userID), nil, nil)
}

func (s *SettingsClient) Update(ctx context.Context, setting Setting) error {
	return exec(ctx, s.c, http.MethodPut, "/vim/server/setting", setting, nil)
}

// ============================================================================
// Files
// ============================================================================

type FilesClient struct{ c *Client }

// Upload stores data as a multipart file and returns its location.
func (f *FilesClient) Upload(ctx context.Context, fileName string, data []byte) (*UploadResult, error) {
	if fileName == "" {
		return nil, fmt.Errorf("fileName is required")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.c.baseURL+"/vim/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if token := f.c.Token(); token != "" {
		req.Header.Set(tokenHeader, token)
	}

	res, err := f.c.send(req)
	if err != nil {
		return nil, err
	}
	var out UploadResult
	if err := res.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload: %w", err)
	}
	return &out, nil
}
