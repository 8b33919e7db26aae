package vim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Test Helpers
// ============================================================================

var errConnClosed = errors.New("fake conn closed")

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned
// by Read one at a time.
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []string
	writeErr error
	status   websocket.StatusCode
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	for {
		select {
		case data := <-c.in:
			if data == nil {
				continue
			}
			return websocket.MessageText, data, nil
		case <-c.closed:
			return 0, nil, errConnClosed
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, string(p))
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = code
		c.mu.Unlock()
		close(c.closed)
	})
	return nil
}

// deliver hands data to the reader and returns once the session has
// finished processing it and is reading again.
func (c *fakeConn) deliver(t *testing.T, data string) {
	t.Helper()
	for _, item := range [][]byte{[]byte(data), nil} {
		select {
		case c.in <- item:
		case <-time.After(2 * time.Second):
			t.Fatalf("conn not reading while delivering %q", data)
		}
	}
}

// drop simulates the server going away.
func (c *fakeConn) drop() { c.Close(websocket.StatusAbnormalClosure, "") }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) countWrites(s string) int {
	n := 0
	for _, w := range c.writes() {
		if w == s {
			n++
		}
	}
	return n
}

// fakeDialer hands out fakeConns, or fails while err is set.
type fakeDialer struct {
	mu    sync.Mutex
	err   error
	dials int
	conns []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setErr(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// recordingNotifier records every call.
type recordingNotifier struct {
	mu       sync.Mutex
	notified []string
	sounds   []string
	flashes  int
	alerts   []string
}

func (n *recordingNotifier) Notify(content string) {
	n.mu.Lock()
	n.notified = append(n.notified, content)
	n.mu.Unlock()
}

func (n *recordingNotifier) Sound(url string) {
	n.mu.Lock()
	n.sounds = append(n.sounds, url)
	n.mu.Unlock()
}

func (n *recordingNotifier) Flash() {
	n.mu.Lock()
	n.flashes++
	n.mu.Unlock()
}

func (n *recordingNotifier) Alert(text string) {
	n.mu.Lock()
	n.alerts = append(n.alerts, text)
	n.mu.Unlock()
}

func (n *recordingNotifier) soundCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sounds)
}

func (n *recordingNotifier) flashCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flashes
}

func (n *recordingNotifier) alertList() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.alerts...)
}

// fakeChatAPI records ChatAPI calls.
type fakeChatAPI struct {
	mu     sync.Mutex
	calls  []string
	top    []Chat
	recent []Chat
	err    error
}

func (f *fakeChatAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeChatAPI) List(context.Context) ([]Chat, error) {
	if err := f.record("list"); err != nil {
		return nil, err
	}
	return f.recent, nil
}

func (f *fakeChatAPI) TopList(context.Context) ([]Chat, error) {
	if err := f.record("top-list"); err != nil {
		return nil, err
	}
	return f.top, nil
}

func (f *fakeChatAPI) Add(_ context.Context, c Chat) error    { return f.record("add " + c.ID) }
func (f *fakeChatAPI) Update(_ context.Context, c Chat) error { return f.record("update " + c.ID + " " + c.Name) }
func (f *fakeChatAPI) Move(_ context.Context, id string) error {
	return f.record("move " + id)
}
func (f *fakeChatAPI) Top(_ context.Context, id string) error { return f.record("top " + id) }
func (f *fakeChatAPI) CancelTop(_ context.Context, id string) error {
	return f.record("cancel-top " + id)
}
func (f *fakeChatAPI) Delete(_ context.Context, id string) error { return f.record("delete " + id) }

func (f *fakeChatAPI) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeReceipts records read receipts.
type fakeReceipts struct {
	mu   sync.Mutex
	sent []ReadReceipt
}

func (f *fakeReceipts) SendReceipt(r ReadReceipt) error {
	f.mu.Lock()
	f.sent = append(f.sent, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeReceipts) list() []ReadReceipt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ReadReceipt(nil), f.sent...)
}

// stateRecorder collects session state transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []SessionState
}

func (r *stateRecorder) record(s SessionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) count(s SessionState) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustEnvelope(t *testing.T, code Code, payload any) string {
	t.Helper()
	b, err := EncodeEnvelope(code, payload)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	return string(b)
}
