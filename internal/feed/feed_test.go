package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(frames ...string) *fakeConn {
	c := &fakeConn{frames: make(chan []byte, len(frames)+1), closed: make(chan struct{})}
	for _, f := range frames {
		c.frames <- []byte(f)
	}
	return c
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, errors.New("connection reset")
		}
		return f, nil
	case <-c.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer returns the queued results in order, then blocks until ctx ends.
type fakeDialer struct {
	mu      sync.Mutex
	results []interface{} // Conn or error
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	if len(d.results) == 0 {
		d.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := d.results[0]
	d.results = d.results[1:]
	d.mu.Unlock()

	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(Conn), nil
}

type recorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *recorder) HandleFrame(_ context.Context, data []byte) {
	r.mu.Lock()
	r.frames = append(r.frames, string(data))
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoop_ReconnectsAfterClose(t *testing.T) {
	first := newFakeConn(`{"event":"a"}`)
	close(first.frames) // server drops the connection after one frame
	second := newFakeConn(`{"event":"b"}`)

	rec := &recorder{}
	loop := NewLoop(&fakeDialer{results: []interface{}{first, second}}, rec, LoopConfig{RedialDelay: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, "both frames", func() bool { return rec.count() == 2 })
	waitFor(t, "second session", func() bool { return loop.Stats().Connections == 2 })
	if loop.State() != Connected {
		t.Fatalf("state=%v want connected", loop.State())
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	if loop.State() != Disconnected {
		t.Fatalf("state after stop=%v", loop.State())
	}
	if s := loop.Stats(); s.Frames != 2 || s.LastError == "" {
		t.Fatalf("stats=%+v", s)
	}
}

func TestLoop_RetriesFailedDial(t *testing.T) {
	conn := newFakeConn(`[]`)
	rec := &recorder{}
	dialer := &fakeDialer{results: []interface{}{errors.New("refused"), errors.New("refused"), conn}}
	loop := NewLoop(dialer, rec, LoopConfig{RedialDelay: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, "frame after redial", func() bool { return rec.count() == 1 })
	cancel()
	<-done
}

func TestLoop_ShutdownWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerErr error
	handler := FrameHandlerFunc(func(ctx context.Context, _ []byte) {
		close(started)
		<-release
		handlerErr = ctx.Err()
	})

	loop := NewLoop(&fakeDialer{results: []interface{}{newFakeConn(`{}`)}}, handler, LoopConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	<-started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while a frame was still being handled")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	if handlerErr != nil {
		t.Fatalf("handler context was cancelled: %v", handlerErr)
	}
}

func TestLoop_HandlerPanicKeepsConnection(t *testing.T) {
	rec := &recorder{}
	handler := FrameHandlerFunc(func(ctx context.Context, data []byte) {
		if string(data) == "boom" {
			panic("bad frame")
		}
		rec.HandleFrame(ctx, data)
	})
	loop := NewLoop(&fakeDialer{results: []interface{}{newFakeConn("boom", "ok")}}, handler, LoopConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	waitFor(t, "frame after panic", func() bool { return rec.count() == 1 })
	if c := loop.Stats().Connections; c != 1 {
		t.Fatalf("connections=%d want 1", c)
	}
	cancel()
	<-done
}

func TestWSDialer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.BinaryMessage, []byte{0x1})
		ws.WriteMessage(websocket.TextMessage, []byte(`[{"event":"listing-update","payload":{}}]`))
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	defer srv.Close()

	d := NewWSDialer(WSDialerConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		PingInterval: time.Second,
		PongTimeout:  2 * time.Second,
	})

	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.HasPrefix(string(data), `[{"event":"listing-update"`) {
		t.Fatalf("got %s", data)
	}
	if _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected error after server close")
	}
}
