package feed

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"listingsync/internal/metrics"
	"listingsync/pkg/uid"
)

// State is the connection state of the Loop.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// FrameHandler processes one raw frame. It must not block on the connection
// and must not panic past its own recovery.
type FrameHandler interface {
	HandleFrame(ctx context.Context, data []byte)
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, data []byte)

// HandleFrame calls f.
func (f FrameHandlerFunc) HandleFrame(ctx context.Context, data []byte) { f(ctx, data) }

// LoopConfig holds configuration for the ingestion loop.
type LoopConfig struct {
	// MaxInFlight bounds concurrently handled frames. Reading pauses when full.
	MaxInFlight int
	// HandlerTimeout bounds one frame's handling, including its store writes.
	HandlerTimeout time.Duration
	// RedialDelay is the pause after a failed dial. A dropped connection is redialed at once.
	RedialDelay time.Duration
}

// Stats is a point-in-time view of the loop.
type Stats struct {
	State       string    `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	Connections int64     `json:"connections"`
	Frames      int64     `json:"frames"`
	InFlight    int       `json:"in_flight"`
	ConnectedAt time.Time `json:"connected_at,omitempty"`
	LastFrameAt time.Time `json:"last_frame_at,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// Loop keeps the feed connected and dispatches frames.
//
// Frames are handled on their own goroutines so a slow store write never
// stalls the socket; ordering across frames is therefore not preserved.
// Handlers run on a context detached from cancellation so in-flight writes
// finish when the loop is stopped.
type Loop struct {
	dialer  Dialer
	handler FrameHandler
	config  LoopConfig
	metrics *metrics.Metrics

	state    atomic.Int32
	sem      chan struct{}
	inFlight sync.WaitGroup

	mu          sync.Mutex
	sessionID   string
	connections int64
	frames      int64
	connectedAt time.Time
	lastFrameAt time.Time
	lastError   string
}

// NewLoop creates an ingestion loop.
func NewLoop(dialer Dialer, handler FrameHandler, config LoopConfig, m *metrics.Metrics) *Loop {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 64
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 30 * time.Second
	}
	if config.RedialDelay <= 0 {
		config.RedialDelay = 5 * time.Second
	}
	return &Loop{
		dialer:  dialer,
		handler: handler,
		config:  config,
		metrics: m,
		sem:     make(chan struct{}, config.MaxInFlight),
	}
}

// State returns the current connection state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.SetConnected(s == Connected)
}

// Run connects, reads and reconnects until ctx is cancelled. It returns
// ctx.Err() once every in-flight frame has been handled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.inFlight.Wait()
	defer l.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.setState(Connecting)
		conn, err := l.dialer.Dial(ctx)
		if err != nil {
			l.setState(Disconnected)
			l.recordError(err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Feed] Dial failed: %v (retrying in %v)", err, l.config.RedialDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(l.config.RedialDelay):
			}
			continue
		}

		session := l.connected()
		log.Printf("[Feed] Connected (session %s)", session)

		err = l.serve(ctx, conn)
		l.setState(Disconnected)

		if ctx.Err() != nil {
			log.Printf("[Feed] Session %s stopped", session)
			return ctx.Err()
		}
		l.recordError(err)
		log.Printf("[Feed] Connection closed: %v, reconnecting", err)
	}
}

func (l *Loop) connected() string {
	session := uid.Short()

	l.mu.Lock()
	l.sessionID = session
	l.connections++
	reconnect := l.connections > 1
	l.connectedAt = time.Now()
	l.mu.Unlock()

	if reconnect {
		l.metrics.Reconnect()
	}
	l.setState(Connected)
	return session
}

func (l *Loop) recordError(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	l.lastError = err.Error()
	l.mu.Unlock()
}

// serve reads frames until the connection fails or ctx is cancelled.
func (l *Loop) serve(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		l.mu.Lock()
		l.frames++
		l.lastFrameAt = time.Now()
		l.mu.Unlock()

		if !l.dispatch(ctx, data) {
			return ctx.Err()
		}
	}
}

// dispatch hands data to the handler on a new goroutine. It blocks while
// MaxInFlight frames are being handled and reports false if ctx ends first.
func (l *Loop) dispatch(ctx context.Context, data []byte) bool {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	l.inFlight.Add(1)
	go func() {
		defer l.inFlight.Done()
		defer func() { <-l.sem }()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Feed] PANIC in frame handler: %v", r)
			}
		}()

		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.HandlerTimeout)
		defer cancel()
		l.handler.HandleFrame(hctx, data)
	}()
	return true
}

// Stats returns loop counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		State:       l.State().String(),
		SessionID:   l.sessionID,
		Connections: l.connections,
		Frames:      l.frames,
		InFlight:    len(l.sem),
		ConnectedAt: l.connectedAt,
		LastFrameAt: l.lastFrameAt,
		LastError:   l.lastError,
	}
}
