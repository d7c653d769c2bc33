// Package feed keeps a websocket connection to the listing feed alive and
// hands every text frame to a FrameHandler.
package feed

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one live feed connection.
type Conn interface {
	// ReadMessage blocks until the next text frame. Any error ends the connection.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens feed connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// WSDialerConfig configures a WSDialer.
type WSDialerConfig struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	// PingInterval is how often a ping is sent.
	PingInterval time.Duration
	// PongTimeout is the liveness window: no frame or pong within it closes the connection.
	PongTimeout time.Duration
}

// WSDialer dials the feed with gorilla/websocket.
type WSDialer struct {
	config WSDialerConfig
	dialer websocket.Dialer
}

// NewWSDialer creates a websocket dialer.
func NewWSDialer(config WSDialerConfig) *WSDialer {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 45 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 60 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 120 * time.Second
	}
	return &WSDialer{
		config: config,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
	}
}

// Dial connects and starts the keep-alive pings.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	ws, _, err := d.dialer.DialContext(ctx, d.config.URL, d.config.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.config.URL, err)
	}

	// frames can be large; no read limit
	ws.SetReadLimit(0)

	c := &wsConn{
		ws:          ws,
		pongTimeout: d.config.PongTimeout,
		done:        make(chan struct{}),
	}
	c.extend()
	ws.SetPongHandler(func(string) error {
		c.extend()
		return nil
	})

	go c.pingLoop(d.config.PingInterval)
	return c, nil
}

type wsConn struct {
	ws          *websocket.Conn
	pongTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsConn) extend() {
	c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		c.extend()
		if mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsConn) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				log.Printf("[Feed] Ping failed: %v", err)
				c.Close()
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
