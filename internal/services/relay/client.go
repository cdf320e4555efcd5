package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"
)

// ErrHandshakeTimeout is returned when the hub never confirms output-ready.
var ErrHandshakeTimeout = errors.New("relay handshake timed out")

const (
	// DefaultRetryInterval is the spacing of output-ready announcements.
	DefaultRetryInterval = 500 * time.Millisecond
	// DefaultMaxAttempts bounds the announcements before reconnecting.
	DefaultMaxAttempts = 20

	minReconnectDelay = 250 * time.Millisecond
	maxReconnectDelay = 5 * time.Second
)

// Client connects an output surface to a Hub and keeps the latest frame and
// state. It reconnects whenever the control process goes away.
type Client struct {
	URL           string
	RetryInterval time.Duration
	MaxAttempts   int
	Dialer        *websocket.Dialer

	// OnMessage, if set, receives every text message after the handshake.
	OnMessage func(Message)

	mu        sync.RWMutex
	frame     *image.RGBA
	frameSeq  uint64
	state     Message
	connected bool
}

// NewClient creates a client for a hub websocket URL.
func NewClient(url string) *Client {
	return &Client{
		URL:           url,
		RetryInterval: DefaultRetryInterval,
		MaxAttempts:   DefaultMaxAttempts,
		Dialer:        websocket.DefaultDialer,
	}
}

// Frame returns the latest decoded frame and its sequence number, or nil
// before the first frame. The frame must not be modified.
func (c *Client) Frame() (*image.RGBA, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frame, c.frameSeq
}

// State returns the last full state message.
func (c *Client) State() Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connected reports whether the handshake has completed on a live socket.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Run connects and reconnects until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		start := time.Now()
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("Relay session ended: %v", err)

		// Sessions that got going reset the backoff
		if time.Since(start) > maxReconnectDelay {
			delay = minReconnectDelay
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// session runs one connection: announce readiness until confirmed, then read
// until the socket fails.
func (c *Client) session(ctx context.Context) error {
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	defer c.setConnected(false)

	confirmed := make(chan struct{})
	handshakeErr := make(chan error, 1)
	go func() {
		handshakeErr <- c.announce(ctx, conn, confirmed)
	}()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readLoop(conn, confirmed)
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-readErr
		return ctx.Err()
	case err := <-handshakeErr:
		if err != nil {
			_ = conn.Close()
			<-readErr
			return err
		}
	case err := <-readErr:
		return err
	}

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-readErr
		return ctx.Err()
	case err := <-readErr:
		return err
	}
}

// announce sends output-ready every RetryInterval until confirmed closes.
func (c *Client) announce(ctx context.Context, conn *websocket.Conn, confirmed <-chan struct{}) error {
	interval := c.RetryInterval
	if interval <= 0 {
		interval = DefaultRetryInterval
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(Message{Type: TypeOutputReady}); err != nil {
			return err
		}
		select {
		case <-confirmed:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	select {
	case <-confirmed:
		return nil
	default:
		return ErrHandshakeTimeout
	}
}

func (c *Client) readLoop(conn *websocket.Conn, confirmed chan<- struct{}) error {
	var once sync.Once
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		if kind == websocket.BinaryMessage {
			img, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				log.Printf("Relay frame decode failed: %v", err)
				continue
			}
			c.mu.Lock()
			c.frame = toRGBA(img)
			c.frameSeq++
			c.mu.Unlock()
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case TypeStreamConnected:
			once.Do(func() {
				close(confirmed)
				c.setConnected(true)
				log.Printf("📺 Relay stream connected")
			})
			continue
		case TypeState:
			c.mu.Lock()
			c.state = msg
			c.mu.Unlock()
		}
		if c.OnMessage != nil {
			c.OnMessage(msg)
		}
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
