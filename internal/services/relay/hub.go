package relay

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/mixer"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
)

const (
	// DefaultJPEGQuality is used when the hub is created with quality 0.
	DefaultJPEGQuality = 80

	writeWait      = 2 * time.Second
	maxMessageSize = 64 * 1024
	controlBuffer  = 32
)

// StateSource provides the full state sent to a surface after its handshake.
type StateSource interface {
	Export() map[string]any
}

// StateFunc adapts a function to StateSource.
type StateFunc func() map[string]any

// Export calls f.
func (f StateFunc) Export() map[string]any { return f() }

// Hub accepts output surfaces and streams frames and events to them. A slow
// surface misses frames; nothing it does can block the render loop.
type Hub struct {
	pubsub   *pubsub.PubSub
	source   StateSource
	quality  int
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*peer]struct{}
	subs    []*pubsub.Subscriber
	running bool
	wg      sync.WaitGroup
}

// peer is one connected surface.
type peer struct {
	conn    *websocket.Conn
	control chan Message
	frames  chan []byte
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	ready bool
}

// NewHub creates a hub fed from ps. quality is the JPEG quality (1-100).
func NewHub(ps *pubsub.PubSub, source StateSource, quality int) *Hub {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Hub{
		pubsub:  ps,
		source:  source,
		quality: quality,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Output surfaces run on other origins
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[*peer]struct{}),
	}
}

// Start subscribes to the mixer topics and begins fanning out.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true

	frames := h.pubsub.Subscribe(pubsub.TopicFrame, "", 1)
	h.subs = []*pubsub.Subscriber{frames}
	h.wg.Add(1)
	go h.frameLoop(frames)

	for _, topic := range []pubsub.Topic{
		pubsub.TopicState,
		pubsub.TopicTempo,
		pubsub.TopicEffects,
		pubsub.TopicBeat,
		pubsub.TopicAutoSwitch,
		pubsub.TopicChannel,
		pubsub.TopicError,
	} {
		sub := h.pubsub.Subscribe(topic, "", controlBuffer)
		h.subs = append(h.subs, sub)
		h.wg.Add(1)
		go h.eventLoop(sub)
	}
}

// Stop unsubscribes and disconnects every surface.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	for _, sub := range h.subs {
		h.pubsub.Unsubscribe(sub)
	}
	h.subs = nil
	clients := make([]*peer, 0, len(h.clients))
	for p := range h.clients {
		clients = append(clients, p)
	}
	h.mu.Unlock()

	h.wg.Wait()
	for _, p := range clients {
		p.close()
	}
}

// ClientCount returns the number of connected surfaces.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReadyCount returns the number of surfaces that completed the handshake.
func (h *Hub) ReadyCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for p := range h.clients {
		if p.isReady() {
			n++
		}
	}
	return n
}

// ServeHTTP upgrades the request and serves one surface until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Relay upgrade failed: %v", err)
		return
	}

	p := &peer{
		conn:    conn,
		control: make(chan Message, controlBuffer),
		frames:  make(chan []byte, 1),
		done:    make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[p] = struct{}{}
	h.mu.Unlock()
	log.Printf("📺 Output surface connected from %s", r.RemoteAddr)

	go h.writeLoop(p)
	h.readLoop(p)

	h.mu.Lock()
	delete(h.clients, p)
	h.mu.Unlock()
	p.close()
	log.Printf("📺 Output surface disconnected from %s", r.RemoteAddr)
}

func (h *Hub) readLoop(p *peer) {
	p.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypeOutputReady {
			h.handshake(p)
		}
	}
}

// handshake answers output-ready. Repeated readies each get a fresh state.
func (h *Hub) handshake(p *peer) {
	p.mu.Lock()
	first := !p.ready
	p.ready = true
	p.mu.Unlock()

	if first {
		log.Printf("📺 Output surface ready")
	}
	p.sendControl(Message{Type: TypeStreamConnected})
	if h.source != nil {
		p.sendControl(stateMessage(h.source.Export()))
	}
}

func (h *Hub) writeLoop(p *peer) {
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.control:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(msg); err != nil {
				p.close()
				return
			}
		case data := <-p.frames:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.close()
				return
			}
		}
	}
}

// frameLoop encodes each published frame once and offers it to every ready
// surface, replacing any frame that surface has not sent yet.
func (h *Hub) frameLoop(sub *pubsub.Subscriber) {
	defer h.wg.Done()

	var buf bytes.Buffer
	for msg := range sub.Channel {
		frame, ok := msg.(*mixer.Frame)
		if !ok || frame.Image == nil {
			continue
		}
		targets := h.readyPeers()
		if len(targets) == 0 {
			continue
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: h.quality}); err != nil {
			log.Printf("Relay JPEG encode failed: %v", err)
			continue
		}
		data := append([]byte(nil), buf.Bytes()...)
		for _, p := range targets {
			p.offerFrame(data)
		}
	}
}

func (h *Hub) eventLoop(sub *pubsub.Subscriber) {
	defer h.wg.Done()

	for msg := range sub.Channel {
		out, ok := toMessage(sub.Topic, msg)
		if !ok {
			continue
		}
		for _, p := range h.readyPeers() {
			p.sendControl(out)
		}
	}
}

func toMessage(topic pubsub.Topic, payload any) (Message, bool) {
	switch topic {
	case pubsub.TopicState:
		if exported, ok := payload.(map[string]any); ok {
			return stateMessage(exported), true
		}
	case pubsub.TopicTempo:
		return Message{Type: TypeBPM, BPM: rawJSON(payload)}, true
	case pubsub.TopicEffects:
		if fx, ok := payload.(map[string]any); ok {
			return Message{Type: TypeEffects, Effects: fx}, true
		}
	case pubsub.TopicBeat:
		if beat, ok := payload.(mixer.BeatMessage); ok {
			return Message{Type: TypeBeat, BeatCount: beat.BeatCount, BPM: rawJSON(beat.BPM)}, true
		}
	case pubsub.TopicAutoSwitch:
		if sw, ok := payload.(mixer.AutoSwitchMessage); ok {
			target := sw.Target
			return Message{Type: TypeAutoSwitch, Target: &target}, true
		}
	case pubsub.TopicChannel:
		if snap, ok := payload.(media.Snapshot); ok {
			return channelMessage(snap), true
		}
	case pubsub.TopicError:
		if em, ok := payload.(mixer.ErrorMessage); ok {
			return Message{Type: TypeError, Channel: em.Channel, Error: em.Error}, true
		}
	}
	return Message{}, false
}

func (h *Hub) readyPeers() []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]*peer, 0, len(h.clients))
	for p := range h.clients {
		if p.isReady() {
			peers = append(peers, p)
		}
	}
	return peers
}

func (p *peer) isReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// sendControl queues a text message, dropping it if the surface is backed up.
func (p *peer) sendControl(msg Message) {
	select {
	case p.control <- msg:
	case <-p.done:
	default:
	}
}

// offerFrame replaces any queued frame with data.
func (p *peer) offerFrame(data []byte) {
	select {
	case p.frames <- data:
		return
	default:
	}
	select {
	case <-p.frames:
	default:
	}
	select {
	case p.frames <- data:
	default:
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}
