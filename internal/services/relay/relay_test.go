package relay

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/mixer"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
	"github.com/bbernstein/vizmix-go/internal/services/testutil"
)

func testState() map[string]any {
	return map[string]any{
		"crossfade": 0.25,
		"dimmers":   map[string]any{"A": 1.0, "B": 0.5},
		"bpm":       map[string]any{"bpm": 128, "autoSwitch": true},
		"effects":   map[string]any{"blur": 10.0},
	}
}

func startHub(t *testing.T) (*pubsub.PubSub, *Hub, string) {
	t.Helper()
	ps := pubsub.New()
	hub := NewHub(ps, StateFunc(testState), 0)
	hub.Start()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return ps, hub, wsURL(srv)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func handshake(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Message{Type: TypeOutputReady}))
	assert.Equal(t, TypeStreamConnected, readText(t, conn).Type)
	state := readText(t, conn)
	require.Equal(t, TypeState, state.Type)
	return state
}

func solidFrame(seq uint64) *mixer.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+3] = 255
	}
	return &mixer.Frame{Seq: seq, Time: time.Now(), Image: img}
}

// publishFrames keeps publishing until stop closes.
func publishFrames(ps *pubsub.PubSub, stop <-chan struct{}) {
	var seq uint64
	for {
		select {
		case <-stop:
			return
		case <-time.After(10 * time.Millisecond):
			seq++
			ps.PublishLatest(pubsub.TopicFrame, solidFrame(seq))
		}
	}
}

func TestHub_HandshakeSendsState(t *testing.T) {
	_, hub, url := startHub(t)
	conn := dial(t, url)

	state := handshake(t, conn)

	assert.Equal(t, 0.25, state.State["crossfade"])
	assert.NotContains(t, state.State, "bpm")
	assert.Equal(t, map[string]any{"blur": 10.0}, state.Effects)
	tempo := state.Tempo()
	require.NotNil(t, tempo)
	assert.Equal(t, 128.0, tempo["bpm"])
	assert.Equal(t, true, tempo["autoSwitch"])

	assert.Eventually(t, func() bool { return hub.ReadyCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHub_RepeatedReadyResendsState(t *testing.T) {
	_, _, url := startHub(t)
	conn := dial(t, url)

	handshake(t, conn)
	state := handshake(t, conn)
	assert.Equal(t, 0.25, state.State["crossfade"])
}

func TestHub_NoFramesBeforeReady(t *testing.T) {
	ps, hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	ps.PublishLatest(pubsub.TopicFrame, solidFrame(1))
	ps.PublishAll(pubsub.TopicBeat, mixer.BeatMessage{BeatCount: 1, BPM: 120})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_StreamsJPEGFrames(t *testing.T) {
	ps, _, url := startHub(t)
	conn := dial(t, url)
	handshake(t, conn)

	stop := make(chan struct{})
	defer close(stop)
	go publishFrames(ps, stop)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	img, format, err := image.Decode(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 16, img.Bounds().Dx())
	r, g, _, _ := img.At(8, 8).RGBA()
	assert.Greater(t, r>>8, uint32(200))
	assert.Less(t, g>>8, uint32(60))
}

func TestHub_Events(t *testing.T) {
	ps, _, url := startHub(t)
	conn := dial(t, url)
	handshake(t, conn)

	ps.PublishAll(pubsub.TopicBeat, mixer.BeatMessage{BeatCount: 7, BPM: 128})
	beat := readText(t, conn)
	assert.Equal(t, TypeBeat, beat.Type)
	assert.Equal(t, 7, beat.BeatCount)
	assert.Equal(t, 128, beat.BeatBPM())

	ps.PublishAll(pubsub.TopicAutoSwitch, mixer.AutoSwitchMessage{Target: 1})
	sw := readText(t, conn)
	assert.Equal(t, TypeAutoSwitch, sw.Type)
	require.NotNil(t, sw.Target)
	assert.Equal(t, 1.0, *sw.Target)

	ps.PublishAll(pubsub.TopicEffects, map[string]any{"invert": true})
	fx := readText(t, conn)
	assert.Equal(t, TypeEffects, fx.Type)
	assert.Equal(t, true, fx.Effects["invert"])

	ps.PublishAll(pubsub.TopicTempo, map[string]any{"bpm": 90})
	bpm := readText(t, conn)
	assert.Equal(t, TypeBPM, bpm.Type)
	assert.Equal(t, 90.0, bpm.Tempo()["bpm"])

	ps.PublishAll(pubsub.TopicError, mixer.ErrorMessage{Channel: "B", Error: "boom"})
	em := readText(t, conn)
	assert.Equal(t, TypeError, em.Type)
	assert.Equal(t, "B", em.Channel)
	assert.Equal(t, "boom", em.Error)
}

func TestHub_ForwardsChannelUpdates(t *testing.T) {
	ps, _, url := startHub(t)
	conn := dial(t, url)
	handshake(t, conn)

	ps.Publish(pubsub.TopicChannel, media.ChannelB, media.Snapshot{
		Name:                media.ChannelB,
		ActiveIndex:         3,
		ActiveKind:          media.KindShader,
		ActiveShaderVersion: 2,
		LoadingIndex:        -1,
		HasSignal:           true,
		Banks:               [media.NumBanks]media.BankSlot{3: {Kind: media.KindShader, Locator: "void main() {}", ShaderVersion: 2}},
	})

	msg := readText(t, conn)
	assert.Equal(t, TypeChannel, msg.Type)
	assert.Equal(t, media.ChannelB, msg.Channel)
	require.NotNil(t, msg.Status)
	assert.Equal(t, ChannelStatus{
		ActiveIndex:   3,
		ActiveKind:    media.KindShader,
		ShaderVersion: 2,
		LoadingIndex:  -1,
		HasSignal:     true,
	}, *msg.Status)
}

func TestHub_SwitchReachesSurface(t *testing.T) {
	te := testutil.NewTestEngine(t, nil, nil).Engine
	hub := NewHub(te.PubSub(), te, 0)
	hub.Start()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	conn := dial(t, wsURL(srv))
	handshake(t, conn)

	require.NoError(t, te.ReplaceBank(media.ChannelA, 2, media.KindShader, testutil.WhiteShader, "white"))
	require.NoError(t, te.SwitchBank(media.ChannelA, 2))

	// The replace and the switch each publish a status
	var last Message
	for i := 0; i < 2; i++ {
		last = readText(t, conn)
		require.Equal(t, TypeChannel, last.Type)
	}
	assert.Equal(t, media.ChannelA, last.Channel)
	assert.Equal(t, 2, last.Status.ActiveIndex)
	assert.True(t, last.Status.HasSignal)
}

func TestHub_StopDisconnects(t *testing.T) {
	ps := pubsub.New()
	hub := NewHub(ps, nil, 50)
	hub.Start()
	hub.Start()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, wsURL(srv))
	require.NoError(t, conn.WriteJSON(Message{Type: TypeOutputReady}))
	assert.Equal(t, TypeStreamConnected, readText(t, conn).Type)

	hub.Stop()
	hub.Stop()
	assert.Equal(t, 0, ps.SubscriberCount(pubsub.TopicFrame))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestOfferFrame_LatestWins(t *testing.T) {
	p := &peer{frames: make(chan []byte, 1), done: make(chan struct{})}

	p.offerFrame([]byte("one"))
	p.offerFrame([]byte("two"))
	p.offerFrame([]byte("three"))

	assert.Equal(t, []byte("three"), <-p.frames)
	assert.Len(t, p.frames, 0)
}

func TestStateMessage_SplitsRecords(t *testing.T) {
	msg := stateMessage(testState())

	assert.Equal(t, TypeState, msg.Type)
	assert.Len(t, msg.State, 2)
	assert.Contains(t, msg.State, "dimmers")
	assert.Equal(t, 0, msg.BeatBPM())
}

func TestClient_ConnectsAndReceives(t *testing.T) {
	ps, _, url := startHub(t)

	client := NewClient(url)
	client.RetryInterval = 10 * time.Millisecond
	var beats atomic.Int32
	client.OnMessage = func(m Message) {
		if m.Type == TypeBeat {
			beats.Add(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return client.State().Type == TypeState
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.25, client.State().State["crossfade"])

	img, seq := client.Frame()
	assert.Nil(t, img)
	assert.Zero(t, seq)

	stop := make(chan struct{})
	go publishFrames(ps, stop)
	require.Eventually(t, func() bool {
		img, _ := client.Frame()
		return img != nil
	}, 2*time.Second, 5*time.Millisecond)
	close(stop)

	ps.PublishAll(pubsub.TopicBeat, mixer.BeatMessage{BeatCount: 1, BPM: 120})
	assert.Eventually(t, func() bool { return beats.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
	assert.False(t, client.Connected())
}

// silentServer counts output-ready messages and confirms after confirmAt of
// them, or never when confirmAt is zero.
type silentServer struct {
	confirmAt int32
	readies   atomic.Int32
	upgrader  websocket.Upgrader
}

func (s *silentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != TypeOutputReady {
			continue
		}
		if n := s.readies.Add(1); s.confirmAt > 0 && n == s.confirmAt {
			_ = conn.WriteJSON(Message{Type: TypeStreamConnected})
		}
	}
}

func TestClient_HandshakeRetries(t *testing.T) {
	s := &silentServer{confirmAt: 3}
	srv := httptest.NewServer(s)
	defer srv.Close()

	client := NewClient(wsURL(srv))
	client.RetryInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	require.Eventually(t, client.Connected, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.readies.Load(), int32(3))
}

func TestClient_HandshakeTimeout(t *testing.T) {
	s := &silentServer{}
	srv := httptest.NewServer(s)
	defer srv.Close()

	client := NewClient(wsURL(srv))
	client.RetryInterval = 5 * time.Millisecond
	client.MaxAttempts = 3

	err := client.session(context.Background())
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Eventually(t, func() bool { return s.readies.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.False(t, client.Connected())
}

func TestClient_DialFailure(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/output")
	assert.Error(t, client.session(context.Background()))
}
