package mixer

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/gpu/gputest"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
	"github.com/bbernstein/vizmix-go/internal/services/tempo"
)

const testShader = `void mainImage(out vec4 fragColor, in vec2 fragCoord) {
  fragColor = vec4(1.0);
}`

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock, *gputest.Device) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	device := gputest.NewDevice()
	fx := effects.NewState()
	ps := pubsub.New()

	e := NewEngine(Dependencies{
		Device: device,
		Media: media.NewManager(media.Dependencies{
			Device:  device,
			Width:   8,
			Height:  8,
			Now:     clock.Now,
			OnError: ErrorReporter(ps),
		}),
		Tempo:      tempo.NewEngineWithClock(clock.Now),
		Effects:    fx,
		Compositor: NewCompositor(8, 8, fx),
		PubSub:     ps,
		RenderRate: 200,
		Now:        clock.Now,
	})
	t.Cleanup(e.Close)
	return e, clock, device
}

func receive(t *testing.T, sub *pubsub.Subscriber) interface{} {
	t.Helper()
	select {
	case msg := <-sub.Channel:
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message on %s", sub.Topic)
		return nil
	}
}

func TestEngine_TickPublishesBeats(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	sub := e.PubSub().Subscribe(pubsub.TopicBeat, "", 4)
	t0 := clock.Now()

	e.Tick(t0.Add(100 * time.Millisecond))
	assert.Len(t, sub.Channel, 0)

	e.Tick(t0.Add(500 * time.Millisecond))
	assert.Equal(t, BeatMessage{BeatCount: 1, BPM: 120}, receive(t, sub))
}

func TestEngine_AutoSwitchDrivesCrossfade(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	switches := e.PubSub().Subscribe(pubsub.TopicAutoSwitch, "", 4)
	states := e.PubSub().Subscribe(pubsub.TopicState, "", 1)

	e.SetAutoSwitch(true)
	e.SetSwitchInterval(1)
	e.SetCrossfade(0.4)
	<-states.Channel

	t0 := clock.Now()
	e.Tick(t0.Add(500 * time.Millisecond))
	assert.Equal(t, 1.0, e.Compositor().Crossfade())
	assert.Equal(t, AutoSwitchMessage{Target: 1}, receive(t, switches))

	state, ok := receive(t, states).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, state["crossfade"])

	// A manual move in between does not change the alternation
	e.SetCrossfade(0.7)
	e.Tick(t0.Add(1000 * time.Millisecond))
	assert.Equal(t, 0.0, e.Compositor().Crossfade())

	e.Tick(t0.Add(1500 * time.Millisecond))
	assert.Equal(t, 1.0, e.Compositor().Crossfade())
}

func TestEngine_RendersShaderChannel(t *testing.T) {
	e, clock, device := newTestEngine(t)

	require.NoError(t, e.ReplaceBank("A", 0, media.KindShader, testShader, "white"))
	require.NoError(t, e.SwitchBank("A", 0))
	e.SetCrossfade(0)

	out := e.Tick(clock.Now())
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, out.RGBAAt(3, 3))
	assert.Equal(t, 1, device.Compiles)
	assert.Equal(t, uint64(1), e.FrameCount())
}

func TestEngine_OutputSizeReachesShaders(t *testing.T) {
	e, clock, device := newTestEngine(t)
	require.NoError(t, e.ReplaceBank("A", 0, media.KindShader, testShader, "white"))
	require.NoError(t, e.SwitchBank("A", 0))

	require.NoError(t, e.SetOutputSize(16, 4))
	out := e.Tick(clock.Now())

	assert.Equal(t, image.Rect(0, 0, 16, 4), out.Bounds())
	require.Len(t, device.TargetSizes, 2)
	assert.Equal(t, [2]int{16, 4}, device.TargetSizes[1])
	programs, targets, _ := device.Live()
	assert.Equal(t, 1, programs)
	assert.Equal(t, 1, targets, "old target released on resize")

	// Unchanged size does not reallocate
	e.Tick(clock.Now())
	assert.Len(t, device.TargetSizes, 2)

	assert.ErrorIs(t, e.SetOutputSize(0, 4), ErrInvalidSize)
}

func TestEngine_PublishesOwnedFrames(t *testing.T) {
	e, clock, _ := newTestEngine(t)
	frames := e.PubSub().Subscribe(pubsub.TopicFrame, "", 1)

	out := e.Tick(clock.Now())
	frame, ok := receive(t, frames).(*Frame)
	require.True(t, ok)

	assert.Equal(t, uint64(1), frame.Seq)
	assert.Equal(t, out.Bounds(), frame.Image.Bounds())
	assert.NotSame(t, out, frame.Image)
}

func TestEngine_UnknownChannel(t *testing.T) {
	e, _, _ := newTestEngine(t)

	assert.ErrorIs(t, e.SwitchBank("C", 0), media.ErrUnknownChannel)
	_, err := e.SetDimmer("C", 1)
	assert.ErrorIs(t, err, media.ErrUnknownChannel)
	_, err = e.ChannelSnapshot("Z")
	assert.ErrorIs(t, err, media.ErrUnknownChannel)
}

func TestEngine_InvalidBankIndex(t *testing.T) {
	e, _, _ := newTestEngine(t)
	assert.ErrorIs(t, e.SwitchBank("A", 8), media.ErrInvalidBankIndex)
}

func TestEngine_CompileErrorReported(t *testing.T) {
	e, _, _ := newTestEngine(t)
	errs := e.PubSub().Subscribe(pubsub.TopicError, "", 4)

	err := e.ReplaceBank("B", 2, media.KindShader, gputest.FailMarker+"\n"+testShader, "broken")
	require.NoError(t, err, "inactive bank is not compiled")

	err = e.SwitchBank("B", 2)
	var sce *media.ShaderCompileError
	require.True(t, errors.As(err, &sce))

	msg, ok := receive(t, errs).(ErrorMessage)
	require.True(t, ok)
	assert.Equal(t, "B", msg.Channel)
}

func TestEngine_CommandsRunOnLoop(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Start()
	assert.True(t, e.IsRunning())

	ran := false
	require.NoError(t, e.Do(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	sentinel := errors.New("boom")
	assert.ErrorIs(t, e.Do(func() error { return sentinel }), sentinel)

	require.Eventually(t, func() bool { return e.FrameCount() > 0 }, 2*time.Second, 5*time.Millisecond)

	e.Stop()
	assert.False(t, e.IsRunning())

	// Stopped engines run commands inline
	ran = false
	require.NoError(t, e.Do(func() error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Start()
	e.Start()
	e.Stop()
	e.Stop()
	assert.False(t, e.IsRunning())
}

func TestEngine_ExportImportRoundTrip(t *testing.T) {
	src, _, _ := newTestEngine(t)
	src.SetBPM(90)
	src.SetSwitchInterval(8)
	_, err := src.SetEffect(effects.Blur, 40)
	require.NoError(t, err)
	src.SetEffectColor("#00ff00")
	src.SetCrossfade(0.3)
	_, err = src.SetDimmer("B", 0.5)
	require.NoError(t, err)

	data, err := json.Marshal(src.Export())
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	dst, _, _ := newTestEngine(t)
	dst.Import(decoded)

	assert.Equal(t, 90, dst.Tempo().BPM())
	assert.Equal(t, 8, dst.Tempo().State().SwitchInterval)
	assert.Equal(t, 40.0, dst.Effects().Values().Blur.Amount)
	assert.Equal(t, "#00FF00", dst.Effects().Values().RGBMultiply.Color)
	assert.Equal(t, 0.3, dst.Compositor().Crossfade())
	a, b := dst.Compositor().Dimmers()
	assert.Equal(t, 1.0, a)
	assert.Equal(t, 0.5, b)
}

func TestEngine_ImportPartial(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.SetBPM(100)

	e.Import(map[string]any{"crossfade": 0.8, "unknown": true})

	assert.Equal(t, 0.8, e.Compositor().Crossfade())
	assert.Equal(t, 100, e.Tempo().BPM())
}

func TestEngine_ToggleAutoSwitch(t *testing.T) {
	e, _, _ := newTestEngine(t)
	tempoSub := e.PubSub().Subscribe(pubsub.TopicTempo, "", 1)

	assert.True(t, e.ToggleAutoSwitch())
	state, ok := receive(t, tempoSub).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, state["autoSwitch"])

	assert.False(t, e.ToggleAutoSwitch())
}

func TestEngine_StateSnapshot(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.SetCrossfade(0.25)

	s := e.State()
	assert.Equal(t, 0.25, s.Crossfade)
	assert.Equal(t, tempo.DefaultBPM, s.Tempo.BPM)
	assert.Len(t, s.Channels, 2)
	assert.Equal(t, -1, s.Channels["A"].ActiveIndex)
	assert.False(t, s.Running)
}
