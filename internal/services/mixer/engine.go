package mixer

import (
	"errors"
	"image"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/gpu"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
	"github.com/bbernstein/vizmix-go/internal/services/tempo"
)

// DefaultRenderRate is the tick rate used when none is configured.
const DefaultRenderRate = 60

// ErrStopped is returned for commands submitted while the engine shuts down.
var ErrStopped = errors.New("mixer engine stopped")

// ErrInvalidSize is returned for output sizes that are not positive.
var ErrInvalidSize = errors.New("invalid output size")

// Frame is a composited output frame published on pubsub.TopicFrame. The
// image is owned by the receivers.
type Frame struct {
	Seq   uint64
	Time  time.Time
	Image *image.RGBA
}

// BeatMessage is published on pubsub.TopicBeat.
type BeatMessage struct {
	BeatCount int `json:"beatCount"`
	BPM       int `json:"bpm"`
}

// AutoSwitchMessage is published on pubsub.TopicAutoSwitch.
type AutoSwitchMessage struct {
	Target float64 `json:"target"`
}

// ErrorMessage is published on pubsub.TopicError for resource errors.
type ErrorMessage struct {
	Channel string `json:"channel"`
	Error   string `json:"error"`
}

// ErrorReporter returns a media.Dependencies OnError hook that publishes
// resource errors.
func ErrorReporter(ps *pubsub.PubSub) func(channel string, err error) {
	return func(channel string, err error) {
		log.Printf("❌ [%s] %v", channel, err)
		if ps != nil {
			ps.PublishAll(pubsub.TopicError, ErrorMessage{Channel: channel, Error: err.Error()})
		}
	}
}

// Dependencies wires the engine to the rest of the mixer.
type Dependencies struct {
	Device     gpu.Device
	Media      *media.Manager
	Tempo      *tempo.Engine
	Effects    *effects.State
	Compositor *Compositor
	PubSub     *pubsub.PubSub
	// RenderRate is ticks per second; zero means DefaultRenderRate.
	RenderRate int
	Now        func() time.Time
}

type command struct {
	fn     func() error
	result chan error
}

// Engine is the render loop. Each tick advances the tempo clock, applies
// auto-switches, pulls one frame from each channel, composites them and
// publishes the result. Channel mutations are queued onto the loop so GPU
// work stays on the thread that owns the context and a switch is never
// observed half applied.
type Engine struct {
	mu sync.RWMutex

	device     gpu.Device
	media      *media.Manager
	tempo      *tempo.Engine
	effects    *effects.State
	compositor *Compositor
	pubsub     *pubsub.PubSub
	now        func() time.Time

	// tickMu serializes ticks with commands.
	tickMu     sync.Mutex
	frames     uint64
	renderErrs map[string]string

	// Control
	commands   chan command
	stopChan   chan struct{}
	done       chan struct{}
	running    bool
	updateRate time.Duration
}

// NewEngine creates a stopped engine. Missing tempo, effects, compositor and
// pubsub dependencies are created with defaults.
func NewEngine(deps Dependencies) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Effects == nil {
		deps.Effects = effects.NewState()
	}
	if deps.Tempo == nil {
		deps.Tempo = tempo.NewEngineWithClock(deps.Now)
	}
	if deps.Compositor == nil {
		deps.Compositor = NewCompositor(1280, 720, deps.Effects)
	}
	if deps.PubSub == nil {
		deps.PubSub = pubsub.New()
	}
	if deps.Media == nil {
		deps.Media = media.NewManager(media.Dependencies{Device: deps.Device})
	}
	rate := deps.RenderRate
	if rate <= 0 {
		rate = DefaultRenderRate
	}

	return &Engine{
		device:     deps.Device,
		media:      deps.Media,
		tempo:      deps.Tempo,
		effects:    deps.Effects,
		compositor: deps.Compositor,
		pubsub:     deps.PubSub,
		now:        deps.Now,
		renderErrs: make(map[string]string),
		commands:   make(chan command, 64),
		updateRate: time.Second / time.Duration(rate),
	}
}

// Media returns the channel manager.
func (e *Engine) Media() *media.Manager { return e.media }

// Tempo returns the tempo engine.
func (e *Engine) Tempo() *tempo.Engine { return e.tempo }

// Effects returns the effects state.
func (e *Engine) Effects() *effects.State { return e.effects }

// Compositor returns the compositor.
func (e *Engine) Compositor() *Compositor { return e.compositor }

// PubSub returns the event bus.
func (e *Engine) PubSub() *pubsub.PubSub { return e.pubsub }

// Start starts the render loop on its own locked OS thread.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stopChan, e.done
	e.mu.Unlock()

	go e.renderLoop(stop, done)
	log.Printf("🎬 Render loop started (%v per frame)", e.updateRate)
}

// Stop stops the render loop and waits for the current tick to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopChan)
	done := e.done
	e.mu.Unlock()

	<-done
	log.Printf("Render loop stopped after %d frames", e.FrameCount())
}

// IsRunning returns whether the render loop is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Close releases both channels on the render loop, then stops it.
func (e *Engine) Close() {
	_ = e.Do(func() error {
		e.media.Close()
		return nil
	})
	e.Stop()
}

func (e *Engine) renderLoop(stop, done chan struct{}) {
	defer close(done)

	// GL contexts are bound to one OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if e.device != nil {
		if err := e.device.Bind(); err != nil {
			log.Printf("⚠️ Failed to bind GPU device: %v", err)
		}
	}

	ticker := time.NewTicker(e.updateRate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case cmd := <-e.commands:
			e.tickMu.Lock()
			err := cmd.fn()
			e.tickMu.Unlock()
			cmd.result <- err
		case <-ticker.C:
			e.Tick(e.now())
		}
	}
}

// Do runs fn on the render loop between ticks and returns its error. When the
// loop is not running fn runs on the caller's goroutine.
func (e *Engine) Do(fn func() error) error {
	e.mu.RLock()
	running, stop, done := e.running, e.stopChan, e.done
	e.mu.RUnlock()

	if !running {
		e.tickMu.Lock()
		defer e.tickMu.Unlock()
		return fn()
	}

	cmd := command{fn: fn, result: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-stop:
		return ErrStopped
	}

	select {
	case err := <-cmd.result:
		return err
	case <-done:
		select {
		case err := <-cmd.result:
			return err
		default:
			return ErrStopped
		}
	}
}

// Tick runs one frame at now and returns the composited output, which is
// reused by the next tick.
func (e *Engine) Tick(now time.Time) *image.RGBA {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	stateChanged := false
	for _, ev := range e.tempo.Tick(now) {
		switch ev.Type {
		case tempo.EventBeat:
			e.compositor.Beat(now)
			e.pubsub.PublishAll(pubsub.TopicBeat, BeatMessage{BeatCount: ev.BeatCount, BPM: ev.BPM})
		case tempo.EventAutoSwitch:
			e.compositor.SetCrossfade(ev.Target)
			e.pubsub.PublishAll(pubsub.TopicAutoSwitch, AutoSwitchMessage{Target: ev.Target})
			log.Printf("🔀 Auto-switched to %s", targetName(ev.Target))
			stateChanged = true
		}
	}

	if e.compositor.Transitioning() {
		e.compositor.Advance(now)
		stateChanged = stateChanged || !e.compositor.Transitioning()
	}

	opA, opB := e.compositor.Opacities()
	a := e.produce(e.media.A(), opA > 0, now)
	b := e.produce(e.media.B(), opB > 0, now)

	out := e.compositor.Compose(a, b, now)
	e.frames++

	if e.pubsub.SubscriberCount(pubsub.TopicFrame) > 0 {
		img := image.NewRGBA(out.Bounds())
		copy(img.Pix, out.Pix)
		e.pubsub.PublishLatest(pubsub.TopicFrame, &Frame{Seq: e.frames, Time: now, Image: img})
	}
	if stateChanged {
		e.publishState()
	}
	return out
}

func targetName(target float64) string {
	if target >= 1 {
		return media.ChannelB
	}
	return media.ChannelA
}

// produce renders one channel at the output size. Render errors are logged
// once per distinct message.
func (e *Engine) produce(ch *media.Channel, visible bool, now time.Time) *image.RGBA {
	ch.SetVisible(visible)
	if err := ch.SetResolution(e.compositor.Size()); err != nil {
		log.Printf("⚠️ [%s] Resize failed: %v", ch.Name(), err)
	}
	frame, err := ch.ProduceFrame(now)
	if err != nil {
		if e.renderErrs[ch.Name()] != err.Error() {
			log.Printf("⚠️ [%s] Render failed: %v", ch.Name(), err)
			e.renderErrs[ch.Name()] = err.Error()
		}
		return nil
	}
	delete(e.renderErrs, ch.Name())
	return frame
}

// FrameCount returns the number of frames rendered.
func (e *Engine) FrameCount() uint64 {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.frames
}
