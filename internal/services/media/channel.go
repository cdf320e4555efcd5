package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bbernstein/vizmix-go/internal/services/gpu"
	"github.com/bbernstein/vizmix-go/internal/services/shader"
)

// reverseWrapMargin is subtracted from the clip duration when reverse
// stepping wraps past the start.
const reverseWrapMargin = 100 * time.Millisecond

// Dependencies are the backends a channel builds resources with. Any of them
// may be nil; switching to a bank whose backend is missing reports the
// matching resource error.
type Dependencies struct {
	Device  gpu.Device
	Videos  VideoOpener
	Cameras CameraProvider

	// Width and Height size shader render targets.
	Width  int
	Height int

	// Now is the clock handed to shader programs.
	Now func() time.Time

	// LoadTimeout bounds a video open, and again the wait for its first
	// frame. Zero means 30 seconds.
	LoadTimeout time.Duration

	// OnError receives every resource error, including asynchronous video
	// load failures.
	OnError func(channel string, err error)
}

type pendingLoad struct {
	index  int
	slot   BankSlot
	cancel context.CancelFunc
	video  Video
	// deadline for the first frame, set on the first tick after Open returns
	deadline time.Time
}

// Channel is one media channel. All methods are safe for concurrent use;
// GPU work happens on the goroutine that calls SwitchBank, ReplaceBankContent,
// SetResolution and ProduceFrame.
type Channel struct {
	name string
	deps Dependencies

	mu    sync.Mutex
	banks [NumBanks]BankSlot

	active              ActiveSource
	activeIndex         int
	activeKind          Kind
	activeShaderVersion int

	transport  Transport
	rate       float64
	visible    bool
	reversePos time.Duration
	lastTick   time.Time

	pending *pendingLoad

	lastErr       error
	constructions int
}

// NewChannel creates an empty channel.
func NewChannel(name string, deps Dependencies) *Channel {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Width <= 0 || deps.Height <= 0 {
		deps.Width, deps.Height = shader.DefaultWidth, shader.DefaultHeight
	}
	if deps.LoadTimeout <= 0 {
		deps.LoadTimeout = 30 * time.Second
	}
	return &Channel{
		name:                name,
		deps:                deps,
		activeIndex:         -1,
		activeShaderVersion: -1,
		transport:           TransportPlay,
		rate:                1,
		visible:             true,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

func checkIndex(index int) error {
	if index < 0 || index >= NumBanks {
		return fmt.Errorf("%w: %d", ErrInvalidBankIndex, index)
	}
	return nil
}

// Bank returns the content of one bank.
func (c *Channel) Bank(index int) (BankSlot, error) {
	if err := checkIndex(index); err != nil {
		return BankSlot{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banks[index], nil
}

// Banks returns a copy of the bank table.
func (c *Channel) Banks() [NumBanks]BankSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banks
}

// SwitchBank makes index the active bank. Switching to the bank that is
// already live is a no-op. The replacement is built before the old resource
// is released. Video banks load in the background: the channel keeps showing
// its previous resource until the clip has a frame, and load failures are
// reported through OnError and Err.
func (c *Channel) SwitchBank(index int) error {
	if err := checkIndex(index); err != nil {
		return err
	}

	c.mu.Lock()
	err := c.switchLocked(index, false)
	c.mu.Unlock()

	c.notify(err)
	return err
}

func (c *Channel) switchLocked(index int, force bool) error {
	slot := c.banks[index]
	if slot.Empty() {
		return fmt.Errorf("channel %s bank %d: %w", c.name, index+1, ErrEmptyBank)
	}
	if !force && c.isLiveLocked(index, slot) {
		if p := c.pending; p != nil && p.index != index {
			log.Printf("[%s] Staying on bank %d, dropping load of bank %d", c.name, index+1, p.index+1)
			c.cancelPendingLocked()
		}
		return nil
	}

	switch slot.Kind {
	case KindVideo:
		return c.loadVideoLocked(index, slot)
	case KindShader:
		return c.buildShaderLocked(index, slot)
	case KindCamera:
		return c.attachCameraLocked(index, slot)
	}
	return fmt.Errorf("channel %s bank %d: unknown kind %q", c.name, index+1, slot.Kind)
}

// isLiveLocked reports whether slot at index is already the live (or
// loading) resource.
func (c *Channel) isLiveLocked(index int, slot BankSlot) bool {
	if p := c.pending; p != nil && p.index == index && p.slot == slot {
		return true
	}
	if c.activeIndex != index || c.activeKind != slot.Kind || c.active == nil {
		return false
	}
	switch src := c.active.(type) {
	case *ShaderSource:
		return c.activeShaderVersion == slot.ShaderVersion
	case *VideoSource:
		return src.Locator == slot.Locator
	case *CameraSource:
		return src.Device == slot.Locator
	}
	return false
}

func (c *Channel) loadVideoLocked(index int, slot BankSlot) error {
	c.cancelPendingLocked()
	c.constructions++

	if c.deps.Videos == nil {
		loadErr := &VideoLoadError{Channel: c.name, Index: index, Locator: slot.Locator, Err: ErrNoVideoBackend}
		c.lastErr = loadErr
		return loadErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.deps.LoadTimeout)
	p := &pendingLoad{index: index, slot: slot, cancel: cancel}
	c.pending = p

	log.Printf("[%s] Loading video %d (%s)", c.name, index+1, slot.Locator)
	go func() {
		v, err := c.deps.Videos.Open(ctx, slot.Locator)
		c.finishLoad(p, v, err)
	}()
	return nil
}

func (c *Channel) finishLoad(p *pendingLoad, v Video, err error) {
	c.mu.Lock()
	if c.pending != p {
		c.mu.Unlock()
		// Superseded by a later switch
		if v != nil {
			_ = v.Close()
		}
		return
	}
	if err != nil {
		p.cancel()
		c.pending = nil
		loadErr := &VideoLoadError{Channel: c.name, Index: p.index, Locator: p.slot.Locator, Err: err}
		c.lastErr = loadErr
		c.mu.Unlock()
		c.notify(loadErr)
		return
	}
	p.video = v
	c.applyTransportLocked(v)
	c.mu.Unlock()
}

// adoptPendingLocked swaps in a loaded clip once it has a frame to show. A
// clip whose decoder fails, or that shows nothing within LoadTimeout, is
// dropped and the previous resource stays live.
func (c *Channel) adoptPendingLocked(now time.Time) error {
	p := c.pending
	if p == nil || p.video == nil {
		return nil
	}
	err := p.video.Err()
	if err == nil && p.video.Frame() == nil {
		if p.deadline.IsZero() {
			p.deadline = now.Add(c.deps.LoadTimeout)
		}
		if now.Before(p.deadline) {
			return nil
		}
		err = ErrLoadTimeout
	}
	if err != nil {
		c.cancelPendingLocked()
		loadErr := &VideoLoadError{Channel: c.name, Index: p.index, Locator: p.slot.Locator, Err: err}
		c.lastErr = loadErr
		return loadErr
	}
	c.pending = nil
	p.cancel()

	c.releaseActiveLocked()
	c.active = &VideoSource{Video: p.video, Locator: p.slot.Locator}
	c.activeIndex = p.index
	c.activeKind = KindVideo
	c.activeShaderVersion = -1
	c.lastErr = nil
	c.reversePos = p.video.Position()
	log.Printf("[%s] Switched to video %d", c.name, p.index+1)
	return nil
}

func (c *Channel) cancelPendingLocked() {
	if c.pending == nil {
		return
	}
	c.pending.cancel()
	if c.pending.video != nil {
		_ = c.pending.video.Close()
	}
	c.pending = nil
}

func (c *Channel) buildShaderLocked(index int, slot BankSlot) error {
	c.cancelPendingLocked()
	c.constructions++

	var prog *shader.Program
	var err error
	if c.deps.Device == nil {
		err = gpu.ErrNoGPU
	} else {
		prog, err = shader.CompileString(c.deps.Device, slot.Locator,
			shader.WithName(slot.Name),
			shader.WithResolution(c.deps.Width, c.deps.Height),
			shader.WithClock(c.deps.Now),
		)
	}

	c.releaseActiveLocked()
	c.activeIndex = index
	c.activeKind = KindShader
	c.activeShaderVersion = slot.ShaderVersion

	if err != nil {
		diagnostic := err.Error()
		var ce *shader.CompileError
		if errors.As(err, &ce) {
			diagnostic = ce.Diagnostic
		}
		compileErr := &ShaderCompileError{Channel: c.name, Index: index, Name: slot.Name, Diagnostic: diagnostic, Err: err}
		c.lastErr = compileErr
		return compileErr
	}

	c.active = &ShaderSource{Program: prog, Version: slot.ShaderVersion}
	c.lastErr = nil
	log.Printf("[%s] Switched to shader %d %q v%d", c.name, index+1, slot.Name, slot.ShaderVersion)
	return nil
}

func (c *Channel) attachCameraLocked(index int, slot BankSlot) error {
	c.cancelPendingLocked()
	c.constructions++

	var cam Camera
	err := ErrNoCameraBackend
	if c.deps.Cameras != nil {
		cam, err = c.deps.Cameras.Open(slot.Locator)
	}

	c.releaseActiveLocked()
	c.activeIndex = index
	c.activeKind = KindCamera
	c.activeShaderVersion = -1

	if err != nil {
		accessErr := &CameraAccessError{Channel: c.name, Index: index, Device: slot.Locator, Err: err}
		c.lastErr = accessErr
		return accessErr
	}

	c.active = &CameraSource{Camera: cam, Device: slot.Locator}
	c.lastErr = nil
	log.Printf("[%s] Switched to camera %d (%s)", c.name, index+1, slot.Locator)
	return nil
}

func (c *Channel) releaseActiveLocked() {
	if c.active == nil {
		return
	}
	c.active.release()
	c.active = nil
	c.reversePos = 0
}

// ReplaceBankContent overwrites a bank. Shader content bumps the slot's
// version and defaults its name to shader_<n>. KindNone clears the bank. A
// live shader bank given new shader source is rebuilt on the next
// ProduceFrame; any other live bank is rebuilt immediately.
func (c *Channel) ReplaceBankContent(index int, kind Kind, locator, name string) error {
	if err := checkIndex(index); err != nil {
		return err
	}

	c.mu.Lock()
	slot := c.banks[index]
	slot.Kind = kind
	slot.Locator = locator
	slot.Name = name
	if kind == KindNone {
		slot.Locator, slot.Name = "", ""
	} else if slot.Name == "" {
		slot.Name = defaultName(kind, index, locator)
	}
	if kind == KindShader {
		slot.ShaderVersion++
	}
	c.banks[index] = slot
	log.Printf("[%s] Bank %d: %s %q v%d", c.name, index+1, kind, slot.Name, slot.ShaderVersion)

	var err error
	loading := c.pending != nil && c.pending.index == index
	if c.activeIndex == index && c.activeKind == KindShader && kind == KindShader && !loading {
		c.invalidateLocked(index)
	} else if c.activeIndex == index || loading {
		if slot.Empty() {
			c.cancelPendingLocked()
			c.releaseActiveLocked()
			c.activeIndex, c.activeKind, c.activeShaderVersion = -1, KindNone, -1
		} else {
			err = c.switchLocked(index, true)
		}
	}
	c.mu.Unlock()

	c.notify(err)
	return err
}

// InvalidateIfStale forces a rebuild on the next SwitchBank or ProduceFrame
// when index is the live shader bank and its content has changed since the
// program was built.
func (c *Channel) InvalidateIfStale(index int) {
	if checkIndex(index) != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(index)
}

func (c *Channel) invalidateLocked(index int) {
	if c.activeIndex == index && c.activeKind == KindShader && c.activeShaderVersion != c.banks[index].ShaderVersion {
		log.Printf("[%s] Shader version changed for bank %d, will reload", c.name, index+1)
		c.activeShaderVersion = -1
	}
}

// SetTransport sets the video transport. It has no effect while a shader or
// camera is live, and is remembered for the next clip.
func (c *Channel) SetTransport(t Transport) error {
	if _, err := ParseTransport(string(t)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.Kind() != KindVideo {
		return nil
	}
	if t == TransportReverse && c.transport != TransportReverse {
		if v, ok := c.active.(*VideoSource); ok {
			c.reversePos = v.Video.Position()
		}
	}
	c.transport = t
	if v, ok := c.active.(*VideoSource); ok {
		c.applyTransportLocked(v.Video)
	}
	return nil
}

func (c *Channel) applyTransportLocked(v Video) {
	v.SetRate(c.rate)
	if c.transport == TransportPlay {
		v.Play()
	} else {
		v.Pause()
	}
}

// SetPlaybackRate clamps rate to [0.25, 2] and applies it to forward playback
// and reverse stepping. Returns the stored rate.
func (c *Channel) SetPlaybackRate(rate float64) float64 {
	if math.IsNaN(rate) {
		rate = 1
	}
	rate = math.Max(MinPlaybackRate, math.Min(MaxPlaybackRate, rate))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rate = rate
	if v, ok := c.active.(*VideoSource); ok {
		v.Video.SetRate(rate)
	}
	return rate
}

// SetShaderInput writes a declared input of the live shader. Values reset
// when the shader is rebuilt.
func (c *Channel) SetShaderInput(name string, values ...float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, ok := c.active.(*ShaderSource)
	if !ok {
		return ErrNoShader
	}
	return src.Program.SetInput(name, values...)
}

// SetVisible tells the channel whether its output is on screen. Playback is
// only resumed automatically while visible.
func (c *Channel) SetVisible(visible bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visible = visible
}

// SetResolution sets the shader render size. A live program is resized and
// later builds use the new size.
func (c *Channel) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("channel %s: invalid resolution %dx%d", c.name, width, height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deps.Width, c.deps.Height = width, height
	if src, ok := c.active.(*ShaderSource); ok {
		return src.Program.SetResolution(width, height)
	}
	return nil
}

// ProduceFrame returns the channel's frame for the tick at now. It returns
// nil while no frame is available: a clip still buffering, a shader that
// failed to compile, or a camera with no signal. The returned image is owned
// by the resource and valid until the next call. Resource failures found
// here (a pending clip that never shows, a stale shader that no longer
// compiles, a decoder or capture stream that died) go to OnError and Err.
func (c *Channel) ProduceFrame(now time.Time) (*image.RGBA, error) {
	c.mu.Lock()

	loadErr := c.adoptPendingLocked(now)

	var rebuildErr error
	if c.activeKind == KindShader && c.activeIndex >= 0 {
		slot := c.banks[c.activeIndex]
		if slot.Kind == KindShader && c.activeShaderVersion != slot.ShaderVersion {
			rebuildErr = c.buildShaderLocked(c.activeIndex, slot)
		}
	}
	streamErr := c.checkStreamLocked()

	var delta time.Duration
	if !c.lastTick.IsZero() {
		delta = now.Sub(c.lastTick)
	}
	c.lastTick = now

	frame, err := c.frameLocked(delta)
	c.mu.Unlock()

	c.notify(loadErr)
	c.notify(rebuildErr)
	c.notify(streamErr)
	return frame, err
}

// checkStreamLocked drops a live clip or camera whose decoder has stopped.
// The bank stays selected with no signal; switching to it again reopens it.
func (c *Channel) checkStreamLocked() error {
	var resErr error
	switch src := c.active.(type) {
	case *VideoSource:
		if err := src.Video.Err(); err != nil {
			resErr = &VideoLoadError{Channel: c.name, Index: c.activeIndex, Locator: src.Locator, Err: err}
		}
	case *CameraSource:
		if err := src.Camera.Err(); err != nil {
			resErr = &CameraAccessError{Channel: c.name, Index: c.activeIndex, Device: src.Device, Err: err}
		}
	}
	if resErr != nil {
		c.releaseActiveLocked()
		c.lastErr = resErr
	}
	return resErr
}

func (c *Channel) frameLocked(delta time.Duration) (*image.RGBA, error) {
	switch src := c.active.(type) {
	case *VideoSource:
		v := src.Video
		switch c.transport {
		case TransportReverse:
			c.stepReverseLocked(v, delta)
		case TransportPlay:
			if v.Paused() && c.visible {
				v.Play()
			}
		}
		return v.Frame(), nil
	case *ShaderSource:
		return src.Program.Render()
	case *CameraSource:
		return src.Camera.Frame(), nil
	}
	return nil, nil
}

// stepReverseLocked moves the clip backwards by delta scaled by the playback
// rate, wrapping to just before the end.
func (c *Channel) stepReverseLocked(v Video, delta time.Duration) {
	if delta <= 0 {
		return
	}
	c.reversePos -= time.Duration(float64(delta) * c.rate)
	if c.reversePos <= 0 {
		c.reversePos = v.Duration() - reverseWrapMargin
		if c.reversePos < 0 {
			c.reversePos = 0
		}
	}
	v.Seek(c.reversePos)
}

// Err returns the last resource error, cleared by the next successful build.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Channel) notify(err error) {
	if err == nil || c.deps.OnError == nil || !isResourceError(err) {
		return
	}
	c.deps.OnError(c.name, err)
}

// Snapshot is the externally visible channel status.
type Snapshot struct {
	Name                string             `json:"name"`
	ActiveIndex         int                `json:"activeIndex"`
	ActiveKind          Kind               `json:"activeKind"`
	ActiveShaderVersion int                `json:"activeShaderVersion"`
	LoadingIndex        int                `json:"loadingIndex"`
	HasSignal           bool               `json:"hasSignal"`
	Transport           Transport          `json:"transport"`
	PlaybackRate        float64            `json:"playbackRate"`
	Error               string             `json:"error,omitempty"`
	Constructions       int                `json:"constructions"`
	Banks               [NumBanks]BankSlot `json:"banks"`
}

// Snapshot returns the channel status.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		Name:                c.name,
		ActiveIndex:         c.activeIndex,
		ActiveKind:          c.activeKind,
		ActiveShaderVersion: c.activeShaderVersion,
		LoadingIndex:        -1,
		HasSignal:           c.active != nil,
		Transport:           c.transport,
		PlaybackRate:        c.rate,
		Constructions:       c.constructions,
		Banks:               c.banks,
	}
	if c.pending != nil {
		s.LoadingIndex = c.pending.index
	}
	if c.lastErr != nil {
		s.Error = c.lastErr.Error()
	}
	return s
}

// Close releases the live resource and abandons any pending load.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelPendingLocked()
	c.releaseActiveLocked()
	c.activeIndex, c.activeKind, c.activeShaderVersion = -1, KindNone, -1
}
