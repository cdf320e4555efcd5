// Package mixer composites the two media channels into the output frame and
// runs the render loop that drives tempo, channels and effects each tick.
package mixer

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/media"
)

// flashDuration is how long the beat flash takes to fade out.
const flashDuration = 150 * time.Millisecond

type transition struct {
	from     float64
	to       float64
	start    time.Time
	duration time.Duration
	curve    Curve
}

// Compositor blends channel A under channel B by the crossfade position and
// the per-channel dimmers, then runs the effects passes over the result.
type Compositor struct {
	mu sync.RWMutex

	crossfade  float64
	dimmerA    float64
	dimmerB    float64
	transition *transition

	flashAmount float64
	lastBeat    time.Time

	effects   *effects.State
	processor *effects.Processor

	// Render buffers, touched only by Compose.
	out   *image.RGBA
	layer *image.RGBA
}

// NewCompositor creates a compositor producing width x height frames. The
// crossfade starts centered with both dimmers full.
func NewCompositor(width, height int, fx *effects.State) *Compositor {
	if fx == nil {
		fx = effects.NewState()
	}
	return &Compositor{
		crossfade: 0.5,
		dimmerA:   1,
		dimmerB:   1,
		effects:   fx,
		processor: effects.NewProcessor(),
		out:       image.NewRGBA(image.Rect(0, 0, width, height)),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// Size returns the output frame size.
func (c *Compositor) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b := c.out.Bounds()
	return b.Dx(), b.Dy()
}

// Resize changes the output frame size. It must not run concurrently with
// Compose.
func (c *Compositor) Resize(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b := c.out.Bounds(); b.Dx() == width && b.Dy() == height {
		return nil
	}
	c.out = image.NewRGBA(image.Rect(0, 0, width, height))
	c.layer = nil
	return nil
}

// SetCrossfade clamps v to [0,1] (0 = all A, 1 = all B) and cancels any
// running transition. Returns the stored value.
func (c *Compositor) SetCrossfade(v float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition = nil
	c.crossfade = clamp01(v)
	return c.crossfade
}

// Crossfade returns the current crossfade position.
func (c *Compositor) Crossfade() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.crossfade
}

// FadeCrossfade moves the crossfade to target over d, starting from the
// current position. A zero duration jumps immediately.
func (c *Compositor) FadeCrossfade(target float64, d time.Duration, curve Curve, now time.Time) {
	if d <= 0 {
		c.SetCrossfade(target)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transition = &transition{
		from:     c.crossfade,
		to:       clamp01(target),
		start:    now,
		duration: d,
		curve:    curve,
	}
}

// Transitioning reports whether a timed crossfade is in progress.
func (c *Compositor) Transitioning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transition != nil
}

// Advance moves a running transition to now and returns the crossfade.
func (c *Compositor) Advance(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.transition
	if t == nil {
		return c.crossfade
	}
	progress := float64(now.Sub(t.start)) / float64(t.duration)
	if progress >= 1 {
		c.crossfade = t.to
		c.transition = nil
		return c.crossfade
	}
	c.crossfade = Interpolate(t.from, t.to, progress, t.curve)
	return c.crossfade
}

// SetDimmer clamps the named channel's dimmer to [0,1].
func (c *Compositor) SetDimmer(channel string, v float64) (float64, error) {
	v = clamp01(v)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch strings.ToUpper(channel) {
	case media.ChannelA:
		c.dimmerA = v
	case media.ChannelB:
		c.dimmerB = v
	default:
		return 0, fmt.Errorf("%w: %q", media.ErrUnknownChannel, channel)
	}
	return v, nil
}

// Dimmers returns the dimmers of A and B.
func (c *Compositor) Dimmers() (a, b float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dimmerA, c.dimmerB
}

// Opacities returns the layer opacities: (1-v)*dimmerA for A and v*dimmerB
// for B.
func (c *Compositor) Opacities() (a, b float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opacitiesLocked()
}

func (c *Compositor) opacitiesLocked() (a, b float64) {
	return (1 - c.crossfade) * c.dimmerA, c.crossfade * c.dimmerB
}

// SetBeatFlash sets how strongly each beat brightens the output (0 = off).
func (c *Compositor) SetBeatFlash(v float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flashAmount = clamp01(v)
	return c.flashAmount
}

// BeatFlash returns the beat flash strength.
func (c *Compositor) BeatFlash() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flashAmount
}

// Beat starts a flash at the given time.
func (c *Compositor) Beat(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastBeat = at
}

func (c *Compositor) flashLevelLocked(now time.Time) float64 {
	if c.flashAmount <= 0 || c.lastBeat.IsZero() {
		return 0
	}
	elapsed := now.Sub(c.lastBeat)
	if elapsed < 0 || elapsed >= flashDuration {
		return 0
	}
	return c.flashAmount * (1 - Ease(float64(elapsed)/float64(flashDuration), CurveOutExponential))
}

// Compose blends a under b into the output frame and applies the effects.
// A nil frame contributes nothing, so a channel without signal shows as
// black. The returned image is reused by the next call.
func (c *Compositor) Compose(a, b *image.RGBA, now time.Time) *image.RGBA {
	c.mu.RLock()
	opA, opB := c.opacitiesLocked()
	flash := c.flashLevelLocked(now)
	c.mu.RUnlock()

	draw.Draw(c.out, c.out.Bounds(), image.Black, image.Point{}, draw.Src)
	c.drawLayer(a, opA)
	c.drawLayer(b, opB)
	if flash > 0 {
		lighten(c.out, flash)
	}

	params := c.effects.Params()
	c.processor.ApplyFilters(c.out, params)
	c.processor.ApplyGlitch(c.out, params, now)
	return c.out
}

func (c *Compositor) drawLayer(src *image.RGBA, opacity float64) {
	if src == nil || opacity <= 0 || src.Bounds().Empty() {
		return
	}

	bounds := c.out.Bounds()
	layer := src
	if src.Bounds().Size() != bounds.Size() {
		if c.layer == nil {
			c.layer = image.NewRGBA(bounds)
		}
		draw.BiLinear.Scale(c.layer, bounds, src, src.Bounds(), draw.Src, nil)
		layer = c.layer
	}

	if opacity >= 1 {
		draw.Draw(c.out, bounds, layer, layer.Bounds().Min, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(c.out, bounds, layer, layer.Bounds().Min, mask, image.Point{}, draw.Over)
}

// lighten moves every color channel toward white by level.
func lighten(frame *image.RGBA, level float64) {
	b := frame.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := frame.Pix[frame.PixOffset(b.Min.X, y):frame.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			for ch := 0; ch < 3; ch++ {
				v := float64(row[i+ch])
				row[i+ch] = uint8(math.Round(v + (255-v)*level))
			}
		}
	}
}
