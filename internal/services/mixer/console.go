package mixer

import (
	"log"
	"strings"
	"time"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/pubsub"
	"github.com/bbernstein/vizmix-go/internal/services/tempo"
)

// State is the full mixer status.
type State struct {
	Crossfade float64                   `json:"crossfade"`
	DimmerA   float64                   `json:"dimmerA"`
	DimmerB   float64                   `json:"dimmerB"`
	BeatFlash float64                   `json:"beatFlash"`
	Tempo     tempo.State               `json:"tempo"`
	Effects   effects.Values            `json:"effects"`
	Channels  map[string]media.Snapshot `json:"channels"`
	Frames    uint64                    `json:"frames"`
	Running   bool                      `json:"running"`
}

// State returns the full mixer status.
func (e *Engine) State() State {
	a, b := e.compositor.Dimmers()
	return State{
		Crossfade: e.compositor.Crossfade(),
		DimmerA:   a,
		DimmerB:   b,
		BeatFlash: e.compositor.BeatFlash(),
		Tempo:     e.tempo.State(),
		Effects:   e.effects.Values(),
		Channels:  e.media.Snapshots(),
		Frames:    e.FrameCount(),
		Running:   e.IsRunning(),
	}
}

// Export serializes the tempo, effects and mix state as plain key-value
// records for the output surface and for persistence.
func (e *Engine) Export() map[string]any {
	a, b := e.compositor.Dimmers()
	return map[string]any{
		"crossfade": e.compositor.Crossfade(),
		"dimmers":   map[string]any{media.ChannelA: a, media.ChannelB: b},
		"beatFlash": e.compositor.BeatFlash(),
		"bpm":       e.tempo.Serialize(),
		"effects":   e.effects.Serialize(),
	}
}

// Import applies a record produced by Export. Unknown and missing keys are
// ignored so partial updates are allowed.
func (e *Engine) Import(data map[string]any) {
	if bpm, ok := data["bpm"].(map[string]any); ok {
		e.tempo.Deserialize(bpm)
		e.publishTempo()
	}
	if fx, ok := data["effects"].(map[string]any); ok {
		e.effects.Deserialize(fx)
		e.publishEffects()
	}
	if v, ok := toFloat(data["crossfade"]); ok {
		e.compositor.SetCrossfade(v)
	}
	if v, ok := toFloat(data["beatFlash"]); ok {
		e.compositor.SetBeatFlash(v)
	}
	if dimmers, ok := data["dimmers"].(map[string]any); ok {
		for name, raw := range dimmers {
			if v, ok := toFloat(raw); ok {
				if _, err := e.compositor.SetDimmer(name, v); err != nil {
					log.Printf("Ignoring dimmer %q: %v", name, err)
				}
			}
		}
	}
	e.publishState()
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (e *Engine) publishState() {
	e.pubsub.PublishLatest(pubsub.TopicState, e.Export())
}

func (e *Engine) publishTempo() {
	e.pubsub.PublishLatest(pubsub.TopicTempo, e.tempo.Serialize())
}

func (e *Engine) publishEffects() {
	e.pubsub.PublishLatest(pubsub.TopicEffects, e.effects.Serialize())
}

func (e *Engine) publishChannel(ch *media.Channel) {
	e.pubsub.Publish(pubsub.TopicChannel, ch.Name(), ch.Snapshot())
}

// Channels

func (e *Engine) channel(name string) (*media.Channel, error) {
	return e.media.Channel(name)
}

// SwitchBank activates a bank on the render loop.
func (e *Engine) SwitchBank(channel string, index int) error {
	ch, err := e.channel(channel)
	if err != nil {
		return err
	}
	err = e.Do(func() error { return ch.SwitchBank(index) })
	e.publishChannel(ch)
	return err
}

// ReplaceBank overwrites a bank's content on the render loop.
func (e *Engine) ReplaceBank(channel string, index int, kind media.Kind, locator, name string) error {
	ch, err := e.channel(channel)
	if err != nil {
		return err
	}
	err = e.Do(func() error { return ch.ReplaceBankContent(index, kind, locator, name) })
	e.publishChannel(ch)
	return err
}

// SetTransport sets a channel's video transport.
func (e *Engine) SetTransport(channel string, t media.Transport) error {
	ch, err := e.channel(channel)
	if err != nil {
		return err
	}
	err = e.Do(func() error { return ch.SetTransport(t) })
	e.publishChannel(ch)
	return err
}

// SetShaderInput writes an input of the shader live on channel.
func (e *Engine) SetShaderInput(channel, name string, values ...float32) error {
	ch, err := e.channel(channel)
	if err != nil {
		return err
	}
	return e.Do(func() error { return ch.SetShaderInput(name, values...) })
}

// SetPlaybackRate sets a channel's playback rate and returns the clamped value.
func (e *Engine) SetPlaybackRate(channel string, rate float64) (float64, error) {
	ch, err := e.channel(channel)
	if err != nil {
		return 0, err
	}
	var stored float64
	err = e.Do(func() error {
		stored = ch.SetPlaybackRate(rate)
		return nil
	})
	e.publishChannel(ch)
	return stored, err
}

// ChannelSnapshot returns one channel's status.
func (e *Engine) ChannelSnapshot(channel string) (media.Snapshot, error) {
	ch, err := e.channel(channel)
	if err != nil {
		return media.Snapshot{}, err
	}
	return ch.Snapshot(), nil
}

// Crossfade and dimmers

// SetCrossfade sets the crossfade position and returns the clamped value.
func (e *Engine) SetCrossfade(v float64) float64 {
	stored := e.compositor.SetCrossfade(v)
	e.publishState()
	return stored
}

// FadeCrossfade starts a timed crossfade transition.
func (e *Engine) FadeCrossfade(target float64, d time.Duration, curve Curve) {
	e.compositor.FadeCrossfade(target, d, curve, e.now())
	if d <= 0 {
		e.publishState()
	}
}

// SetDimmer sets a channel dimmer and returns the clamped value.
func (e *Engine) SetDimmer(channel string, v float64) (float64, error) {
	stored, err := e.compositor.SetDimmer(channel, v)
	if err == nil {
		e.publishState()
	}
	return stored, err
}

// SetOutputSize resizes the composited frame between ticks. Shader banks
// follow on the next tick.
func (e *Engine) SetOutputSize(width, height int) error {
	err := e.Do(func() error { return e.compositor.Resize(width, height) })
	if err == nil {
		log.Printf("🖼️ Output size set to %dx%d", width, height)
	}
	return err
}

// SetBeatFlash sets the beat flash strength.
func (e *Engine) SetBeatFlash(v float64) float64 {
	stored := e.compositor.SetBeatFlash(v)
	e.publishState()
	return stored
}

// Tempo

// Tap registers a tap now and returns the resulting BPM.
func (e *Engine) Tap() int {
	bpm := e.tempo.TapNow()
	e.publishTempo()
	return bpm
}

// SetBPM sets the tempo and returns the clamped value.
func (e *Engine) SetBPM(v float64) int {
	bpm := e.tempo.SetBPM(v)
	e.publishTempo()
	return bpm
}

// TogglePlay starts or stops the beat clock.
func (e *Engine) TogglePlay() bool {
	playing := e.tempo.TogglePlay()
	e.publishTempo()
	return playing
}

// SetAutoSwitch enables or disables tempo-synced switching.
func (e *Engine) SetAutoSwitch(enabled bool) bool {
	v := e.tempo.SetAutoSwitch(enabled)
	e.publishTempo()
	return v
}

// ToggleAutoSwitch flips auto-switch.
func (e *Engine) ToggleAutoSwitch() bool {
	return e.SetAutoSwitch(!e.tempo.State().AutoSwitch)
}

// SetSwitchInterval sets the auto-switch interval in beats.
func (e *Engine) SetSwitchInterval(beats int) int {
	v := e.tempo.SetSwitchInterval(beats)
	e.publishTempo()
	return v
}

// Effects

// SetEffect sets an effect amount by name and returns the clamped value.
func (e *Engine) SetEffect(name effects.Name, v float64) (float64, error) {
	stored, err := e.effects.SetAmount(name, v)
	if err == nil {
		e.publishEffects()
	}
	return stored, err
}

// ToggleEffect toggles invert, grayscale or sepia.
func (e *Engine) ToggleEffect(name effects.Name) (bool, error) {
	on, err := e.effects.Toggle(name)
	if err == nil {
		e.publishEffects()
	}
	return on, err
}

// SetEffectColor sets the multiply tint color and returns the stored hex.
func (e *Engine) SetEffectColor(hex string) string {
	stored := e.effects.SetRGBMultiplyColor(strings.TrimSpace(hex))
	e.publishEffects()
	return stored
}

// ResetEffect restores one effect's defaults.
func (e *Engine) ResetEffect(name effects.Name) error {
	if err := e.effects.Reset(name); err != nil {
		return err
	}
	e.publishEffects()
	return nil
}

// ResetEffects restores every effect's defaults.
func (e *Engine) ResetEffects() {
	e.effects.ResetAll()
	e.publishEffects()
}
