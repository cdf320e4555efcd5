// Package effects holds the master-output effect parameters and the CPU
// passes that apply them to composited frames.
package effects

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"strings"
	"sync"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Name identifies an effect.
type Name string

const (
	Invert      Name = "invert"
	Grayscale   Name = "grayscale"
	Sepia       Name = "sepia"
	Blur        Name = "blur"
	Brightness  Name = "brightness"
	Contrast    Name = "contrast"
	Glitch      Name = "glitch"
	RGBShift    Name = "rgbShift"
	RGBMultiply Name = "rgbMultiply"
)

// Names lists every effect in application order.
var Names = []Name{Blur, Brightness, Contrast, Grayscale, Sepia, Invert, Glitch, RGBShift, RGBMultiply}

// DefaultMultiplyColor is the tint used by rgbMultiply until one is chosen.
const DefaultMultiplyColor = "#FF0000"

// ErrUnknownEffect is returned for names outside Names.
var ErrUnknownEffect = errors.New("unknown effect")

// ErrNotToggleable is returned when toggling an effect without an on/off switch.
var ErrNotToggleable = errors.New("effect has no toggle")

// ToggleValue is an effect with an on/off switch and an optional amount.
type ToggleValue struct {
	Enabled bool    `json:"enabled"`
	Amount  float64 `json:"amount,omitempty"`
}

// AmountValue is a continuous effect.
type AmountValue struct {
	Amount float64 `json:"amount"`
}

// ColorValue is a continuous effect with a tint color.
type ColorValue struct {
	Amount float64 `json:"amount"`
	Color  string  `json:"color"`
}

// Values is a snapshot of every effect in user units.
type Values struct {
	Invert      ToggleValue `json:"invert"`
	Grayscale   ToggleValue `json:"grayscale"`
	Sepia       ToggleValue `json:"sepia"`
	Blur        AmountValue `json:"blur"`
	Brightness  AmountValue `json:"brightness"`
	Contrast    AmountValue `json:"contrast"`
	Glitch      AmountValue `json:"glitch"`
	RGBShift    AmountValue `json:"rgbShift"`
	RGBMultiply ColorValue  `json:"rgbMultiply"`
}

// DefaultValues returns every effect off.
func DefaultValues() Values {
	return Values{RGBMultiply: ColorValue{Color: DefaultMultiplyColor}}
}

// Params are the normalized values consumed by the filter and glitch passes.
// Toggled effects report zero while disabled.
type Params struct {
	Invert           float64
	Grayscale        float64
	Sepia            float64
	Blur             float64
	Brightness       float64 // -1 to 1
	Contrast         float64 // -1 to 1
	Glitch           float64
	RGBShift         float64
	RGBMultiply      float64
	RGBMultiplyColor color.RGBA
}

// State is the live effect parameter set. Setters clamp and never fail.
type State struct {
	mu     sync.RWMutex
	values Values
}

// NewState creates a state with every effect off.
func NewState() *State {
	return &State{values: DefaultValues()}
}

// Values returns a snapshot.
func (s *State) Values() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values
}

func clampAmount(v, min, max float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(min, math.Min(max, v))
}

// Range returns the accepted amount range of an effect.
func Range(name Name) (min, max float64, err error) {
	switch name {
	case Brightness, Contrast:
		return -100, 100, nil
	case Invert, Grayscale, Sepia, Blur, Glitch, RGBShift, RGBMultiply:
		return 0, 100, nil
	default:
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownEffect, name)
	}
}

func (s *State) set(name Name, value float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	min, max, _ := Range(name)
	v := clampAmount(value, min, max)
	switch name {
	case Grayscale:
		s.values.Grayscale.Amount = v
	case Sepia:
		s.values.Sepia.Amount = v
	case Blur:
		s.values.Blur.Amount = v
	case Brightness:
		s.values.Brightness.Amount = v
	case Contrast:
		s.values.Contrast.Amount = v
	case Glitch:
		s.values.Glitch.Amount = v
	case RGBShift:
		s.values.RGBShift.Amount = v
	case RGBMultiply:
		s.values.RGBMultiply.Amount = v
	}
	return v
}

// The Set*Amount setters clamp v to the effect's Range and return the
// stored amount.

// SetGrayscaleAmount sets grayscale in [0, 100].
func (s *State) SetGrayscaleAmount(v float64) float64 { return s.set(Grayscale, v) }

// SetSepiaAmount sets sepia in [0, 100].
func (s *State) SetSepiaAmount(v float64) float64 { return s.set(Sepia, v) }

// SetBlurAmount sets blur in [0, 100].
func (s *State) SetBlurAmount(v float64) float64 { return s.set(Blur, v) }

// SetBrightnessAmount sets brightness in [-100, 100].
func (s *State) SetBrightnessAmount(v float64) float64 { return s.set(Brightness, v) }

// SetContrastAmount sets contrast in [-100, 100].
func (s *State) SetContrastAmount(v float64) float64 { return s.set(Contrast, v) }

// SetGlitchAmount sets glitch intensity in [0, 100].
func (s *State) SetGlitchAmount(v float64) float64 { return s.set(Glitch, v) }

// SetRGBShiftAmount sets the channel split in [0, 100].
func (s *State) SetRGBShiftAmount(v float64) float64 { return s.set(RGBShift, v) }

// SetRGBMultiplyAmount sets the tint strength in [0, 100].
func (s *State) SetRGBMultiplyAmount(v float64) float64 { return s.set(RGBMultiply, v) }

// SetAmount sets the amount of any effect by name. Invert has no amount:
// a non-zero value turns it on.
func (s *State) SetAmount(name Name, value float64) (float64, error) {
	if _, _, err := Range(name); err != nil {
		return 0, err
	}
	if name == Invert {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.values.Invert.Enabled = value != 0
		if s.values.Invert.Enabled {
			return 100, nil
		}
		return 0, nil
	}
	return s.set(name, value), nil
}

// SetRGBMultiplyColor sets the tint as #RRGGBB. Anything else is ignored.
// Returns the color in effect.
func (s *State) SetRGBMultiplyColor(hex string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if parsed, ok := parseHexColor(hex); ok {
		s.values.RGBMultiply.Color = parsed
	}
	return s.values.RGBMultiply.Color
}

func parseHexColor(hex string) (string, bool) {
	if len(hex) != 7 {
		return "", false
	}
	if _, err := colorful.Hex(hex); err != nil {
		return "", false
	}
	return strings.ToUpper(hex), true
}

// ToggleInvert flips invert and returns the new state.
func (s *State) ToggleInvert() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values.Invert.Enabled = !s.values.Invert.Enabled
	return s.values.Invert.Enabled
}

// ToggleGrayscale flips grayscale. Turning it on with a zero amount snaps the amount to 100.
func (s *State) ToggleGrayscale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	toggleWithSnap(&s.values.Grayscale)
	return s.values.Grayscale.Enabled
}

// ToggleSepia flips sepia. Turning it on with a zero amount snaps the amount to 100.
func (s *State) ToggleSepia() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	toggleWithSnap(&s.values.Sepia)
	return s.values.Sepia.Enabled
}

func toggleWithSnap(v *ToggleValue) {
	v.Enabled = !v.Enabled
	if v.Enabled && v.Amount == 0 {
		v.Amount = 100
	}
}

// Toggle flips a toggleable effect by name.
func (s *State) Toggle(name Name) (bool, error) {
	switch name {
	case Invert:
		return s.ToggleInvert(), nil
	case Grayscale:
		return s.ToggleGrayscale(), nil
	case Sepia:
		return s.ToggleSepia(), nil
	}
	if _, _, err := Range(name); err != nil {
		return false, err
	}
	return false, fmt.Errorf("%w: %q", ErrNotToggleable, name)
}

// Reset returns one effect to its default.
func (s *State) Reset(name Name) error {
	if _, _, err := Range(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := DefaultValues()
	switch name {
	case Invert:
		s.values.Invert = d.Invert
	case Grayscale:
		s.values.Grayscale = d.Grayscale
	case Sepia:
		s.values.Sepia = d.Sepia
	case Blur:
		s.values.Blur = d.Blur
	case Brightness:
		s.values.Brightness = d.Brightness
	case Contrast:
		s.values.Contrast = d.Contrast
	case Glitch:
		s.values.Glitch = d.Glitch
	case RGBShift:
		s.values.RGBShift = d.RGBShift
	case RGBMultiply:
		s.values.RGBMultiply = d.RGBMultiply
	}
	return nil
}

// ResetAll turns every effect off.
func (s *State) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = DefaultValues()
}

// Params returns the normalized parameters for the render passes.
func (s *State) Params() Params {
	return s.Values().Params()
}

// Params normalizes a snapshot.
func (v Values) Params() Params {
	p := Params{
		Blur:        v.Blur.Amount / 100,
		Brightness:  v.Brightness.Amount / 100,
		Contrast:    v.Contrast.Amount / 100,
		Glitch:      v.Glitch.Amount / 100,
		RGBShift:    v.RGBShift.Amount / 100,
		RGBMultiply: v.RGBMultiply.Amount / 100,
	}
	if v.Invert.Enabled {
		p.Invert = 1
	}
	if v.Grayscale.Enabled {
		p.Grayscale = v.Grayscale.Amount / 100
	}
	if v.Sepia.Enabled {
		p.Sepia = v.Sepia.Amount / 100
	}

	p.RGBMultiplyColor = color.RGBA{R: 255, A: 255}
	if c, err := colorful.Hex(v.RGBMultiply.Color); err == nil {
		r, g, b := c.RGB255()
		p.RGBMultiplyColor = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return p
}
