package effects

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func TestSetters_Clamp(t *testing.T) {
	s := NewState()

	tests := []struct {
		name  string
		set   func(float64) float64
		input float64
		want  float64
	}{
		{"grayscale high", s.SetGrayscaleAmount, 150, 100},
		{"grayscale low", s.SetGrayscaleAmount, -5, 0},
		{"sepia", s.SetSepiaAmount, 42, 42},
		{"blur high", s.SetBlurAmount, 101, 100},
		{"brightness low", s.SetBrightnessAmount, -300, -100},
		{"brightness high", s.SetBrightnessAmount, 300, 100},
		{"contrast negative", s.SetContrastAmount, -40, -40},
		{"glitch", s.SetGlitchAmount, 1000, 100},
		{"rgb shift", s.SetRGBShiftAmount, -1, 0},
		{"rgb multiply", s.SetRGBMultiplyAmount, 55, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.set(tt.input))
		})
	}
}

func TestSetters_StoreClampedAmount(t *testing.T) {
	s := NewState()
	s.SetSepiaAmount(250)
	s.SetContrastAmount(-250)

	v := s.Values()
	assert.Equal(t, 100.0, v.Sepia.Amount)
	assert.Equal(t, -100.0, v.Contrast.Amount)
}

func TestToggleInvert_Flips(t *testing.T) {
	s := NewState()

	assert.True(t, s.ToggleInvert())
	assert.True(t, s.Values().Invert.Enabled)
	assert.False(t, s.ToggleInvert())
	assert.False(t, s.Values().Invert.Enabled)
}

func TestToggle_SnapsZeroAmountTo100(t *testing.T) {
	s := NewState()

	assert.True(t, s.ToggleGrayscale())
	assert.Equal(t, 100.0, s.Values().Grayscale.Amount)

	assert.True(t, s.ToggleSepia())
	assert.Equal(t, 100.0, s.Values().Sepia.Amount)
}

func TestToggle_KeepsNonZeroAmount(t *testing.T) {
	s := NewState()
	s.SetGrayscaleAmount(30)

	assert.True(t, s.ToggleGrayscale())
	assert.Equal(t, 30.0, s.Values().Grayscale.Amount)

	assert.False(t, s.ToggleGrayscale())
	assert.Equal(t, 30.0, s.Values().Grayscale.Amount)
}

func TestToggle_ByName(t *testing.T) {
	s := NewState()

	on, err := s.Toggle(Invert)
	require.NoError(t, err)
	assert.True(t, on)

	_, err = s.Toggle(Blur)
	assert.ErrorIs(t, err, ErrNotToggleable)

	_, err = s.Toggle("sparkle")
	assert.ErrorIs(t, err, ErrUnknownEffect)
}

func TestSetAmount_ByName(t *testing.T) {
	s := NewState()

	v, err := s.SetAmount(Contrast, -250)
	require.NoError(t, err)
	assert.Equal(t, -100.0, v)

	v, err = s.SetAmount(Invert, 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
	assert.True(t, s.Values().Invert.Enabled)

	_, err = s.SetAmount("sparkle", 1)
	assert.ErrorIs(t, err, ErrUnknownEffect)
}

func TestSetRGBMultiplyColor(t *testing.T) {
	s := NewState()

	assert.Equal(t, "#00FF80", s.SetRGBMultiplyColor("#00ff80"))
	assert.Equal(t, "#00FF80", s.SetRGBMultiplyColor("green"))
	assert.Equal(t, "#00FF80", s.SetRGBMultiplyColor("#0f8"))
	assert.Equal(t, "#00FF80", s.SetRGBMultiplyColor("#GG0000"))

	assert.Equal(t, color.RGBA{G: 255, B: 128, A: 255}, s.Params().RGBMultiplyColor)
}

func TestReset(t *testing.T) {
	s := NewState()
	s.ToggleSepia()
	s.SetRGBMultiplyAmount(50)
	s.SetRGBMultiplyColor("#00FF00")

	require.NoError(t, s.Reset(Sepia))
	require.NoError(t, s.Reset(RGBMultiply))
	assert.Equal(t, DefaultValues(), s.Values())

	assert.ErrorIs(t, s.Reset("sparkle"), ErrUnknownEffect)
}

func TestResetAll(t *testing.T) {
	s := NewState()
	s.ToggleInvert()
	s.SetBlurAmount(20)
	s.SetBrightnessAmount(-20)

	s.ResetAll()
	assert.Equal(t, DefaultValues(), s.Values())
}

func TestParams_Normalized(t *testing.T) {
	s := NewState()
	s.SetGrayscaleAmount(50)
	s.SetBrightnessAmount(-40)
	s.SetBlurAmount(25)

	p := s.Params()
	assert.Equal(t, 0.0, p.Grayscale, "disabled toggle reports zero")
	assert.InDelta(t, -0.4, p.Brightness, 1e-9)
	assert.InDelta(t, 0.25, p.Blur, 1e-9)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, p.RGBMultiplyColor)

	s.ToggleGrayscale()
	assert.InDelta(t, 0.5, s.Params().Grayscale, 1e-9)
}

func TestSerializeRoundTrip(t *testing.T) {
	src := NewState()
	src.ToggleGrayscale()
	src.SetContrastAmount(35)
	src.SetRGBMultiplyAmount(20)
	src.SetRGBMultiplyColor("#112233")

	dst := NewState()
	dst.Deserialize(src.Serialize())
	assert.Equal(t, src.Values(), dst.Values())
}

func TestDeserialize_Partial(t *testing.T) {
	s := NewState()
	s.SetBlurAmount(40)

	s.Deserialize(map[string]any{
		"brightness": map[string]any{"amount": 500.0},
		"invert":     map[string]any{"enabled": true},
		"sepia":      "broken",
		"unknown":    map[string]any{"amount": 1.0},
	})

	v := s.Values()
	assert.Equal(t, 40.0, v.Blur.Amount)
	assert.Equal(t, 100.0, v.Brightness.Amount)
	assert.True(t, v.Invert.Enabled)
	assert.False(t, v.Sepia.Enabled)
}

func TestApplyFilters_NoEffectsLeavesFrame(t *testing.T) {
	frame := solidFrame(8, 8, color.RGBA{R: 10, G: 120, B: 240, A: 255})
	want := append([]uint8(nil), frame.Pix...)

	NewProcessor().ApplyFilters(frame, DefaultValues().Params())
	assert.Equal(t, want, frame.Pix)
}

func TestApplyFilters_Invert(t *testing.T) {
	frame := solidFrame(4, 4, color.RGBA{R: 255, G: 0, B: 100, A: 200})

	NewProcessor().ApplyFilters(frame, Params{Invert: 1})
	assert.Equal(t, []uint8{0, 255, 155, 200}, frame.Pix[:4])
}

func TestApplyFilters_GrayscaleEqualizesChannels(t *testing.T) {
	frame := solidFrame(4, 4, color.RGBA{R: 200, G: 50, B: 10, A: 255})

	NewProcessor().ApplyFilters(frame, Params{Grayscale: 1})
	assert.Equal(t, frame.Pix[0], frame.Pix[1])
	assert.Equal(t, frame.Pix[1], frame.Pix[2])
}

func TestApplyFilters_BrightnessClamps(t *testing.T) {
	frame := solidFrame(4, 4, color.RGBA{R: 200, G: 100, B: 0, A: 255})

	NewProcessor().ApplyFilters(frame, Params{Brightness: 1})
	assert.Equal(t, []uint8{255, 255, 255, 255}, frame.Pix[:4])
}

func TestApplyFilters_OrderBrightnessBeforeInvert(t *testing.T) {
	frame := solidFrame(2, 2, color.RGBA{R: 0, G: 0, B: 0, A: 255})

	// Brighten black to white, then invert back to black
	NewProcessor().ApplyFilters(frame, Params{Brightness: 1, Invert: 1})
	assert.Equal(t, []uint8{0, 0, 0, 255}, frame.Pix[:4])
}

func TestApplyFilters_BlurSolidIsStable(t *testing.T) {
	c := color.RGBA{R: 80, G: 160, B: 240, A: 255}
	frame := solidFrame(16, 16, c)

	NewProcessor().ApplyFilters(frame, Params{Blur: 1})
	for i := 0; i < len(frame.Pix); i += 4 {
		require.Equal(t, []uint8{c.R, c.G, c.B, c.A}, frame.Pix[i:i+4])
	}
}

func TestApplyFilters_BlurSpreadsEdge(t *testing.T) {
	frame := solidFrame(32, 1, color.RGBA{A: 255})
	for x := 16; x < 32; x++ {
		frame.Pix[x*4], frame.Pix[x*4+1], frame.Pix[x*4+2] = 255, 255, 255
	}

	NewProcessor().ApplyFilters(frame, Params{Blur: 0.2})

	left, right := frame.Pix[15*4], frame.Pix[16*4]
	assert.Greater(t, left, uint8(0))
	assert.Less(t, right, uint8(255))
}

func TestApplyGlitch_DeterministicForTimestamp(t *testing.T) {
	base := gradientFrame(64, 64)
	now := time.Unix(1700000000, 123456789)
	params := Params{Glitch: 1, RGBShift: 0.5}

	a := cloneFrame(base)
	b := cloneFrame(base)
	NewProcessor().ApplyGlitch(a, params, now)
	NewProcessor().ApplyGlitch(b, params, now)

	assert.Equal(t, a.Pix, b.Pix)
	assert.NotEqual(t, base.Pix, a.Pix)
}

func TestApplyGlitch_ZeroParamsNoop(t *testing.T) {
	frame := gradientFrame(16, 16)
	want := append([]uint8(nil), frame.Pix...)

	NewProcessor().ApplyGlitch(frame, Params{}, time.Now())
	assert.Equal(t, want, frame.Pix)
}

func TestApplyGlitch_MultiplyTints(t *testing.T) {
	frame := solidFrame(4, 4, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	NewProcessor().ApplyGlitch(frame, Params{RGBMultiply: 1, RGBMultiplyColor: color.RGBA{R: 255, A: 255}}, time.Now())
	assert.Equal(t, []uint8{200, 0, 0, 255}, frame.Pix[:4])
}

func TestUnitHash_Range(t *testing.T) {
	for a := uint64(0); a < 50; a++ {
		for b := uint64(0); b < 16; b++ {
			v := unitHash(a, b, 0)
			assert.GreaterOrEqual(t, v, 0.0)
			assert.Less(t, v, 1.0)
		}
	}
}

func gradientFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x + y) * 2), A: 255})
		}
	}
	return img
}

func cloneFrame(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
