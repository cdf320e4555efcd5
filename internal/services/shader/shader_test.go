package shader

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/vizmix-go/internal/services/gpu"
	"github.com/bbernstein/vizmix-go/internal/services/gpu/gputest"
)

const plasma = `void mainImage(out vec4 fragColor, in vec2 fragCoord) {
  vec2 uv = fragCoord / iResolution.xy;
  fragColor = vec4(uv, 0.5 + 0.5 * sin(iTime), 1.0);
}`

const isfPulse = `/*{
  "DESCRIPTION": "pulse",
  "INPUTS": [
    {"NAME": "speed", "TYPE": "float", "DEFAULT": 2.5, "MIN": 0, "MAX": 10},
    {"NAME": "tint", "TYPE": "color", "DEFAULT": [1.0, 0.5, 0.25, 1.0]},
    {"NAME": "center", "TYPE": "point2D", "DEFAULT": [0.5, 0.5]},
    {"NAME": "steps", "TYPE": "int", "DEFAULT": 4},
    {"NAME": "mirror", "TYPE": "bool", "DEFAULT": true}
  ]
}*/
void main() {
  vec2 uv = isf_FragNormCoord;
  float d = distance(uv, center) * RENDERSIZE.x / RENDERSIZE.y;
  gl_FragColor = tint * abs(sin(TIME * speed - d));
}`

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func TestPrepare_MainImageDialect(t *testing.T) {
	src, err := Prepare(plasma)
	require.NoError(t, err)

	assert.Equal(t, DialectMainImage, src.Dialect)
	assert.Empty(t, src.Inputs)
	assert.True(t, strings.HasPrefix(src.Fragment, "#version 330 core"))
	assert.Contains(t, src.Fragment, "uniform float iTime;")
	assert.Contains(t, src.Fragment, "uniform vec3 iResolution;")
	assert.Contains(t, src.Fragment, "uniform vec4 iMouse;")
	assert.Contains(t, src.Fragment, "mainImage(vizmixFragColor, fragCoord);")
	assert.Contains(t, src.Fragment, plasma)
}

func TestPrepare_SnippetWrapper(t *testing.T) {
	raw := "import x from 'y';\nconst shader = `" + plasma + "`;\nexport default shader;"

	src, err := Prepare(raw)
	require.NoError(t, err)

	assert.Equal(t, plasma, src.Body)
	assert.NotContains(t, src.Fragment, "import x")
}

func TestPrepare_ISFDialect(t *testing.T) {
	src, err := Prepare(isfPulse)
	require.NoError(t, err)

	assert.Equal(t, DialectISF, src.Dialect)
	assert.Equal(t, "pulse", src.Description)
	require.Len(t, src.Inputs, 5)

	assert.NotContains(t, src.Fragment, "/*{")
	assert.NotContains(t, src.Fragment, "isf_FragNormCoord")
	assert.NotContains(t, src.Fragment, "RENDERSIZE")
	assert.NotContains(t, src.Fragment, "TIME")
	assert.NotContains(t, src.Fragment, "gl_FragColor")
	assert.NotContains(t, src.Fragment, "mainImage(")

	assert.Contains(t, src.Fragment, "(gl_FragCoord.xy / iResolution.xy)")
	assert.Contains(t, src.Fragment, "iTime * speed")
	assert.Contains(t, src.Fragment, "uniform float speed;")
	assert.Contains(t, src.Fragment, "uniform vec4 tint;")
	assert.Contains(t, src.Fragment, "uniform vec2 center;")
	assert.Contains(t, src.Fragment, "uniform int steps;")
	assert.Contains(t, src.Fragment, "uniform bool mirror;")
}

func TestPrepare_InvalidISFHeaderFallsBack(t *testing.T) {
	raw := "/*{ not json }*/\n" + plasma

	src, err := Prepare(raw)
	require.NoError(t, err)
	assert.Equal(t, DialectMainImage, src.Dialect)
}

func TestPrepare_EmptySource(t *testing.T) {
	_, err := Prepare("   \n")
	assert.Error(t, err)
}

func TestCompile_AppliesISFDefaults(t *testing.T) {
	device := gputest.NewDevice()

	p, err := CompileString(device, isfPulse, WithName("pulse"))
	require.NoError(t, err)
	defer p.Dispose()

	prog := device.Programs[0]
	assert.Equal(t, []float32{2.5}, prog.Float("speed"))
	assert.Equal(t, []float32{1, 0.5, 0.25, 1}, prog.Float("tint"))
	assert.Equal(t, []float32{0.5, 0.5}, prog.Float("center"))
	assert.Equal(t, int32(4), prog.Ints["steps"])
	assert.Equal(t, int32(1), prog.Ints["mirror"])
}

func TestCompile_ErrorCarriesDiagnostic(t *testing.T) {
	device := gputest.NewDevice()

	_, err := CompileString(device, gputest.FailMarker+"\n"+plasma, WithName("broken"))
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "broken", ce.Name)
	assert.Contains(t, ce.Diagnostic, "#error")

	var gce *gpu.CompileError
	assert.True(t, errors.As(err, &gce), "gpu diagnostic should stay reachable")

	programs, targets, quads := device.Live()
	assert.Zero(t, programs)
	assert.Zero(t, targets)
	assert.Zero(t, quads)
}

func TestRender_AdvancesClockAndSetsUniforms(t *testing.T) {
	device := gputest.NewDevice()
	clock := newFakeClock()

	p, err := CompileString(device, plasma, WithClock(clock.Now), WithResolution(640, 360))
	require.NoError(t, err)
	defer p.Dispose()

	clock.Advance(1500 * time.Millisecond)
	frame, err := p.Render()
	require.NoError(t, err)
	require.NotNil(t, frame)

	prog := device.Programs[0]
	assert.InDelta(t, 1.5, prog.Float(UniformTime)[0], 1e-6)
	assert.Equal(t, []float32{640, 360, 1}, prog.Float(UniformResolution))
	assert.Equal(t, []float32{0, 0, 0, 0}, prog.Float(UniformMouse))
	assert.Equal(t, 640, frame.Bounds().Dx())
	assert.Equal(t, 360, frame.Bounds().Dy())
	assert.Equal(t, uint8(255), frame.Pix[0])

	clock.Advance(500 * time.Millisecond)
	_, err = p.Render()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, prog.Float(UniformTime)[0], 1e-6)
	assert.Equal(t, 2, p.RenderCount())
	assert.Equal(t, 2, device.Draws)
}

func TestSetResolution(t *testing.T) {
	device := gputest.NewDevice()

	p, err := CompileString(device, plasma)
	require.NoError(t, err)
	defer p.Dispose()

	require.Len(t, device.TargetSizes, 1)
	assert.Equal(t, [2]int{DefaultWidth, DefaultHeight}, device.TargetSizes[0])

	// Unchanged size is a no-op
	require.NoError(t, p.SetResolution(DefaultWidth, DefaultHeight))
	assert.Len(t, device.TargetSizes, 1)

	require.NoError(t, p.SetResolution(1280, 720))
	assert.Len(t, device.TargetSizes, 2)
	_, targets, _ := device.Live()
	assert.Equal(t, 1, targets, "old target must be released on resize")

	frame, err := p.Render()
	require.NoError(t, err)
	assert.Equal(t, 1280, frame.Bounds().Dx())

	assert.Error(t, p.SetResolution(0, 720))
}

func TestSetInput(t *testing.T) {
	device := gputest.NewDevice()

	p, err := CompileString(device, isfPulse)
	require.NoError(t, err)
	defer p.Dispose()

	require.NoError(t, p.SetInput("speed", 7))
	assert.Equal(t, []float32{7}, device.Programs[0].Float("speed"))

	require.NoError(t, p.SetInput("mirror", 0))
	assert.Equal(t, int32(0), device.Programs[0].Ints["mirror"])

	assert.ErrorIs(t, p.SetInput("tint", 1, 0), ErrInputArity)
	assert.ErrorIs(t, p.SetInput("missing", 1), ErrUnknownInput)
}

func TestDispose(t *testing.T) {
	device := gputest.NewDevice()

	p, err := CompileString(device, plasma)
	require.NoError(t, err)

	p.Dispose()
	p.Dispose() // Should not panic

	programs, targets, quads := device.Live()
	assert.Zero(t, programs)
	assert.Zero(t, targets)
	assert.Zero(t, quads)

	_, err = p.Render()
	assert.ErrorIs(t, err, ErrDisposed)
}
