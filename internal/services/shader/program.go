package shader

import (
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/bbernstein/vizmix-go/internal/services/gpu"
)

const (
	// DefaultWidth and DefaultHeight size new render targets (16:9).
	DefaultWidth  = 1920
	DefaultHeight = 1080
)

// ErrDisposed is returned when rendering a program after Dispose.
var ErrDisposed = errors.New("shader: program disposed")

var (
	// ErrUnknownInput is returned by SetInput for names the shader does not declare.
	ErrUnknownInput = errors.New("shader: unknown input")
	// ErrInputArity is returned by SetInput when the value count does not match the input type.
	ErrInputArity = errors.New("shader: wrong number of input values")
)

// CompileError reports a shader that failed to compile or link.
type CompileError struct {
	Name       string
	Diagnostic string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader %q failed to compile: %s", e.Name, e.Diagnostic)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Program is a compiled shader rendering into its own offscreen buffer.
type Program struct {
	device gpu.Device
	source *Source
	name   string

	prog   gpu.Program
	target gpu.RenderTarget
	quad   gpu.Quad
	frame  *image.RGBA

	width  int
	height int

	now       func() time.Time
	startTime time.Time

	renderCount int
	disposed    bool
}

// Option configures a Program.
type Option func(*Program)

// WithName sets the name used in logs and errors.
func WithName(name string) Option {
	return func(p *Program) { p.name = name }
}

// WithResolution sets the initial render target size.
func WithResolution(width, height int) Option {
	return func(p *Program) {
		if width > 0 && height > 0 {
			p.width, p.height = width, height
		}
	}
}

// WithClock replaces time.Now as the source of the shader's elapsed time.
func WithClock(now func() time.Time) Option {
	return func(p *Program) { p.now = now }
}

// Compile builds a program from a prepared source. On failure every GPU
// resource allocated so far is released and a *CompileError is returned.
func Compile(device gpu.Device, src *Source, opts ...Option) (*Program, error) {
	p := &Program{
		device: device,
		source: src,
		name:   "unnamed",
		width:  DefaultWidth,
		height: DefaultHeight,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	prog, err := device.CompileProgram(VertexShader, src.Fragment)
	if err != nil {
		diagnostic := err.Error()
		var ce *gpu.CompileError
		if errors.As(err, &ce) {
			diagnostic = ce.Log
		}
		return nil, &CompileError{Name: p.name, Diagnostic: diagnostic, Err: err}
	}
	p.prog = prog

	if err := p.createRenderTarget(); err != nil {
		p.Dispose()
		return nil, err
	}

	quad, err := device.NewQuad()
	if err != nil {
		p.Dispose()
		return nil, fmt.Errorf("shader %q: failed to create quad: %w", p.name, err)
	}
	p.quad = quad

	p.applyInputDefaults()
	p.startTime = p.now()

	log.Printf("Shader [%s] compiled (%s, %dx%d)", p.name, src.Dialect, p.width, p.height)
	return p, nil
}

// CompileString prepares and compiles raw source in one step.
func CompileString(device gpu.Device, raw string, opts ...Option) (*Program, error) {
	src, err := Prepare(raw)
	if err != nil {
		return nil, &CompileError{Name: "unnamed", Diagnostic: err.Error(), Err: err}
	}
	return Compile(device, src, opts...)
}

func (p *Program) createRenderTarget() error {
	target, err := p.device.NewRenderTarget(p.width, p.height)
	if err != nil {
		return fmt.Errorf("shader %q: failed to create render target: %w", p.name, err)
	}
	p.target = target
	p.frame = image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	return nil
}

func (p *Program) applyInputDefaults() {
	for _, in := range p.source.Inputs {
		floats, integer, isInt, ok := in.defaultValues()
		if !ok {
			continue
		}
		if isInt {
			p.prog.SetInt(in.Name, integer)
		} else {
			p.prog.SetFloat(in.Name, floats...)
		}
	}
}

// Name returns the program's display name.
func (p *Program) Name() string { return p.name }

// Source returns the prepared source the program was built from.
func (p *Program) Source() *Source { return p.source }

// Resolution returns the current render target size.
func (p *Program) Resolution() (int, int) { return p.width, p.height }

// SetResolution resizes the render target. Resizing is not in place: the old
// buffer is destroyed and a new one allocated.
func (p *Program) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("shader %q: invalid resolution %dx%d", p.name, width, height)
	}
	if p.width == width && p.height == height {
		return nil
	}
	p.width, p.height = width, height
	if p.disposed {
		return nil
	}

	if p.target != nil {
		p.target.Release()
		p.target = nil
	}
	if err := p.createRenderTarget(); err != nil {
		return err
	}
	log.Printf("Shader [%s] resolution updated: %dx%d", p.name, width, height)
	return nil
}

// SetInput writes a declared ISF input. Floats are used for float, color and
// point2D inputs; int and bool inputs take the first value truncated.
func (p *Program) SetInput(name string, values ...float32) error {
	in, ok := p.source.Input(name)
	if !ok {
		return fmt.Errorf("%w: %q has no input %q", ErrUnknownInput, p.name, name)
	}
	if p.disposed {
		return ErrDisposed
	}

	want := 1
	switch in.Type {
	case InputColor:
		want = 4
	case InputPoint2D:
		want = 2
	}
	if len(values) != want {
		return fmt.Errorf("%w: %q expects %d, got %d", ErrInputArity, name, want, len(values))
	}

	switch in.Type {
	case InputInt:
		p.prog.SetInt(name, int32(values[0]))
	case InputBool:
		var v int32
		if values[0] != 0 {
			v = 1
		}
		p.prog.SetInt(name, v)
	default:
		p.prog.SetFloat(name, values...)
	}
	return nil
}

// Elapsed returns the shader clock: time since the program was compiled.
func (p *Program) Elapsed() time.Duration {
	return p.now().Sub(p.startTime)
}

// Render draws one frame into the offscreen buffer and returns it. The
// returned image is owned by the program and overwritten by the next call.
func (p *Program) Render() (*image.RGBA, error) {
	if p.disposed {
		return nil, ErrDisposed
	}

	p.prog.SetFloat(UniformTime, float32(p.Elapsed().Seconds()))
	p.prog.SetFloat(UniformResolution, float32(p.width), float32(p.height), 1)
	p.prog.SetFloat(UniformMouse, 0, 0, 0, 0)

	if err := p.device.Draw(p.target, p.prog, p.quad, [4]float32{0, 0, 0, 1}); err != nil {
		return nil, fmt.Errorf("shader %q render: %w", p.name, err)
	}
	if err := p.target.Read(p.frame); err != nil {
		return nil, fmt.Errorf("shader %q readback: %w", p.name, err)
	}
	p.renderCount++
	return p.frame, nil
}

// RenderCount returns how many frames have been rendered.
func (p *Program) RenderCount() int { return p.renderCount }

// Dispose releases the render target, program and vertex data. It is safe to
// call more than once.
func (p *Program) Dispose() {
	if p.disposed {
		return
	}
	p.disposed = true

	if p.target != nil {
		p.target.Release()
		p.target = nil
	}
	if p.quad != nil {
		p.quad.Release()
		p.quad = nil
	}
	if p.prog != nil {
		p.prog.Release()
		p.prog = nil
	}
	p.frame = nil
	log.Printf("Shader [%s] disposed", p.name)
}
