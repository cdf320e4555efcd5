// Package gputest provides an in-memory gpu.Device for tests.
package gputest

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"

	"github.com/bbernstein/vizmix-go/internal/services/gpu"
)

// FailMarker makes CompileProgram fail when it appears in the fragment source.
const FailMarker = "#error"

// ErrNotBound is returned by CompileProgram when RequireBind is set and Bind
// has not been called.
var ErrNotBound = errors.New("gputest: no context bound")

// Device records every allocation so tests can check resource lifetimes.
type Device struct {
	mu sync.Mutex

	// Fill is the color render targets read back after a draw.
	Fill color.RGBA

	// RequireBind makes compiles fail until Bind is called, like a GL
	// context that was never made current.
	RequireBind bool
	bound       bool

	Compiles     int
	Draws        int
	LastFragment string
	LivePrograms int
	LiveTargets  int
	LiveQuads    int
	TargetSizes  [][2]int
	Programs     []*Program
	Closed       bool
}

// NewDevice creates a fake device that reads back opaque white.
func NewDevice() *Device {
	return &Device{Fill: color.RGBA{R: 255, G: 255, B: 255, A: 255}}
}

func (d *Device) Bind() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bound = true
	return nil
}

func (d *Device) CompileProgram(vertexSrc, fragmentSrc string) (gpu.Program, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.RequireBind && !d.bound {
		return nil, ErrNotBound
	}
	d.Compiles++
	d.LastFragment = fragmentSrc
	if strings.Contains(fragmentSrc, FailMarker) {
		return nil, &gpu.CompileError{Stage: gpu.StageFragment, Log: "0:1: '#error' : user error"}
	}
	if !strings.Contains(fragmentSrc, "void main") {
		return nil, &gpu.CompileError{Stage: gpu.StageLink, Log: "missing main function"}
	}

	p := &Program{device: d, Floats: make(map[string][]float32), Ints: make(map[string]int32)}
	d.LivePrograms++
	d.Programs = append(d.Programs, p)
	return p, nil
}

func (d *Device) NewRenderTarget(width, height int) (gpu.RenderTarget, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.LiveTargets++
	d.TargetSizes = append(d.TargetSizes, [2]int{width, height})
	return &RenderTarget{device: d, width: width, height: height}, nil
}

func (d *Device) NewQuad() (gpu.Quad, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.LiveQuads++
	return &Quad{device: d}, nil
}

func (d *Device) Draw(target gpu.RenderTarget, prog gpu.Program, quad gpu.Quad, _ [4]float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rt, ok := target.(*RenderTarget)
	if !ok || rt.released {
		return fmt.Errorf("gputest: draw into released target")
	}
	p, ok := prog.(*Program)
	if !ok || p.released {
		return fmt.Errorf("gputest: draw with released program")
	}
	if q, ok := quad.(*Quad); !ok || q.released {
		return fmt.Errorf("gputest: draw with released quad")
	}
	d.Draws++
	rt.drawn = true
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Closed = true
	return nil
}

// Live reports the number of unreleased programs, targets and quads.
func (d *Device) Live() (programs, targets, quads int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.LivePrograms, d.LiveTargets, d.LiveQuads
}

// Program records uniform writes.
type Program struct {
	device   *Device
	released bool

	Floats map[string][]float32
	Ints   map[string]int32
}

func (p *Program) SetFloat(name string, v ...float32) {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	p.Floats[name] = append([]float32(nil), v...)
}

func (p *Program) SetInt(name string, v int32) {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	p.Ints[name] = v
}

func (p *Program) Release() {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	if !p.released {
		p.released = true
		p.device.LivePrograms--
	}
}

// Float returns the last value written to a float uniform.
func (p *Program) Float(name string) []float32 {
	p.device.mu.Lock()
	defer p.device.mu.Unlock()
	return p.Floats[name]
}

// RenderTarget fills reads with the device's Fill color once drawn.
type RenderTarget struct {
	device   *Device
	width    int
	height   int
	drawn    bool
	released bool
}

func (rt *RenderTarget) Size() (int, int) { return rt.width, rt.height }

func (rt *RenderTarget) Read(dst *image.RGBA) error {
	rt.device.mu.Lock()
	defer rt.device.mu.Unlock()

	if rt.released {
		return fmt.Errorf("gputest: read from released target")
	}
	fill := color.RGBA{A: 255}
	if rt.drawn {
		fill = rt.device.Fill
	}
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = fill.R
		dst.Pix[i+1] = fill.G
		dst.Pix[i+2] = fill.B
		dst.Pix[i+3] = fill.A
	}
	return nil
}

func (rt *RenderTarget) Release() {
	rt.device.mu.Lock()
	defer rt.device.mu.Unlock()
	if !rt.released {
		rt.released = true
		rt.device.LiveTargets--
	}
}

// Quad tracks release.
type Quad struct {
	device   *Device
	released bool
}

func (q *Quad) Release() {
	q.device.mu.Lock()
	defer q.device.mu.Unlock()
	if !q.released {
		q.released = true
		q.device.LiveQuads--
	}
}
