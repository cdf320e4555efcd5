// Package gpu abstracts the graphics device used to compile fragment shaders
// and render them into offscreen targets.
//
// The default build uses an OpenGL 3.3 core context created through a hidden
// GLFW window. Building with the "headless" tag swaps in a device that
// reports ErrNoGPU for every GPU operation, so a control server without a
// display can still mix video and camera banks.
package gpu

import (
	"errors"
	"fmt"
	"image"
)

// ErrNoGPU is returned by devices that cannot execute shaders.
var ErrNoGPU = errors.New("gpu: no graphics device available")

// Stage identifies a shader stage in a CompileError.
type Stage string

const (
	StageVertex   Stage = "vertex"
	StageFragment Stage = "fragment"
	StageLink     Stage = "link"
)

// CompileError carries the driver's diagnostic output for a failed compile or link.
type CompileError struct {
	Stage Stage
	Log   string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("gpu: %s shader failed: %s", e.Stage, e.Log)
}

// Device is a graphics context able to build and run fullscreen-quad programs.
//
// All methods must be called from the goroutine that called Bind, with that
// goroutine locked to its OS thread.
type Device interface {
	// Bind makes the device's context current on the calling thread.
	Bind() error
	// CompileProgram compiles and links a vertex/fragment pair.
	CompileProgram(vertexSrc, fragmentSrc string) (Program, error)
	// NewRenderTarget allocates an RGBA8 color buffer of the given size.
	NewRenderTarget(width, height int) (RenderTarget, error)
	// NewQuad allocates vertex data for a full-viewport quad.
	NewQuad() (Quad, error)
	// Draw clears target to clearColor and draws quad with prog into it.
	Draw(target RenderTarget, prog Program, quad Quad, clearColor [4]float32) error
	// Close releases the context.
	Close() error
}

// Program is a linked shader program.
type Program interface {
	// SetFloat sets a float, vec2, vec3 or vec4 uniform depending on len(v).
	// Unknown uniform names are ignored.
	SetFloat(name string, v ...float32)
	// SetInt sets an int or bool uniform. Unknown uniform names are ignored.
	SetInt(name string, v int32)
	Release()
}

// RenderTarget is an offscreen color buffer.
type RenderTarget interface {
	Size() (width, height int)
	// Read copies the color buffer into dst, top row first.
	Read(dst *image.RGBA) error
	Release()
}

// Quad is vertex data for a full-viewport quad.
type Quad interface {
	Release()
}
