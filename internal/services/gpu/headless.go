//go:build headless

package gpu

import "log"

type headlessDevice struct{}

// NewDevice returns a device without shader support.
func NewDevice() (Device, error) {
	log.Println("GPU: headless build, shader banks are unavailable")
	return headlessDevice{}, nil
}

func (headlessDevice) Bind() error { return nil }

func (headlessDevice) CompileProgram(string, string) (Program, error) { return nil, ErrNoGPU }

func (headlessDevice) NewRenderTarget(int, int) (RenderTarget, error) { return nil, ErrNoGPU }

func (headlessDevice) NewQuad() (Quad, error) { return nil, ErrNoGPU }

func (headlessDevice) Draw(RenderTarget, Program, Quad, [4]float32) error { return ErrNoGPU }

func (headlessDevice) Close() error { return nil }
