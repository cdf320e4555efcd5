package media

import (
	"context"
	"image"
	"time"

	"github.com/bbernstein/vizmix-go/internal/services/shader"
)

// Video is an open clip decoding in the background.
type Video interface {
	// Frame returns the latest decoded frame, or nil before the first one.
	Frame() *image.RGBA
	Play()
	Pause()
	Paused() bool
	SetRate(rate float64)
	// Position is the presentation time of the latest frame.
	Position() time.Duration
	Duration() time.Duration
	Seek(pos time.Duration)
	// Err returns the error that stopped decoding, or nil while healthy.
	Err() error
	Close() error
}

// VideoOpener opens clips. Open may block reading metadata and is called off the
// render goroutine.
type VideoOpener interface {
	Open(ctx context.Context, locator string) (Video, error)
}

// Camera is a live capture stream.
type Camera interface {
	Frame() *image.RGBA
	// Err returns the error that stopped capture, or nil while healthy.
	Err() error
	Close() error
}

// CameraProvider attaches capture devices.
type CameraProvider interface {
	Open(device string) (Camera, error)
}

// ActiveSource is the live resource of a channel: *VideoSource,
// *ShaderSource or *CameraSource.
type ActiveSource interface {
	Kind() Kind
	release()
}

// VideoSource is an active clip.
type VideoSource struct {
	Video   Video
	Locator string
}

func (s *VideoSource) Kind() Kind { return KindVideo }

func (s *VideoSource) release() { _ = s.Video.Close() }

// ShaderSource is an active shader program.
type ShaderSource struct {
	Program *shader.Program
	Version int
}

func (s *ShaderSource) Kind() Kind { return KindShader }

func (s *ShaderSource) release() { s.Program.Dispose() }

// CameraSource is an attached capture stream.
type CameraSource struct {
	Camera Camera
	Device string
}

func (s *CameraSource) Kind() Kind { return KindCamera }

func (s *CameraSource) release() { _ = s.Camera.Close() }
