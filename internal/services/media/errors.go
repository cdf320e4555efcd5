package media

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBankIndex is returned for bank indexes outside [0, NumBanks).
	ErrInvalidBankIndex = errors.New("invalid bank index")
	// ErrEmptyBank is returned when switching to a slot with no content.
	ErrEmptyBank = errors.New("bank is empty")
	// ErrUnknownChannel is returned for channel names other than A and B.
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrInvalidTransport is returned for transport states other than play, pause and reverse.
	ErrInvalidTransport = errors.New("invalid transport state")
	// ErrResolutionTooHigh is returned for clips wider than the configured maximum.
	ErrResolutionTooHigh = errors.New("video resolution too high")
	// ErrNoVideoBackend is returned when a channel has no VideoOpener.
	ErrNoVideoBackend = errors.New("no video backend configured")
	// ErrNoCameraBackend is returned when a channel has no CameraProvider.
	ErrNoCameraBackend = errors.New("no camera backend configured")
	// ErrLoadTimeout is returned for a clip that opened but showed no frame within the load timeout.
	ErrLoadTimeout = errors.New("no frame decoded before the load timeout")
	// ErrNoShader is returned for shader input changes on a channel not showing a shader.
	ErrNoShader = errors.New("channel is not showing a shader")
)

// VideoLoadError reports a clip that could not be opened or decoded. The
// channel stays on its previous resource; the caller may retry with a
// corrected locator.
type VideoLoadError struct {
	Channel string
	Index   int
	Locator string
	Err     error
}

func (e *VideoLoadError) Error() string {
	return fmt.Sprintf("channel %s bank %d: failed to load video %q: %v", e.Channel, e.Index+1, e.Locator, e.Err)
}

func (e *VideoLoadError) Unwrap() error { return e.Err }

// ShaderCompileError reports a shader bank that failed to build. The channel
// produces no frame until the source is corrected.
type ShaderCompileError struct {
	Channel    string
	Index      int
	Name       string
	Diagnostic string
	Err        error
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("channel %s bank %d: shader %q failed to compile: %s", e.Channel, e.Index+1, e.Name, e.Diagnostic)
}

func (e *ShaderCompileError) Unwrap() error { return e.Err }

// CameraAccessError reports a camera that could not be attached. The channel
// falls back to no signal.
type CameraAccessError struct {
	Channel string
	Index   int
	Device  string
	Err     error
}

func (e *CameraAccessError) Error() string {
	return fmt.Sprintf("channel %s bank %d: camera %q unavailable: %v", e.Channel, e.Index+1, e.Device, e.Err)
}

func (e *CameraAccessError) Unwrap() error { return e.Err }

// isResourceError reports whether err came from building a live resource.
func isResourceError(err error) bool {
	var vle *VideoLoadError
	var sce *ShaderCompileError
	var cae *CameraAccessError
	return errors.As(err, &vle) || errors.As(err, &sce) || errors.As(err, &cae)
}
