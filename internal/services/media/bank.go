// Package media implements the A/B media channels: eight assignable banks
// per channel, each holding a video clip, a shader or a camera, and the one
// live resource built from the active bank.
package media

import (
	"fmt"
	"path/filepath"
	"strings"
)

// NumBanks is the number of banks per channel.
const NumBanks = 8

// Kind is the content type of a bank.
type Kind string

const (
	KindNone   Kind = ""
	KindVideo  Kind = "video"
	KindShader Kind = "shader"
	KindCamera Kind = "camera"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindVideo, KindShader, KindCamera:
		return k, nil
	case "none":
		return KindNone, nil
	default:
		return KindNone, fmt.Errorf("unknown bank kind %q", s)
	}
}

// BankSlot is the content of one bank. For shaders Locator holds the source
// text. ShaderVersion only ever grows.
type BankSlot struct {
	Kind          Kind   `json:"kind"`
	Locator       string `json:"locator,omitempty"`
	Name          string `json:"name,omitempty"`
	ShaderVersion int    `json:"shaderVersion"`
}

// Empty reports whether the slot has no content.
func (b BankSlot) Empty() bool {
	return b.Kind == KindNone || b.Locator == ""
}

func defaultName(kind Kind, index int, locator string) string {
	switch kind {
	case KindShader:
		return fmt.Sprintf("shader_%d", index+1)
	case KindVideo:
		return filepath.Base(locator)
	default:
		return locator
	}
}

// Transport is the playback state applied to video banks.
type Transport string

const (
	TransportPlay    Transport = "play"
	TransportPause   Transport = "pause"
	TransportReverse Transport = "reverse"
)

// ParseTransport validates a transport name.
func ParseTransport(s string) (Transport, error) {
	switch t := Transport(strings.ToLower(s)); t {
	case TransportPlay, TransportPause, TransportReverse:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTransport, s)
	}
}

const (
	MinPlaybackRate = 0.25
	MaxPlaybackRate = 2.0
)
