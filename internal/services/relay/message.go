// Package relay streams the composited output to display surfaces over a
// websocket. The server side Hub sends JPEG frames and state messages; the
// Client used by the output window performs the ready handshake and keeps
// the latest frame.
package relay

import (
	"encoding/json"

	"github.com/bbernstein/vizmix-go/internal/services/media"
)

// MessageType identifies a text message on the relay socket.
type MessageType string

const (
	TypeOutputReady     MessageType = "output-ready"
	TypeStreamConnected MessageType = "stream-connected"
	TypeState           MessageType = "state"
	TypeEffects         MessageType = "effects"
	TypeBPM             MessageType = "bpm"
	TypeBeat            MessageType = "beat"
	TypeAutoSwitch      MessageType = "auto-switch"
	TypeError           MessageType = "error"
	TypeChannel         MessageType = "channel"
)

// Message is a text message on the relay socket. Frames travel as binary
// JPEG messages instead. BPM holds the tempo record for state and bpm
// messages and the plain tempo for beat messages, so it is kept raw.
type Message struct {
	Type      MessageType     `json:"type"`
	State     map[string]any  `json:"state,omitempty"`
	BPM       json.RawMessage `json:"bpm,omitempty"`
	Effects   map[string]any  `json:"effects,omitempty"`
	BeatCount int             `json:"beatCount,omitempty"`
	Target    *float64        `json:"target,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Status    *ChannelStatus  `json:"status,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ChannelStatus is what a surface is told when a channel switches banks or
// changes content. Bank contents stay on the control API.
type ChannelStatus struct {
	ActiveIndex   int        `json:"activeIndex"`
	ActiveKind    media.Kind `json:"activeKind"`
	ShaderVersion int        `json:"shaderVersion"`
	LoadingIndex  int        `json:"loadingIndex"`
	HasSignal     bool       `json:"hasSignal"`
}

func channelMessage(snap media.Snapshot) Message {
	return Message{
		Type:    TypeChannel,
		Channel: snap.Name,
		Status: &ChannelStatus{
			ActiveIndex:   snap.ActiveIndex,
			ActiveKind:    snap.ActiveKind,
			ShaderVersion: snap.ActiveShaderVersion,
			LoadingIndex:  snap.LoadingIndex,
			HasSignal:     snap.HasSignal,
		},
	}
}

// Tempo decodes BPM as a tempo record. It returns nil for beat messages.
func (m Message) Tempo() map[string]any {
	var record map[string]any
	if json.Unmarshal(m.BPM, &record) != nil {
		return nil
	}
	return record
}

// BeatBPM decodes BPM as the plain tempo carried by beat messages.
func (m Message) BeatBPM() int {
	var bpm int
	if json.Unmarshal(m.BPM, &bpm) != nil {
		return 0
	}
	return bpm
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// stateMessage builds the full state message sent after the handshake.
// exported is a mixer export record: its "bpm" and "effects" records travel
// alongside the rest of the mix state.
func stateMessage(exported map[string]any) Message {
	msg := Message{Type: TypeState, State: make(map[string]any, len(exported))}
	for k, v := range exported {
		switch k {
		case "bpm":
			msg.BPM = rawJSON(v)
		case "effects":
			if fx, ok := v.(map[string]any); ok {
				msg.Effects = fx
			}
		default:
			msg.State[k] = v
		}
	}
	return msg
}
