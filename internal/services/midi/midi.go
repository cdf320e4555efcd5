// Package midi maps controller notes and CCs to mixer actions. Handler plugs
// into gomidi's ListenTo; the host registers a driver before calling Listen.
package midi

import (
	"fmt"
	"log"
	"math"
	"strings"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/media"
)

// ActionType identifies a mapped control.
type ActionType string

const (
	ActionBank             ActionType = "bank"
	ActionAutoSwitchToggle ActionType = "autoSwitchToggle"
	ActionTap              ActionType = "tap"
	ActionEffectToggle     ActionType = "effectToggle"
	ActionCrossfade        ActionType = "crossfade"
	ActionBPM              ActionType = "bpm"
	ActionEffectAmount     ActionType = "effectAmount"
)

// Action is a decoded control message. Value is already scaled to the
// target's range (crossfade is 0-100).
type Action struct {
	Type    ActionType
	Channel string
	Index   int
	Effect  effects.Name
	Value   float64
}

func (a Action) String() string {
	switch a.Type {
	case ActionBank:
		return fmt.Sprintf("bank %s%d", a.Channel, a.Index+1)
	case ActionEffectToggle:
		return fmt.Sprintf("toggle %s", a.Effect)
	case ActionEffectAmount:
		return fmt.Sprintf("%s %.0f", a.Effect, a.Value)
	case ActionCrossfade, ActionBPM:
		return fmt.Sprintf("%s %.0f", a.Type, a.Value)
	default:
		return string(a.Type)
	}
}

type ccMapping struct {
	action   ActionType
	effect   effects.Name
	min, max float64
}

var noteToggles = map[uint8]Action{
	16: {Type: ActionAutoSwitchToggle},
	17: {Type: ActionTap},
	20: {Type: ActionEffectToggle, Effect: effects.Invert},
	21: {Type: ActionEffectToggle, Effect: effects.Grayscale},
	22: {Type: ActionEffectToggle, Effect: effects.Sepia},
}

var ccMap = map[uint8]ccMapping{
	1:  {action: ActionCrossfade, min: 0, max: 100},
	2:  {action: ActionBPM, min: 60, max: 200},
	10: {action: ActionEffectAmount, effect: effects.Blur, min: 0, max: 100},
	11: {action: ActionEffectAmount, effect: effects.Brightness, min: -100, max: 100},
	12: {action: ActionEffectAmount, effect: effects.Contrast, min: -100, max: 100},
}

// Decode maps a message to an action. Notes 0-7 select banks on A and 8-15
// on B; note-ons with zero velocity, note-offs and unmapped messages report
// false. The MIDI channel is ignored.
func Decode(msg gomidi.Message) (Action, bool) {
	var channel, key, velocity, controller, value uint8

	switch {
	case msg.GetNoteOn(&channel, &key, &velocity):
		if velocity == 0 {
			return Action{}, false
		}
		if key < 2*media.NumBanks {
			ch := media.ChannelA
			if key >= media.NumBanks {
				ch = media.ChannelB
			}
			return Action{Type: ActionBank, Channel: ch, Index: int(key) % media.NumBanks}, true
		}
		a, ok := noteToggles[key]
		return a, ok

	case msg.GetControlChange(&channel, &controller, &value):
		m, ok := ccMap[controller]
		if !ok {
			return Action{}, false
		}
		return Action{Type: m.action, Effect: m.effect, Value: scale(value, m.min, m.max)}, true
	}
	return Action{}, false
}

// scale maps a 7-bit value onto [min, max], rounded to a whole number.
func scale(v uint8, min, max float64) float64 {
	return math.Round(min + float64(v)/127*(max-min))
}

// Console is the part of the mixer MIDI controls.
type Console interface {
	SwitchBank(channel string, index int) error
	SetCrossfade(v float64) float64
	SetBPM(v float64) int
	Tap() int
	ToggleAutoSwitch() bool
	ToggleEffect(name effects.Name) (bool, error)
	SetEffect(name effects.Name, v float64) (float64, error)
}

// Dispatch applies an action to the console.
func Dispatch(c Console, a Action) error {
	switch a.Type {
	case ActionBank:
		return c.SwitchBank(a.Channel, a.Index)
	case ActionAutoSwitchToggle:
		c.ToggleAutoSwitch()
	case ActionTap:
		c.Tap()
	case ActionEffectToggle:
		_, err := c.ToggleEffect(a.Effect)
		return err
	case ActionCrossfade:
		c.SetCrossfade(a.Value / 100)
	case ActionBPM:
		c.SetBPM(a.Value)
	case ActionEffectAmount:
		_, err := c.SetEffect(a.Effect, a.Value)
		return err
	default:
		return fmt.Errorf("unknown MIDI action %q", a.Type)
	}
	return nil
}

// Handler returns a gomidi listener callback that decodes and dispatches
// every message to c.
func Handler(c Console) func(msg gomidi.Message, timestampms int32) {
	return func(msg gomidi.Message, _ int32) {
		a, ok := Decode(msg)
		if !ok {
			return
		}
		if err := Dispatch(c, a); err != nil {
			log.Printf("🎹 MIDI %s failed: %v", a, err)
			return
		}
		log.Printf("🎹 MIDI %s", a)
	}
}

// FindInPort returns the first input port whose name contains substr,
// ignoring case.
func FindInPort(substr string) (drivers.In, error) {
	lower := strings.ToLower(substr)
	for _, port := range gomidi.GetInPorts() {
		if strings.Contains(strings.ToLower(port.String()), lower) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q", substr)
}

// Listen dispatches messages from the first input port matching substr to c
// until the returned stop function is called.
func Listen(substr string, c Console) (stop func(), err error) {
	port, err := FindInPort(substr)
	if err != nil {
		return nil, err
	}
	stop, err = gomidi.ListenTo(port, Handler(c))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", port, err)
	}
	log.Printf("🎹 Listening on MIDI input %s", port)
	return stop, nil
}
