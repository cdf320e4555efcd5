package midi

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
)

type call struct {
	method string
	args   []any
}

type recordingConsole struct {
	calls     []call
	switchErr error
}

func (r *recordingConsole) record(method string, args ...any) {
	r.calls = append(r.calls, call{method: method, args: args})
}

func (r *recordingConsole) SwitchBank(channel string, index int) error {
	r.record("SwitchBank", channel, index)
	return r.switchErr
}

func (r *recordingConsole) SetCrossfade(v float64) float64 {
	r.record("SetCrossfade", v)
	return v
}

func (r *recordingConsole) SetBPM(v float64) int {
	r.record("SetBPM", v)
	return int(v)
}

func (r *recordingConsole) Tap() int {
	r.record("Tap")
	return 120
}

func (r *recordingConsole) ToggleAutoSwitch() bool {
	r.record("ToggleAutoSwitch")
	return true
}

func (r *recordingConsole) ToggleEffect(name effects.Name) (bool, error) {
	r.record("ToggleEffect", name)
	return true, nil
}

func (r *recordingConsole) SetEffect(name effects.Name, v float64) (float64, error) {
	r.record("SetEffect", name, v)
	return v, nil
}

func TestDecode_Notes(t *testing.T) {
	tests := []struct {
		name string
		msg  gomidi.Message
		want Action
	}{
		{"first A bank", gomidi.NoteOn(0, 0, 100), Action{Type: ActionBank, Channel: "A", Index: 0}},
		{"last A bank", gomidi.NoteOn(0, 7, 1), Action{Type: ActionBank, Channel: "A", Index: 7}},
		{"first B bank", gomidi.NoteOn(3, 8, 64), Action{Type: ActionBank, Channel: "B", Index: 0}},
		{"last B bank", gomidi.NoteOn(0, 15, 127), Action{Type: ActionBank, Channel: "B", Index: 7}},
		{"auto-switch", gomidi.NoteOn(0, 16, 127), Action{Type: ActionAutoSwitchToggle}},
		{"tap", gomidi.NoteOn(0, 17, 127), Action{Type: ActionTap}},
		{"invert", gomidi.NoteOn(0, 20, 127), Action{Type: ActionEffectToggle, Effect: effects.Invert}},
		{"grayscale", gomidi.NoteOn(0, 21, 127), Action{Type: ActionEffectToggle, Effect: effects.Grayscale}},
		{"sepia", gomidi.NoteOn(0, 22, 127), Action{Type: ActionEffectToggle, Effect: effects.Sepia}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(tt.msg)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Ignored(t *testing.T) {
	tests := []struct {
		name string
		msg  gomidi.Message
	}{
		{"zero velocity", gomidi.NoteOn(0, 3, 0)},
		{"note off", gomidi.NoteOff(0, 3)},
		{"unmapped note", gomidi.NoteOn(0, 18, 100)},
		{"unmapped cc", gomidi.ControlChange(0, 7, 100)},
		{"pitch bend", gomidi.Pitchbend(0, 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Decode(tt.msg)
			assert.False(t, ok)
		})
	}
}

func TestDecode_ControlChanges(t *testing.T) {
	tests := []struct {
		name   string
		cc     uint8
		value  uint8
		action ActionType
		effect effects.Name
		want   float64
	}{
		{"crossfade min", 1, 0, ActionCrossfade, "", 0},
		{"crossfade max", 1, 127, ActionCrossfade, "", 100},
		{"crossfade mid", 1, 64, ActionCrossfade, "", 50},
		{"bpm min", 2, 0, ActionBPM, "", 60},
		{"bpm max", 2, 127, ActionBPM, "", 200},
		{"blur", 10, 127, ActionEffectAmount, effects.Blur, 100},
		{"brightness min", 11, 0, ActionEffectAmount, effects.Brightness, -100},
		{"brightness center", 11, 64, ActionEffectAmount, effects.Brightness, 1},
		{"contrast max", 12, 127, ActionEffectAmount, effects.Contrast, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Decode(gomidi.ControlChange(0, tt.cc, tt.value))
			require.True(t, ok)
			assert.Equal(t, tt.action, got.Type)
			assert.Equal(t, tt.effect, got.Effect)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}

func TestDispatch(t *testing.T) {
	c := &recordingConsole{}

	require.NoError(t, Dispatch(c, Action{Type: ActionBank, Channel: "B", Index: 2}))
	require.NoError(t, Dispatch(c, Action{Type: ActionCrossfade, Value: 25}))
	require.NoError(t, Dispatch(c, Action{Type: ActionBPM, Value: 128}))
	require.NoError(t, Dispatch(c, Action{Type: ActionTap}))
	require.NoError(t, Dispatch(c, Action{Type: ActionAutoSwitchToggle}))
	require.NoError(t, Dispatch(c, Action{Type: ActionEffectToggle, Effect: effects.Sepia}))
	require.NoError(t, Dispatch(c, Action{Type: ActionEffectAmount, Effect: effects.Blur, Value: 30}))

	assert.Equal(t, []call{
		{"SwitchBank", []any{"B", 2}},
		{"SetCrossfade", []any{0.25}},
		{"SetBPM", []any{128.0}},
		{"Tap", nil},
		{"ToggleAutoSwitch", nil},
		{"ToggleEffect", []any{effects.Sepia}},
		{"SetEffect", []any{effects.Blur, 30.0}},
	}, c.calls)
}

func TestDispatch_Errors(t *testing.T) {
	c := &recordingConsole{switchErr: errors.New("empty bank")}

	assert.Error(t, Dispatch(c, Action{Type: ActionBank, Channel: "A"}))
	assert.Error(t, Dispatch(c, Action{Type: "dance"}))
}

func TestHandler(t *testing.T) {
	c := &recordingConsole{}
	handle := Handler(c)

	handle(gomidi.NoteOn(0, 17, 90), 0)
	handle(gomidi.NoteOn(0, 99, 90), 0)
	handle(gomidi.ControlChange(0, 1, 127), 0)

	require.Len(t, c.calls, 2)
	assert.Equal(t, "Tap", c.calls[0].method)
	assert.Equal(t, []any{1.0}, c.calls[1].args)
}
