package tempo

import "math"

// Serialize returns the engine state as a flat key-value record.
func (e *Engine) Serialize() map[string]any {
	s := e.State()
	return map[string]any{
		"bpm":            s.BPM,
		"isPlaying":      s.IsPlaying,
		"beatCount":      s.BeatCount,
		"autoSwitch":     s.AutoSwitch,
		"switchInterval": s.SwitchInterval,
	}
}

// Deserialize applies a record produced by Serialize. Missing, unknown and
// mistyped keys are ignored; numeric values are clamped to their valid range.
func (e *Engine) Deserialize(data map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if v, ok := number(data["bpm"]); ok {
		e.bpm = clampBPM(v)
	}
	if v, ok := data["isPlaying"].(bool); ok {
		e.setPlayingLocked(v)
	}
	if v, ok := number(data["beatCount"]); ok {
		n := int(math.Round(v)) % BeatsPerBar
		if n < 0 {
			n += BeatsPerBar
		}
		e.beatCount = n
	}
	if v, ok := data["autoSwitch"].(bool); ok {
		e.autoSwitch = v
	}
	if v, ok := number(data["switchInterval"]); ok {
		if n := int(math.Round(v)); IsValidInterval(n) {
			e.switchInterval = n
		}
	}
}

// number accepts the numeric types produced by encoding/json and by Serialize.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
