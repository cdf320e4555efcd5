package effects

// Serialize returns the state keyed by effect name.
func (s *State) Serialize() map[string]any {
	v := s.Values()
	return map[string]any{
		string(Invert):     map[string]any{"enabled": v.Invert.Enabled},
		string(Grayscale):  map[string]any{"enabled": v.Grayscale.Enabled, "amount": v.Grayscale.Amount},
		string(Sepia):      map[string]any{"enabled": v.Sepia.Enabled, "amount": v.Sepia.Amount},
		string(Blur):       map[string]any{"amount": v.Blur.Amount},
		string(Brightness): map[string]any{"amount": v.Brightness.Amount},
		string(Contrast):   map[string]any{"amount": v.Contrast.Amount},
		string(Glitch):     map[string]any{"amount": v.Glitch.Amount},
		string(RGBShift):   map[string]any{"amount": v.RGBShift.Amount},
		string(RGBMultiply): map[string]any{
			"amount": v.RGBMultiply.Amount,
			"color":  v.RGBMultiply.Color,
		},
	}
}

// Deserialize applies a partial record produced by Serialize. Effects that
// are absent keep their value; unknown keys and mistyped fields are ignored.
func (s *State) Deserialize(data map[string]any) {
	for _, name := range Names {
		entry, ok := data[string(name)].(map[string]any)
		if !ok {
			continue
		}
		s.apply(name, entry)
	}
}

func (s *State) apply(name Name, entry map[string]any) {
	if amount, ok := entry["amount"].(float64); ok {
		s.set(name, amount)
	}

	enabled, hasEnabled := entry["enabled"].(bool)
	if hasEnabled {
		s.mu.Lock()
		switch name {
		case Invert:
			s.values.Invert.Enabled = enabled
		case Grayscale:
			s.values.Grayscale.Enabled = enabled
		case Sepia:
			s.values.Sepia.Enabled = enabled
		}
		s.mu.Unlock()
	}

	if name == RGBMultiply {
		if c, ok := entry["color"].(string); ok {
			s.SetRGBMultiplyColor(c)
		}
	}
}
