package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/vizmix-go/internal/services/effects"
	"github.com/bbernstein/vizmix-go/internal/services/media"
	"github.com/bbernstein/vizmix-go/internal/services/mixer"
	"github.com/bbernstein/vizmix-go/internal/services/tempo"
)

type valueRequest struct {
	Value *float64 `json:"value"`
}

func (req valueRequest) required() (float64, error) {
	if req.Value == nil {
		return 0, fmt.Errorf("%w: value is required", errBadRequest)
	}
	return *req.Value, nil
}

// decodeValue reads a {"value": n} body.
func decodeValue(r *http.Request) (float64, error) {
	var req valueRequest
	if err := decode(r, &req); err != nil {
		return 0, err
	}
	return req.required()
}

// State

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.State())
}

func (s *Server) importState(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if err := decode(r, &data); err != nil {
		fail(w, err)
		return
	}
	s.engine.Import(data)
	writeJSON(w, http.StatusOK, s.engine.Export())
}

func (s *Server) shaders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Media().Shaders())
}

// Tempo

func (s *Server) getTempo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Tempo().Serialize())
}

func (s *Server) tap(w http.ResponseWriter, _ *http.Request) {
	bpm := s.engine.Tap()
	writeJSON(w, http.StatusOK, map[string]any{"bpm": bpm, "taps": s.engine.Tempo().TapCount()})
}

func (s *Server) setBPM(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BPM *float64 `json:"bpm"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.BPM == nil {
		fail(w, fmt.Errorf("%w: bpm is required", errBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bpm": s.engine.SetBPM(*req.BPM)})
}

func (s *Server) togglePlay(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"isPlaying": s.engine.TogglePlay()})
}

func (s *Server) setAutoSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Enabled == nil {
		fail(w, fmt.Errorf("%w: enabled is required", errBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"autoSwitch": s.engine.SetAutoSwitch(*req.Enabled)})
}

func (s *Server) toggleAutoSwitch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"autoSwitch": s.engine.ToggleAutoSwitch()})
}

func (s *Server) setInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Beats int `json:"beats"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if !tempo.IsValidInterval(req.Beats) {
		fail(w, fmt.Errorf("%w: switch interval must be 1, 2, 4, 8 or 16 beats", errBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"switchInterval": s.engine.SetSwitchInterval(req.Beats)})
}

// Mixer

func (s *Server) setCrossfade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		valueRequest
		DurationMs int    `json:"durationMs"`
		Curve      string `json:"curve"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	v, err := req.required()
	if err != nil {
		fail(w, err)
		return
	}

	if req.DurationMs > 0 {
		curve, err := mixer.ParseCurve(req.Curve)
		if err != nil {
			fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		s.engine.FadeCrossfade(v, time.Duration(req.DurationMs)*time.Millisecond, curve)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"crossfade":  s.engine.Compositor().Crossfade(),
			"target":     v,
			"durationMs": req.DurationMs,
			"curve":      curve,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"crossfade": s.engine.SetCrossfade(v)})
}

func (s *Server) setDimmer(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	v, err := decodeValue(r)
	if err != nil {
		fail(w, err)
		return
	}
	stored, err := s.engine.SetDimmer(channel, v)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "value": stored})
}

func (s *Server) setBeatFlash(w http.ResponseWriter, r *http.Request) {
	v, err := decodeValue(r)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"beatFlash": s.engine.SetBeatFlash(v)})
}

func (s *Server) setOutputSize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if err := s.engine.SetOutputSize(req.Width, req.Height); err != nil {
		fail(w, err)
		return
	}
	width, height := s.engine.Compositor().Size()
	writeJSON(w, http.StatusOK, map[string]any{"width": width, "height": height})
}

// Effects

func (s *Server) getEffects(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Effects().Values())
}

func (s *Server) setEffect(w http.ResponseWriter, r *http.Request) {
	name := effects.Name(chi.URLParam(r, "name"))
	var req struct {
		valueRequest
		Color *string `json:"color"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Value == nil && req.Color == nil {
		fail(w, fmt.Errorf("%w: value or color is required", errBadRequest))
		return
	}
	if req.Color != nil {
		if name != effects.RGBMultiply {
			fail(w, fmt.Errorf("%w: only %s takes a color", errBadRequest, effects.RGBMultiply))
			return
		}
		s.engine.SetEffectColor(*req.Color)
	}
	if req.Value != nil {
		if _, err := s.engine.SetEffect(name, *req.Value); err != nil {
			fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, s.engine.Effects().Values())
}

func (s *Server) toggleEffect(w http.ResponseWriter, r *http.Request) {
	name := effects.Name(chi.URLParam(r, "name"))
	on, err := s.engine.ToggleEffect(name)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": on})
}

func (s *Server) resetEffect(w http.ResponseWriter, r *http.Request) {
	name := effects.Name(chi.URLParam(r, "name"))
	if err := s.engine.ResetEffect(name); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Effects().Values())
}

func (s *Server) resetEffects(w http.ResponseWriter, _ *http.Request) {
	s.engine.ResetEffects()
	writeJSON(w, http.StatusOK, s.engine.Effects().Values())
}

// Channels

func bankIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", media.ErrInvalidBankIndex, raw)
	}
	return index, nil
}

// respondChannel writes the channel snapshot, or err mapped to a status.
// Resource errors still carry the snapshot so the surface can show the
// channel as it stands.
func (s *Server) respondChannel(w http.ResponseWriter, channel string, err error) {
	snap, snapErr := s.engine.ChannelSnapshot(channel)
	if snapErr != nil {
		fail(w, snapErr)
		return
	}
	if err != nil {
		status := statusFor(err)
		body := map[string]any{"error": err.Error(), "channel": snap}
		var compileErr *media.ShaderCompileError
		if errors.As(err, &compileErr) {
			body["diagnostic"] = compileErr.Diagnostic
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	s.respondChannel(w, chi.URLParam(r, "channel"), nil)
}

func (s *Server) switchBank(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	index, err := bankIndex(r)
	if err == nil {
		err = s.engine.SwitchBank(channel, index)
	}
	s.respondChannel(w, channel, err)
}

func (s *Server) replaceBank(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	index, err := bankIndex(r)
	if err != nil {
		s.respondChannel(w, channel, err)
		return
	}

	var req struct {
		Kind    string `json:"kind"`
		Locator string `json:"locator"`
		Name    string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	kind, err := media.ParseKind(req.Kind)
	if err != nil {
		fail(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.respondChannel(w, channel, s.engine.ReplaceBank(channel, index, kind, req.Locator, req.Name))
}

func (s *Server) setTransport(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	var req struct {
		Transport string `json:"transport"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	t, err := media.ParseTransport(req.Transport)
	if err == nil {
		err = s.engine.SetTransport(channel, t)
	}
	s.respondChannel(w, channel, err)
}

func (s *Server) setRate(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	var req struct {
		Rate *float64 `json:"rate"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Rate == nil {
		fail(w, fmt.Errorf("%w: rate is required", errBadRequest))
		return
	}
	_, err := s.engine.SetPlaybackRate(channel, *req.Rate)
	s.respondChannel(w, channel, err)
}

func (s *Server) setShaderInput(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	var req struct {
		Values []float32 `json:"values"`
	}
	if err := decode(r, &req); err != nil {
		fail(w, err)
		return
	}
	if len(req.Values) == 0 {
		fail(w, fmt.Errorf("%w: values is required", errBadRequest))
		return
	}
	if err := s.engine.SetShaderInput(channel, chi.URLParam(r, "name"), req.Values...); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Settings

func (s *Server) settingsUnavailable(w http.ResponseWriter) bool {
	if s.settings == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("settings persistence disabled"))
		return true
	}
	return false
}

func (s *Server) loadSettings(w http.ResponseWriter, r *http.Request) {
	if s.settingsUnavailable(w) {
		return
	}
	snap, err := s.settings.Load(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, errors.New("no saved settings"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) saveSettings(w http.ResponseWriter, r *http.Request) {
	if s.settingsUnavailable(w) {
		return
	}
	snap, err := s.settings.Save(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) clearSettings(w http.ResponseWriter, r *http.Request) {
	if s.settingsUnavailable(w) {
		return
	}
	if err := s.settings.Clear(r.Context()); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
