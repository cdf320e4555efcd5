// Package tempo provides the beat clock, tap tempo estimation and the
// tempo-synced auto-switch scheduler.
package tempo

import (
	"log"
	"math"
	"sync"
	"time"
)

const (
	// MinBPM and MaxBPM bound every tempo the engine accepts.
	MinBPM = 40
	MaxBPM = 200

	// DefaultBPM is the tempo of a new engine.
	DefaultBPM = 120

	// BeatsPerBar is the length of the repeating beat counter.
	BeatsPerBar = 4

	maxTapSamples  = 6
	tapTimeout     = 2000 * time.Millisecond // Gap that starts a new tap session
	tapDebounce    = 100 * time.Millisecond  // Faster taps are treated as double triggers
	minTapInterval = 150 * time.Millisecond
	maxTapInterval = 2000 * time.Millisecond
)

// validIntervals are the accepted auto-switch intervals in beats.
var validIntervals = []int{1, 2, 4, 8, 16}

// EventType identifies an engine event.
type EventType string

const (
	// EventBeat fires each time the beat counter advances.
	EventBeat EventType = "BEAT"
	// EventAutoSwitch fires every SwitchInterval beats while auto-switch is enabled.
	EventAutoSwitch EventType = "AUTO_SWITCH"
)

// Event is emitted by Tick.
type Event struct {
	Type      EventType
	BeatCount int
	BPM       int
	// Target is the crossfade position an auto-switch drives to (0 = A, 1 = B).
	Target float64
}

// State is a snapshot of the tempo engine.
type State struct {
	BPM            int  `json:"bpm"`
	IsPlaying      bool `json:"isPlaying"`
	BeatCount      int  `json:"beatCount"`
	AutoSwitch     bool `json:"autoSwitch"`
	SwitchInterval int  `json:"switchInterval"`
}

// Engine tracks tempo and emits beat and auto-switch events.
type Engine struct {
	mu sync.RWMutex

	bpm            int
	isPlaying      bool
	beatCount      int
	lastBeatTime   time.Time
	autoSwitch     bool
	switchInterval int

	beatsSinceSwitch int
	// autoSwitchToB is the direction of the next auto-switch.
	autoSwitchToB bool

	taps []time.Time

	now     func() time.Time
	onEvent func(Event)

	// Control
	stopChan   chan struct{}
	running    bool
	updateRate time.Duration
}

// NewEngine creates a playing engine at DefaultBPM.
func NewEngine() *Engine {
	return NewEngineWithClock(time.Now)
}

// NewEngineWithClock creates an engine that reads time from now.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{
		bpm:            DefaultBPM,
		isPlaying:      true,
		switchInterval: 4,
		autoSwitchToB:  true,
		lastBeatTime:   now(),
		now:            now,
		stopChan:       make(chan struct{}),
		updateRate:     5 * time.Millisecond,
	}
}

// SetEventCallback sets the callback invoked for events produced by the
// engine's own loop (see Start).
func (e *Engine) SetEventCallback(callback func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEvent = callback
}

// SetBPM rounds and clamps value to [MinBPM, MaxBPM] and returns the stored tempo.
func (e *Engine) SetBPM(value float64) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	newBPM := clampBPM(value)
	if e.bpm != newBPM {
		e.bpm = newBPM
		log.Printf("🥁 BPM set to %d", newBPM)
	}
	return e.bpm
}

func clampBPM(value float64) int {
	if math.IsNaN(value) {
		return DefaultBPM
	}
	rounded := math.Round(value)
	if rounded < MinBPM {
		return MinBPM
	}
	if rounded > MaxBPM {
		return MaxBPM
	}
	return int(rounded)
}

// BPM returns the current tempo.
func (e *Engine) BPM() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bpm
}

// TapNow records a tap at the engine's current time.
func (e *Engine) TapNow() int {
	return e.Tap(e.now())
}

// Tap records a tap at time at and returns the resulting tempo.
//
// A gap of more than two seconds since the previous tap starts a new session.
// Taps under 100ms after the previous one are ignored. Once two taps are
// recorded the tempo becomes the average of the consecutive gaps between
// 150ms and 2000ms.
func (e *Engine) Tap(at time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n := len(e.taps); n > 0 {
		gap := at.Sub(e.taps[n-1])
		if gap > tapTimeout {
			e.taps = e.taps[:0]
		} else if gap < tapDebounce {
			return e.bpm
		}
	}

	e.taps = append(e.taps, at)
	if len(e.taps) > maxTapSamples {
		e.taps = append(e.taps[:0], e.taps[len(e.taps)-maxTapSamples:]...)
	}

	if len(e.taps) < 2 {
		return e.bpm
	}

	var total time.Duration
	var count int
	for i := 1; i < len(e.taps); i++ {
		interval := e.taps[i].Sub(e.taps[i-1])
		if interval >= minTapInterval && interval <= maxTapInterval {
			total += interval
			count++
		}
	}
	if count > 0 {
		avgMs := float64(total) / float64(count) / float64(time.Millisecond)
		e.bpm = clampBPM(60000 / avgMs)
	}
	return e.bpm
}

// TapCount returns the number of taps in the current session.
func (e *Engine) TapCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.taps)
}

// ResetTap clears the tap history.
func (e *Engine) ResetTap() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.taps = e.taps[:0]
}

// TogglePlay flips the beat clock between running and stopped.
func (e *Engine) TogglePlay() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPlayingLocked(!e.isPlaying)
	return e.isPlaying
}

// SetPlaying starts or stops the beat clock. Resuming restarts the beat
// period from now rather than catching up on missed beats.
func (e *Engine) SetPlaying(playing bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setPlayingLocked(playing)
}

func (e *Engine) setPlayingLocked(playing bool) {
	if playing && !e.isPlaying {
		e.lastBeatTime = e.now()
	}
	e.isPlaying = playing
}

// IsPlaying reports whether the beat clock is running.
func (e *Engine) IsPlaying() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isPlaying
}

// SetAutoSwitch enables or disables auto-switching and restarts the beat count toward the next switch.
func (e *Engine) SetAutoSwitch(enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoSwitch = enabled
	e.beatsSinceSwitch = 0
	return e.autoSwitch
}

// SetSwitchInterval sets the auto-switch interval. Values other than
// 1, 2, 4, 8 or 16 are ignored. Returns the interval in effect.
func (e *Engine) SetSwitchInterval(beats int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !IsValidInterval(beats) {
		return e.switchInterval
	}
	e.switchInterval = beats
	e.beatsSinceSwitch = 0
	log.Printf("🥁 Switch interval set to %d beats", beats)
	return e.switchInterval
}

// IsValidInterval reports whether beats is an accepted auto-switch interval.
func IsValidInterval(beats int) bool {
	for _, v := range validIntervals {
		if v == beats {
			return true
		}
	}
	return false
}

// BeatInterval returns the length of one beat at the current tempo.
func (e *Engine) BeatInterval() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return beatInterval(e.bpm)
}

func beatInterval(bpm int) time.Duration {
	return time.Duration(float64(time.Minute) / float64(bpm))
}

// Tick advances the beat clock to now. At most one beat advances per call.
// The caller applies the returned events; the event callback is not invoked.
func (e *Engine) Tick(now time.Time) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.isPlaying {
		return nil
	}
	if now.Sub(e.lastBeatTime) < beatInterval(e.bpm) {
		return nil
	}

	e.lastBeatTime = now
	e.beatCount = (e.beatCount + 1) % BeatsPerBar
	e.beatsSinceSwitch++

	events := []Event{{Type: EventBeat, BeatCount: e.beatCount, BPM: e.bpm}}

	if e.autoSwitch && e.beatsSinceSwitch >= e.switchInterval {
		e.beatsSinceSwitch = 0
		target := 0.0
		if e.autoSwitchToB {
			target = 1.0
		}
		e.autoSwitchToB = !e.autoSwitchToB
		events = append(events, Event{Type: EventAutoSwitch, BeatCount: e.beatCount, BPM: e.bpm, Target: target})
	}
	return events
}

// BeatProgress returns how far the clock is into the current beat (0-1).
func (e *Engine) BeatProgress(now time.Time) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.isPlaying {
		return 0
	}
	progress := float64(now.Sub(e.lastBeatTime)) / float64(beatInterval(e.bpm))
	return math.Max(0, math.Min(1, progress))
}

// Start starts the engine's own beat loop, which ticks the clock and hands
// events to the callback. Hosts that already run a render loop call Tick
// directly instead.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopChan = make(chan struct{})
	e.lastBeatTime = e.now()
	e.mu.Unlock()

	go e.beatLoop()
}

// Stop stops the beat loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.running = false
	close(e.stopChan)
}

// IsRunning returns whether the beat loop is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

func (e *Engine) beatLoop() {
	ticker := time.NewTicker(e.updateRate)
	defer ticker.Stop()

	e.mu.RLock()
	stop := e.stopChan
	e.mu.RUnlock()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			events := e.Tick(e.now())
			e.mu.RLock()
			callback := e.onEvent
			e.mu.RUnlock()
			if callback == nil {
				continue
			}
			for _, ev := range events {
				callback(ev)
			}
		}
	}
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return State{
		BPM:            e.bpm,
		IsPlaying:      e.isPlaying,
		BeatCount:      e.beatCount,
		AutoSwitch:     e.autoSwitch,
		SwitchInterval: e.switchInterval,
	}
}
