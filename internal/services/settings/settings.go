// Package settings saves and restores the mixer between runs: tempo,
// crossfade, effects and the active bank of each channel are stored as one
// JSON setting, and bank contents as one row per assigned bank.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"gorm.io/gorm"

	"github.com/bbernstein/vizmix-go/internal/database/models"
	"github.com/bbernstein/vizmix-go/internal/database/repositories"
	"github.com/bbernstein/vizmix-go/internal/services/media"
)

const (
	// Key is the setting the snapshot is stored under.
	Key = "vizmix-settings"
	// Version is written into every saved snapshot.
	Version = "0.3.0"
)

// AutoSwitch is the persisted auto-switch configuration.
type AutoSwitch struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"`
}

// Bank is a persisted bank assignment.
type Bank struct {
	Index   int        `json:"index"`
	Kind    media.Kind `json:"kind"`
	Locator string     `json:"locator"`
	Name    string     `json:"name,omitempty"`
}

// Snapshot is the saved mixer state. Crossfade is a percentage (0 is all A).
// ActiveBanks holds each channel's active bank index, -1 when none.
type Snapshot struct {
	Version     string             `json:"version"`
	BPM         int                `json:"bpm"`
	Crossfade   float64            `json:"crossfade"`
	Dimmers     map[string]float64 `json:"dimmers,omitempty"`
	AutoSwitch  AutoSwitch         `json:"autoSwitch"`
	Effects     map[string]any     `json:"effects,omitempty"`
	ActiveBanks map[string]int     `json:"activeBanks"`
	Banks       map[string][]Bank  `json:"banks,omitempty"`
}

// Defaults returns the snapshot used for missing fields.
func Defaults() Snapshot {
	return Snapshot{
		Version:     Version,
		BPM:         120,
		Crossfade:   50,
		AutoSwitch:  AutoSwitch{Enabled: false, Interval: 4},
		ActiveBanks: map[string]int{media.ChannelA: -1, media.ChannelB: -1},
	}
}

// Mixer is the part of the mixer engine settings are read from and
// applied to.
type Mixer interface {
	Export() map[string]any
	Import(data map[string]any)
	ChannelSnapshot(channel string) (media.Snapshot, error)
	ReplaceBank(channel string, index int, kind media.Kind, locator, name string) error
	SwitchBank(channel string, index int) error
}

// Service persists mixer settings.
type Service struct {
	db    *gorm.DB
	mixer Mixer
}

// NewService creates a settings service.
func NewService(db *gorm.DB, mixer Mixer) *Service {
	return &Service{db: db, mixer: mixer}
}

// Capture reads the current mixer state without storing it.
func (s *Service) Capture() (*Snapshot, error) {
	exported := s.mixer.Export()
	snap := Defaults()

	if tempo, ok := exported["bpm"].(map[string]any); ok {
		if v, ok := toFloat(tempo["bpm"]); ok {
			snap.BPM = int(math.Round(v))
		}
		if v, ok := tempo["autoSwitch"].(bool); ok {
			snap.AutoSwitch.Enabled = v
		}
		if v, ok := toFloat(tempo["switchInterval"]); ok {
			snap.AutoSwitch.Interval = int(math.Round(v))
		}
	}
	if v, ok := toFloat(exported["crossfade"]); ok {
		snap.Crossfade = v * 100
	}
	if dimmers, ok := exported["dimmers"].(map[string]any); ok {
		snap.Dimmers = make(map[string]float64, len(dimmers))
		for name, raw := range dimmers {
			if v, ok := toFloat(raw); ok {
				snap.Dimmers[name] = v
			}
		}
	}
	if fx, ok := exported["effects"].(map[string]any); ok {
		snap.Effects = fx
	}

	snap.Banks = make(map[string][]Bank, len(media.ChannelNames))
	for _, ch := range media.ChannelNames {
		cs, err := s.mixer.ChannelSnapshot(ch)
		if err != nil {
			return nil, err
		}
		snap.ActiveBanks[ch] = cs.ActiveIndex
		banks := []Bank{}
		for i, slot := range cs.Banks {
			if slot.Empty() {
				continue
			}
			banks = append(banks, Bank{Index: i, Kind: slot.Kind, Locator: slot.Locator, Name: slot.Name})
		}
		snap.Banks[ch] = banks
	}
	return &snap, nil
}

// Save stores the current mixer state.
func (s *Service) Save(ctx context.Context) (*Snapshot, error) {
	snap, err := s.Capture()
	if err != nil {
		return nil, err
	}

	stored := *snap
	stored.Banks = nil

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repositories.NewSettingRepository(tx).SaveJSON(ctx, Key, stored); err != nil {
			return err
		}
		banks := repositories.NewBankRepository(tx)
		for _, ch := range media.ChannelNames {
			rows := make([]models.BankAssignment, 0, len(snap.Banks[ch]))
			for _, b := range snap.Banks[ch] {
				rows = append(rows, models.BankAssignment{
					BankIndex: b.Index,
					Kind:      string(b.Kind),
					Locator:   b.Locator,
					Name:      b.Name,
				})
			}
			if err := banks.ReplaceChannel(ctx, ch, rows); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	log.Printf("💾 Settings saved (BPM %d, %d+%d banks)", snap.BPM, len(snap.Banks[media.ChannelA]), len(snap.Banks[media.ChannelB]))
	return snap, nil
}

// Load returns the stored snapshot merged over Defaults, or nil if nothing
// has been saved.
func (s *Service) Load(ctx context.Context) (*Snapshot, error) {
	snap := Defaults()
	found, err := repositories.NewSettingRepository(s.db).LoadJSON(ctx, Key, &snap)
	if err != nil || !found {
		return nil, err
	}

	repo := repositories.NewBankRepository(s.db)
	snap.Banks = make(map[string][]Bank, len(media.ChannelNames))
	for _, ch := range media.ChannelNames {
		rows, err := repo.FindByChannel(ctx, ch)
		if err != nil {
			return nil, err
		}
		banks := make([]Bank, 0, len(rows))
		for _, row := range rows {
			banks = append(banks, Bank{Index: row.BankIndex, Kind: media.Kind(row.Kind), Locator: row.Locator, Name: row.Name})
		}
		snap.Banks[ch] = banks
	}
	return &snap, nil
}

// Restore applies the stored snapshot to the mixer. It reports false when
// nothing was stored. Banks that cannot be assigned or activated are
// skipped and their errors returned joined.
func (s *Service) Restore(ctx context.Context) (bool, error) {
	snap, err := s.Load(ctx)
	if err != nil || snap == nil {
		return false, err
	}

	s.mixer.Import(snap.record())

	var errs []error
	for _, ch := range media.ChannelNames {
		for _, b := range snap.Banks[ch] {
			kind, err := media.ParseKind(string(b.Kind))
			if err != nil {
				errs = append(errs, fmt.Errorf("bank %s%d: %w", ch, b.Index+1, err))
				continue
			}
			if err := s.mixer.ReplaceBank(ch, b.Index, kind, b.Locator, b.Name); err != nil {
				errs = append(errs, err)
			}
		}
		if idx, ok := snap.ActiveBanks[ch]; ok && idx >= 0 {
			if err := s.mixer.SwitchBank(ch, idx); err != nil {
				errs = append(errs, err)
			}
		}
	}

	log.Printf("💾 Settings restored (version %s, BPM %d)", snap.Version, snap.BPM)
	return true, errors.Join(errs...)
}

// Clear removes the stored snapshot and every bank assignment.
func (s *Service) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repositories.NewSettingRepository(tx).Delete(ctx, Key); err != nil {
			return err
		}
		return repositories.NewBankRepository(tx).DeleteAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to clear settings: %w", err)
	}
	log.Printf("Settings cleared")
	return nil
}

// record converts the snapshot to the mixer's import format.
func (snap Snapshot) record() map[string]any {
	data := map[string]any{
		"bpm": map[string]any{
			"bpm":            snap.BPM,
			"autoSwitch":     snap.AutoSwitch.Enabled,
			"switchInterval": snap.AutoSwitch.Interval,
		},
		"crossfade": snap.Crossfade / 100,
	}
	if len(snap.Effects) > 0 {
		data["effects"] = snap.Effects
	}
	if len(snap.Dimmers) > 0 {
		dimmers := make(map[string]any, len(snap.Dimmers))
		for name, v := range snap.Dimmers {
			dimmers[name] = v
		}
		data["dimmers"] = dimmers
	}
	return data
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
