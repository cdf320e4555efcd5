package media

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Channel names.
const (
	ChannelA = "A"
	ChannelB = "B"
)

// ChannelNames lists the channels in compositing order.
var ChannelNames = []string{ChannelA, ChannelB}

// ShaderInfo describes a shader bank for resynchronizing output surfaces.
type ShaderInfo struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

// Manager owns the two channels.
type Manager struct {
	channels map[string]*Channel
}

// NewManager creates channels A and B sharing deps.
func NewManager(deps Dependencies) *Manager {
	m := &Manager{channels: make(map[string]*Channel, len(ChannelNames))}
	for _, name := range ChannelNames {
		m.channels[name] = NewChannel(name, deps)
	}
	return m
}

// Channel returns a channel by name (case-insensitive).
func (m *Manager) Channel(name string) (*Channel, error) {
	ch, ok := m.channels[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
	}
	return ch, nil
}

// A returns channel A.
func (m *Manager) A() *Channel { return m.channels[ChannelA] }

// B returns channel B.
func (m *Manager) B() *Channel { return m.channels[ChannelB] }

// clipExtensions are the file types SeedBanks assigns.
var clipExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
}

// SeedBanks assigns the clips in dir, sorted by file name, to empty video
// banks: the first NumBanks go to A and the next NumBanks to B. Banks that
// already hold content keep it. Returns the number of banks assigned.
func (m *Manager) SeedBanks(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read default banks: %w", err)
	}

	var clips []string
	for _, e := range entries {
		if !e.IsDir() && clipExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			clips = append(clips, filepath.Join(dir, e.Name()))
		}
	}

	seeded := 0
	for i, clip := range clips {
		if i >= NumBanks*len(ChannelNames) {
			break
		}
		ch := m.channels[ChannelNames[i/NumBanks]]
		index := i % NumBanks
		if slot, _ := ch.Bank(index); !slot.Empty() {
			continue
		}
		if err := ch.ReplaceBankContent(index, KindVideo, clip, ""); err != nil {
			return seeded, err
		}
		seeded++
	}
	log.Printf("📼 Seeded %d default banks from %s", seeded, dir)
	return seeded, nil
}

// LoadDefaults activates bank 1 on A and bank 2 on B. Empty banks are
// skipped; resource errors are returned joined.
func (m *Manager) LoadDefaults() error {
	var errs []error
	for i, name := range ChannelNames {
		err := m.channels[name].SwitchBank(i)
		if err != nil && !errors.Is(err, ErrEmptyBank) {
			errs = append(errs, err)
		}
	}
	log.Printf("Media channels initialized (independent banks per channel)")
	return errors.Join(errs...)
}

// Shaders lists every shader bank per channel.
func (m *Manager) Shaders() map[string][]ShaderInfo {
	result := make(map[string][]ShaderInfo, len(ChannelNames))
	for _, name := range ChannelNames {
		infos := []ShaderInfo{}
		for i, slot := range m.channels[name].Banks() {
			if slot.Kind == KindShader && slot.Locator != "" {
				infos = append(infos, ShaderInfo{Index: i, Code: slot.Locator, Name: slot.Name, Version: slot.ShaderVersion})
			}
		}
		result[name] = infos
	}
	return result
}

// Snapshots returns the status of both channels.
func (m *Manager) Snapshots() map[string]Snapshot {
	result := make(map[string]Snapshot, len(ChannelNames))
	for _, name := range ChannelNames {
		result[name] = m.channels[name].Snapshot()
	}
	return result
}

// Close releases both channels.
func (m *Manager) Close() {
	for _, name := range ChannelNames {
		m.channels[name].Close()
	}
}
