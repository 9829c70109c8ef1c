package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	ErrPresetNotFound = errors.New("preset not found")
	ErrInvalidPreset  = errors.New("invalid preset")
)

// DefaultPresetID names the preset used when a session does not pick one.
const DefaultPresetID = "default"

var presetIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Token is a draggable marker on the battle map. Left and Top are pixel
// offsets from the map's top-left corner.
type Token struct {
	ID   int    `json:"id"`
	Src  string `json:"src"`
	Alt  string `json:"alt"`
	Left int    `json:"left"`
	Top  int    `json:"top"`
}

// Preset is a battle map with its starting tokens.
type Preset struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MapImage    string  `json:"map_image"`
	Tokens      []Token `json:"tokens"`
}

// PresetInfo summarises a preset for listings.
type PresetInfo struct {
	Filename    string `json:"filename,omitempty"`
	PresetID    string `json:"preset_id"` // identifier to use for session creation
	Name        string `json:"name"`
	Description string `json:"description"`
	MapImage    string `json:"map_image"`
	Tokens      int    `json:"tokens"`
}

// Manager handles preset loading and caching
type Manager struct {
	configDir string
	presets   map[string]*Preset
	mu        sync.RWMutex
}

// NewManager creates a preset manager backed by configDir, creating the
// directory if needed.
func NewManager(configDir string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	return &Manager{
		configDir: configDir,
		presets:   make(map[string]*Preset),
	}, nil
}

// ValidatePresetID rejects identifiers that are not safe file names.
func ValidatePresetID(id string) error {
	if !presetIDRe.MatchString(id) {
		return fmt.Errorf("%w: id %q must contain only letters, digits, '-' and '_'", ErrInvalidPreset, id)
	}
	return nil
}

// ValidatePreset checks the fields a client needs to render the table.
func ValidatePreset(p *Preset) error {
	if p == nil {
		return fmt.Errorf("%w: preset is nil", ErrInvalidPreset)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPreset)
	}
	if strings.TrimSpace(p.MapImage) == "" {
		return fmt.Errorf("%w: map_image is required", ErrInvalidPreset)
	}

	seen := make(map[int]bool, len(p.Tokens))
	for i, tok := range p.Tokens {
		if seen[tok.ID] {
			return fmt.Errorf("%w: duplicate token id %d", ErrInvalidPreset, tok.ID)
		}
		seen[tok.ID] = true
		if tok.Src == "" {
			return fmt.Errorf("%w: token %d has no src", ErrInvalidPreset, i)
		}
		if tok.Left < 0 || tok.Top < 0 {
			return fmt.Errorf("%w: token %d has a negative position", ErrInvalidPreset, tok.ID)
		}
	}
	return nil
}

// LoadPreset loads a preset by id. The default preset is built in unless a
// default.json file overrides it.
func (m *Manager) LoadPreset(id string) (*Preset, error) {
	id = strings.TrimSuffix(id, ".json")
	if err := ValidatePresetID(id); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if preset, exists := m.presets[id]; exists {
		m.mu.RUnlock()
		return preset, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if preset, exists := m.presets[id]; exists {
		return preset, nil
	}

	data, err := os.ReadFile(filepath.Join(m.configDir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			if id == DefaultPresetID {
				return builtinDefault(), nil
			}
			return nil, ErrPresetNotFound
		}
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}

	var preset Preset
	if err := json.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidPreset, id, err)
	}

	if err := ValidatePreset(&preset); err != nil {
		return nil, err
	}

	m.presets[id] = &preset
	return &preset, nil
}

// ListPresets returns every valid preset in the directory plus the built-in
// default, sorted by id.
func (m *Manager) ListPresets() ([]*PresetInfo, error) {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var presets []*PresetInfo
	hasDefault := false

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		preset, err := m.LoadPreset(id)
		if err != nil {
			// Skip invalid presets
			continue
		}
		if id == DefaultPresetID {
			hasDefault = true
		}

		presets = append(presets, info(id, entry.Name(), preset))
	}

	if !hasDefault {
		presets = append(presets, info(DefaultPresetID, "", builtinDefault()))
	}

	sort.Slice(presets, func(i, j int) bool { return presets[i].PresetID < presets[j].PresetID })
	return presets, nil
}

// GetDefault returns the default preset
func (m *Manager) GetDefault() *Preset {
	preset, err := m.LoadPreset(DefaultPresetID)
	if err != nil {
		return builtinDefault()
	}
	return preset
}

// SavePreset validates and writes a preset to disk
func (m *Manager) SavePreset(id string, preset *Preset) error {
	id = strings.TrimSuffix(id, ".json")
	if err := ValidatePresetID(id); err != nil {
		return err
	}
	if err := ValidatePreset(preset); err != nil {
		return err
	}

	data, err := json.MarshalIndent(preset, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preset: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.configDir, id+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}

	m.mu.Lock()
	m.presets[id] = preset
	m.mu.Unlock()

	return nil
}

// RefreshCache drops cached presets so the next load reads from disk
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presets = make(map[string]*Preset)
}

func info(id, filename string, p *Preset) *PresetInfo {
	return &PresetInfo{
		Filename:    filename,
		PresetID:    id,
		Name:        p.Name,
		Description: p.Description,
		MapImage:    p.MapImage,
		Tokens:      len(p.Tokens),
	}
}

// builtinDefault is the first stock map with the four coloured markers in
// its lower-right corner.
func builtinDefault() *Preset {
	return &Preset{
		Name:        "Default Map",
		Description: "Stock battle map with four player markers",
		MapImage:    "/defaultmap1.png",
		Tokens: []Token{
			{ID: 1, Src: "/redmarker.png", Alt: "Red Marker", Left: 760, Top: 560},
			{ID: 2, Src: "/bluemarker.png", Alt: "Blue Marker", Left: 710, Top: 560},
			{ID: 3, Src: "/greenmarker.png", Alt: "Green Marker", Left: 760, Top: 510},
			{ID: 4, Src: "/yellowmarker.png", Alt: "Yellow Marker", Left: 710, Top: 510},
		},
	}
}
