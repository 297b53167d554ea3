// Package lut applies named color-grading presets to images.
package lut

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPreset = errors.New("lut: invalid preset")

// DefaultPresets are the built-in saturation factors.
var DefaultPresets = map[string]float64{
	"cinematic": 1.1,
	"vibrant":   1.2,
	"matte":     0.9,
}

// PresetFile is the YAML layout of a preset override file:
//
//	presets:
//	  cinematic: 1.05
//	  bleach: 0.4
type PresetFile struct {
	Presets map[string]float64 `yaml:"presets"`
}

// Catalog holds the available presets. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	presets map[string]float64
}

// NewCatalog returns a catalog with the built-in presets.
func NewCatalog() *Catalog {
	presets := make(map[string]float64, len(DefaultPresets))
	for k, v := range DefaultPresets {
		presets[k] = v
	}
	return &Catalog{presets: presets}
}

// LoadCatalog returns the built-in presets extended and overridden by the
// YAML file at path. An empty path yields the built-ins.
func LoadCatalog(path string) (*Catalog, error) {
	c := NewCatalog()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("lut: read presets: %w", err)
	}
	if err := c.Merge(data); err != nil {
		return nil, fmt.Errorf("lut: %s: %w", path, err)
	}
	return c, nil
}

// Merge parses a YAML preset document and adds its presets.
func (c *Catalog) Merge(data []byte) error {
	var file PresetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPreset, err)
	}
	for name, factor := range file.Presets {
		if err := c.Set(name, factor); err != nil {
			return err
		}
	}
	return nil
}

// Set adds or replaces a preset. Names are case-insensitive.
func (c *Catalog) Set(name string, factor float64) error {
	key := normalize(name)
	if key == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidPreset)
	}
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return fmt.Errorf("%w: %s factor %v", ErrInvalidPreset, key, factor)
	}
	c.mu.Lock()
	c.presets[key] = factor
	c.mu.Unlock()
	return nil
}

// List returns preset names in sorted order.
func (c *Catalog) List() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.presets))
	for name := range c.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factor returns the preset's factor and whether it exists. Unknown
// presets grade with a neutral factor of 1.
func (c *Catalog) Factor(name string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.presets[normalize(name)]
	if !ok {
		return 1.0, false
	}
	return f, true
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
