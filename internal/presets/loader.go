// Package presets loads named bundles of default section settings from YAML
package presets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/assessment-composer/internal/models"
)

// Loader manages loading and caching of section presets
type Loader struct {
	mu      sync.RWMutex
	presets map[string]*models.SectionPreset
}

// NewLoader creates a new preset loader
func NewLoader() *Loader {
	return &Loader{
		presets: make(map[string]*models.SectionPreset),
	}
}

// LoadFromDir loads all YAML presets from dir and its immediate subdirectories.
// Invalid files are logged and skipped.
func (l *Loader) LoadFromDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("presets directory: %w", err)
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		for _, glob := range []string{filepath.Join(dir, pattern), filepath.Join(dir, "*", pattern)} {
			matches, err := filepath.Glob(glob)
			if err != nil {
				continue
			}
			files = append(files, matches...)
		}
	}
	sort.Strings(files)

	loaded := 0
	for _, file := range files {
		if err := l.LoadFromFile(file); err != nil {
			slog.Warn("failed to load preset", "file", file, "error", err)
			continue
		}
		loaded++
	}

	slog.Info("section presets loaded", "dir", dir, "count", loaded, "total_files", len(files))
	return nil
}

// LoadFromFile loads a single preset from a YAML file
func (l *Loader) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var pf presetFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	preset, err := pf.toPreset()
	if err != nil {
		return err
	}

	l.Add(preset)
	slog.Debug("preset loaded", "name", preset.Name, "file", path)
	return nil
}

// Get retrieves a preset by name
func (l *Loader) Get(name string) *models.SectionPreset {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.presets[name]
}

// List returns all loaded presets sorted by name
func (l *Loader) List() []*models.SectionPreset {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*models.SectionPreset, 0, len(l.presets))
	for _, p := range l.presets {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Add programmatically adds a preset, replacing one with the same name
func (l *Loader) Add(preset *models.SectionPreset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.presets[preset.Name] = preset
}

// Remove removes a preset by name
func (l *Loader) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.presets, name)
}

// presetFile represents the YAML structure of a preset file
type presetFile struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description"`
	BreakTime      string   `yaml:"break_time"`
	Cutoff         float64  `yaml:"cutoff"`
	Proctoring     []string `yaml:"proctoring"`
	PoolingEnabled bool     `yaml:"pooling_enabled"`
}

func (pf presetFile) toPreset() (*models.SectionPreset, error) {
	name := strings.TrimSpace(pf.Name)
	if name == "" {
		return nil, fmt.Errorf("preset name is required")
	}
	if pf.Cutoff < 0 || pf.Cutoff > 100 {
		return nil, fmt.Errorf("preset %s: cutoff must be between 0 and 100", name)
	}

	var breakTime models.Duration
	if pf.BreakTime != "" {
		d, err := time.ParseDuration(pf.BreakTime)
		if err != nil {
			return nil, fmt.Errorf("preset %s: invalid break_time: %w", name, err)
		}
		if d < 0 || d%time.Minute != 0 {
			return nil, fmt.Errorf("preset %s: break_time must be a non-negative whole number of minutes", name)
		}
		breakTime = models.DurationFromMinutes(int(d / time.Minute))
	}

	proctoring := make(map[string]bool, len(pf.Proctoring))
	for _, flag := range pf.Proctoring {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			return nil, fmt.Errorf("preset %s: empty proctoring flag", name)
		}
		proctoring[flag] = true
	}

	return &models.SectionPreset{
		Name:           name,
		Description:    pf.Description,
		BreakTime:      breakTime,
		Cutoff:         pf.Cutoff,
		Proctoring:     proctoring,
		PoolingEnabled: pf.PoolingEnabled,
	}, nil
}
