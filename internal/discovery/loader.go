package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var profileExtensions = []string{"", ".json", ".yaml", ".yml"}

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load resolves a profile by name or path in the search paths. The extension
// may be omitted; JSON is tried before YAML.
func (l *ProfileLoader) Load(profilePath string) (*Profile, error) {
	// Cache-Check
	if cached, ok := l.cache.Load(profilePath); ok {
		return cached.(*Profile), nil
	}

	data, foundPath, err := l.find(profilePath)
	if err != nil {
		return nil, err
	}

	profile, err := l.Parse(data, filepath.Ext(foundPath))
	if err != nil {
		return nil, fmt.Errorf("invalid profile %s: %w", foundPath, err)
	}

	l.cache.Store(profilePath, profile)

	return profile, nil
}

func (l *ProfileLoader) find(profilePath string) ([]byte, string, error) {
	candidates := []string{profilePath}
	if !filepath.IsAbs(profilePath) {
		candidates = candidates[:0]
		for _, searchPath := range l.searchPaths {
			candidates = append(candidates, filepath.Join(searchPath, profilePath))
		}
	}

	for _, base := range candidates {
		for _, ext := range profileExtensions {
			fullPath := base + ext
			info, err := os.Stat(fullPath)
			if err != nil || info.IsDir() {
				continue
			}
			data, err := os.ReadFile(fullPath)
			if err != nil {
				return nil, "", fmt.Errorf("failed to read profile %s: %w", fullPath, err)
			}
			return data, fullPath, nil
		}
	}

	return nil, "", fmt.Errorf("profile not found: %s (searched in: %v)", profilePath, l.searchPaths)
}

// Parse decodes and validates profile data. YAML (ext ".yaml" / ".yml") is
// converted to JSON before validation.
func (l *ProfileLoader) Parse(data []byte, ext string) (*Profile, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if err := profile.buildIndex(); err != nil {
		return nil, err
	}

	return &profile, nil
}

// List returns the names of the profiles in the search paths, without
// extension. Names found in several paths are listed once.
func (l *ProfileLoader) List() ([]string, error) {
	seen := make(map[string]bool)
	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read %s: %w", searchPath, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			switch strings.ToLower(ext) {
			case ".json", ".yaml", ".yml":
				seen[strings.TrimSuffix(entry.Name(), ext)] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML profile: %w", err)
	}
	return out, nil
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
