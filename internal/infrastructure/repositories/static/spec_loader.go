package static

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medea/internal/core/domain"

	"gopkg.in/yaml.v2"
)

// LoadSpecs parses every *.yml and *.yaml file in dir as a room element.
// Files are read in name order; a duplicate room id is an error.
func LoadSpecs(dir string) ([]*domain.RoomSpec, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read static specs dir %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yml", ".yaml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	specs := make([]*domain.RoomSpec, 0, len(names))
	seen := make(map[domain.RoomID]string, len(names))
	for _, name := range names {
		spec, err := LoadSpec(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[spec.ID]; ok {
			return nil, fmt.Errorf("room %q is defined in both %s and %s", spec.ID, prev, name)
		}
		seen[spec.ID] = name
		specs = append(specs, spec)
	}
	return specs, nil
}

// LoadSpec parses one room element file. The room id comes from the file's
// id field.
func LoadSpec(path string) (*domain.RoomSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read room spec %s: %w", path, err)
	}

	var element domain.RoomElement
	if err := yaml.UnmarshalStrict(data, &element); err != nil {
		return nil, fmt.Errorf("parse room spec %s: %w", path, err)
	}
	if element.ID == "" {
		return nil, fmt.Errorf("room spec %s: %w", path, domain.BadSpecf("room id is missing"))
	}

	spec, err := element.ToSpec("")
	if err != nil {
		return nil, fmt.Errorf("room spec %s: %w", path, err)
	}
	return spec, nil
}
