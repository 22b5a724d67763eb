package layers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"orka-vector-api/core/models"
	"orka-vector-api/core/repository"

	"gopkg.in/yaml.v3"
)

const defaultGeometryColumn = "geom"

// LayerFile represents one YAML layer definition file
type LayerFile struct {
	Layers []models.LayerDefinition `yaml:"layers"`
}

// Registry holds the configured layer definitions in load order
type Registry struct {
	layers []models.LayerDefinition
	byName map[string]int
}

// NewRegistry builds a registry from already parsed definitions
func NewRegistry(defs []models.LayerDefinition) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(defs))}
	for _, def := range defs {
		if def.GeometryColumn == "" {
			def.GeometryColumn = defaultGeometryColumn
		}
		if err := validateDefinition(def); err != nil {
			return nil, err
		}
		if _, dup := r.byName[def.Name]; dup {
			return nil, fmt.Errorf("%w: layer %q defined twice", models.ErrInvalidConfiguration, def.Name)
		}
		r.byName[def.Name] = len(r.layers)
		r.layers = append(r.layers, def)
	}
	return r, nil
}

// ParseLayerFile parses a YAML layer file
func ParseLayerFile(data []byte) ([]models.LayerDefinition, error) {
	var file LayerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return file.Layers, nil
}

// Load reads every *.yml / *.yaml file in dir. Files are read in directory
// listing order and layers keep the order they appear in.
func Load(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read layer dir: %w", err)
	}

	var defs []models.LayerDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		parsed, err := ParseLayerFile(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", entry.Name(), err)
		}
		defs = append(defs, parsed...)
	}

	return NewRegistry(defs)
}

// All returns every configured layer
func (r *Registry) All() []models.LayerDefinition {
	out := make([]models.LayerDefinition, len(r.layers))
	copy(out, r.layers)
	return out
}

// Lookup finds a layer by name
func (r *Registry) Lookup(name string) (models.LayerDefinition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return models.LayerDefinition{}, false
	}
	return r.layers[i], true
}

// Select returns the configured layers that the requested filter names, in
// registry order. A nil filter selects all layers.
func (r *Registry) Select(requested []string) ([]models.LayerDefinition, error) {
	if requested == nil {
		return r.All(), nil
	}

	wanted := make(map[string]bool, len(requested))
	for _, name := range requested {
		if _, ok := r.byName[name]; !ok {
			return nil, fmt.Errorf("%w: unknown layer %q", models.ErrInvalidProperties, name)
		}
		wanted[name] = true
	}

	var out []models.LayerDefinition
	for _, def := range r.layers {
		if wanted[def.Name] {
			out = append(out, def)
		}
	}
	return out, nil
}

func validateDefinition(def models.LayerDefinition) error {
	for field, value := range map[string]string{
		"name":            def.Name,
		"schema":          def.Schema,
		"table":           def.Table,
		"geometry_column": def.GeometryColumn,
	} {
		if err := repository.CheckIdentifier(value); err != nil {
			return fmt.Errorf("layer %q %s: %w", def.Name, field, err)
		}
	}
	for _, col := range def.Columns {
		if err := repository.CheckIdentifier(col); err != nil {
			return fmt.Errorf("layer %q column: %w", def.Name, err)
		}
	}
	if def.SRID <= 0 {
		return fmt.Errorf("%w: layer %q needs a positive srid", models.ErrInvalidConfiguration, def.Name)
	}
	return nil
}
