package models

// LayerDefinition describes one exportable source table
type LayerDefinition struct {
	Name           string   `yaml:"name"`
	Schema         string   `yaml:"schema"`
	Table          string   `yaml:"table"`
	GeometryColumn string   `yaml:"geometry_column"`
	SRID           int      `yaml:"srid"`
	Columns        []string `yaml:"columns,omitempty"` // empty selects every column
}
