package executor

import (
	"context"
	"fmt"
	"log"
	"strings"

	"orka-vector-api/core/models"
)

// LayerSelector resolves a requested layer filter to layer definitions
type LayerSelector interface {
	Select(requested []string) ([]models.LayerDefinition, error)
}

// QueryBuilder builds the per-layer overlap query
type QueryBuilder interface {
	LayerQuery(layer models.LayerDefinition, bbox models.BBox) (string, error)
}

// ArtifactLocator maps a data id to its output file
type ArtifactLocator interface {
	Path(dataID string) (string, error)
}

// PGConnection holds the connection parameters of the spatial data database
type PGConnection struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// ConnInfo renders the parameters as a libpq keyword/value string
func (c PGConnection) ConnInfo() string {
	parts := []string{
		"host=" + quoteConnValue(c.Host),
		"port=" + quoteConnValue(c.Port),
		"dbname=" + quoteConnValue(c.Database),
		"user=" + quoteConnValue(c.User),
		"password=" + quoteConnValue(c.Password),
	}
	return strings.Join(parts, " ")
}

// DataSource renders the OGR PostgreSQL data source string
func (c PGConnection) DataSource() string {
	return "PG:" + c.ConnInfo()
}

// quoteConnValue quotes a libpq keyword value
func quoteConnValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// ExportEngine extracts the layers of one job into a single GeoPackage by
// running ogr2ogr once per layer in append mode
type ExportEngine struct {
	bin       string
	conn      PGConnection
	layers    LayerSelector
	queries   QueryBuilder
	artifacts ArtifactLocator
	runner    CommandRunner
}

// NewExportEngine creates a new export engine
func NewExportEngine(
	bin string,
	conn PGConnection,
	layers LayerSelector,
	queries QueryBuilder,
	artifacts ArtifactLocator,
	runner CommandRunner,
) *ExportEngine {
	if bin == "" {
		bin = "ogr2ogr"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ExportEngine{
		bin:       bin,
		conn:      conn,
		layers:    layers,
		queries:   queries,
		artifacts: artifacts,
		runner:    runner,
	}
}

// Run exports every selected layer for dataID. Cancellation of ctx is only
// observed between layers; a layer that has started runs to completion.
// The first failing layer aborts the export, nothing is retried.
func (e *ExportEngine) Run(ctx context.Context, dataID string, bbox models.BBox, layers []string) error {
	selected, err := e.layers.Select(layers)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return fmt.Errorf("%w: no layers to export", models.ErrInvalidConfiguration)
	}

	output, err := e.artifacts.Path(dataID)
	if err != nil {
		return err
	}

	for i, layer := range selected {
		if ctx.Err() != nil {
			log.Printf("Export %s cancelled after %d of %d layers", dataID, i, len(selected))
			return fmt.Errorf("%w: %d of %d layers done", models.ErrExportCancelled, i, len(selected))
		}

		query, err := e.queries.LayerQuery(layer, bbox)
		if err != nil {
			return err
		}

		args := []string{
			"-f", "GPKG",
			output,
			e.conn.DataSource(),
			"-sql", query,
			"-nln", layer.Name,
			"-append",
		}

		res, err := e.runner.Run(e.bin, args...)
		if err != nil {
			return fmt.Errorf("layer %s: failed to run %s: %w", layer.Name, e.bin, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("layer %s: %s exited with %d: %s", layer.Name, e.bin, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
		if res.Stderr != "" {
			return fmt.Errorf("layer %s: %s reported: %s", layer.Name, e.bin, strings.TrimSpace(res.Stderr))
		}
		log.Printf("Export %s: layer %s done", dataID, layer.Name)
	}

	return nil
}
