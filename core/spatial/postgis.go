package spatial

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"orka-vector-api/core/models"
	"orka-vector-api/core/repository"

	"github.com/lib/pq"
)

// RequestSRID is the reference system every request bbox is given in
const RequestSRID = 4326

// Querier is the part of *sql.DB the backend needs
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostGIS handles area and overlap queries against a PostGIS database
type PostGIS struct {
	db       Querier
	areaSRID int
}

// NewPostGIS creates a spatial backend. Areas are measured after
// reprojecting into areaSRID, which must use metres.
func NewPostGIS(db Querier, areaSRID int) *PostGIS {
	return &PostGIS{db: db, areaSRID: areaSRID}
}

// AreaOf returns the area of bbox in square kilometres
func (p *PostGIS) AreaOf(ctx context.Context, bbox models.BBox) (float64, error) {
	if err := bbox.Validate(); err != nil {
		return 0, err
	}
	if p.areaSRID <= 0 {
		return 0, fmt.Errorf("%w: area srid %d", models.ErrInvalidConfiguration, p.areaSRID)
	}

	var km2 float64
	err := p.db.QueryRowContext(ctx,
		`SELECT ST_Area(ST_Transform(ST_MakeEnvelope($1, $2, $3, $4, $5), $6)) / 1000000.0`,
		bbox.MinX(), bbox.MinY(), bbox.MaxX(), bbox.MaxY(), RequestSRID, p.areaSRID,
	).Scan(&km2)
	if err != nil {
		return 0, fmt.Errorf("bbox area: %w", err)
	}
	return km2, nil
}

// LayerQuery builds the per-layer select handed to the export tool. It keeps
// every geometry whose bounding box overlaps the request bbox, so features
// only partly inside the area are exported too.
func (p *PostGIS) LayerQuery(layer models.LayerDefinition, bbox models.BBox) (string, error) {
	return LayerQuery(layer, bbox)
}

// LayerQuery is the stateless form of PostGIS.LayerQuery
func LayerQuery(layer models.LayerDefinition, bbox models.BBox) (string, error) {
	if err := bbox.Validate(); err != nil {
		return "", err
	}
	for _, ident := range append([]string{layer.Schema, layer.Table, layer.GeometryColumn}, layer.Columns...) {
		if err := repository.CheckIdentifier(ident); err != nil {
			return "", fmt.Errorf("layer %q: %w", layer.Name, err)
		}
	}
	if layer.SRID <= 0 {
		return "", fmt.Errorf("%w: layer %q needs a positive srid", models.ErrInvalidConfiguration, layer.Name)
	}

	cols := "*"
	if len(layer.Columns) > 0 {
		quoted := make([]string, 0, len(layer.Columns)+1)
		for _, c := range layer.Columns {
			quoted = append(quoted, pq.QuoteIdentifier(c))
		}
		if !contains(layer.Columns, layer.GeometryColumn) {
			quoted = append(quoted, pq.QuoteIdentifier(layer.GeometryColumn))
		}
		cols = strings.Join(quoted, ", ")
	}

	// ogr2ogr takes plain SQL, so the bbox goes in as formatted float literals
	envelope := fmt.Sprintf("ST_Transform(ST_MakeEnvelope(%s, %s, %s, %s, %d), %d)",
		formatCoord(bbox.MinX()),
		formatCoord(bbox.MinY()),
		formatCoord(bbox.MaxX()),
		formatCoord(bbox.MaxY()),
		RequestSRID,
		layer.SRID,
	)

	return fmt.Sprintf("SELECT %s FROM %s.%s WHERE %s && %s",
		cols,
		pq.QuoteIdentifier(layer.Schema),
		pq.QuoteIdentifier(layer.Table),
		pq.QuoteIdentifier(layer.GeometryColumn),
		envelope,
	), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
