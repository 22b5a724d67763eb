package scheduler

import (
	"context"
	"fmt"

	"orka-vector-api/core/models"
)

// AreaCalculator measures a request bbox in square kilometres
type AreaCalculator interface {
	AreaOf(ctx context.Context, bbox models.BBox) (float64, error)
}

// BBoxValidator enforces the maximum request area
type BBoxValidator struct {
	areas AreaCalculator
}

// NewBBoxValidator creates a new bbox validator
func NewBBoxValidator(areas AreaCalculator) *BBoxValidator {
	return &BBoxValidator{areas: areas}
}

// AreaAllowed reports whether bbox is at most maxAreaKm2. A ceiling <= 0
// disables the check.
func (v *BBoxValidator) AreaAllowed(ctx context.Context, bbox models.BBox, maxAreaKm2 float64) (bool, error) {
	if maxAreaKm2 <= 0 {
		return true, nil
	}
	area, err := v.areas.AreaOf(ctx, bbox)
	if err != nil {
		return false, fmt.Errorf("measure bbox: %w", err)
	}
	return area <= maxAreaKm2, nil
}
