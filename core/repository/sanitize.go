package repository

import (
	"fmt"
	"regexp"
	"strings"

	"orka-vector-api/core/models"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

// CheckIdentifier validates a configured schema, table, column or layer name.
// Identifiers are quoted when used, this check keeps anything that is not a
// single plain token from ever reaching the query layer.
func CheckIdentifier(name string) error {
	if name == "" || strings.Contains(name, "--") || !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %w: identifier %q is not allowed", models.ErrInvalidConfiguration, models.ErrInvalidProperties, name)
	}
	return nil
}

// checkText applies the sanity rules for free string fields
func checkText(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", models.ErrInvalidProperties, field)
	}
	if strings.Contains(value, "--") {
		return fmt.Errorf("%w: %s must not contain \"--\"", models.ErrInvalidProperties, field)
	}
	return nil
}

// CheckLayers validates an optional layer filter. nil means all layers.
func CheckLayers(layers []string) error {
	if layers == nil {
		return nil
	}
	if len(layers) == 0 {
		return fmt.Errorf("%w: layers must not be empty when given", models.ErrInvalidProperties)
	}
	for _, l := range layers {
		if err := CheckIdentifier(l); err != nil {
			return fmt.Errorf("layer: %w", err)
		}
	}
	return nil
}
