package service

import (
	"fmt"

	"github.com/berfenger/shelly2mqtt/internal/core/domain"
)

// FormatText renders a published value for humans: energy with two
// decimals, everything else with one, followed by the unit.
func FormatText(value float64, unit domain.Unit) string {
	if value == 0 {
		// avoid "-0.0W"
		value = 0
	}
	switch unit {
	case domain.UNIT_KILOWATTHOUR:
		return fmt.Sprintf("%.2f%s", value, unit)
	case domain.UNIT_AMPERE, domain.UNIT_VOLT, domain.UNIT_WATT:
		return fmt.Sprintf("%.1f%s", value, unit)
	default:
		return fmt.Sprintf("%g", value)
	}
}
