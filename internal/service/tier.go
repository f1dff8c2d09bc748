package service

import (
	"strings"

	"donation-platform/internal/model"
)

// ResolveTier maps a processor product name onto a tier. It never fails:
// anything unrecognized is a monthly plan.
func ResolveTier(productName string) model.Tier {
	name := strings.ToLower(productName)
	switch {
	case strings.Contains(name, "annual"):
		return model.TierAnnual
	case strings.Contains(name, "lifetime"):
		return model.TierLifetime
	default:
		return model.TierMonthly
	}
}
