package qualification

import (
	"strings"

	"leadflow/models"
)

// MergePreferences applies an extraction on top of the known preferences.
// A non-nil incoming value overwrites; a nil (or blank) one never erases.
func MergePreferences(current, incoming models.Preferences) models.Preferences {
	out := current
	mergeString(&out.Operation, incoming.Operation)
	mergeString(&out.PropertyType, incoming.PropertyType)
	mergeString(&out.Zone, incoming.Zone)
	mergeString(&out.Urgency, incoming.Urgency)
	mergeString(&out.Purpose, incoming.Purpose)
	if incoming.MinBudget != nil {
		v := *incoming.MinBudget
		out.MinBudget = &v
	}
	if incoming.MaxBudget != nil {
		v := *incoming.MaxBudget
		out.MaxBudget = &v
	}
	if incoming.Bedrooms != nil {
		v := *incoming.Bedrooms
		out.Bedrooms = &v
	}
	return out
}

// MergeName follows the same rule for the lead's name.
func MergeName(current, incoming *string) *string {
	out := current
	mergeString(&out, incoming)
	return out
}

func mergeString(dst **string, v *string) {
	if v == nil {
		return
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return
	}
	*dst = &s
}
