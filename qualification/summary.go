package qualification

import (
	"sort"

	"leadflow/models"
	"leadflow/scoring"
)

// MissingField is a qualification attribute still unknown, with the points it
// would add.
type MissingField struct {
	Field  string `json:"field"`
	Prompt string `json:"prompt"`
	Points int    `json:"points"`
}

// Summary is the qualification state shown to human agents.
type Summary struct {
	LeadID       uint               `json:"lead_id"`
	Name         string             `json:"name"`
	Channel      models.Channel     `json:"channel"`
	Status       models.LeadStatus  `json:"status"`
	Score        int                `json:"score"`
	Label        models.Label       `json:"label"`
	NextAction   string             `json:"next_action"`
	Interactions int                `json:"interactions"`
	Preferences  models.Preferences `json:"preferences"`
	Missing      []MissingField     `json:"missing"`
}

// Summarize reports what is known about a lead and what is still worth asking,
// most valuable first.
func Summarize(l *models.Lead) Summary {
	p := l.Preferences
	var missing []MissingField
	add := func(unknown bool, field, prompt string, points int) {
		if unknown {
			missing = append(missing, MissingField{Field: field, Prompt: prompt, Points: points})
		}
	}

	add(blank(p.Zone), "zone", "zona o barrio de interés", 15)
	add(p.MinBudget == nil && p.MaxBudget == nil, "budget", "presupuesto aproximado", 15)
	add(blank(p.Operation), "operation", "si quiere comprar o alquilar", 10)
	add(blank(p.PropertyType), "property_type", "tipo de inmueble (piso, casa, etc.)", 10)
	add(blank(p.Urgency), "urgency", "urgencia / cuándo lo necesita", 10)
	add(blank(l.Name), "name", "nombre del cliente", 5)
	add(p.Bedrooms == nil, "bedrooms", "número de habitaciones", 5)
	add(blank(p.Purpose), "purpose", "finalidad (vivienda habitual, inversión...)", 5)

	sort.SliceStable(missing, func(i, j int) bool { return missing[i].Points > missing[j].Points })

	return Summary{
		LeadID:       l.ID,
		Name:         l.DisplayName(),
		Channel:      l.Channel,
		Status:       l.Status,
		Score:        l.Score,
		Label:        l.Label,
		NextAction:   scoring.NextAction(l.Label),
		Interactions: l.TotalInteractions,
		Preferences:  p,
		Missing:      missing,
	}
}

func blank(s *string) bool {
	return s == nil || *s == ""
}
