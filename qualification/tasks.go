package qualification

import (
	"fmt"
	"strings"

	"leadflow/extraction"
	"leadflow/models"
)

func orNA(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

func budget(p models.Preferences) string {
	if p.MaxBudget != nil {
		return fmt.Sprintf("%.0f€", *p.MaxBudget)
	}
	if p.MinBudget != nil {
		return fmt.Sprintf("desde %.0f€", *p.MinBudget)
	}
	return "N/A"
}

func hotLeadDescription(l *models.Lead) string {
	p := l.Preferences
	return strings.TrimSpace(fmt.Sprintf(
		"Lead caliente: %s. Score: %d/100. Busca: %s %s en %s. Presupuesto: %s",
		l.DisplayName(), l.Score, orNA(p.Operation), orNA(p.PropertyType), orNA(p.Zone), budget(p),
	))
}

func followUpDescription(l *models.Lead) string {
	return fmt.Sprintf("Seguimiento de %s (score %d/100, %s). Enviar propuestas que encajen.",
		l.DisplayName(), l.Score, l.Label)
}

func handoffDescription(l *models.Lead, reason extraction.HandoffReason) string {
	return fmt.Sprintf("El cliente %s ha solicitado hablar con un agente humano (%s). Canal: %s. Contactar lo antes posible.",
		l.DisplayName(), reason, l.Channel)
}
