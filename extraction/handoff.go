package extraction

import "strings"

var handoffKeywords = []string{
	"hablar con persona", "hablar con alguien", "hablar con humano",
	"agente real", "persona real", "no un robot", "no un bot",
	"quiero llamar", "llámame", "contacto directo",
	"hablar con un asesor", "asesor humano", "comercial",
	"me urge", "urgente", "cerrar operación", "firmar",
	"oferta", "negociar", "contraoferta",
	"problema", "queja", "reclamación", "insatisfecho",
}

type HandoffReason string

const (
	ReasonNone        HandoffReason = ""
	ReasonComplaint   HandoffReason = "complaint"
	ReasonNegotiation HandoffReason = "negotiation"
	ReasonUrgent      HandoffReason = "urgent"
	ReasonDirect      HandoffReason = "direct_request"
	ReasonOther       HandoffReason = "other"
)

// DetectHandoff reports whether a customer message asks for a human agent.
func DetectHandoff(message string) bool {
	msg := strings.ToLower(message)
	for _, kw := range handoffKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// Reason classifies why a handoff was requested.
func Reason(message string) HandoffReason {
	if !DetectHandoff(message) {
		return ReasonNone
	}
	msg := strings.ToLower(message)
	switch {
	case containsAny(msg, "queja", "reclamación", "problema", "insatisfecho"):
		return ReasonComplaint
	case containsAny(msg, "oferta", "negociar", "contraoferta", "firmar", "cerrar"):
		return ReasonNegotiation
	case containsAny(msg, "urgente", "me urge"):
		return ReasonUrgent
	case containsAny(msg, "persona", "humano", "asesor", "comercial", "robot", "bot"):
		return ReasonDirect
	}
	return ReasonOther
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
