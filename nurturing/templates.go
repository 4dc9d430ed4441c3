package nurturing

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"leadflow/dispatch"
	"leadflow/models"
)

const (
	TemplateFirstFollowup = "first_followup"
	TemplateWarmNudge     = "warm_nudge"
	TemplateHotLead       = "hot_lead"
	TemplateReactivation  = "reactivation"
	TemplateNewProperty   = "new_property"
)

const firstFollowupText = `{{.Greeting}} 😊

Soy {{.Agent}} de {{.Company}}. Ayer estuvimos hablando y quería saber si encontraste lo que buscabas o si puedo ayudarte con algo más.
{{if or .Zone .PropertyType}}
Recuerdo que buscabas {{or .PropertyType "algo"}}{{with .Zone}} en {{.}}{{end}}.{{end}}
Tengo algunas opciones que podrían interesarte. ¿Seguimos? 🏠`

const warmNudgeText = `{{.Greeting}}

🏠 Han llegado nuevas propiedades que coinciden con lo que buscas{{with .Zone}} en {{.}}{{end}}{{with .PropertyType}} ({{.}}){{end}}.

¿Te gustaría que te envíe los detalles? Solo responde "sí" y te mando toda la info. 😊

— {{.Agent}}, {{.Company}}`

const hotLeadText = `{{.Greeting}}

¡Quería avisarte! Hay mucho interés en las propiedades que viste{{with .Zone}} en {{.}}{{end}}. Si quieres que te reserve una visita antes de que se vayan, ¡dime y lo agendamos! 🔥

— {{.Agent}}, {{.Company}}`

const reactivationText = `{{.Greeting}}

Hace tiempo que no hablamos y quería escribirte. ¿Sigues buscando {{or .PropertyType "propiedad"}}{{with .Zone}} en {{.}}{{end}}?

Tenemos novedades interesantes en nuestro catálogo. Si quieres, puedo enviarte las últimas opciones.

¡Estamos aquí para ayudarte!

Un saludo,
{{.Agent}}
{{.Company}}`

const newPropertyText = `🏠 ¡{{or .Name "Hola"}}! Nueva propiedad que encaja con tu búsqueda:

*{{.Property.Title}}*
💰 {{price .Property.Price}}€
📍 {{.Property.Zone}}
📐 {{.Property.Sqm}} m²

¿Quieres más detalles o agendar una visita?`

var templateTexts = map[string]string{
	TemplateFirstFollowup: firstFollowupText,
	TemplateWarmNudge:     warmNudgeText,
	TemplateHotLead:       hotLeadText,
	TemplateReactivation:  reactivationText,
	TemplateNewProperty:   newPropertyText,
}

var subjects = map[string]string{
	TemplateFirstFollowup: "¿Encontraste lo que buscabas? — %s",
	TemplateWarmNudge:     "🏠 Nuevas opciones para ti — %s",
	TemplateHotLead:       "¡No te pierdas esta oportunidad! — %s",
	TemplateReactivation:  "Te echamos de menos — %s",
	TemplateNewProperty:   "Nueva propiedad para ti — %s",
}

// HasTemplate reports whether id names a built-in template.
func HasTemplate(id string) bool {
	_, ok := templateTexts[id]
	return ok
}

var funcs = template.FuncMap{
	"price": formatPrice,
}

// formatPrice renders 325000 as 325.000.
func formatPrice(v float64) string {
	digits := fmt.Sprintf("%.0f", v)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return b.String()
}

type templateData struct {
	Greeting     string
	Name         string
	Zone         string
	PropertyType string
	Agent        string
	Company      string
	Property     *models.Property
}

// Renderer turns a template id and a lead into an outbound message.
type Renderer struct {
	agent     string
	company   string
	templates map[string]*template.Template
}

func NewRenderer(agentName, companyName string) *Renderer {
	r := &Renderer{
		agent:     agentName,
		company:   companyName,
		templates: make(map[string]*template.Template, len(templateTexts)),
	}
	for id, text := range templateTexts {
		r.templates[id] = template.Must(template.New(id).Funcs(funcs).Parse(text))
	}
	return r
}

// Render builds the message for lead. Property is only used by the
// new_property template.
func (r *Renderer) Render(id string, lead *models.Lead, property *models.Property) (dispatch.Message, error) {
	tmpl, ok := r.templates[id]
	if !ok {
		return dispatch.Message{}, fmt.Errorf("unknown template %q", id)
	}
	if id == TemplateNewProperty && property == nil {
		return dispatch.Message{}, fmt.Errorf("template %q needs a property", id)
	}

	data := templateData{
		Greeting: "¡Hola!",
		Agent:    r.agent,
		Company:  r.company,
		Property: property,
	}
	if lead.Name != nil && strings.TrimSpace(*lead.Name) != "" {
		data.Name = strings.TrimSpace(*lead.Name)
		data.Greeting = fmt.Sprintf("¡Hola %s!", data.Name)
	}
	if lead.Preferences.Zone != nil {
		data.Zone = *lead.Preferences.Zone
	}
	if lead.Preferences.PropertyType != nil {
		data.PropertyType = *lead.Preferences.PropertyType
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return dispatch.Message{}, fmt.Errorf("render %s: %w", id, err)
	}
	return dispatch.Message{
		Subject:  fmt.Sprintf(subjects[id], r.company),
		Body:     buf.String(),
		Template: id,
	}, nil
}
