// Package extraction turns a lead conversation into structured qualification
// attributes using a language model.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"

	"leadflow/models"
	"leadflow/utils"
)

var (
	// ErrMalformedOutput means the model answered but the answer could not be
	// used. Retrying the same conversation will not help.
	ErrMalformedOutput = errors.New("malformed extraction output")
	// ErrUnavailable wraps transport or model failures.
	ErrUnavailable = errors.New("extraction service unavailable")
)

const systemPrompt = "Eres un extractor de datos. Responde SOLO con JSON válido, sin markdown ni explicaciones."

const extractionPrompt = `Analiza la siguiente conversación con un cliente inmobiliario y extrae la información disponible.

Responde SOLO con un JSON válido con estos campos (usa null si no se mencionó):
{
    "operation": "comprar|alquilar|vender|null",
    "property_type": "piso|casa|chalet|ático|dúplex|estudio|local|oficina|terreno|null",
    "zone": "zona mencionada o null",
    "min_budget": número o null,
    "max_budget": número o null,
    "bedrooms": número o null,
    "urgency": "inmediata|1-3 meses|3-6 meses|sin prisa|null",
    "purpose": "primera vivienda|inversión|segunda residencia|null",
    "name": "nombre del cliente o null",
    "interest_level": "bajo|medio|alto|muy alto",
    "wants_visit": true|false,
    "wants_human_agent": true|false,
    "notes": "cualquier otra info relevante"
}

CONVERSACIÓN:
`

// LLMExtractor asks a langchaingo model for the qualification attributes.
type LLMExtractor struct {
	llm     llms.Model
	timeout time.Duration
	logger  logrus.FieldLogger
}

func NewLLMExtractor(llm llms.Model, timeout time.Duration, logger logrus.FieldLogger) *LLMExtractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = utils.Logger("extraction")
	}
	return &LLMExtractor{llm: llm, timeout: timeout, logger: logger}
}

// Extract sends the whole conversation to the model once.
func (e *LLMExtractor) Extract(ctx context.Context, history []models.Message) (*models.Extraction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, extractionPrompt+Transcript(history)),
	}
	resp, err := e.llm.GenerateContent(ctx, content, llms.WithTemperature(0), llms.WithJSONMode())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	out, err := Parse(resp.Choices[0].Content)
	if err != nil {
		e.logger.WithError(err).WithField("raw", truncate(resp.Choices[0].Content, 200)).
			Warn("could not parse extraction")
		return nil, err
	}
	return out, nil
}

// Transcript renders the conversation the way the prompt expects it.
func Transcript(history []models.Message) string {
	var b strings.Builder
	for _, m := range history {
		speaker := "Cliente"
		if m.Role == models.RoleAssistant {
			speaker = "Agente"
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
		b.WriteByte('\n')
	}
	return b.String()
}

// Parse decodes and validates a model answer. Markdown code fences around the
// JSON are tolerated.
func Parse(raw string) (*models.Extraction, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		if i := strings.IndexByte(cleaned, '\n'); i >= 0 {
			cleaned = cleaned[i+1:]
		}
		if i := strings.LastIndex(cleaned, "```"); i >= 0 {
			cleaned = cleaned[:i]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if cleaned == "" || cleaned[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedOutput)
	}

	var out models.Extraction
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	normalize(&out)

	if err := utils.ValidateStruct(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if out.MinBudget != nil && out.MaxBudget != nil && *out.MinBudget > *out.MaxBudget {
		return nil, fmt.Errorf("%w: min_budget above max_budget", ErrMalformedOutput)
	}
	return &out, nil
}

// normalize turns the placeholder values models like to echo back into nil.
func normalize(e *models.Extraction) {
	for _, s := range []**string{&e.Operation, &e.PropertyType, &e.Zone, &e.Urgency, &e.Purpose, &e.Name} {
		*s = clean(*s)
	}
	e.InterestLevel = strings.ToLower(strings.TrimSpace(e.InterestLevel))
	e.Notes = strings.TrimSpace(e.Notes)

	for _, s := range []**string{&e.Operation, &e.PropertyType, &e.Urgency, &e.Purpose} {
		if *s != nil {
			lower := strings.ToLower(**s)
			*s = &lower
		}
	}
}

func clean(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	switch strings.ToLower(v) {
	case "", "null", "none", "n/a", "desconocido":
		return nil
	}
	// the prompt lists options with "|"; an echoed list is not an answer
	if strings.Contains(v, "|") {
		return nil
	}
	return &v
}

// truncate keeps at most n bytes of s without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
