// Package nurturing runs the scheduled follow-up engine: an ordered rule table
// evaluated against every active lead, and the new-inventory trigger.
package nurturing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"leadflow/models"
)

// Duration accepts Go durations plus a day suffix ("7d") in rule files.
type Duration time.Duration

func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return Duration(time.Duration(days) * 24 * time.Hour), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string {
	td := time.Duration(d)
	if td > 0 && td%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", td/(24*time.Hour))
	}
	return td.String()
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Predicate is the state condition of a rule. Unset bounds do not constrain.
type Predicate struct {
	MinScore        *int           `yaml:"min_score,omitempty" json:"min_score,omitempty"`
	MaxScore        *int           `yaml:"max_score,omitempty" json:"max_score,omitempty"`
	MaxInteractions *int           `yaml:"max_interactions,omitempty" json:"max_interactions,omitempty"`
	MinSinceContact Duration       `yaml:"min_since_contact,omitempty" json:"min_since_contact,omitempty"`
	Labels          []models.Label `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// Rule is one row of the nurturing table.
type Rule struct {
	ID          string    `yaml:"id" json:"id"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	When        Predicate `yaml:"when" json:"when"`
	// Delay is the minimum lead age before the rule may fire at all.
	Delay    Duration       `yaml:"delay,omitempty" json:"delay,omitempty"`
	Channel  models.Channel `yaml:"channel" json:"channel"`
	Template string         `yaml:"template" json:"template"`
}

func intp(n int) *int { return &n }

// DefaultRules is the built-in table in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "first_contact_followup",
			Description: "Primer seguimiento tras contacto inicial",
			When: Predicate{
				MaxInteractions: intp(2),
				MaxScore:        intp(29),
				MinSinceContact: Duration(24 * time.Hour),
			},
			Delay:    Duration(24 * time.Hour),
			Channel:  models.ChannelWhatsApp,
			Template: TemplateFirstFollowup,
		},
		{
			ID:          "warm_lead_nudge",
			Description: "Empujar lead tibio con propiedades nuevas",
			When: Predicate{
				MinScore:        intp(30),
				MaxScore:        intp(60),
				MinSinceContact: Duration(72 * time.Hour),
			},
			Delay:    Duration(72 * time.Hour),
			Channel:  models.ChannelWhatsApp,
			Template: TemplateWarmNudge,
		},
		{
			ID:          "hot_lead_urgency",
			Description: "Lead caliente sin actividad, crear urgencia",
			When: Predicate{
				MinScore:        intp(60),
				MinSinceContact: Duration(48 * time.Hour),
			},
			Delay:    Duration(48 * time.Hour),
			Channel:  models.ChannelWhatsApp,
			Template: TemplateHotLead,
		},
		{
			ID:          "cold_lead_reactivation",
			Description: "Reactivar lead frío con contenido de valor",
			When: Predicate{
				MaxScore:        intp(29),
				MinSinceContact: Duration(7 * 24 * time.Hour),
			},
			Delay:    Duration(7 * 24 * time.Hour),
			Channel:  models.ChannelEmail,
			Template: TemplateReactivation,
		},
	}
}

// Validate checks a table before it is used.
func Validate(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("rule table is empty")
	}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d: id is required", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true

		if r.When.MinSinceContact <= 0 {
			return fmt.Errorf("rule %s: min_since_contact must be positive", r.ID)
		}
		if r.Delay < 0 {
			return fmt.Errorf("rule %s: delay must not be negative", r.ID)
		}
		if r.When.MinScore != nil && r.When.MaxScore != nil && *r.When.MinScore > *r.When.MaxScore {
			return fmt.Errorf("rule %s: min_score above max_score", r.ID)
		}
		switch r.Channel {
		case models.ChannelWhatsApp, models.ChannelEmail:
		default:
			return fmt.Errorf("rule %s: unsupported channel %q", r.ID, r.Channel)
		}
		if !HasTemplate(r.Template) {
			return fmt.Errorf("rule %s: unknown template %q", r.ID, r.Template)
		}
	}
	return nil
}
