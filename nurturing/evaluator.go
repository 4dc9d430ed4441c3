package nurturing

import (
	"time"

	"leadflow/models"
)

// Facts is the state a rule is matched against.
type Facts struct {
	Score        int
	Label        models.Label
	Interactions int
	SinceContact time.Duration
	SinceCreated time.Duration
	Reachable    map[models.Channel]bool

	LastRule  string
	SinceRule time.Duration
	HasMarker bool
}

func FactsFor(lead *models.Lead, now time.Time) Facts {
	f := Facts{
		Score:        lead.Score,
		Label:        lead.Label,
		Interactions: lead.TotalInteractions,
		SinceContact: now.Sub(lead.LastContact),
		SinceCreated: now.Sub(lead.CreatedAt),
		Reachable: map[models.Channel]bool{
			models.ChannelWhatsApp: lead.Reachable(models.ChannelWhatsApp),
			models.ChannelEmail:    lead.Reachable(models.ChannelEmail),
		},
		LastRule: lead.LastNurturingRule,
	}
	if lead.LastNurturingAt != nil {
		f.HasMarker = true
		f.SinceRule = now.Sub(*lead.LastNurturingAt)
	}
	return f
}

// Matches reports whether the rule's condition holds for f.
func (r Rule) Matches(f Facts) bool {
	w := r.When
	if w.MinScore != nil && f.Score < *w.MinScore {
		return false
	}
	if w.MaxScore != nil && f.Score > *w.MaxScore {
		return false
	}
	if w.MaxInteractions != nil && f.Interactions > *w.MaxInteractions {
		return false
	}
	if f.SinceContact < w.MinSinceContact.Std() {
		return false
	}
	if f.SinceCreated < r.Delay.Std() {
		return false
	}
	if len(w.Labels) > 0 && !containsLabel(w.Labels, f.Label) {
		return false
	}
	return f.Reachable[r.Channel]
}

func containsLabel(labels []models.Label, l models.Label) bool {
	for _, x := range labels {
		if x == l {
			return true
		}
	}
	return false
}

// Decision is the outcome of evaluating one lead.
type Decision struct {
	Rule *Rule
	// Suppressed is set when the first matching rule already fired recently.
	Suppressed bool
}

// Evaluate returns the first rule in table order whose condition holds. If
// that rule fired for the lead less than its since-contact threshold ago the
// lead is suppressed for this pass and later rules are not considered.
func Evaluate(rules []Rule, f Facts) Decision {
	for i := range rules {
		r := &rules[i]
		if !r.Matches(f) {
			continue
		}
		if f.HasMarker && f.LastRule == r.ID && f.SinceRule < r.When.MinSinceContact.Std() {
			return Decision{Rule: r, Suppressed: true}
		}
		return Decision{Rule: r}
	}
	return Decision{}
}
