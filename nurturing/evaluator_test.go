package nurturing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func facts(score, interactions int, sinceContact time.Duration) Facts {
	return Facts{
		Score:        score,
		Interactions: interactions,
		SinceContact: sinceContact,
		SinceCreated: sinceContact,
		Reachable: map[models.Channel]bool{
			models.ChannelWhatsApp: true,
			models.ChannelEmail:    true,
		},
	}
}

func TestEvaluateDefaultTable(t *testing.T) {
	tests := []struct {
		name  string
		facts Facts
		want  string
	}{
		{"fresh lead", facts(20, 1, 2*time.Hour), ""},
		{"first followup", facts(20, 2, 25*time.Hour), "first_contact_followup"},
		{"too many interactions for first followup", facts(20, 3, 25*time.Hour), ""},
		{"warm", facts(45, 6, 73*time.Hour), "warm_lead_nudge"},
		{"warm too early", facts(45, 6, 70*time.Hour), ""},
		{"hot", facts(80, 6, 49*time.Hour), "hot_lead_urgency"},
		{"cold", facts(10, 5, 8*24*time.Hour), "cold_lead_reactivation"},
		{"cold and new wins first followup", facts(10, 1, 8*24*time.Hour), "first_contact_followup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(DefaultRules(), tt.facts)
			if tt.want == "" {
				assert.Nil(t, d.Rule)
				return
			}
			require.NotNil(t, d.Rule)
			assert.Equal(t, tt.want, d.Rule.ID)
			assert.False(t, d.Suppressed)
		})
	}
}

func TestEvaluateSuppressesRecentRuleWithoutFallthrough(t *testing.T) {
	f := facts(60, 6, 80*time.Hour)
	f.HasMarker = true
	f.LastRule = "warm_lead_nudge"
	f.SinceRule = 10 * time.Hour

	d := Evaluate(DefaultRules(), f)
	require.NotNil(t, d.Rule)
	assert.Equal(t, "warm_lead_nudge", d.Rule.ID)
	assert.True(t, d.Suppressed, "hot_lead_urgency would also match but must not be tried")

	f.SinceRule = 73 * time.Hour
	d = Evaluate(DefaultRules(), f)
	assert.False(t, d.Suppressed)
}

func TestEvaluateRequiresReachableChannel(t *testing.T) {
	f := facts(70, 6, 50*time.Hour)
	f.Reachable[models.ChannelWhatsApp] = false

	assert.Nil(t, Evaluate(DefaultRules(), f).Rule)
}

func TestEvaluateDelayIsMeasuredFromCreation(t *testing.T) {
	f := facts(70, 6, 50*time.Hour)
	f.SinceCreated = 30 * time.Hour

	assert.Nil(t, Evaluate(DefaultRules(), f).Rule)
}

func TestEvaluateLabels(t *testing.T) {
	rules := []Rule{{
		ID:       "ready_only",
		When:     Predicate{Labels: []models.Label{models.LabelReady}, MinSinceContact: Duration(time.Hour)},
		Channel:  models.ChannelWhatsApp,
		Template: TemplateHotLead,
	}}
	f := facts(90, 3, 2*time.Hour)
	f.Label = models.LabelHot
	assert.Nil(t, Evaluate(rules, f).Rule)

	f.Label = models.LabelReady
	assert.NotNil(t, Evaluate(rules, f).Rule)
}
