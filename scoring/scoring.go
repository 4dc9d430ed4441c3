// Package scoring computes the 0-100 readiness score of a lead and the
// classification tier derived from it. Everything here is pure: the score is
// always recomputed from the full current state, never adjusted in place.
package scoring

import (
	"strings"

	"leadflow/models"
)

const (
	MinScore = 0
	MaxScore = 100

	// CallTaskThreshold is the score from which a high-priority call task is due.
	CallTaskThreshold = 75
)

// Tier upper bounds (inclusive).
const (
	curiousMax    = 25
	interestedMax = 50
	hotMax        = 75
)

type Interest string

const (
	InterestUnknown  Interest = ""
	InterestLow      Interest = "low"
	InterestMedium   Interest = "medium"
	InterestHigh     Interest = "high"
	InterestVeryHigh Interest = "very high"
)

// ParseInterest normalizes the interest level reported by extraction.
func ParseInterest(s string) Interest {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "bajo", "baja":
		return InterestLow
	case "medium", "medio", "media":
		return InterestMedium
	case "high", "alto", "alta":
		return InterestHigh
	case "very high", "very_high", "muy alto", "muy alta", "muy_alto":
		return InterestVeryHigh
	}
	return InterestUnknown
}

// Input is the full state the score is computed from.
type Input struct {
	Preferences  models.Preferences
	NameKnown    bool
	Interactions int
	Interest     Interest
	WantsVisit   bool
}

// Result of a scoring pass.
type Result struct {
	Score int
	Label models.Label
}

// Score applies the additive point model and clamps the total to [0,100].
func Score(in Input) Result {
	p := in.Preferences
	total := 0

	if known(p.Operation) {
		total += 10
	}
	if known(p.PropertyType) {
		total += 10
	}
	if known(p.Zone) {
		total += 15
	}
	if p.MinBudget != nil || p.MaxBudget != nil {
		total += 15
	}
	if p.Bedrooms != nil {
		total += 5
	}
	if known(p.Urgency) {
		total += 10
		if IsUrgent(*p.Urgency) {
			total += 10
		}
	}
	if known(p.Purpose) {
		total += 5
	}
	if in.NameKnown {
		total += 5
	}

	switch in.Interest {
	case InterestHigh:
		total += 10
	case InterestVeryHigh:
		total += 15
	}
	if in.WantsVisit {
		total += 15
	}

	if in.Interactions >= 3 {
		total += 5
	}
	if in.Interactions >= 5 {
		total += 5
	}

	total = Clamp(total)
	return Result{Score: total, Label: Classify(total)}
}

// ForLead scores a lead from its stored state.
func ForLead(l *models.Lead) Result {
	return Score(Input{
		Preferences:  l.Preferences,
		NameKnown:    known(l.Name),
		Interactions: l.TotalInteractions,
		Interest:     ParseInterest(l.InterestLevel),
		WantsVisit:   l.WantsVisit,
	})
}

// Clamp bounds a raw total to the valid score range.
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Classify maps a score to its tier. Out-of-range values are clamped first.
func Classify(score int) models.Label {
	score = Clamp(score)
	switch {
	case score <= curiousMax:
		return models.LabelCurious
	case score <= interestedMax:
		return models.LabelInterested
	case score <= hotMax:
		return models.LabelHot
	default:
		return models.LabelReady
	}
}

// Valid reports whether a score/label pair could have come out of Score.
func Valid(score int, label models.Label) bool {
	return score >= MinScore && score <= MaxScore && Classify(score) == label
}

// IsUrgent reports whether the urgency value earns the urgency bonus.
func IsUrgent(urgency string) bool {
	switch strings.ToLower(strings.TrimSpace(urgency)) {
	case "immediate", "inmediata", "inmediato", "1-3 months", "1-3 meses":
		return true
	}
	return false
}

// NextAction describes what the tier asks for.
func NextAction(label models.Label) string {
	switch label {
	case models.LabelCurious:
		return "continue_conversation"
	case models.LabelInterested:
		return "send_properties"
	case models.LabelHot:
		return "create_task"
	case models.LabelReady:
		return "create_urgent_task_and_call"
	}
	return ""
}

func known(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}
