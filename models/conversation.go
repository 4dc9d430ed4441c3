package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the append-only conversation between a lead and the agency
type Message struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	LeadID    uint      `gorm:"not null;index:idx_message_conversation" json:"lead_id"`
	Channel   Channel   `gorm:"not null;index:idx_message_conversation" json:"channel"`
	Role      string    `gorm:"not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`

	// ExternalMessageID is the channel's own message id (email Message-ID,
	// WhatsApp message sid). A redelivered message is recorded once.
	ExternalMessageID *string `gorm:"uniqueIndex" json:"external_message_id,omitempty"`
}

// Extraction is the partial attribute set returned by the extraction collaborator.
// Nil pointers mean the conversation did not mention the field.
type Extraction struct {
	Operation    *string  `json:"operation"`
	PropertyType *string  `json:"property_type"`
	Zone         *string  `json:"zone"`
	MinBudget    *float64 `json:"min_budget" validate:"omitempty,gte=0"`
	MaxBudget    *float64 `json:"max_budget" validate:"omitempty,gte=0"`
	Bedrooms     *int     `json:"bedrooms" validate:"omitempty,gte=0,lte=50"`
	Urgency      *string  `json:"urgency"`
	Purpose      *string  `json:"purpose"`
	Name         *string  `json:"name"`

	InterestLevel   string `json:"interest_level"`
	WantsVisit      bool   `json:"wants_visit"`
	WantsHumanAgent bool   `json:"wants_human_agent"`
	Notes           string `json:"notes"`
}

// Preferences returns the preference part of the extraction.
func (e *Extraction) Preferences() Preferences {
	return Preferences{
		Operation:    e.Operation,
		PropertyType: e.PropertyType,
		Zone:         e.Zone,
		MinBudget:    e.MinBudget,
		MaxBudget:    e.MaxBudget,
		Bedrooms:     e.Bedrooms,
		Urgency:      e.Urgency,
		Purpose:      e.Purpose,
	}
}
