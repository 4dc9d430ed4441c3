package models

import (
	"time"

	"gorm.io/gorm"
)

type Channel string

const (
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelInstagram Channel = "instagram"
	ChannelEmail     Channel = "email"
	ChannelPhone     Channel = "phone"
	ChannelWeb       Channel = "web"
	ChannelPortal    Channel = "portal"
)

type LeadStatus string

const (
	LeadStatusNew            LeadStatus = "new"
	LeadStatusContacted      LeadStatus = "contacted"
	LeadStatusQualified      LeadStatus = "qualified"
	LeadStatusVisitScheduled LeadStatus = "visit_scheduled"
	LeadStatusNegotiating    LeadStatus = "negotiating"
	LeadStatusWon            LeadStatus = "won"
	LeadStatusLost           LeadStatus = "lost"
	LeadStatusInactive       LeadStatus = "inactive"
)

// InactiveStatuses are skipped by the nurturing pass.
var InactiveStatuses = []LeadStatus{LeadStatusWon, LeadStatusLost, LeadStatusInactive}

// IsActive reports whether the lead is still worked by the nurturing engine.
func (s LeadStatus) IsActive() bool {
	for _, st := range InactiveStatuses {
		if s == st {
			return false
		}
	}
	return true
}

// Label is the classification tier derived from the score.
type Label string

const (
	LabelCurious    Label = "curious"
	LabelInterested Label = "interested"
	LabelHot        Label = "hot"
	LabelReady      Label = "ready"
)

// Preferences holds what the lead is looking for. Every field is nullable:
// nil means "not known yet".
type Preferences struct {
	Operation    *string  `json:"operation,omitempty"`
	PropertyType *string  `json:"property_type,omitempty"`
	Zone         *string  `json:"zone,omitempty"`
	MinBudget    *float64 `json:"min_budget,omitempty"`
	MaxBudget    *float64 `json:"max_budget,omitempty"`
	Bedrooms     *int     `json:"bedrooms,omitempty"`
	Urgency      *string  `json:"urgency,omitempty"`
	Purpose      *string  `json:"purpose,omitempty"`
}

// HasAny reports whether at least one preference is known.
func (p Preferences) HasAny() bool {
	return p.Operation != nil || p.PropertyType != nil || p.Zone != nil ||
		p.MinBudget != nil || p.MaxBudget != nil || p.Bedrooms != nil ||
		p.Urgency != nil || p.Purpose != nil
}

// Lead represents a prospective client identified by channel and external id
type Lead struct {
	gorm.Model

	// Identity: phone number, social handle or email address, unique per channel
	ExternalID string  `gorm:"not null;uniqueIndex:idx_lead_identity" json:"external_id"`
	Channel    Channel `gorm:"not null;uniqueIndex:idx_lead_identity" json:"channel"`

	Name  *string `json:"name,omitempty"`
	Phone string  `gorm:"index" json:"phone"`
	Email string  `gorm:"index" json:"email"`

	Status LeadStatus `gorm:"not null;default:'new';index" json:"status"`
	Score  int        `gorm:"not null;default:0" json:"score"`
	Label  Label      `gorm:"not null;default:'curious'" json:"label"`

	Preferences Preferences `gorm:"embedded;embeddedPrefix:pref_" json:"preferences"`

	// Last interest signal seen by qualification
	InterestLevel string `json:"interest_level"`
	WantsVisit    bool   `gorm:"default:false" json:"wants_visit"`

	LastContact       time.Time `gorm:"not null;index" json:"last_contact"`
	TotalInteractions int       `gorm:"not null;default:0" json:"total_interactions"`

	// Nurturing marker
	LastNurturingRule string     `json:"last_nurturing_rule,omitempty"`
	LastNurturingAt   *time.Time `json:"last_nurturing_at,omitempty"`

	Version int `gorm:"not null;default:0" json:"version"`

	// Relations
	Tags     []LeadTag         `gorm:"foreignKey:LeadID" json:"tags,omitempty"`
	Tasks    []Task            `gorm:"foreignKey:LeadID" json:"tasks,omitempty"`
	Messages []Message         `gorm:"foreignKey:LeadID" json:"-"`
	Actions  []NurturingAction `gorm:"foreignKey:LeadID" json:"actions,omitempty"`
}

// DisplayName returns the name if known, otherwise the external id.
func (l *Lead) DisplayName() string {
	if l.Name != nil && *l.Name != "" {
		return *l.Name
	}
	return l.ExternalID
}

// PhoneNumber resolves the number used for WhatsApp and calls.
func (l *Lead) PhoneNumber() string {
	if l.Phone != "" {
		return l.Phone
	}
	switch l.Channel {
	case ChannelWhatsApp, ChannelPhone:
		return l.ExternalID
	}
	return ""
}

// EmailAddress resolves the address used for email delivery.
func (l *Lead) EmailAddress() string {
	if l.Email != "" {
		return l.Email
	}
	if l.Channel == ChannelEmail {
		return l.ExternalID
	}
	return ""
}

// Reachable reports whether the lead can be contacted on the given channel.
func (l *Lead) Reachable(ch Channel) bool {
	switch ch {
	case ChannelWhatsApp, ChannelPhone:
		return l.PhoneNumber() != ""
	case ChannelEmail:
		return l.EmailAddress() != ""
	default:
		return l.Channel == ch
	}
}

// LeadTag represents tags for leads (normalized)
type LeadTag struct {
	gorm.Model
	LeadID uint   `gorm:"not null;uniqueIndex:idx_lead_tag" json:"lead_id"`
	Tag    string `gorm:"not null;uniqueIndex:idx_lead_tag" json:"tag"`
}
