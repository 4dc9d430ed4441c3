package models

import (
	"time"

	"gorm.io/gorm"
)

type ActionStatus string

const (
	ActionPending ActionStatus = "pending"
	ActionSent    ActionStatus = "sent"
	ActionFailed  ActionStatus = "failed"
)

// NurturingAction tracks every outbound follow-up sent to a lead
type NurturingAction struct {
	gorm.Model
	LeadID uint `gorm:"not null;index" json:"lead_id"`

	RuleID   string  `gorm:"not null;index" json:"rule_id"`
	Channel  Channel `gorm:"not null" json:"channel"`
	Template string  `gorm:"not null" json:"template"`
	Subject  string  `json:"subject,omitempty"`
	Body     string  `gorm:"type:text" json:"body"`

	// DispatchKey is unique per triggering condition; a second reservation for
	// the same condition is rejected by the store.
	DispatchKey string `gorm:"not null;uniqueIndex" json:"dispatch_key"`

	Status       ActionStatus `gorm:"not null;default:'pending';index" json:"status"`
	Error        string       `json:"error,omitempty"`
	DispatchedAt *time.Time   `json:"dispatched_at,omitempty"`
}

// Property operations as listed in the inventory
const (
	OperationSale      = "venta"
	OperationRent      = "alquiler"
	OperationRentToBuy = "alquiler_opcion_compra"
)

// PropertyStatus of an inventory item
type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "available"
	PropertyReserved  PropertyStatus = "reserved"
	PropertySold      PropertyStatus = "sold"
	PropertyRented    PropertyStatus = "rented"
)

// Property is an inventory item announced to matching leads
type Property struct {
	gorm.Model
	Reference    string         `gorm:"uniqueIndex" json:"reference" validate:"required,max=64"`
	Title        string         `gorm:"not null" json:"title" validate:"required,max=200"`
	Operation    string         `gorm:"not null;index" json:"operation" validate:"required,oneof=venta alquiler alquiler_opcion_compra"`
	PropertyType string         `gorm:"not null;index" json:"property_type" validate:"required"`
	Zone         string         `gorm:"not null;index" json:"zone" validate:"required"`
	City         string         `json:"city"`
	Price        float64        `gorm:"not null" json:"price" validate:"gt=0"`
	Bedrooms     int            `json:"bedrooms" validate:"gte=0"`
	Sqm          int            `json:"sqm" validate:"gte=0"`
	Status       PropertyStatus `gorm:"not null;default:'available'" json:"status"`
}
