package nurturing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"leadflow/lock"
	"leadflow/models"
)

// InventoryNotifier announces a new property to every active lead whose
// preferences it matches. It runs outside the rule table.
type InventoryNotifier struct {
	locker lock.Locker
	now    func() time.Time
	sender
}

func NewInventoryNotifier(st Store, d Dispatcher, lk lock.Locker, cfg Config) *InventoryNotifier {
	return &InventoryNotifier{
		locker: lk,
		now:    time.Now,
		sender: newSender(st, d, cfg, "inventory"),
	}
}

// InventoryKey dedupes announcements per property and lead.
func InventoryKey(propertyID, leadID uint) string {
	return fmt.Sprintf("inventory:%d:%d", propertyID, leadID)
}

// NotifyNewProperty dispatches the property to matching leads. Leads that
// already received it are skipped.
func (n *InventoryNotifier) NotifyNewProperty(ctx context.Context, p *models.Property) ([]models.NurturingAction, error) {
	if p.ID == 0 {
		return nil, fmt.Errorf("property must be stored before it is announced")
	}
	if p.Status != "" && p.Status != models.PropertyAvailable {
		return nil, nil
	}

	leads, err := n.store.LoadActiveLeads(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active leads: %w", err)
	}

	var actions []models.NurturingAction
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return actions, err
		}
		if !Matches(leads[i].Preferences, p) {
			continue
		}
		action, err := n.notifyLead(ctx, leads[i].ID, p)
		if err != nil {
			n.logger.WithError(err).WithFields(logrus.Fields{
				"lead_id":     leads[i].ID,
				"property_id": p.ID,
			}).Warn("property announcement failed")
			continue
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}

	n.logger.WithFields(logrus.Fields{
		"property_id": p.ID,
		"reference":   p.Reference,
		"notified":    len(actions),
	}).Info("property announced")
	return actions, nil
}

func (n *InventoryNotifier) notifyLead(ctx context.Context, leadID uint, p *models.Property) (*models.NurturingAction, error) {
	unlock, err := n.locker.Lock(ctx, lock.LeadKey(leadID))
	if err != nil {
		return nil, fmt.Errorf("lock lead %d: %w", leadID, err)
	}
	defer unlock()

	lead, err := n.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if !lead.Status.IsActive() || !Matches(lead.Preferences, p) {
		return nil, nil
	}

	var ch models.Channel
	switch {
	case lead.Reachable(models.ChannelEmail):
		ch = models.ChannelEmail
	case lead.Reachable(models.ChannelWhatsApp):
		ch = models.ChannelWhatsApp
	default:
		return nil, nil
	}

	msg, err := n.renderer.Render(TemplateNewProperty, lead, p)
	if err != nil {
		return nil, err
	}
	action := &models.NurturingAction{
		RuleID:      "new_property",
		Channel:     ch,
		Template:    TemplateNewProperty,
		DispatchKey: InventoryKey(p.ID, lead.ID),
	}
	return n.deliver(ctx, lead, action, msg, n.now(), false)
}

var operations = map[string][]string{
	"comprar":  {models.OperationSale, models.OperationRentToBuy},
	"compra":   {models.OperationSale, models.OperationRentToBuy},
	"alquilar": {models.OperationRent, models.OperationRentToBuy},
	"alquiler": {models.OperationRent, models.OperationRentToBuy},
}

// Matches reports whether a property fits the known preferences. Unknown
// preferences do not constrain, but a lead with no preferences matches
// nothing.
func Matches(prefs models.Preferences, p *models.Property) bool {
	if !prefs.HasAny() {
		return false
	}
	if prefs.Operation != nil {
		want := strings.ToLower(strings.TrimSpace(*prefs.Operation))
		allowed, ok := operations[want]
		if !ok {
			allowed = []string{want}
		}
		if !containsFold(allowed, p.Operation) {
			return false
		}
	}
	if prefs.PropertyType != nil && !strings.EqualFold(strings.TrimSpace(*prefs.PropertyType), p.PropertyType) {
		return false
	}
	if prefs.Zone != nil {
		zone := strings.TrimSpace(*prefs.Zone)
		if !strings.EqualFold(zone, p.Zone) && !strings.EqualFold(zone, p.City) {
			return false
		}
	}
	if prefs.MaxBudget != nil && p.Price > *prefs.MaxBudget {
		return false
	}
	if prefs.MinBudget != nil && p.Price < *prefs.MinBudget {
		return false
	}
	if prefs.Bedrooms != nil && p.Bedrooms < *prefs.Bedrooms {
		return false
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
