package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
)

type identity struct {
	channel    models.Channel
	externalID string
}

// MemoryStore keeps everything in process. Used for local runs without a
// database and in tests.
type MemoryStore struct {
	mu sync.RWMutex

	nextID     uint
	leads      map[uint]*models.Lead
	identities map[identity]uint
	tags       map[uint]map[string]struct{}
	messages   []models.Message
	messageIDs map[string]uint
	tasks      map[uint]*models.Task
	actions    map[uint]*models.NurturingAction
	keys       map[string]uint
	properties map[uint]*models.Property
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leads:      make(map[uint]*models.Lead),
		identities: make(map[identity]uint),
		tags:       make(map[uint]map[string]struct{}),
		messageIDs: make(map[string]uint),
		tasks:      make(map[uint]*models.Task),
		actions:    make(map[uint]*models.NurturingAction),
		keys:       make(map[string]uint),
		properties: make(map[uint]*models.Property),
	}
}

func (m *MemoryStore) id() uint {
	m.nextID++
	return m.nextID
}

func copyLead(l *models.Lead) *models.Lead {
	c := *l
	c.Tags = append([]models.LeadTag(nil), l.Tags...)
	c.Tasks = nil
	c.Messages = nil
	c.Actions = nil
	return &c
}

func (m *MemoryStore) GetOrCreateLead(_ context.Context, in NewLead) (*models.Lead, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identity{in.Channel, in.ExternalID}
	if id, ok := m.identities[key]; ok {
		return copyLead(m.leads[id]), false, nil
	}

	lead := &models.Lead{
		Model:       gorm.Model{ID: m.id(), CreatedAt: in.At, UpdatedAt: in.At},
		ExternalID:  in.ExternalID,
		Channel:     in.Channel,
		Name:        in.Name,
		Phone:       in.Phone,
		Email:       strings.ToLower(in.Email),
		Status:      models.LeadStatusNew,
		Label:       models.LabelCurious,
		LastContact: in.At,
	}
	m.leads[lead.ID] = lead
	m.identities[key] = lead.ID
	return copyLead(lead), true, nil
}

func (m *MemoryStore) GetLead(_ context.Context, id uint) (*models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lead, ok := m.leads[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := copyLead(lead)
	for tag := range m.tags[id] {
		c.Tags = append(c.Tags, models.LeadTag{LeadID: id, Tag: tag})
	}
	sort.Slice(c.Tags, func(i, j int) bool { return c.Tags[i].Tag < c.Tags[j].Tag })
	return c, nil
}

func (m *MemoryStore) ListLeads(_ context.Context, f LeadFilter) ([]models.Lead, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.Lead
	for _, l := range m.leads {
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		if f.Label != "" && l.Label != f.Label {
			continue
		}
		if l.Score < f.MinScore {
			continue
		}
		matched = append(matched, *copyLead(l))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Score != matched[j].Score {
			return matched[i].Score > matched[j].Score
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	offset, limit := normalizePage(f)
	if offset >= len(matched) {
		return []models.Lead{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemoryStore) LoadActiveLeads(_ context.Context) ([]models.Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Lead
	for _, l := range m.leads {
		if l.Status.IsActive() {
			out = append(out, *copyLead(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) PersistLead(_ context.Context, lead *models.Lead, tasks ...models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkVersion(lead); err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Dedupe && m.hasPending(lead.ID, t.Type) {
			return ErrDuplicateTask
		}
	}

	m.saveLead(lead)
	for i := range tasks {
		t := tasks[i]
		t.LeadID = lead.ID
		m.insertTask(&t)
	}
	return nil
}

func (m *MemoryStore) checkVersion(lead *models.Lead) error {
	stored, ok := m.leads[lead.ID]
	if !ok || stored.Version != lead.Version {
		return ErrVersionConflict
	}
	return nil
}

func (m *MemoryStore) saveLead(lead *models.Lead) {
	stored := m.leads[lead.ID]
	lead.Version++
	saved := copyLead(lead)
	saved.ExternalID = stored.ExternalID
	saved.Channel = stored.Channel
	saved.CreatedAt = stored.CreatedAt
	saved.UpdatedAt = time.Now()
	saved.Tags = nil
	m.leads[lead.ID] = saved
}

func (m *MemoryStore) hasPending(leadID uint, t models.TaskType) bool {
	for _, task := range m.tasks {
		if task.LeadID == leadID && task.Type == t && task.Status == models.TaskPending {
			return true
		}
	}
	return false
}

func (m *MemoryStore) insertTask(t *models.Task) {
	t.ID = m.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	t.UpdatedAt = t.CreatedAt
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	stored := *t
	m.tasks[t.ID] = &stored
}

func (m *MemoryStore) AddTag(_ context.Context, leadID uint, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.leads[leadID]; !ok {
		return ErrNotFound
	}
	set, ok := m.tags[leadID]
	if !ok {
		set = make(map[string]struct{})
		m.tags[leadID] = set
	}
	set[strings.ToLower(strings.TrimSpace(tag))] = struct{}{}
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ExternalMessageID != nil {
		if _, dup := m.messageIDs[*msg.ExternalMessageID]; dup {
			return ErrDuplicateMessage
		}
	}
	msg.ID = m.id()
	m.messages = append(m.messages, *msg)
	if msg.ExternalMessageID != nil {
		m.messageIDs[*msg.ExternalMessageID] = msg.ID
	}
	return nil
}

func (m *MemoryStore) RecordInbound(_ context.Context, lead *models.Lead, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ExternalMessageID != nil {
		if _, dup := m.messageIDs[*msg.ExternalMessageID]; dup {
			return ErrDuplicateMessage
		}
	}
	if err := m.checkVersion(lead); err != nil {
		return err
	}

	m.saveLead(lead)
	msg.ID = m.id()
	msg.LeadID = lead.ID
	m.messages = append(m.messages, *msg)
	if msg.ExternalMessageID != nil {
		m.messageIDs[*msg.ExternalMessageID] = msg.ID
	}
	return nil
}

func (m *MemoryStore) History(_ context.Context, leadID uint, channel models.Channel) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Message
	for _, msg := range m.messages {
		if msg.LeadID == leadID && msg.Channel == channel {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if task.Dedupe && m.hasPending(task.LeadID, task.Type) {
		return ErrDuplicateTask
	}
	m.insertTask(task)
	return nil
}

func (m *MemoryStore) HasRecentTask(_ context.Context, leadID uint, taskType models.TaskType, since time.Time) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tasks {
		if t.LeadID != leadID || t.Type != taskType {
			continue
		}
		if t.Status == models.TaskPending || !t.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) HasTaskReference(_ context.Context, leadID uint, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tasks {
		if t.LeadID == leadID && t.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, status models.TaskStatus) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Task
	for _, t := range m.tasks {
		if status == "" || t.Status == status {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) CompleteTask(_ context.Context, id uint, at time.Time) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	t.Status = models.TaskDone
	t.CompletedAt = &at
	c := *t
	return &c, nil
}

func (m *MemoryStore) ReserveDispatch(_ context.Context, lead *models.Lead, action *models.NurturingAction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.keys[action.DispatchKey]; dup {
		return ErrAlreadyDispatched
	}
	if err := m.checkVersion(lead); err != nil {
		return err
	}

	m.saveLead(lead)
	action.ID = m.id()
	action.LeadID = lead.ID
	action.Status = models.ActionPending
	action.CreatedAt = time.Now()
	stored := *action
	m.actions[action.ID] = &stored
	m.keys[action.DispatchKey] = action.ID
	return nil
}

func (m *MemoryStore) FinishDispatch(_ context.Context, action *models.NurturingAction, sendErr error, restore *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.actions[action.ID]
	if !ok {
		return ErrNotFound
	}
	if sendErr == nil {
		now := time.Now()
		action.Status = models.ActionSent
		action.DispatchedAt = &now
	} else {
		action.Status = models.ActionFailed
		action.Error = sendErr.Error()
		delete(m.keys, stored.DispatchKey)
		action.DispatchKey = failedKey(action)
		m.keys[action.DispatchKey] = action.ID
	}
	stored.DispatchKey = action.DispatchKey
	stored.Status = action.Status
	stored.DispatchedAt = action.DispatchedAt
	stored.Error = action.Error

	if sendErr != nil && restore != nil {
		if err := m.checkVersion(restore); err != nil {
			return err
		}
		m.saveLead(restore)
	}
	return nil
}

func (m *MemoryStore) ListActions(_ context.Context, leadID uint) ([]models.NurturingAction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.NurturingAction
	for _, a := range m.actions {
		if a.LeadID == leadID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateProperty(_ context.Context, p *models.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.id()
	p.CreatedAt = time.Now()
	if p.Status == "" {
		p.Status = models.PropertyAvailable
	}
	stored := *p
	m.properties[p.ID] = &stored
	return nil
}

func (m *MemoryStore) Stats(_ context.Context, since time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st Stats
	for _, l := range m.leads {
		if !l.CreatedAt.Before(since) {
			st.NewLeads++
		}
		if (l.Label == models.LabelHot || l.Label == models.LabelReady) && l.Status.IsActive() {
			st.HotLeads++
		}
	}
	for _, t := range m.tasks {
		if t.Status == models.TaskPending {
			st.PendingTasks++
		}
	}
	for _, a := range m.actions {
		if a.Status == models.ActionSent && a.DispatchedAt != nil && !a.DispatchedAt.Before(since) {
			st.ActionsSent++
		}
	}
	for _, msg := range m.messages {
		if msg.Role == models.RoleUser && !msg.Timestamp.Before(since) {
			st.MessagesReceived++
		}
	}
	return st, nil
}
