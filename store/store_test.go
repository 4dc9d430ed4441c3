package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/models"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewGormStore(db)
}

// forEachStore runs the same contract against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("gorm", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func seedLead(t *testing.T, s Store, externalID string) *models.Lead {
	t.Helper()
	lead, created, err := s.GetOrCreateLead(context.Background(), NewLead{
		Channel:    models.ChannelWhatsApp,
		ExternalID: externalID,
		At:         time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.True(t, created)
	return lead
}

func TestGetOrCreateLeadIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		in := NewLead{Channel: models.ChannelWhatsApp, ExternalID: "+34600111222", At: time.Now()}

		first, created, err := s.GetOrCreateLead(ctx, in)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, models.LeadStatusNew, first.Status)
		assert.Equal(t, models.LabelCurious, first.Label)
		assert.Equal(t, 0, first.Score)

		second, created, err := s.GetOrCreateLead(ctx, in)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		other, created, err := s.GetOrCreateLead(ctx, NewLead{Channel: models.ChannelEmail, ExternalID: "+34600111222", At: time.Now()})
		require.NoError(t, err)
		assert.True(t, created, "identity is scoped by channel")
		assert.NotEqual(t, first.ID, other.ID)
	})
}

func TestPersistLeadRejectsStaleVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "a")

		stale := *lead
		lead.Score = 60
		lead.Label = models.LabelHot
		require.NoError(t, s.PersistLead(ctx, lead))
		assert.Equal(t, 1, lead.Version)

		stale.Score = 10
		err := s.PersistLead(ctx, &stale)
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, 60, got.Score)
		assert.Equal(t, models.LabelHot, got.Label)
	})
}

func TestPersistLeadWithTasksIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "b")

		call := models.Task{Type: models.TaskCall, Priority: models.PriorityHigh, Dedupe: true}
		lead.Score = 80
		require.NoError(t, s.PersistLead(ctx, lead, call))

		lead.Score = 85
		err := s.PersistLead(ctx, lead, call)
		assert.ErrorIs(t, err, ErrDuplicateTask)

		got, err := s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, 80, got.Score, "lead write rolled back with the task")

		tasks, err := s.ListTasks(ctx, models.TaskPending)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, lead.ID, tasks[0].LeadID)
	})
}

func TestHasRecentTask(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "c")

		found, err := s.HasRecentTask(ctx, lead.ID, models.TaskCall, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.False(t, found)

		task := &models.Task{LeadID: lead.ID, Type: models.TaskCall, Priority: models.PriorityHigh}
		require.NoError(t, s.CreateTask(ctx, task))

		found, _ = s.HasRecentTask(ctx, lead.ID, models.TaskCall, time.Now().Add(-24*time.Hour))
		assert.True(t, found, "pending task counts")

		done, err := s.CompleteTask(ctx, task.ID, time.Now())
		require.NoError(t, err)
		assert.Equal(t, models.TaskDone, done.Status)

		found, _ = s.HasRecentTask(ctx, lead.ID, models.TaskCall, time.Now().Add(-24*time.Hour))
		assert.True(t, found, "completed inside the cooldown still counts")

		found, _ = s.HasRecentTask(ctx, lead.ID, models.TaskCall, time.Now().Add(time.Hour))
		assert.False(t, found, "completed before the cooldown window")

		_, err = s.CompleteTask(ctx, 9999, time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestReserveDispatchOncePerKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "d")

		now := time.Now()
		lead.LastContact = now
		lead.LastNurturingRule = "first_followup"
		lead.LastNurturingAt = &now
		action := &models.NurturingAction{
			RuleID:      "first_followup",
			Channel:     models.ChannelWhatsApp,
			Template:    "first_followup",
			DispatchKey: "1:first_followup:100",
		}
		require.NoError(t, s.ReserveDispatch(ctx, lead, action))
		assert.Equal(t, models.ActionPending, action.Status)
		require.NoError(t, s.FinishDispatch(ctx, action, nil, nil))
		assert.Equal(t, models.ActionSent, action.Status)

		again := &models.NurturingAction{
			RuleID:      "first_followup",
			Channel:     models.ChannelWhatsApp,
			Template:    "first_followup",
			DispatchKey: "1:first_followup:100",
		}
		err := s.ReserveDispatch(ctx, lead, again)
		assert.ErrorIs(t, err, ErrAlreadyDispatched)

		actions, err := s.ListActions(ctx, lead.ID)
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, models.ActionSent, actions[0].Status)
	})
}

func TestFinishDispatchFailureRestoresLead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "e")
		original := lead.LastContact

		restore := *lead
		now := time.Now()
		lead.LastContact = now
		lead.LastNurturingRule = "warm_nudge"
		lead.LastNurturingAt = &now
		action := &models.NurturingAction{
			RuleID:      "warm_nudge",
			Channel:     models.ChannelWhatsApp,
			Template:    "warm_nudge",
			DispatchKey: "e:warm_nudge:1",
		}
		require.NoError(t, s.ReserveDispatch(ctx, lead, action))

		restore.Version = lead.Version
		require.NoError(t, s.FinishDispatch(ctx, action, errors.New("gateway down"), &restore))
		assert.Equal(t, models.ActionFailed, action.Status)

		got, err := s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		assert.WithinDuration(t, original, got.LastContact, time.Second)
		assert.Empty(t, got.LastNurturingRule)
		assert.Nil(t, got.LastNurturingAt)

		retry := &models.NurturingAction{
			RuleID:      "warm_nudge",
			Channel:     models.ChannelWhatsApp,
			Template:    "warm_nudge",
			DispatchKey: "e:warm_nudge:1",
		}
		require.NoError(t, s.ReserveDispatch(ctx, got, retry), "a failed attempt frees its key")
	})
}

func TestLoadActiveLeadsSkipsClosed(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		open := seedLead(t, s, "open")
		won := seedLead(t, s, "won")
		won.Status = models.LeadStatusWon
		require.NoError(t, s.PersistLead(ctx, won))

		leads, err := s.LoadActiveLeads(ctx)
		require.NoError(t, err)
		require.Len(t, leads, 1)
		assert.Equal(t, open.ID, leads[0].ID)
	})
}

func TestListLeadsFiltersAndPages(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, score := range []int{10, 60, 80, 55} {
			lead := seedLead(t, s, fmt.Sprintf("lead-%d", i))
			lead.Score = score
			require.NoError(t, s.PersistLead(ctx, lead))
		}

		leads, total, err := s.ListLeads(ctx, LeadFilter{MinScore: 50, Limit: 2})
		require.NoError(t, err)
		assert.EqualValues(t, 3, total)
		require.Len(t, leads, 2)
		assert.Equal(t, 80, leads[0].Score)
		assert.Equal(t, 60, leads[1].Score)

		leads, _, err = s.ListLeads(ctx, LeadFilter{MinScore: 50, Limit: 2, Page: 2})
		require.NoError(t, err)
		require.Len(t, leads, 1)
		assert.Equal(t, 55, leads[0].Score)
	})
}

func TestHistoryIsOrderedPerChannel(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "h")
		base := time.Now()

		for i, content := range []string{"hola", "busco piso", "en Chamberí"} {
			require.NoError(t, s.AppendMessage(ctx, &models.Message{
				LeadID:    lead.ID,
				Channel:   models.ChannelWhatsApp,
				Role:      models.RoleUser,
				Content:   content,
				Timestamp: base.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, s.AppendMessage(ctx, &models.Message{
			LeadID: lead.ID, Channel: models.ChannelEmail, Role: models.RoleUser, Content: "otro canal", Timestamp: base,
		}))

		msgs, err := s.History(ctx, lead.ID, models.ChannelWhatsApp)
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "hola", msgs[0].Content)
		assert.Equal(t, "en Chamberí", msgs[2].Content)
	})
}

func TestTagsAreNormalizedAndUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "t")

		require.NoError(t, s.AddTag(ctx, lead.ID, "Inversor"))
		require.NoError(t, s.AddTag(ctx, lead.ID, " inversor "))

		got, err := s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		require.Len(t, got.Tags, 1)
		assert.Equal(t, "inversor", got.Tags[0].Tag)
	})
}

func TestStatsCountsSince(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		hot := seedLead(t, s, "s-hot")
		hot.Score = 70
		hot.Label = models.LabelHot
		require.NoError(t, s.PersistLead(ctx, hot, models.Task{Type: models.TaskFollowUp, Priority: models.PriorityNormal}))
		seedLead(t, s, "s-cold")

		require.NoError(t, s.AppendMessage(ctx, &models.Message{
			LeadID: hot.ID, Channel: models.ChannelWhatsApp, Role: models.RoleUser, Content: "hola", Timestamp: time.Now(),
		}))

		st, err := s.Stats(ctx, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 2, st.NewLeads)
		assert.EqualValues(t, 1, st.HotLeads)
		assert.EqualValues(t, 1, st.PendingTasks)
		assert.EqualValues(t, 1, st.MessagesReceived)
		assert.EqualValues(t, 0, st.ActionsSent)

		later, err := s.Stats(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 0, later.NewLeads)
		assert.EqualValues(t, 1, later.PendingTasks, "pending tasks are not windowed")
	})
}

func TestLeadCreatedAtIsFirstContact(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		at := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
		lead, _, err := s.GetOrCreateLead(context.Background(), NewLead{
			Channel:    models.ChannelEmail,
			ExternalID: "late@example.com",
			At:         at,
		})
		require.NoError(t, err)
		assert.True(t, lead.CreatedAt.Equal(at), "got %s", lead.CreatedAt)
	})
}

func TestRecordInbound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "in")
		id := "email:<abc@example.com>"

		lead.TotalInteractions++
		msg := &models.Message{
			Channel:           models.ChannelWhatsApp,
			Role:              models.RoleUser,
			Content:           "Hola",
			Timestamp:         time.Now(),
			ExternalMessageID: &id,
		}
		require.NoError(t, s.RecordInbound(ctx, lead, msg))
		assert.NotZero(t, msg.ID)

		stale := *lead
		stale.Version--
		stale.TotalInteractions++
		err := s.RecordInbound(ctx, &stale, &models.Message{
			Channel: models.ChannelWhatsApp, Role: models.RoleUser, Content: "otra", Timestamp: time.Now(),
		})
		assert.ErrorIs(t, err, ErrVersionConflict)

		lead.TotalInteractions++
		err = s.RecordInbound(ctx, lead, &models.Message{
			Channel: models.ChannelWhatsApp, Role: models.RoleUser, Content: "Hola", Timestamp: time.Now(), ExternalMessageID: &id,
		})
		assert.ErrorIs(t, err, ErrDuplicateMessage)

		got, err := s.GetLead(ctx, lead.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.TotalInteractions, "rejected writes leave the counter alone")

		history, err := s.History(ctx, lead.ID, models.ChannelWhatsApp)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}

func TestHasTaskReference(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lead := seedLead(t, s, "ref")

		task := &models.Task{LeadID: lead.ID, Type: models.TaskContact, Priority: models.PriorityUrgent, Reference: "message:7"}
		require.NoError(t, s.CreateTask(ctx, task))
		_, err := s.CompleteTask(ctx, task.ID, time.Now())
		require.NoError(t, err)

		found, err := s.HasTaskReference(ctx, lead.ID, "message:7")
		require.NoError(t, err)
		assert.True(t, found, "completed tasks keep their reference")

		found, err = s.HasTaskReference(ctx, lead.ID, "message:8")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
