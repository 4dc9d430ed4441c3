package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"leadflow/store"
	"leadflow/utils"
)

// StatsSource reads the activity counters of a period.
type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (store.Stats, error)
}

// ReportWorker logs the day's activity once a day.
type ReportWorker struct {
	stats  StatsSource
	at     TimeOfDay
	loc    *time.Location
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewReportWorker(stats StatsSource, at TimeOfDay, loc *time.Location, logger logrus.FieldLogger) *ReportWorker {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = utils.Logger("report_worker")
	}
	return &ReportWorker{stats: stats, at: at, loc: loc, logger: logger, now: time.Now}
}

func (w *ReportWorker) Start(ctx context.Context) {
	w.logger.WithField("at", w.at).Info("report worker started")
	runAt(ctx, []TimeOfDay{w.at}, w.loc, w.now, func(ctx context.Context) {
		w.Report(ctx)
	})
	w.logger.Info("report worker shutting down")
}

// Report logs the counters since local midnight.
func (w *ReportWorker) Report(ctx context.Context) (store.Stats, error) {
	now := w.now().In(w.loc)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, w.loc)

	st, err := w.stats.Stats(ctx, since)
	if err != nil {
		utils.LogError("daily_report", err, map[string]interface{}{"date": since.Format("2006-01-02")})
		return st, err
	}
	utils.LogEvent("daily_report", map[string]interface{}{
		"date":              since.Format("2006-01-02"),
		"messages_received": st.MessagesReceived,
		"actions_sent":      st.ActionsSent,
		"new_leads":         st.NewLeads,
		"hot_leads":         st.HotLeads,
		"pending_tasks":     st.PendingTasks,
	})
	return st, nil
}
