package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"leadflow/models"
	"leadflow/nurturing"
	"leadflow/utils"
)

// PassRunner runs one nurturing pass.
type PassRunner interface {
	RunPass(ctx context.Context, now time.Time) ([]models.NurturingAction, error)
}

// TimeOfDay is a wall-clock time in the worker's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// ParseSchedule reads a comma separated list such as "09:00,13:00,17:00".
func ParseSchedule(s string) ([]TimeOfDay, error) {
	var out []TimeOfDay
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := time.Parse("15:04", part)
		if err != nil {
			return nil, fmt.Errorf("invalid time of day %q", part)
		}
		out = append(out, TimeOfDay{Hour: t.Hour(), Minute: t.Minute()})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schedule %q has no times", s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out, nil
}

// NextRun returns the first scheduled instant strictly after now.
func NextRun(schedule []TimeOfDay, loc *time.Location, now time.Time) time.Time {
	local := now.In(loc)
	for day := 0; day <= 1; day++ {
		for _, t := range schedule {
			at := time.Date(local.Year(), local.Month(), local.Day()+day, t.Hour, t.Minute, 0, 0, loc)
			if at.After(local) {
				return at
			}
		}
	}
	// unreachable with a non-empty schedule
	return local.Add(24 * time.Hour)
}

// NurturingWorker runs a nurturing pass at fixed wall-clock times.
type NurturingWorker struct {
	runner   PassRunner
	schedule []TimeOfDay
	loc      *time.Location
	timeout  time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewNurturingWorker(runner PassRunner, schedule []TimeOfDay, loc *time.Location, timeout time.Duration, logger logrus.FieldLogger) *NurturingWorker {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = utils.Logger("nurturing_worker")
	}
	return &NurturingWorker{
		runner:   runner,
		schedule: schedule,
		loc:      loc,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Start blocks until ctx is cancelled. A pass that starts late is still
// safe: the per-lead markers keep it from repeating actions.
func (w *NurturingWorker) Start(ctx context.Context) {
	w.logger.WithField("schedule", w.schedule).Info("nurturing worker started")
	runAt(ctx, w.schedule, w.loc, w.now, w.runPass)
	w.logger.Info("nurturing worker shutting down")
}

// runAt calls fn at every scheduled time until ctx is cancelled.
func runAt(ctx context.Context, schedule []TimeOfDay, loc *time.Location, now func() time.Time, fn func(context.Context)) {
	for {
		next := NextRun(schedule, loc, now())
		timer := time.NewTimer(next.Sub(now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			fn(ctx)
		}
	}
}

func (w *NurturingWorker) runPass(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	actions, err := w.runner.RunPass(ctx, w.now())
	switch {
	case errors.Is(err, nurturing.ErrPassInProgress):
		w.logger.Info("previous pass still running, tick skipped")
	case err != nil:
		utils.LogError("nurturing_pass", err, map[string]interface{}{"actions": len(actions)})
	default:
		utils.LogEvent("nurturing_pass", map[string]interface{}{"actions": len(actions)})
	}
}
