// Package devseed installs a small set of demo arm/disarm schedules for
// local development. Seeding is idempotent: every record carries a fixed
// id and existing records are left untouched, so local edits survive a
// re-seed.
package devseed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/domain/model"
	"github.com/homeshield/aegis/internal/domain/schedule"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

// DemoUserID owns every seeded schedule.
const DemoUserID = "demo-user"

// Deps bundles the dependencies needed for development seeding.
type Deps struct {
	Repo core.TaskRepository
	Time data.TimeProvider
}

// Run installs the demo schedules. Schedules that already exist are
// skipped; individual failures are logged and counted rather than
// aborting the run.
func Run(ctx context.Context, deps Deps, logger *slog.Logger) error {
	if deps.Repo == nil {
		return apperrors.Validation("task repository is required")
	}
	tp := deps.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	failures := 0
	for _, spec := range demoSchedules() {
		created, err := seedSchedule(ctx, deps.Repo, tp, spec)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to seed schedule", "id", spec.id, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "schedule already exists"
			if created {
				msg = "created schedule"
			}
			logger.InfoContext(ctx, msg, "id", spec.id)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

type demoSchedule struct {
	id        string
	kind      model.ActionKind
	mode      model.ArmMode
	zoneIDs   []string
	days      string
	timeOfDay string
	zone      string
}

func demoSchedules() []demoSchedule {
	return []demoSchedule{
		{
			id:        "seed-arm-nightly",
			kind:      model.ActionArmSystem,
			mode:      model.ArmModeStay,
			days:      "everyday",
			timeOfDay: "22:30",
			zone:      "America/New_York",
		},
		{
			id:        "seed-disarm-weekday-morning",
			kind:      model.ActionDisarmSystem,
			days:      "weekdays",
			timeOfDay: "6:45 AM",
			zone:      "America/New_York",
		},
		{
			id:        "seed-arm-weekday-daytime",
			kind:      model.ActionArmSystem,
			mode:      model.ArmModeAway,
			zoneIDs:   []string{"zone-front-door", "zone-back-door", "zone-garage"},
			days:      "weekdays",
			timeOfDay: "8:30 AM",
			zone:      "America/New_York",
		},
		{
			id:        "seed-disarm-weekend-morning",
			kind:      model.ActionDisarmSystem,
			days:      "weekends",
			timeOfDay: "9:00 AM",
			zone:      "America/New_York",
		},
	}
}

// seedSchedule creates one demo schedule unless it already exists.
// Returns true when a new record was created.
func seedSchedule(ctx context.Context, repo core.TaskRepository, tp data.TimeProvider, spec demoSchedule) (bool, error) {
	exists, err := repo.Exists(ctx, spec.id)
	if err != nil {
		return false, fmt.Errorf("check schedule %s: %w", spec.id, err)
	}
	if exists {
		return false, nil
	}

	expr, err := schedule.ParseExpression(spec.days, spec.timeOfDay, spec.zone)
	if err != nil {
		return false, fmt.Errorf("parse expression for %s: %w", spec.id, err)
	}

	now := tp.Now()
	var task *model.ScheduledTask
	switch spec.kind {
	case model.ActionArmSystem:
		task, err = model.NewArmTask(DemoUserID, expr, spec.mode, spec.zoneIDs, now)
	case model.ActionDisarmSystem:
		task, err = model.NewDisarmTask(DemoUserID, expr, spec.zoneIDs, now)
	default:
		return false, apperrors.Validationf("unknown demo action kind %q", spec.kind)
	}
	if err != nil {
		return false, fmt.Errorf("build schedule %s: %w", spec.id, err)
	}

	// Fixed ids keep re-seeding idempotent.
	task.ID = spec.id
	if activateErr := task.Activate(now); activateErr != nil {
		return false, fmt.Errorf("activate schedule %s: %w", spec.id, activateErr)
	}

	if _, saveErr := repo.Save(ctx, task); saveErr != nil {
		return false, fmt.Errorf("save schedule %s: %w", spec.id, saveErr)
	}
	return true, nil
}
