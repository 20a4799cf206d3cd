package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/homeshield/aegis/internal/bootstrap"
	"github.com/homeshield/aegis/internal/data"
	"github.com/homeshield/aegis/internal/devseed"
	"github.com/homeshield/aegis/internal/domain/model"
	"github.com/homeshield/aegis/internal/domain/schedule"
)

type migrateOptions struct {
	Timeout time.Duration
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.ConnectConfig{
		Database: cmdCtx.Config.Database,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	cmdCtx.Logger.Info("running database migrations")

	if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
		return fmt.Errorf("run migrations: %w", migrateErr)
	}

	cmdCtx.Logger.Info("migrations completed successfully")
	return nil
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}

	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type seedOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

func runSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}

	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "seed demo schedules on the configured database"); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		cmdCtx.Logger.Info("seeding demo schedules")
		deps := devseed.Deps{Repo: data.NewPostgresTaskRepo(db), Time: &data.RealTimeProvider{}}
		if seedErr := devseed.Run(ctx, deps, cmdCtx.Logger); seedErr != nil {
			return fmt.Errorf("seed demo schedules: %w", seedErr)
		}

		cmdCtx.Logger.Info("database seeding completed successfully")
		return nil
	})
}

func parseSeedFlags(args []string) (seedOptions, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := seedOptions{
		Timeout: defaultMigrationTimeout,
	}

	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for seeding to complete",
	)
	fs.BoolVar(
		&opts.AllowRemote,
		"allow-remote",
		false,
		"Permit running against database hosts that do not look local",
	)

	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}

	if opts.Timeout <= 0 {
		return seedOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type tasksOptions struct {
	Status  model.Status
	User    string
	Limit   int
	Timeout time.Duration
}

// taskListDocument is the JSON document printed by the tasks command.
type taskListDocument struct {
	Count int                    `json:"count"`
	Tasks []*model.ScheduledTask `json:"tasks"`
}

func runListTasks(cmdCtx *commandContext, args []string) error {
	opts, err := parseTasksFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		tasks, listErr := data.NewTaskAdminRepo(db).List(ctx, data.TaskListFilter{
			Status: opts.Status,
			UserID: opts.User,
			Limit:  opts.Limit,
		})
		if listErr != nil {
			return listErr
		}
		if tasks == nil {
			tasks = []*model.ScheduledTask{}
		}
		return cmdCtx.printJSON(taskListDocument{Count: len(tasks), Tasks: tasks})
	})
}

func parseTasksFlags(args []string) (tasksOptions, error) {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := tasksOptions{
		Timeout: defaultCommandTimeout,
	}
	var statusRaw string

	fs.StringVar(&statusRaw, "status", "", "Filter by task status (PENDING, ACTIVE, COMPLETED, CANCELLED, FAILED)")
	fs.StringVar(&opts.User, "user", "", "Filter by owning user id")
	fs.IntVar(&opts.Limit, "limit", 100, "Maximum number of tasks to return (0 for no limit)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the listing")

	if err := fs.Parse(args); err != nil {
		return tasksOptions{}, err
	}

	if strings.TrimSpace(statusRaw) != "" {
		if err := opts.Status.UnmarshalText([]byte(statusRaw)); err != nil {
			return tasksOptions{}, err
		}
	}
	if opts.Limit < 0 {
		return tasksOptions{}, errors.New("--limit cannot be negative")
	}
	if opts.Timeout <= 0 {
		return tasksOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type showOptions struct {
	ID      string
	Timeout time.Duration
}

func runShowTask(cmdCtx *commandContext, args []string) error {
	opts, err := parseShowFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		task, findErr := data.NewPostgresTaskRepo(db).FindByID(ctx, opts.ID)
		if findErr != nil {
			return findErr
		}
		return cmdCtx.printJSON(task)
	})
}

func parseShowFlags(args []string) (showOptions, error) {
	id, rest := splitLeadingID(args)

	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := showOptions{
		ID:      id,
		Timeout: defaultCommandTimeout,
	}

	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the lookup")

	if err := fs.Parse(rest); err != nil {
		return showOptions{}, err
	}

	if opts.ID == "" {
		return showOptions{}, errors.New("task id argument is required")
	}
	if opts.Timeout <= 0 {
		return showOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type createOptions struct {
	User     string
	Action   string
	Mode     string
	Zones    string
	Days     string
	Time     string
	TZ       string
	Activate bool
	Timeout  time.Duration
}

func runCreateTask(cmdCtx *commandContext, args []string) error {
	opts, err := parseCreateFlags(args)
	if err != nil {
		return err
	}

	task, err := buildTask(opts, time.Now())
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		stored, saveErr := data.NewPostgresTaskRepo(db).Save(ctx, task)
		if saveErr != nil {
			return saveErr
		}
		cmdCtx.Logger.Info("task created", "id", stored.ID, "status", stored.Status)
		return cmdCtx.printJSON(stored)
	})
}

// buildTask assembles the new task from the create flags. The task is
// activated unless --activate=false left it PENDING.
func buildTask(opts createOptions, now time.Time) (*model.ScheduledTask, error) {
	expr, err := schedule.ParseExpression(opts.Days, opts.Time, opts.TZ)
	if err != nil {
		return nil, err
	}

	zoneIDs := splitZones(opts.Zones)

	var task *model.ScheduledTask
	switch strings.ToLower(strings.TrimSpace(opts.Action)) {
	case "arm":
		var mode model.ArmMode
		if modeErr := mode.UnmarshalText([]byte(opts.Mode)); modeErr != nil {
			return nil, modeErr
		}
		task, err = model.NewArmTask(opts.User, expr, mode, zoneIDs, now)
	case "disarm":
		task, err = model.NewDisarmTask(opts.User, expr, zoneIDs, now)
	default:
		return nil, fmt.Errorf("unknown action %q (want arm or disarm)", opts.Action)
	}
	if err != nil {
		return nil, err
	}

	if opts.Activate {
		if activateErr := task.Activate(now); activateErr != nil {
			return nil, activateErr
		}
	}

	return task, nil
}

func parseCreateFlags(args []string) (createOptions, error) {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := createOptions{
		Timeout: defaultCommandTimeout,
	}

	fs.StringVar(&opts.User, "user", "", "Owning user id (required)")
	fs.StringVar(&opts.Action, "action", "", "Action to schedule: arm or disarm (required)")
	fs.StringVar(&opts.Mode, "mode", "away", "Arm mode: away or stay (arm only)")
	fs.StringVar(&opts.Zones, "zones", "", "Comma-separated zone ids")
	fs.StringVar(&opts.Days, "days", "", "Comma-separated days or a group: MON,WED / weekdays / weekends / everyday (required)")
	fs.StringVar(&opts.Time, "time", "", `Time of day, e.g. "21:30", "9:00 PM", "noon" (required)`)
	fs.StringVar(&opts.TZ, "tz", "", "IANA timezone (defaults to UTC)")
	fs.BoolVar(&opts.Activate, "activate", true, "Activate the task immediately (false leaves it PENDING)")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the create")

	if err := fs.Parse(args); err != nil {
		return createOptions{}, err
	}

	if strings.TrimSpace(opts.User) == "" {
		return createOptions{}, errors.New("--user is required")
	}
	if strings.TrimSpace(opts.Action) == "" {
		return createOptions{}, errors.New("--action is required (arm or disarm)")
	}
	if strings.TrimSpace(opts.Days) == "" {
		return createOptions{}, errors.New("--days is required")
	}
	if strings.TrimSpace(opts.Time) == "" {
		return createOptions{}, errors.New("--time is required")
	}
	if opts.Timeout <= 0 {
		return createOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type cancelOptions struct {
	ID      string
	Reason  string
	Yes     bool
	Timeout time.Duration
}

func runCancelTask(cmdCtx *commandContext, args []string) error {
	opts, err := parseCancelFlags(args)
	if err != nil {
		return err
	}

	if confirmErr := confirm(opts.Yes, "cancel scheduled task", opts.ID); confirmErr != nil {
		return confirmErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewPostgresTaskRepo(db)
		task, findErr := repo.FindByID(ctx, opts.ID)
		if findErr != nil {
			return findErr
		}
		if cancelErr := task.Cancel(opts.Reason, time.Now()); cancelErr != nil {
			return cancelErr
		}
		stored, saveErr := repo.Save(ctx, task)
		if saveErr != nil {
			return saveErr
		}
		cmdCtx.Logger.Info("task cancelled", "id", stored.ID)
		return cmdCtx.printJSON(stored)
	})
}

func parseCancelFlags(args []string) (cancelOptions, error) {
	id, rest := splitLeadingID(args)

	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := cancelOptions{
		ID:      id,
		Timeout: defaultCommandTimeout,
	}

	fs.StringVar(&opts.Reason, "reason", "", "Reason recorded on the cancelled task")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the cancel")

	if err := fs.Parse(rest); err != nil {
		return cancelOptions{}, err
	}

	if opts.ID == "" {
		return cancelOptions{}, errors.New("task id argument is required")
	}
	if opts.Timeout <= 0 {
		return cancelOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type activateOptions struct {
	ID      string
	Timeout time.Duration
}

func runActivateTask(cmdCtx *commandContext, args []string) error {
	opts, err := parseActivateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		repo := data.NewPostgresTaskRepo(db)
		task, findErr := repo.FindByID(ctx, opts.ID)
		if findErr != nil {
			return findErr
		}
		if activateErr := task.Activate(time.Now()); activateErr != nil {
			return activateErr
		}
		stored, saveErr := repo.Save(ctx, task)
		if saveErr != nil {
			return saveErr
		}
		cmdCtx.Logger.Info("task activated", "id", stored.ID, "next_execution_time", stored.NextExecutionTime)
		return cmdCtx.printJSON(stored)
	})
}

func parseActivateFlags(args []string) (activateOptions, error) {
	id, rest := splitLeadingID(args)

	fs := flag.NewFlagSet("activate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := activateOptions{
		ID:      id,
		Timeout: defaultCommandTimeout,
	}

	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the activate")

	if err := fs.Parse(rest); err != nil {
		return activateOptions{}, err
	}

	if opts.ID == "" {
		return activateOptions{}, errors.New("task id argument is required")
	}
	if opts.Timeout <= 0 {
		return activateOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

type purgeOptions struct {
	OlderThan   time.Duration
	Statuses    []model.Status
	Yes         bool
	AllowRemote bool
	Timeout     time.Duration
}

// purgeDocument is the JSON document printed by the purge command.
type purgeDocument struct {
	Deleted int64     `json:"deleted"`
	Cutoff  time.Time `json:"cutoff"`
}

func runPurgeTasks(cmdCtx *commandContext, args []string) error {
	opts, err := parsePurgeFlags(args)
	if err != nil {
		return err
	}

	if guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "permanently delete retired tasks from the configured database"); guardErr != nil {
		return guardErr
	}
	if confirmErr := confirm(opts.Yes, "permanently delete retired tasks older than", opts.OlderThan.String()); confirmErr != nil {
		return confirmErr
	}

	cutoff := time.Now().Add(-opts.OlderThan)
	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		deleted, purgeErr := data.NewTaskAdminRepo(db).Purge(ctx, data.PurgeFilter{
			Before:   cutoff,
			Statuses: opts.Statuses,
		})
		if purgeErr != nil {
			return purgeErr
		}
		cmdCtx.Logger.Info("tasks purged", "deleted", deleted, "cutoff", cutoff)
		return cmdCtx.printJSON(purgeDocument{Deleted: deleted, Cutoff: cutoff})
	})
}

func parsePurgeFlags(args []string) (purgeOptions, error) {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := purgeOptions{
		Timeout: defaultCommandTimeout,
	}
	var statusRaw string

	fs.DurationVar(&opts.OlderThan, "older-than", 0, "Purge tasks last updated more than this long ago, e.g. 720h (required)")
	fs.StringVar(&statusRaw, "status", "", "Comma-separated statuses to purge; defaults to COMPLETED,CANCELLED (FAILED must be named)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against database hosts that do not look local")
	fs.DurationVar(&opts.Timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the purge")

	if err := fs.Parse(args); err != nil {
		return purgeOptions{}, err
	}

	if opts.OlderThan <= 0 {
		return purgeOptions{}, errors.New("--older-than must be greater than zero")
	}
	for _, part := range strings.Split(statusRaw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		var status model.Status
		if err := status.UnmarshalText([]byte(trimmed)); err != nil {
			return purgeOptions{}, err
		}
		opts.Statuses = append(opts.Statuses, status)
	}
	if opts.Timeout <= 0 {
		return purgeOptions{}, errors.New("--timeout must be greater than zero")
	}

	return opts, nil
}

// splitLeadingID pulls a positional id off the front of the argument list
// so commands read as "aegis-admin cancel <id> --reason ...".
func splitLeadingID(args []string) (string, []string) {
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		return strings.TrimSpace(args[0]), args[1:]
	}
	return "", args
}

// splitZones turns a comma-separated zone list into ids, dropping blanks.
func splitZones(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
