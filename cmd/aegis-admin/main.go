// Command aegis-admin is the operator CLI for the aegis scheduler: schema
// migration, demo seeding, and scheduled-task inspection and control.
//
// Commands that mutate tasks write straight to the database; a running
// scheduler picks the changes up on its next reconciliation sweep.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/homeshield/aegis/config"
	"github.com/homeshield/aegis/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	// Query is the global JMESPath projection applied to JSON output.
	Query string
}

const defaultMigrationTimeout = 5 * time.Minute

const defaultCommandTimeout = time.Minute

func main() {
	logger := bootstrap.InitLogger()

	globals := flag.NewFlagSet("aegis-admin", flag.ContinueOnError)
	globals.SetOutput(os.Stderr)
	query := globals.String("query", "", "JMESPath expression applied to JSON output before printing")
	if err := globals.Parse(os.Args[1:]); err != nil {
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when global flags are malformed
	}

	args := globals.Args()
	if len(args) == 0 {
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := args[0]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	if strings.TrimSpace(*query) != "" {
		if _, err := jmespath.Compile(*query); err != nil {
			logger.Error("invalid --query expression", "query", *query, "error", err)
			os.Exit(2) //nolint:forbidigo // CLI must reject malformed query expressions before doing any work
		}
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Query:  *query,
	}
	if runErr := cmd.run(cmdCtx, args[1:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"seed": {
			name:        "seed",
			description: "Run migrations and seed demo schedules",
			run:         runSeed,
		},
		"tasks": {
			name:        "tasks",
			description: "List scheduled tasks, optionally filtered by status or user",
			run:         runListTasks,
		},
		"show": {
			name:        "show",
			description: "Show one scheduled task by id",
			run:         runShowTask,
		},
		"create": {
			name:        "create",
			description: "Create a scheduled arm or disarm task",
			run:         runCreateTask,
		},
		"cancel": {
			name:        "cancel",
			description: "Cancel a scheduled task",
			run:         runCancelTask,
		},
		"activate": {
			name:        "activate",
			description: "Activate a pending or failed task",
			run:         runActivateTask,
		},
		"purge": {
			name:        "purge",
			description: "Permanently delete retired tasks older than a cutoff",
			run:         runPurgeTasks,
		},
	}
}

func printUsage() error {
	if err := writef(os.Stdout, "Usage: aegis-admin [--query EXPR] <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(os.Stdout, "Available commands:\n"); err != nil {
		return err
	}

	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(os.Stdout, "  %-12s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}

	return writef(os.Stdout, "\nGlobal flags:\n  --query      JMESPath expression applied to JSON output\n")
}

// printJSON renders a command result as indented JSON on stdout, applying
// the global --query projection when one was given. JMESPath operates on
// generic decoded values, so the document round-trips through
// encoding/json before the search.
func (cmdCtx *commandContext) printJSON(doc any) error {
	out := doc
	if expr := strings.TrimSpace(cmdCtx.Query); expr != "" {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		projected, err := jmespath.Search(expr, generic)
		if err != nil {
			return fmt.Errorf("apply --query: %w", err)
		}
		out = projected
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return writef(os.Stdout, "%s\n", encoded)
}

// withDatabase connects to the configured database, runs f with a
// signal-aware deadline context, and closes the connection afterwards.
func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(bootstrap.ConnectConfig{
		Database: cmdCtx.Config.Database,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

// guardRemoteHost refuses to run destructive operations against hosts
// that do not look local unless --allow-remote was passed, and even then
// requires typing the host name back.
func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) error {
	if !isLikelyRemoteHost(cmdCtx.Config.Database.Host) {
		return nil
	}
	if !allow {
		return fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Database.Host,
		)
	}
	return requireRemoteHostConfirmation(action, cmdCtx.Config.Database.Host)
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireRemoteHostConfirmation(action, host string) error {
	if err := writef(
		os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\n"+
			"This operation will %s.\n",
		host,
		action,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	if err := writef(os.Stderr, "Type %q to continue or press enter to abort: ", host); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stderr, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	if strings.TrimSpace(resp) != host {
		return errors.New("aborted by user")
	}
	return nil
}

// confirm prompts before a mutating operation unless --yes was passed.
func confirm(yes bool, action, target string) error {
	if yes {
		return nil
	}

	if err := writef(os.Stdout, "About to %s %s.\n", action, target); err != nil {
		return fmt.Errorf("print confirmation message: %w", err)
	}
	if err := write(os.Stdout, "Continue? [y/N]: "); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	reader := bufio.NewReader(os.Stdin)
	resp, err := reader.ReadString('\n')
	if err != nil {
		if writeErr := writef(os.Stdout, "\nFailed to read confirmation input: %v\n", err); writeErr != nil {
			return fmt.Errorf("aborted by user: report write failed: %w", writeErr)
		}
		return errors.New("aborted by user")
	}
	resp = strings.ToLower(strings.TrimSpace(resp))
	if resp == "y" || resp == "yes" {
		return nil
	}
	return errors.New("aborted by user")
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func write(w io.Writer, args ...any) error {
	_, err := fmt.Fprint(w, args...)
	return err
}
