// Command ledgerctl runs schema migrations and triggers maintenance jobs.
//
//	ledgerctl migrate up|down [n]|version|force <v>
//	ledgerctl jobs trigger <task>|stats|scheduled
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/odyssey-erp/branch-ledger/cmd/ledgerctl/cli"
	"github.com/odyssey-erp/branch-ledger/internal/app"
	"github.com/odyssey-erp/branch-ledger/internal/platform/db"
	"github.com/odyssey-erp/branch-ledger/migrations"
)

const usage = `usage:
  ledgerctl migrate up|down [n]|version|force <version>
  ledgerctl jobs trigger <task>|stats|scheduled`

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(context.Background(), cfg, logger, os.Args[1:]); err != nil {
		logger.Error("ledgerctl", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return errors.New(usage)
	}
	switch args[0] {
	case "migrate":
		return runMigrate(cfg, logger, args[1:])
	case "jobs":
		return runJobs(ctx, cfg, args[1:])
	default:
		return errors.New(usage)
	}
}

func runMigrate(cfg *app.Config, logger *slog.Logger, args []string) error {
	m, err := db.NewMigrator(migrations.FS, cfg.PGDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
	}()
	switch args[0] {
	case "up":
		return m.Up()
	case "down":
		n := 1
		if len(args) > 1 {
			if n, err = strconv.Atoi(args[1]); err != nil {
				return fmt.Errorf("invalid step count %q", args[1])
			}
		}
		return m.Down(n)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", version, dirty)
		return nil
	case "force":
		if len(args) < 2 {
			return errors.New("force needs a version")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[1])
		}
		return m.Force(v)
	default:
		return errors.New(usage)
	}
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
	defer jobsCLI.Close()
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("trigger needs a task type")
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	default:
		return errors.New(usage)
	}
}
