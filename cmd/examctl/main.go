// Command examctl is the operator tool: database migrations, catalog
// seeding, recovery of stuck jobs and a smoke run through the public API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/gsarma/examrunner/internal/config"
	"github.com/gsarma/examrunner/internal/dispatch"
	"github.com/gsarma/examrunner/internal/store"
	"github.com/gsarma/examrunner/sdk"
)

func main() {
	_ = config.LoadDotEnv(".env")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, failure.Sprint("error: ")+err.Error())
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "examctl",
		Usage: "operate an examrunner deployment",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "postgres connection string",
				Sources: cli.EnvVars("EXAM_DATABASE_URL", "DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "base url of the exam server",
				Value:   "http://localhost:3000",
				Sources: cli.EnvVars("EXAMCTL_SERVER"),
			},
		},
		Commands: []*cli.Command{
			migrateCommand(),
			seedCommand(),
			stuckCommand(),
			runCommand(),
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply, roll back or inspect schema migrations",
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply all pending migrations",
				Action: withMigrator(func(ctx context.Context, cmd *cli.Command, m *store.Migrator) error {
					applied, err := m.Up(ctx)
					if err != nil {
						return err
					}
					if len(applied) == 0 {
						fmt.Fprintln(cmd.Root().Writer, "schema is up to date")
					}
					for _, v := range applied {
						fmt.Fprintf(cmd.Root().Writer, "%s %05d\n", success.Sprint("applied"), v)
					}
					return nil
				}),
			},
			{
				Name:  "down",
				Usage: "roll back the most recent migration",
				Action: withMigrator(func(ctx context.Context, cmd *cli.Command, m *store.Migrator) error {
					v, err := m.Down(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.Root().Writer, "%s %05d\n", warning.Sprint("rolled back"), v)
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "list migrations and whether they are applied",
				Action: withMigrator(func(ctx context.Context, cmd *cli.Command, m *store.Migrator) error {
					st, err := m.Status(ctx)
					if err != nil {
						return err
					}
					printMigrations(cmd.Root().Writer, st)
					return nil
				}),
			},
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:      "seed",
		Usage:     "upsert exams and questions from a TOML catalog",
		ArgsUsage: "<catalog.toml>",
		Action: withStore(func(ctx context.Context, cmd *cli.Command, q store.Querier) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("missing catalog file")
			}
			return seed(ctx, q, path, cmd.Root().Writer)
		}),
	}
}

func stuckCommand() *cli.Command {
	olderThan := &cli.DurationFlag{
		Name:  "older-than",
		Usage: "only jobs claimed at least this long ago",
		Value: 10 * time.Minute,
	}
	return &cli.Command{
		Name:  "stuck",
		Usage: "find and resolve jobs left running by a worker that never reported",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list running jobs claimed before the cutoff",
				Flags: []cli.Flag{olderThan},
				Action: withStore(func(ctx context.Context, cmd *cli.Command, q store.Querier) error {
					_, err := listStuck(ctx, q, cmd.Duration("older-than"), cmd.Root().Writer)
					return err
				}),
			},
			{
				Name:  "fail",
				Usage: "mark running jobs claimed before the cutoff as failed",
				Flags: []cli.Flag{olderThan},
				Action: withStore(func(ctx context.Context, cmd *cli.Command, q store.Querier) error {
					_, err := failStuck(ctx, dispatch.NewService(q, nil, zap.NewNop()), q, cmd.Duration("older-than"), cmd.Root().Writer)
					return err
				}),
			},
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "submit a file through the public API and wait for the result",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "exam", Required: true},
			&cli.StringFlag{Name: "question", Required: true},
			&cli.StringFlag{Name: "owner", Value: "examctl"},
			&cli.StringFlag{Name: "input", Usage: "file fed to the program as input"},
			&cli.StringFlag{Name: "mode", Value: "server"},
			&cli.DurationFlag{Name: "timeout", Value: 2 * time.Minute},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("missing source file")
			}
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			req := sdk.SubmitRequest{
				OwnerID:       cmd.String("owner"),
				ExamID:        cmd.String("exam"),
				QuestionID:    cmd.String("question"),
				Code:          string(src),
				ExecutionMode: cmd.String("mode"),
			}
			if in := cmd.String("input"); in != "" {
				b, err := os.ReadFile(in)
				if err != nil {
					return err
				}
				req.Input = string(b)
			}
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			res, err := runAndWait(ctx, sdk.New(cmd.String("server")), req, time.Second, cmd.Root().Writer)
			if err != nil {
				return err
			}
			if res.Status == sdk.StatusFailed {
				return cli.Exit("", 2)
			}
			return nil
		},
	}
}

func withStore(fn func(ctx context.Context, cmd *cli.Command, q store.Querier) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		pool, err := connect(ctx, cmd)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, cmd, store.New(pool))
	}
}

func withMigrator(fn func(ctx context.Context, cmd *cli.Command, m *store.Migrator) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		pool, err := connect(ctx, cmd)
		if err != nil {
			return err
		}
		defer pool.Close()
		m, err := store.NewMigrator(pool)
		if err != nil {
			return err
		}
		defer m.Close()
		return fn(ctx, cmd, m)
	}
}

func connect(ctx context.Context, cmd *cli.Command) (*pgxpool.Pool, error) {
	url := cmd.String("database-url")
	if url == "" {
		return nil, errors.New("--database-url (or EXAM_DATABASE_URL) is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return pool, nil
}
