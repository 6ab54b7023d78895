package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "rpaflow",
		Usage: "Run scheduled automation workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "debug, info, warn or error",
				Value:   "info",
				Sources: cli.EnvVars(config.LOG_LEVEL),
			},
			&cli.StringFlag{
				Name:    "database-type",
				Usage:   "POSTGRES, MYSQL or SQLLITE",
				Sources: cli.EnvVars(config.DATABASE_TYPE),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "connection URL for POSTGRES and MYSQL",
				Sources: cli.EnvVars(config.DATABASE_URL),
			},
			&cli.StringFlag{
				Name:    "sqlite-file",
				Usage:   "database file for SQLLITE",
				Sources: cli.EnvVars(config.DATABASE_SQLLITE_FILE_NAME),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			exportFlags(cmd, map[string]string{
				"database-type": config.DATABASE_TYPE,
				"database-url":  config.DATABASE_URL,
				"sqlite-file":   config.DATABASE_SQLLITE_FILE_NAME,
			})
			rpaflow.SetupLogger(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			newServeCommand(),
			newRunCommand(),
			newValidateCommand(),
			newInitCommand(),
			newHashKeyCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("rpaflow exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}

// exportFlags copies explicitly set flags into the environment, which is
// where internal/config reads its settings.
func exportFlags(cmd *cli.Command, envByFlag map[string]string) {
	for flag, env := range envByFlag {
		if cmd.IsSet(flag) {
			_ = os.Setenv(env, cmd.String(flag))
		}
	}
}
