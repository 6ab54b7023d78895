package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/RealZimboGuy/rpaflow/internal/actions"
	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/internal/controllers"
	"github.com/RealZimboGuy/rpaflow/internal/definition"
	"github.com/RealZimboGuy/rpaflow/internal/repository"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
	"github.com/urfave/cli/v3"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the engine, the scheduler and the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "port",
				Usage:   "HTTP listen port",
				Sources: cli.EnvVars(config.ENGINE_SERVER_WEB_PORT),
			},
			&cli.StringFlag{
				Name:    "workers",
				Usage:   "runs executed in parallel",
				Sources: cli.EnvVars(config.ENGINE_EXECUTOR_SIZE),
			},
			&cli.StringFlag{
				Name:    "executor-name",
				Usage:   "name recorded for this executor",
				Sources: cli.EnvVars(config.EXECUTOR_NAME),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			exportFlags(cmd, map[string]string{
				"port":          config.ENGINE_SERVER_WEB_PORT,
				"workers":       config.ENGINE_EXECUTOR_SIZE,
				"executor-name": config.EXECUTOR_NAME,
			})
			return rpaflow.Start(ctx, nil)
		},
	}
}

func newRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Execute a workflow definition once and print the result",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("run: a definition file is required")
			}
			db, err := repository.Open()
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			run, err := rpaflow.RunFile(ctx, db, action.NewRegistry(), path)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(models.NewRunApiResponse(run)); err != nil {
				return err
			}
			if run.Status != domain.RunSucceeded {
				return cli.Exit("run finished with status "+string(run.Status), 2)
			}
			return nil
		},
	}
}

func newValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a workflow definition without running it",
		ArgsUsage: "<file>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("validate: a definition file is required")
			}
			doc, err := definition.ParseFile(path)
			if err != nil {
				return err
			}
			registry := action.NewRegistry()
			if err := actions.RegisterBuiltins(registry, core.NewRealClock(), nil); err != nil {
				return err
			}
			if err := doc.Validate(registry); err != nil {
				var defErr *definition.Error
				if errors.As(err, &defErr) {
					for _, p := range defErr.Problems {
						fmt.Fprintln(os.Stderr, "  -", p)
					}
					return cli.Exit(fmt.Sprintf("%s: %d problem(s)", path, len(defErr.Problems)), 1)
				}
				return err
			}
			fmt.Printf("%s: workflow %q is valid (%d steps)\n", path, doc.Name, len(doc.Steps))
			return nil
		},
	}
}

func newInitCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write an example workflow definition",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				path = "workflow.yaml"
			}
			if _, err := os.Stat(path); err == nil && !cmd.Bool("force") {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			data, err := definition.Example().Encode(path)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Printf("Wrote example workflow to %s\n", path)
			return nil
		},
	}
}

func newHashKeyCommand() *cli.Command {
	return &cli.Command{
		Name:      "hash-key",
		Usage:     "Print the bcrypt hash of an API key for " + config.API_KEY_HASH,
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			hash, err := controllers.HashAPIKey(cmd.Args().First())
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
