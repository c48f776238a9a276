package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/treeapp/internal"
	"github.com/starford/treeapp/internal/mcpserver"
	pkgconfig "github.com/starford/treeapp/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadWithDefaults(cmd.String("config"), "", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// withApp opens the application for a one-shot command. Logs go to stderr
// so that command output on stdout stays machine readable.
func withApp(ctx context.Context, cmd *cli.Command, fn func(*internal.App) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	app, err := internal.Open(ctx,
		internal.WithConfig(cfg),
		internal.WithLogger(internal.NewLogger(os.Stderr, cfg.App.LogLevel)),
	)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initCmd(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *internal.App) error {
		res, err := app.Service.InitWorkspace(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.Root().Writer, res)
	})
}

func resetCmd(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("yes") {
		return fmt.Errorf("reset deletes every node; pass --yes to confirm")
	}
	return withApp(ctx, cmd, func(app *internal.App) error {
		rootID, err := app.Service.ResetWorkspace(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.Root().Writer, rootID)
		return err
	})
}

func statsCmd(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *internal.App) error {
		return printJSON(cmd.Root().Writer, app.Service.Stats(ctx))
	})
}

func checkCmd(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *internal.App) error {
		issues := app.Service.Integrity(ctx)
		for _, issue := range issues {
			fmt.Fprintln(cmd.Root().Writer, issue.String())
		}
		if len(issues) > 0 {
			return fmt.Errorf("%d integrity issue(s) found", len(issues))
		}
		fmt.Fprintln(cmd.Root().Writer, "ok")
		return nil
	})
}

func exportCmd(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *internal.App) error {
		text, err := app.Service.Export(ctx, cmd.String("id"))
		if err != nil {
			return err
		}
		_, err = io.WriteString(cmd.Root().Writer, text)
		return err
	})
}

func importCmd(ctx context.Context, cmd *cli.Command) error {
	file := cmd.Args().First()
	if file == "" {
		return fmt.Errorf("outline file is required (use - for stdin)")
	}

	var data []byte
	var err error
	if file == "-" {
		data, err = io.ReadAll(cmd.Root().Reader)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read outline: %w", err)
	}

	return withApp(ctx, cmd, func(app *internal.App) error {
		if _, err := app.Service.InitWorkspace(ctx); err != nil {
			return err
		}
		created, err := app.Service.Import(ctx, cmd.String("parent"), string(data))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.Root().Writer, strings.Join(created, "\n"))
		return err
	})
}

func queryCmd(ctx context.Context, cmd *cli.Command) error {
	expr := cmd.Args().First()
	if expr == "" {
		return fmt.Errorf("JSONPath expression is required")
	}
	return withApp(ctx, cmd, func(app *internal.App) error {
		results, err := app.Service.Query(ctx, expr)
		if err != nil {
			return err
		}
		return printJSON(cmd.Root().Writer, results)
	})
}

func mcpCmd(ctx context.Context, cmd *cli.Command) error {
	return withApp(ctx, cmd, func(app *internal.App) error {
		if _, err := app.Service.InitWorkspace(ctx); err != nil {
			return err
		}
		return mcpserver.New(app.Service, version).ServeStdio()
	})
}

func main() {
	cmd := &cli.Command{
		Name:    "treeapp",
		Usage:   "Hierarchical folder/file tree with statuses, durable JSON storage, search and MCP tools",
		Version: version,
		Action:  run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API (default)",
				Action: run,
			},
			{
				Name:   "init",
				Usage:  "Create the initial workspace if the store needs one",
				Action: initCmd,
			},
			{
				Name:  "reset",
				Usage: "Discard every node and install a fresh root",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm the reset"},
				},
				Action: resetCmd,
			},
			{
				Name:   "stats",
				Usage:  "Print node counts",
				Action: statsCmd,
			},
			{
				Name:   "check",
				Usage:  "Report hierarchy integrity issues",
				Action: checkCmd,
			},
			{
				Name:  "export",
				Usage: "Print the tree as an indented outline",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Subtree root id (default: the whole workspace)"},
				},
				Action: exportCmd,
			},
			{
				Name:      "import",
				Usage:     "Create nodes from an outline file",
				ArgsUsage: "<file|->",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "parent", Aliases: []string{"p"}, Usage: "Target folder id (default: the root)"},
				},
				Action: importCmd,
			},
			{
				Name:      "query",
				Usage:     "Evaluate a JSONPath expression against the store document",
				ArgsUsage: "<expr>",
				Action:    queryCmd,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcpCmd,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
