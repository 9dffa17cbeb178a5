// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   defaultConfigPath,
	}
}

// paramFlags are shared by every command that sends an upscale.
// Flags left unset fall back to the [upscale] section of the config.
func paramFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "scale",
			Aliases: []string{"s"},
			Usage:   "Upscale factor (2, 3 or 4)",
		},
		&cli.FloatFlag{
			Name:  "denoise",
			Usage: "Denoise strength (0.0 - 1.0)",
		},
		&cli.FloatFlag{
			Name:  "creativity",
			Usage: "Creativity (0.0 - 1.0)",
		},
		&cli.BoolFlag{
			Name:  "no-ml",
			Usage: "Skip the ML model and resize with Lanczos",
		},
	}
}

// setupCommand handles setup operations for the database and config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize the history database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config.toml populated with defaults",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
		},
	}
}

// healthCommand checks the backend.
func healthCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check backend health and model status",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "watch",
				Aliases: []string{"w"},
				Usage:   "Poll until interrupted",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval for --watch",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Health,
	}
}

// modelCommand manages the backend's ML model.
func modelCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "model",
		Usage: "Backend model operations",
		Commands: []*cli.Command{
			{
				Name:   "load",
				Usage:  "Ask the backend to load its ML model",
				Action: r.ModelLoad,
			},
		},
	}
}

func infoCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show backend version, model status and endpoints",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Info,
	}
}

// upscaleCommand upscales a single image.
func upscaleCommand(r *Runner) *cli.Command {
	flags := append(paramFlags(),
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output file path (default: {name}_{scale}x.{ext} in the output dir)",
		},
		&cli.BoolFlag{
			Name:  "open",
			Usage: "Open the result with the system viewer",
		},
		&cli.BoolFlag{
			Name:  "sync",
			Usage: "Use the blocking endpoint without progress",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Print the result as JSON",
		},
		&cli.BoolFlag{
			Name:  "no-history",
			Usage: "Do not record the upscale in the history database",
		},
	)

	return &cli.Command{
		Name:    "upscale",
		Aliases: []string{"up"},
		Usage:   "Upscale an image with live progress",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags:  flags,
		Action: r.Upscale,
	}
}

// batchCommand upscales many images with a worker pool.
func batchCommand(r *Runner) *cli.Command {
	flags := append(paramFlags(),
		&cli.StringFlag{
			Name:    "output-dir",
			Aliases: []string{"o"},
			Usage:   "Directory for results and manifest.json (default: upscaled_{timestamp})",
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Concurrent uploads (max 8)",
		},
		&cli.FloatFlag{
			Name:  "rate",
			Usage: "Upscale starts per second",
		},
		&cli.BoolFlag{
			Name:  "no-history",
			Usage: "Do not record upscales in the history database",
		},
	)

	return &cli.Command{
		Name:      "batch",
		Usage:     "Upscale several images concurrently",
		ArgsUsage: "<paths...>",
		Flags:     flags,
		Action:    r.Batch,
	}
}

// historyCommand inspects past upscales.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect recorded upscales",
		Commands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List recent upscales",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of jobs to show",
						Value:   20,
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status (processing, complete, error, canceled)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.HistoryList,
			},
			{
				Name:  "export",
				Usage: "Export history as csv, markdown or text",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (csv, markdown, txt)",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:     "output",
						Aliases:  []string{"o"},
						Usage:    "Output file path",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of jobs to export (0 for all)",
					},
				},
				Action: r.HistoryExport,
			},
		},
	}
}

// apiCommand handles direct backend calls
func apiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Direct API calls to the backend",
		Commands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Direct GET to the backend, prints raw JSON",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output compact JSON",
					},
				},
				Action: r.APIGet,
			},
			{
				Name:  "post",
				Usage: "Direct POST with JSON body",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "path",
					},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "data",
						Aliases: []string{"d"},
						Usage:   "JSON body to send",
					},
				},
				Action: r.APIPost,
			},
		},
	}
}

// mockCommand serves the mock backend.
func mockCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "mock",
		Usage: "Run a mock backend that streams fake progress",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (default from config)",
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Listen port (default from config)",
			},
			&cli.IntFlag{
				Name:  "steps",
				Usage: "Progress events per upscale",
				Value: 5,
			},
			&cli.DurationFlag{
				Name:  "delay",
				Usage: "Delay between progress events",
				Value: 200 * time.Millisecond,
			},
			&cli.BoolFlag{
				Name:  "no-ml",
				Usage: "Start with the model unloaded, exercising the fallback path",
			},
			&cli.IntFlag{
				Name:  "fail-at",
				Usage: "Send an error event at this step",
			},
			&cli.IntFlag{
				Name:  "drop-at",
				Usage: "Close the stream without a result at this step",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "Require this bearer token",
			},
		},
		Action: r.Mock,
	}
}

// tuiCommand returns the top-level TUI command for interactive upscaling.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive upscaler for an image",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "path"},
		},
		Flags: append(paramFlags(),
			&cli.StringFlag{
				Name:    "output-dir",
				Aliases: []string{"o"},
				Usage:   "Directory for saved results (default from config)",
			},
		),
		Action: r.TUI,
	}
}
