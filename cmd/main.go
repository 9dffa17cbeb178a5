package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/urfave/cli/v3"
)

const defaultConfigPath = "config.toml"

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat(defaultConfigPath); err == nil {
		if loadedConfig, err := shared.LoadConfig(defaultConfigPath); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config, using defaults", "error", err)
		}
	}
	config.ApplyEnv()

	ctx := context.Background()
	httpClient := services.NewHTTPClient(ctx, config.Credentials.APIToken)

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: defaultConfigPath,
		Backend:    services.NewUpscaleService(config.Backend.URL, httpClient),
		API:        services.NewAPIService(config.Backend.URL, httpClient),
		HTTPClient: httpClient,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "upx",
		Usage:    "Upscale images with a streaming upscaler backend",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		if errors.Is(err, shared.ErrNotImplemented) {
			logger.Warn("not implemented")
			os.Exit(0)
		}
		logger.Fatalf("application error: %v", err)
	}
}
