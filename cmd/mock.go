package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/desertthunder/upscaler/internal/server"
	"github.com/urfave/cli/v3"
)

// Mock serves the mock backend until interrupted.
func (r *Runner) Mock(ctx context.Context, cmd *cli.Command) error {
	host := cmd.String("host")
	if host == "" {
		host = r.config.Mock.Host
	}
	port := int(cmd.Int("port"))
	if port == 0 {
		port = r.config.Mock.Port
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	backend := server.NewMockBackend(server.MockOpts{
		Steps:  int(cmd.Int("steps")),
		Delay:  cmd.Duration("delay"),
		NoML:   cmd.Bool("no-ml"),
		FailAt: int(cmd.Int("fail-at")),
		DropAt: int(cmd.Int("drop-at")),
		Logger: r.logger,
	})
	router := server.NewMockRouter(backend, r.logger, cmd.String("token"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.writePlain("Mock backend on http://%s (Ctrl+C to stop)\n", addr)
	if err := server.Serve(ctx, addr, router, r.logger); err != nil {
		return fmt.Errorf("mock backend: %w", err)
	}
	return nil
}
