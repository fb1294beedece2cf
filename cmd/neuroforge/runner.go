package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"neuroforge/internal/banner"
	"neuroforge/internal/gateway"
	"neuroforge/internal/metrics"
	"neuroforge/internal/sandbox"
)

// runnerShutdownCh is set by tests to unblock runRunner without signals.
var runnerShutdownCh <-chan struct{}

// runRunner starts the sandbox runner service: the /run endpoint plus the
// stale-container reaper. If shutdownCh is non-nil, it returns when the
// channel is closed (for tests). Otherwise it blocks on OS signals.
func runRunner(cmd *cobra.Command, shutdownCh <-chan struct{}) error {
	cfg, logger, loaded := loadConfigAndLogger()
	banner.Startup(getVersion(), nil)
	if !loaded {
		fmt.Println("  (no config file, using defaults)")
	}

	cli := sandbox.NewDockerCLI()
	runner, err := sandbox.NewRunner(cli, cfg.Runner, logger)
	if err != nil {
		return fmt.Errorf("sandbox runner: %w", err)
	}

	if cfg.Runner.WarmImages {
		if warmer, err := sandbox.NewImageWarmer(logger); err != nil {
			logger.Warn("image warmer unavailable", "error", err)
		} else {
			warmer.WarmAll(context.Background(), cfg.Runner.Images)
			_ = warmer.Close()
		}
	}

	svc, err := gateway.NewRunnerService(runner, metrics.New(), logger)
	if err != nil {
		return fmt.Errorf("runner service: %w", err)
	}
	srv, err := gateway.NewServer(cfg.Runner.Port, cfg.Gateway.AuthToken, svc.Routes())
	if err != nil {
		return err
	}

	gatewayShutdown := make(chan struct{})
	go func() {
		_ = srv.Run(gatewayShutdown)
	}()
	var bound string
	for i := 0; i < serveBindWaitIterations; i++ {
		if a := srv.Addr(); a != "" {
			bound = a
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if bound != "" {
		fmt.Printf("  listen %s\n  ready.\n", bound)
	} else {
		if err := srv.ListenErr(); err != nil {
			fmt.Fprintf(serveBindErrWriter, "  runner failed to bind: %v\n", err)
		} else {
			fmt.Fprintln(serveBindErrWriter, "  runner failed to bind (check port or permissions)")
		}
	}

	sched := startReaper(cfg.Kernel.ReapSchedule, cli, logger)

	if shutdownCh != nil {
		<-shutdownCh
	} else {
		waitForShutdown()
	}
	if sched != nil {
		sched.Stop()
	}
	close(gatewayShutdown)
	return nil
}
