// Package cli implements the check subcommand: local diagnostics for config,
// container runtime, and kernel paths.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Fix bool // if true, write default config when missing
}

// RunCheck checks config, container runtime, and paths; optionally repairs.
// Returns a process exit code.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	cfgPath := "neuroforge.json"
	if p := os.Getenv("NEUROFORGE_CONFIG"); p != "" {
		cfgPath = p
	}

	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}

	// 1. Config
	cfg, err := configLoad(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			note("Config", fmt.Sprintf("No config at %s.", cfgPath))
			if opts.Fix {
				if writeErr := configWriteDefault(cfgPath); writeErr != nil {
					fmt.Fprintf(stderr, "  failed to write default config: %v\n", writeErr)
					return 1
				}
				note("Config", fmt.Sprintf("Wrote default config to %s.", cfgPath))
			} else {
				note("Config", "Run with --fix to create a default neuroforge.json.")
			}
		} else {
			note("Config", err.Error())
			return 1
		}
	} else {
		note("Config", fmt.Sprintf("Loaded %s.", cfgPath))

		// 2. Gateway
		note("Gateway", fmt.Sprintf("port=%d", cfg.Gateway.Port))
		if cfg.Gateway.AuthToken == "" {
			note("Gateway", "Auth token is empty. Anyone who can reach the port can submit tasks.")
		}

		// 3. Sandbox
		if cfg.Kernel.RunnerURL != "" {
			note("Sandbox", fmt.Sprintf("Remote runner at %s; skipping local container runtime check.", cfg.Kernel.RunnerURL))
		} else if err := dockerAvailable(); err != nil {
			note("Sandbox", err.Error())
			note("Sandbox", "Install Docker or set kernel.runnerUrl to a remote runner.")
		} else {
			note("Sandbox", fmt.Sprintf("docker ok. network=%s concurrency=%d", cfg.Runner.Network, cfg.Runner.MaxConcurrency))
			if cfg.Runner.Network != "none" {
				note("Sandbox", fmt.Sprintf("Containers run with network %q. Use \"none\" unless tasks need egress.", cfg.Runner.Network))
			}
		}

		// 4. Paths
		if cfg.Kernel.DocsDir != "" {
			if err := ensureDir(cfg.Kernel.DocsDir, "kernel.docsDir"); err != nil {
				note("Paths", err.Error())
			} else {
				note("Paths", fmt.Sprintf("kernel.docsDir %s ok.", cfg.Kernel.DocsDir))
			}
		}
		if cfg.Runner.PipCacheDir != "" {
			if err := ensureDir(cfg.Runner.PipCacheDir, "runner.pipCacheDir"); err != nil {
				note("Paths", err.Error())
			} else {
				note("Paths", fmt.Sprintf("runner.pipCacheDir %s ok.", cfg.Runner.PipCacheDir))
			}
		}

		// 5. Memory
		note("Memory", fmt.Sprintf("db=%s embed=%s", cfg.Memory.DatabaseURL, cfg.Memory.EmbedModel))
	}

	fmt.Fprintln(stdout, "  Check complete.")
	return 0
}

func ensureDir(dir, label string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(abs, 0755); mkErr != nil {
				return fmt.Errorf("%s %q: mkdir failed: %w", label, abs, mkErr)
			}
			return nil
		}
		return fmt.Errorf("%s %q: %w", label, abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", label, abs)
	}
	return nil
}
