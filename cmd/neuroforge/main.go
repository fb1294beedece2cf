// Command neuroforge is the single binary for the code-execution service:
// `serve` runs the kernel API, `runner` runs the sandbox runner service, and
// `check` diagnoses the local setup.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

// version is set at build time via ldflags, e.g.:
//
//	go build -ldflags "-X main.version=1.2.0" -o neuroforge ./cmd/neuroforge
var version string

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// buildMeta holds version and build metadata.
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("neuroforge %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// exitCodeErr carries a process exit code through cobra's error return.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

func newRootCommand(bm buildMeta) *cobra.Command {
	root := &cobra.Command{
		Use:   "neuroforge",
		Short: "Self-improving code execution service",
		Long:  "NeuroForge turns natural-language tasks into sandboxed programs, repairing them until they run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the kernel API: orchestrator, memory, and transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, serveShutdownCh)
		},
	}
	root.AddCommand(serveCmd)

	runnerCmd := &cobra.Command{
		Use:   "runner",
		Short: "Run the sandbox runner service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunner(cmd, runnerShutdownCh)
		},
	}
	root.AddCommand(runnerCmd)

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config and container runtime availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			code := runCheck(cmd.OutOrStdout(), cmd.ErrOrStderr(), fix)
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config if missing")
	root.AddCommand(checkCmd)

	return root
}

// runApp runs the root command with the given args and returns the process exit code.
func runApp(args []string) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	if err := root.Execute(); err != nil {
		if ec, ok := err.(interface{ ExitCode() int }); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
