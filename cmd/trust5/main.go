// Package main provides the CLI entry point for trust5, an autonomous
// code-generation pipeline: plan -> write tests -> implement -> validate
// -> quality-gate -> review, with jump-based repair loops at every stage
// that can fail.
//
// # Basic usage
//
//	trust5 init
//	trust5 login claude
//	trust5 develop "add a rate limiter to the HTTP middleware stack"
//	trust5 run spec.md
//	trust5 watch
//
// # Environment variables
//
//   - TRUST5_WORKSPACE: project root (default: current directory)
//   - TRUST5_CONFIG: path to trust5.yaml (default: <workspace>/trust5.yaml)
//   - ANTHROPIC_API_KEY, GOOGLE_API_KEY: provider credentials, read when
//     no token is stored via `trust5 login`
//   - TRUST5_API_KEY: preset credential for --headless login
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

var (
	provider string
	headless bool
	configPath string
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "trust5",
		Short:   "Autonomous code-generation pipeline engine",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Long: `trust5 drives a request through a bounded pipeline of LLM-backed
stages - plan, setup, write tests, implement, validate, quality, review -
repairing itself by jumping back to earlier stages when a check fails,
until the module passes or a jump budget is exhausted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&provider, "provider", "", "LLM provider to use (claude, google, ollama); overrides the configured default")
	root.PersistentFlags().BoolVar(&headless, "headless", false, "Never prompt on stdin; fail instead of waiting for interactive input")
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to trust5.yaml (default: <workspace>/trust5.yaml)")

	root.AddCommand(
		buildInitCmd(),
		buildLoginCmd(),
		buildLogoutCmd(),
		buildAuthStatusCmd(),
		buildPlanCmd(),
		buildDevelopCmd(),
		buildRunCmd(),
		buildLoopCmd(),
		buildResumeCmd(),
		buildWatchCmd(),
		buildDoctorCmd(),
	)

	return root
}
