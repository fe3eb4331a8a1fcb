package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/cron"
	"github.com/rodmena-limited/trust5/internal/orchestrator"
	"github.com/rodmena-limited/trust5/internal/workflow"
	"github.com/spf13/cobra"
)

// loopIdleInterval is how long `trust5 loop` waits between scans of the
// workflow store when nothing is resumable.
const loopIdleInterval = 5 * time.Second

// newWorkflowID derives a stable-enough run identifier from the request
// text, since the CLI has no clock available other than wall time.
func newWorkflowID(prefix, text string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(text), "-"))
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "run"
	}
	return fmt.Sprintf("%s-%s-%d", prefix, slug, time.Now().Unix())
}

func resolveWorkspace(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return os.Getwd()
}

// buildPlanCmd runs only the planning stage and prints its output,
// without starting the write-tests/implement/validate chain - useful for
// reviewing a decomposition before committing to a full run.
func buildPlanCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Run only the planning stage for a request and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := args[0]
			workspace, err := resolveWorkspace(workspace)
			if err != nil {
				return err
			}

			engine, err := buildEngine(workspace, slog.Default())
			if err != nil {
				return err
			}
			defer engine.Close()

			out, err := engine.PlanOnly(cmd.Context(), newWorkflowID("plan", request), request)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory)")
	return cmd
}

// buildDevelopCmd runs the full pipeline for a free-text request: plan,
// write tests, implement, validate, quality-gate, review.
func buildDevelopCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "develop <request>",
		Short: "Run the full pipeline for a free-text feature request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request := args[0]
			return runPipeline(cmd, workspace, newWorkflowID("develop", request), request, "")
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory)")
	return cmd
}

// buildRunCmd runs the full pipeline against a written specification file
// instead of a one-line request.
func buildRunCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "run <spec>",
		Short: "Run the full pipeline against a specification file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specPath := args[0]
			raw, err := os.ReadFile(specPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", specPath, err)
			}
			id := newWorkflowID("run", filepath.Base(specPath))
			request := fmt.Sprintf("Implement the specification at %s", specPath)
			return runPipeline(cmd, workspace, id, request, string(raw))
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory)")
	return cmd
}

func runPipeline(cmd *cobra.Command, workspace, id, request, specText string) error {
	workspace, err := resolveWorkspace(workspace)
	if err != nil {
		return err
	}

	engine, err := buildEngine(workspace, slog.Default())
	if err != nil {
		return err
	}
	defer engine.Close()

	w, err := engine.RunSpec(cmd.Context(), id, request, specText, nil)
	if err != nil {
		return err
	}
	printWorkflowSummary(cmd, w)
	if w.Status == workflow.StatusTerminal || w.Status == workflow.StatusCanceled {
		return fmt.Errorf("pipeline %s ended in %s; run `trust5 resume` to continue", w.ID, w.Status)
	}
	return nil
}

// buildLoopCmd continuously resumes any pending workflow. By default it
// polls the store on loopIdleInterval when nothing is resumable; with
// --every it instead drives the resume check off a robfig/cron scheduler
// tick, for callers who want resumption on a calendar cadence (e.g. a
// systemd timer's worth of backoff) rather than a tight busy-poll.
func buildLoopCmd() *cobra.Command {
	var (
		workspace string
		every     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Continuously resume pending workflows until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace(workspace)
			if err != nil {
				return err
			}

			engine, err := buildEngine(workspace, slog.Default())
			if err != nil {
				return err
			}
			defer engine.Close()

			if every > 0 {
				return runScheduledLoop(cmd, engine, every)
			}

			ctx := cmd.Context()
			for {
				ids, err := engine.ListResumable(ctx)
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No pending workflows. Waiting...")
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(loopIdleInterval):
					}
					continue
				}

				w, err := engine.Resume(ctx, ids[0])
				if err != nil {
					return err
				}
				printWorkflowSummary(cmd, w)
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory)")
	cmd.Flags().DurationVar(&every, "every", 0, "Check for resumable workflows on this fixed interval via the cron scheduler, instead of tight-polling")
	return cmd
}

// runScheduledLoop registers a single synthetic "agent" cron job that,
// on every tick, resumes the oldest resumable workflow (if any) exactly
// the way the tight-poll loop above does. The scheduler - not this
// function - owns the ticking, so Ctrl-C just cancels ctx and lets
// Scheduler.Stop drain the in-flight tick.
func runScheduledLoop(cmd *cobra.Command, engine *orchestrator.Engine, every time.Duration) error {
	ctx := cmd.Context()

	runner := cron.AgentRunnerFunc(func(ctx context.Context, job *cron.Job) error {
		ids, err := engine.ListResumable(ctx)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		w, err := engine.Resume(ctx, ids[0])
		if err != nil {
			return err
		}
		printWorkflowSummary(cmd, w)
		return nil
	})

	sched, err := cron.NewScheduler(config.CronConfig{
		Enabled: true,
		Jobs: []config.CronJobConfig{{
			ID:       "loop-resume",
			Name:     "resume pending workflows",
			Enabled:  true,
			Type:     "agent",
			Schedule: config.CronScheduleConfig{Every: every},
			Message:  &config.CronMessageConfig{Content: "resume pending workflows"},
		}},
	}, cron.WithAgentRunner(runner))
	if err != nil {
		return fmt.Errorf("build scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Checking for resumable workflows every %s (Ctrl-C to stop)\n", every)
	<-ctx.Done()
	if err := sched.Stop(context.Background()); err != nil {
		return err
	}
	return ctx.Err()
}

// buildResumeCmd resumes the most recently started non-succeeded
// workflow in the workspace's store.
func buildResumeCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the most recent interrupted or failed pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace(workspace)
			if err != nil {
				return err
			}

			engine, err := buildEngine(workspace, slog.Default())
			if err != nil {
				return err
			}
			defer engine.Close()

			ids, err := engine.ListResumable(cmd.Context())
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No resumable pipeline found. Nothing to resume.")
				return nil
			}

			w, err := engine.Resume(cmd.Context(), ids[0])
			if err != nil {
				return err
			}
			printWorkflowSummary(cmd, w)
			if w.Status == workflow.StatusTerminal || w.Status == workflow.StatusCanceled {
				return fmt.Errorf("pipeline %s still in %s", w.ID, w.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory)")
	return cmd
}

func printWorkflowSummary(cmd *cobra.Command, w *workflow.Workflow) {
	fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s: %s\n", w.ID, w.Status)
	for _, s := range w.Stages {
		if s.Status == workflow.StatusSkipped {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", s.RefID, s.Status)
	}
}
