package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func resolveConfigPath(workspace string) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(workspace, "trust5.yaml")
}

func buildInitCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold trust5.yaml and the .trust5 state directory in a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				workspace = wd
			}

			path := resolveConfigPath(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists, leaving it untouched\n", path)
			} else {
				cfg := config.Config{Workspace: config.WorkspaceConfig{Path: workspace}}
				cfg.LLM.DefaultProvider = "anthropic"
				if provider != "" {
					cfg.LLM.DefaultProvider = cliauthProviderKey(provider)
				}

				raw, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("marshal default config: %w", err)
				}
				if err := os.WriteFile(path, raw, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			}

			stateDir := filepath.Join(workspace, ".trust5")
			if err := os.MkdirAll(stateDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", stateDir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", stateDir)
			fmt.Fprintln(cmd.OutOrStdout(), "Next: trust5 login <provider>, then trust5 develop \"<request>\"")
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root to initialize (default: current directory)")
	return cmd
}
