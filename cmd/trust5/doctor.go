package main

import (
	"fmt"
	"path/filepath"

	"github.com/rodmena-limited/trust5/internal/security"
	"github.com/spf13/cobra"
)

// buildDoctorCmd audits the workspace's state directory and config file
// permissions - catching a world-readable trust5.yaml (which may hold a
// provider API key) or an overly-permissive .trust5 state dir before a
// shared or multi-tenant host turns that into a real leak.
func buildDoctorCmd() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Audit the workspace's state directory and config file permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := resolveWorkspace(workspace)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(workspace)
			if err != nil {
				return err
			}

			report, err := security.RunAudit(security.AuditOptions{
				StateDir:          filepath.Join(workspace, cfg.Workspace.StateDir),
				ConfigPath:        resolveConfigPath(workspace),
				Config:            cfg,
				IncludeFilesystem: true,
			})
			if err != nil {
				return fmt.Errorf("audit: %w", err)
			}

			if len(report.Findings) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No findings.")
				return nil
			}

			for _, f := range report.Findings {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n", f.Severity, f.Title, f.Detail)
				if f.Remediation != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "    fix: %s\n", f.Remediation)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d critical, %d warn, %d info\n",
				report.Summary.Critical, report.Summary.Warn, report.Summary.Info)

			if report.HasCritical() {
				return fmt.Errorf("security audit found critical findings")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory)")
	return cmd
}
