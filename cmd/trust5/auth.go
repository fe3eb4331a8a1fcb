package main

import (
	"fmt"
	"os"

	"github.com/rodmena-limited/trust5/internal/cliauth"
	"github.com/spf13/cobra"
)

func openCLIAuthStore() (*cliauth.Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return cliauth.Open(home)
}

// cliauthProviderKey maps a CLI-facing provider name (claude/google/ollama)
// to the llm.Gateway/config provider key it's registered under.
func cliauthProviderKey(cliName string) string {
	return cliauth.ProviderKey(cliName)
}

func presetAPIKeyEnv(cliProvider string) string {
	switch cliProvider {
	case "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "google":
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return os.Getenv("TRUST5_API_KEY")
	}
}

func buildLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Store a credential for an LLM provider (claude, google, ollama)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			store, err := openCLIAuthStore()
			if err != nil {
				return err
			}
			preset := presetAPIKeyEnv(name)
			rec, err := cliauth.Login(store, name, cmd.InOrStdin(), cmd.OutOrStdout(), headless, preset)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", rec.Provider)
			return nil
		},
	}
	return cmd
}

func buildLogoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logout [provider]",
		Short: "Remove a stored provider credential, or all of them if none is named",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCLIAuthStore()
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 1 {
				name = args[0]
				if !cliauth.IsKnownProvider(name) {
					return fmt.Errorf("unknown provider %q (want one of %v)", name, cliauth.KnownProviders)
				}
			}
			if err := store.Delete(name); err != nil {
				return err
			}
			if name == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out of all providers")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", name)
			}
			return nil
		},
	}
	return cmd
}

func buildAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth-status",
		Short: "Show which providers have a stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCLIAuthStore()
			if err != nil {
				return err
			}
			records, err := store.Load()
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No providers logged in. Run `trust5 login <provider>`.")
				return nil
			}
			for _, p := range cliauth.KnownProviders {
				rec, ok := records[p]
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-10s not logged in\n", p)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s logged in since %s\n", p, rec.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	return cmd
}
