// gitlab-engine deploys and operates the GitLab secrets engine on a Vault
// server: plugin registration, mounting, tuning, reload, configuration,
// token rotation, and role definition.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hashicorp/vault/api"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var manifestPath string

var rootCmd = &cobra.Command{
	Use:   "gitlab-engine",
	Short: "Deploy and operate the GitLab secrets engine on a Vault server.",
	Long: `gitlab-engine drives the lifecycle of the GitLab secrets engine against
Vault's API: register the plugin binary, mount it, tune the mounted
version, reload running plugin code, write the engine configuration,
rotate the bootstrap token, and define issuance roles.

Vault address and token come from the usual VAULT_ADDR and VAULT_TOKEN
environment variables (a .env file is honored).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "gitlab-engine.yaml", "path to the deployment manifest")
	rootCmd.AddCommand(applyCmd, registerCmd, mountCmd, tuneCmd, reloadCmd, configureCmd, rotateCmd, rolesCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the JSON logger every command logs through.
func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// newVaultClient builds a Vault API client from the environment.
func newVaultClient() (*api.Client, error) {
	cfg := api.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("reading Vault environment: %w", err)
	}
	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("no Vault token; set VAULT_TOKEN")
	}
	return client, nil
}
