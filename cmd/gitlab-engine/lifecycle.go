package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hengadev/vault-plugin-secrets-gitlab/internal/deploy"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply every section of the manifest in dependency order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		return p.Apply(cmd.Context(), m)
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the plugin binary in Vault's plugin catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Plugin == nil {
			return fmt.Errorf("manifest has no plugin section")
		}
		return p.Register(cmd.Context(), m.Plugin)
	},
}

var mountCmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount the engine at the manifest's mount path",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Mount == nil {
			return fmt.Errorf("manifest has no mount section")
		}
		return p.EnsureMount(cmd.Context(), m.Mount, m.Plugin)
	},
}

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Switch the mounted plugin version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Tune == nil {
			return fmt.Errorf("manifest has no tune section")
		}
		return p.Tune(cmd.Context(), m.Mount.Path, m.Tune)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the plugin's running code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Reload == nil {
			return fmt.Errorf("manifest has no reload section")
		}
		return p.Reload(cmd.Context(), m.Reload)
	},
}

// setup loads the manifest and builds a pipeline over a Vault client.
func setup() (*deploy.Pipeline, *deploy.Manifest, error) {
	m, err := deploy.Load(manifestPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := newVaultClient()
	if err != nil {
		return nil, nil, err
	}
	return deploy.New(client, newLogger()), m, nil
}
