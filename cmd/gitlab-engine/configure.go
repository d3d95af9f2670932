package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var rotateSchedule string

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the engine configuration from the manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Config == nil {
			return fmt.Errorf("manifest has no config section")
		}
		return p.Configure(cmd.Context(), m.Mount.Path, m.Config)
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Rotate the engine's active token, once or on a cron schedule",
	Long: `Rotate the active token immediately, or keep running and rotate on a
cron schedule when --schedule is given (e.g. --schedule "0 3 * * 0").`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Mount == nil {
			return fmt.Errorf("manifest has no mount section")
		}

		if rotateSchedule == "" {
			return p.Rotate(cmd.Context(), m.Mount.Path)
		}

		log := newLogger()
		scheduler := cron.New()
		_, err = scheduler.AddFunc(rotateSchedule, func() {
			if err := p.Rotate(cmd.Context(), m.Mount.Path); err != nil {
				log.Error("scheduled rotation failed", "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("invalid schedule %q: %w", rotateSchedule, err)
		}

		log.Info("rotation scheduler started", "schedule", rotateSchedule, "mount", m.Mount.Path)
		scheduler.Start()
		defer scheduler.Stop()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		log.Info("rotation scheduler stopping")
		return nil
	},
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Write every role defined in the manifest",
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, m, err := setup()
		if err != nil {
			return err
		}
		if m.Mount == nil {
			return fmt.Errorf("manifest has no mount section")
		}
		for name, role := range m.Roles {
			if err := p.WriteRole(cmd.Context(), m.Mount.Path, name, role); err != nil {
				return fmt.Errorf("role %s: %w", name, err)
			}
		}
		return nil
	},
}

func init() {
	rotateCmd.Flags().StringVar(&rotateSchedule, "schedule", "", "cron schedule for recurring rotation; empty rotates once")
}
