package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gitlab "github.com/hengadev/vault-plugin-secrets-gitlab"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the plugin version this tool ships with",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("vault-plugin-secrets-gitlab v%s\n", gitlab.Version)
	},
}
