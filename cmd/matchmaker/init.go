package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/energizer-project/matchmaker/internal/config"
)

func initCmd(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or edit the configuration interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configDir)
			if err != nil {
				return err
			}
			if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
				return err
			}
			fmt.Printf("Configuration saved to %s\n", cfg.Path())
			return nil
		},
	}
}
