package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duplexsync/duplex/internal/config"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented config template",
		Long: `Write a commented configuration template to the path given by --config
(default duplex.toml). Refuses to overwrite an existing file.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.WriteTemplate(flagConfigPath); err != nil {
				return err
			}

			fmt.Printf("wrote %s; set a.remote and b.remote, then run: duplex sync --dry-run\n", flagConfigPath)

			return nil
		},
	}
}
