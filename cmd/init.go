package cmd

import (
	"github.com/spf13/cobra"
	"github.com/ziadkadry99/swcache/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize swcache configuration with an interactive wizard",
	Long:  `Runs an interactive wizard to configure the origin, cache generation and manifest, and writes a .swcache.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
