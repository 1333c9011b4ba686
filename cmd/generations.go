package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/swcache/internal/config"
)

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "List the cache generations in storage",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		exitOnError(err)
		if cfg.Storage == config.StorageMemory {
			fmt.Println("Memory storage keeps no generations between runs.")
			return
		}

		storage, database, err := openStorage(cfg)
		exitOnError(err)
		defer database.Close()

		ctx := context.Background()
		names, err := storage.Keys(ctx)
		exitOnError(err)
		if len(names) == 0 {
			fmt.Println("No cache generations. Run `swcache install` first.")
			return
		}
		for _, name := range names {
			entries, err := storage.List(ctx, name)
			exitOnError(err)
			marker := " "
			if name == cfg.Generation {
				marker = "*"
			}
			fmt.Printf("%s %s (%d entries)\n", marker, name, len(entries))
			if verbose {
				for _, key := range entries {
					fmt.Printf("    %s\n", key)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(generationsCmd)
}
