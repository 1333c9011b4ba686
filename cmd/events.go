package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/swcache/internal/audit"
	"github.com/ziadkadry99/swcache/internal/config"
)

var (
	eventsLimit      int
	eventsGeneration string
	eventsPrune      time.Duration
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the cache lifecycle journal",
	Long:  `Lists recent installs, activations, refreshes and syncs recorded in the cache database, newest first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage == config.StorageMemory {
			fmt.Println("Memory storage keeps no journal between runs.")
			return nil
		}

		_, database, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		ctx := context.Background()
		journal := audit.NewStore(database)

		if eventsPrune > 0 {
			n, err := journal.DeleteBefore(ctx, time.Now().Add(-eventsPrune))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d events older than %s\n", n, eventsPrune)
		}

		entries, err := journal.Query(ctx, audit.QueryFilter{Generation: eventsGeneration, Limit: eventsLimit})
		if err != nil {
			return err
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-14s %-12s %s", e.Timestamp.Local().Format(time.DateTime), e.Action, e.Generation, e.Summary)
			if e.Error != "" {
				line += "  error: " + e.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 20, "number of events to show")
	eventsCmd.Flags().StringVar(&eventsGeneration, "generation", "", "only show events of this generation")
	eventsCmd.Flags().DurationVar(&eventsPrune, "prune", 0, "delete events older than this before listing")
	rootCmd.AddCommand(eventsCmd)
}
