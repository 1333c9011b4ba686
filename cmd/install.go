package cmd

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/swcache/internal/config"
	"github.com/ziadkadry99/swcache/internal/progress"
	"github.com/ziadkadry99/swcache/internal/proxy"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Warm the cache generation from the manifest and activate it",
	Long: `Fetches every manifest entry from the origin, bypassing intermediary
caches, stores the successful responses in the configured generation and
deletes every other generation. Entries that fail are reported but do not
fail the install.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage == config.StorageMemory {
			log.Warn("memory storage does not outlive this command; nothing will persist")
		}

		storage, database, err := openStorage(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		fetcher, err := createFetcherFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("creating fetcher: %w", err)
		}

		recorder, webhooks := lifecycleRecorder(cfg, database)
		defer webhooks.Wait()

		counter := progress.NewCounter(progress.NewReporter(), len(cfg.Manifest))
		reg := proxy.NewRegistration(storage, fetcher,
			proxy.WithRecorder(recorder),
			proxy.WithObserver(func(res proxy.WarmupResult) {
				counter.Done(res.Path)
			}))

		res, err := reg.Register(context.Background(), workerConfig(cfg))
		counter.Finish()
		if err != nil {
			return fmt.Errorf("installing %s: %w", cfg.Generation, err)
		}

		report := res.Install
		if report.OpenErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: opening generation: %v\n", report.OpenErr)
		}
		fmt.Printf("Generation %s: %d stored, %d failed\n", report.Generation, len(report.Stored()), len(report.Failed()))
		for _, r := range report.Failed() {
			fmt.Printf("  %s: %v\n", r.Path, r.Err)
		}
		if res.Activate != nil {
			for _, name := range res.Activate.Deleted {
				fmt.Printf("Deleted generation %s\n", name)
			}
			for _, err := range res.Activate.Errors {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
}
