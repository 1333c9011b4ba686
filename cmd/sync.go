package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync [tag]",
	Short: "Register a background sync with a running server",
	Long:  `Registers a background sync tag (default: the configured sync_tag) with a running swcache server. The server retries the sync with backoff until it succeeds.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tag := cfg.SyncTag
		if len(args) == 1 {
			tag = args[0]
		}
		if tag == "" {
			return fmt.Errorf("no sync tag given and sync_tag is not configured")
		}

		var resp struct {
			Tag       string `json:"tag"`
			Scheduled bool   `json:"scheduled"`
		}
		if err := postJSON(serverURL(cfg)+"/_swcache/sync/"+url.PathEscape(tag), nil, &resp); err != nil {
			return err
		}
		if resp.Scheduled {
			fmt.Printf("Sync %q scheduled\n", resp.Tag)
		} else {
			fmt.Printf("Sync %q already pending\n", resp.Tag)
		}
		return nil
	},
}

func init() {
	syncCmd.Flags().StringVar(&serverAddr, "server", "", "server base URL (default http://localhost:<port>)")
	rootCmd.AddCommand(syncCmd)
}
