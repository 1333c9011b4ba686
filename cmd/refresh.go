package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/swcache/internal/proxy"
)

var (
	serverAddr       string
	refreshBroadcast bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask a running server to rebuild its cache from the manifest",
	Long: `Sends FORCE_REFRESH to a running swcache server. The server deletes every
cache generation, warms the current one again and replies with the outcome.
With --broadcast the reply goes to every connected page instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		target := serverURL(cfg) + "/_swcache/message"
		if refreshBroadcast {
			target += "?broadcast=true"
		}
		body, _ := json.Marshal(proxy.Message{Type: proxy.MessageForceRefresh})

		var reply map[string]any
		if err := postJSON(target, body, &reply); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(reply, "", "  ")
		fmt.Println(string(out))
		if reply["type"] == proxy.MessageForceRefreshFailed {
			return fmt.Errorf("refresh failed: %v", reply["error"])
		}
		return nil
	},
}

// postJSON posts body to url and decodes the JSON response into v.
func postJSON(url string, body []byte, v any) error {
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contacting server: %w\nIs `swcache serve` running?", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func init() {
	refreshCmd.Flags().StringVar(&serverAddr, "server", "", "server base URL (default http://localhost:<port>)")
	refreshCmd.Flags().BoolVar(&refreshBroadcast, "broadcast", false, "deliver the reply to every connected page")
	rootCmd.AddCommand(refreshCmd)
}
