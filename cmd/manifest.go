package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/swcache/internal/config"
	"github.com/ziadkadry99/swcache/internal/walker"
)

var (
	manifestInclude []string
	manifestExclude []string
	manifestWrite   bool
)

var manifestCmd = &cobra.Command{
	Use:   "manifest [dir]",
	Short: "Propose a warm-up manifest from a static site directory",
	Long: `Scans a static site directory (default: current directory) for pages,
styles, scripts, data and media, honouring .gitignore, and prints the
manifest it would warm. With --write the manifest is saved to the config file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		assets, err := walker.Walk(walker.Config{
			RootDir: dir,
			Include: manifestInclude,
			Exclude: manifestExclude,
		})
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			return fmt.Errorf("no site assets found in %s", dir)
		}

		var total int64
		for _, a := range assets {
			total += a.Size
			if verbose {
				fmt.Printf("%-9s %8d  %s  %s\n", a.Kind, a.Size, a.Digest[:12], a.URLPath)
			}
		}
		manifest := walker.Manifest(assets)
		for _, p := range manifest {
			fmt.Println(p)
		}
		fmt.Printf("\n%d assets, %d bytes\n", len(assets), total)

		if !manifestWrite {
			return nil
		}
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg.Manifest = manifest
		if err := cfg.Save(cfgFile); err != nil {
			return err
		}
		fmt.Printf("Manifest written to %s\n", cfgFile)
		return nil
	},
}

func init() {
	manifestCmd.Flags().StringSliceVar(&manifestInclude, "include", nil, "glob patterns of assets to include")
	manifestCmd.Flags().StringSliceVar(&manifestExclude, "exclude", nil, "glob patterns of assets to exclude")
	manifestCmd.Flags().BoolVar(&manifestWrite, "write", false, "save the manifest to the config file")
	rootCmd.AddCommand(manifestCmd)
}
