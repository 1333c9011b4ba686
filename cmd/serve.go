package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/swcache/internal/audit"
	"github.com/ziadkadry99/swcache/internal/clients"
	"github.com/ziadkadry99/swcache/internal/dashboard"
	"github.com/ziadkadry99/swcache/internal/proxy"
	"github.com/ziadkadry99/swcache/internal/server"
	"github.com/ziadkadry99/swcache/internal/syncmgr"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the offline cache proxy",
	Long: `Installs and activates the configured cache generation, then serves the
origin through the cache. Send SIGHUP to reload the config file and install
a new generation in place.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort != 0 {
			cfg.Port = servePort
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

		hub := clients.NewHub()
		journal := audit.NewStore(database)
		recorder, webhooks := lifecycleRecorder(cfg, database)
		reg := proxy.NewRegistration(storage, fetcher, proxy.WithClients(hub), proxy.WithRecorder(recorder))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := register(ctx, reg, workerConfig(cfg)); err != nil {
			return err
		}

		syncs := syncmgr.New(ctx, reg.Sync, syncmgr.Options{
			MaxRetries:      cfg.Sync.MaxRetries,
			InitialInterval: cfg.Sync.InitialInterval,
			MaxInterval:     cfg.Sync.MaxInterval,
		})

		srv := server.New(server.Config{
			Port:     cfg.Port,
			AllowAll: cfg.AllowAllOrigins,
		}, reg, hub, syncs)
		audit.RegisterRoutes(srv.Router(), journal)
		dashboard.New(reg, journal).RegisterRoutes(srv.Router())

		go reloadOnHangup(ctx, reg)

		// Graceful shutdown.
		go func() {
			<-ctx.Done()
			fmt.Fprintln(os.Stderr, "\nShutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(os.Stderr, "swcache %s starting on port %d\n", Version, cfg.Port)
		fmt.Fprintf(os.Stderr, "  Origin: %s\n", cfg.Origin)
		fmt.Fprintf(os.Stderr, "  Generation: %s\n", cfg.Generation)
		fmt.Fprintf(os.Stderr, "  Storage: %s\n", cfg.Storage)
		fmt.Fprintf(os.Stderr, "  Dashboard: http://localhost:%d/_swcache/\n", cfg.Port)

		err = srv.Start()
		syncs.Wait()
		webhooks.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

// register installs wcfg and logs what the warm-up and activation did.
func register(ctx context.Context, reg *proxy.Registration, wcfg proxy.Config) error {
	res, err := reg.Register(ctx, wcfg)
	if err != nil {
		return fmt.Errorf("registering %s: %w", wcfg.Generation, err)
	}
	entry := log.WithField("generation", wcfg.Generation)
	entry.WithFields(log.Fields{
		"stored": len(res.Install.Stored()),
		"failed": len(res.Install.Failed()),
	}).Info("generation installed")
	if res.Activate != nil {
		entry.WithFields(log.Fields{
			"deleted": res.Activate.Deleted,
			"claimed": res.Activate.Claimed,
		}).Info("generation activated")
	}
	return nil
}

// reloadOnHangup re-reads the config file on SIGHUP and installs the
// generation it names.
func reloadOnHangup(ctx context.Context, reg *proxy.Registration) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := loadConfig()
			if err != nil {
				log.WithError(err).Error("reload: keeping current generation")
				continue
			}
			if err := register(ctx, reg, workerConfig(cfg)); err != nil {
				log.WithError(err).Error("reload failed")
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
