package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shaunagostinho/diameter-dash/internal/desktop"
	"github.com/shaunagostinho/diameter-dash/internal/gauge"
	"github.com/shaunagostinho/diameter-dash/internal/monitor"
	"github.com/shaunagostinho/diameter-dash/internal/server"
	"github.com/shaunagostinho/diameter-dash/internal/settings"
	"github.com/shaunagostinho/diameter-dash/web"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configPath string
	demoMode   bool
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "diadash",
	Short: "Filament diameter gauge monitor",
	Long: `diadash watches for the diameter gauge on USB, shows every reading live in
the browser and records spools to CSV files.

Run without a subcommand to start the monitor and its web interface.

Configuration is read from --config, then .env next to it or in the working
directory, then the environment (GAUGE_VID, GAUGE_PID, GAUGE_BAUD,
GAUGE_POLL_MS, GAUGE_DEMO, LISTEN_ADDR, SETTINGS_PATH, LOG_FILE).`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "diadash.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&demoMode, "demo", false, "Use a simulated gauge")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Override listen address (e.g. :8080)")
}

// loadConfig applies the command-line overrides on top of the config file.
func loadConfig() *server.Config {
	cfg := server.LoadConfig(configPath)
	if demoMode {
		cfg.Gauge.Demo = true
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}
	return cfg
}

// setupLogging tees the log to a rotated file when one is configured.
func setupLogging(cfg server.LoggingConfig) func() {
	if cfg.File == "" {
		return func() {}
	}
	writer := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, writer))
	log.Printf("[main] logging to %s", cfg.File)
	return func() {
		log.SetOutput(os.Stderr)
		writer.Close()
	}
}

// newDiscovery returns the discovery for the configured gauge, backed by the
// simulator in demo mode.
func newDiscovery(cfg *server.Config) (*gauge.Discovery, gauge.Opener) {
	g := cfg.Gauge
	if !g.Demo {
		return gauge.NewDiscovery(g.VendorID, g.ProductID, nil), nil
	}
	log.Printf("[main] using simulated gauge %s:%s", g.VendorID, g.ProductID)
	demo := gauge.NewDemoGauge(g.VendorID, g.ProductID, settings.Defaults().Target)
	return gauge.NewDiscovery(g.VendorID, g.ProductID, demo.List), demo.Open
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closeLog := setupLogging(cfg.Logging)
	defer closeLog()

	log.Println("[main] diadash starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Printf("[main] received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	store := settings.NewStore(cfg.SettingsPath)
	initial, err := store.Load()
	if err != nil {
		log.Printf("[main] settings: %v", err)
	}

	discovery, open := newDiscovery(cfg)
	session := gauge.NewSession(discovery, open, gauge.PortConfig{BaudRate: cfg.Gauge.BaudRate})

	ctrl := monitor.New(session, store, initial, monitor.Options{
		PollInterval: cfg.PollInterval(),
		Desktop:      desktop.New(),
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctrl.Run(ctx)
	}()

	srv := server.New(cfg, ctrl, web.FS)
	err = srv.Run(ctx)
	if err != nil {
		log.Printf("[main] server exited: %v", err)
	}

	// The controller closes any open recording on the way out.
	cancel()
	<-done
	log.Println("[main] stopped")
	return err
}
