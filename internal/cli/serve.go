package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nghyane/llm-mux/internal/bootstrap"
	"github.com/nghyane/llm-mux/internal/config"
	log "github.com/nghyane/llm-mux/internal/logging"
	"github.com/nghyane/llm-mux/internal/usage"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the llm-mux server",
	Long: `Start the llm-mux API gateway server.

This is the main command to run the proxy server. It loads the configuration,
initializes the token manager, and starts the HTTP server.`,
	Run: func(c *cobra.Command, args []string) {
		log.SetupBaseLogger()

		result, err := bootstrap.Bootstrap(cfgFile)
		if err != nil {
			log.Fatalf("failed to bootstrap: %v", err)
		}

		cfg := result.Config
		if servePort != 0 {
			cfg.Port = servePort
		}

		usage.SetStatisticsEnabled(cfg.Usage.DSN != "")
		if cfg.Usage.DSN != "" {
			initUsageBackend(cfg)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		defer result.TokenManager.Stop()
		if err := result.Server.Run(ctx); err != nil {
			log.Fatalf("server exited with error: %v", err)
		}
	},
}

func secondsToDuration(seconds, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func initUsageBackend(cfg *config.Config) {
	flushInterval := secondsToDuration(cfg.Usage.FlushInterval, 5)
	batchSize := cfg.Usage.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}
	retentionDays := cfg.Usage.RetentionDays
	if retentionDays == 0 {
		retentionDays = 30
	}
	backendCfg := usage.BackendConfig{
		DSN:           cfg.Usage.DSN,
		BatchSize:     batchSize,
		FlushInterval: flushInterval,
		RetentionDays: retentionDays,
	}
	if initErr := usage.Initialize(backendCfg); initErr != nil {
		log.Warnf("failed to initialize usage backend: %v", initErr)
	} else {
		log.Infof("usage backend initialized: %s", cfg.Usage.DSN)
	}
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
