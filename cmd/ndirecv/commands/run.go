package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/function-store/RpiSimpleNDI/internal/config"
	"github.com/function-store/RpiSimpleNDI/internal/control"
	"github.com/function-store/RpiSimpleNDI/internal/logger"
	"github.com/function-store/RpiSimpleNDI/internal/output"
	"github.com/function-store/RpiSimpleNDI/internal/persist"
	"github.com/function-store/RpiSimpleNDI/internal/preview"
	"github.com/function-store/RpiSimpleNDI/internal/pump"
	"github.com/function-store/RpiSimpleNDI/internal/source"
	"github.com/function-store/RpiSimpleNDI/internal/supervisor"
	"github.com/function-store/RpiSimpleNDI/internal/transport/ndi"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the NDI receiver",
	Long: `Start the receiver: discover NDI sources, connect to the one matching
the configured pattern, and serve the WebSocket control plane.

The receiver keeps running across source restarts, switching to a
fallback source when the current one disappears and bouncing back when
it returns.`,
	Example: `  # Start with the configured pattern
  ndirecv run

  # Match sources named "projector" (and "projectors")
  ndirecv run --pattern projector

  # Start with the control server on a custom port
  ndirecv run --port 9090

  # Relay control through an upstream bridge server
  ndirecv run --bridge ws://controller.local:8081`,
	RunE: runRun,
}

var bridgeURL string

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&bridgeURL, "bridge", "", "upstream control bridge URL (ws://host:port)")
}

// ndiColorFormat maps the config string to the SDK enum value.
func ndiColorFormat(name string) int {
	switch strings.ToLower(name) {
	case "bgra":
		return 0 // BGRX_BGRA
	case "rgba":
		return 2 // RGBX_RGBA
	default:
		return 1 // UYVY_BGRA
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	// Initialize configuration manager
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Flag overrides
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			configMgr.SetPort(port)
		}
	}
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("source_pattern") {
		if pattern := viper.GetString("source_pattern"); pattern != "" {
			configMgr.SetPattern(pattern)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	log := logger.WithComponent("main")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Starting NDI receiver")

	matcher, err := source.Compile(source.Policy{
		Pattern:        cfg.SourcePattern,
		CaseSensitive:  cfg.CaseSensitive,
		PluralHandling: cfg.PluralHandling,
	})
	if err != nil {
		return fmt.Errorf("invalid source pattern %q: %w", cfg.SourcePattern, err)
	}
	log.Info().
		Str("pattern", matcher.Pattern()).
		Str("effective", matcher.EffectivePattern()).
		Msg("Source pattern compiled")

	tr, err := ndi.New(ndi.Config{
		ShowLocalSources: cfg.NDI.ShowLocalSources,
		Groups:           cfg.NDI.Groups,
		ExtraIPs:         cfg.NDI.ExtraIPs,
		ReceiverName:     cfg.ComponentName,
		ColorFormat:      ndiColorFormat(cfg.NDI.ColorFormat),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize NDI transport: %w", err)
	}

	registry := source.NewRegistry(tr, source.RegistryConfig{
		PollInterval: cfg.PollInterval(),
		ScanTimeout:  cfg.ScanTimeout(),
	})
	registry.Start()
	defer registry.Close()

	sup := supervisor.New(tr, registry, matcher, supervisor.Config{
		ConnectBackoff:  cfg.ConnectBackoff(),
		CheckInterval:   cfg.CheckInterval(),
		LivenessTimeout: cfg.LivenessTimeout(),
	})
	defer sup.Close()

	store := persist.NewStore(configMgr.DefaultStateFile())

	// Seed the startup target: saved state wins over the config file.
	if cfg.SourceName != "" {
		sup.SetTarget(cfg.SourceName)
	}
	if saved, err := store.Load(); err == nil {
		if saved.CurrentSource != "" {
			sup.SetTarget(saved.CurrentSource)
		}
		sup.SetLocked(saved.Locked)
		log.Info().
			Str("source", saved.CurrentSource).
			Bool("locked", saved.Locked).
			Msg("Restored saved state")
	} else if !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load saved state")
	}

	// Frame sink: MJPEG preview when enabled, otherwise discard.
	var sink output.Sink = output.Discard{}
	var mjpeg *preview.MJPEG
	if cfg.Preview.Enabled {
		mjpeg = preview.NewMJPEG(preview.Config{
			MaxWidth: cfg.Preview.MaxWidth,
			Quality:  cfg.Preview.Quality,
		})
		sink = mjpeg
	}
	if err := sink.Start(); err != nil {
		return fmt.Errorf("failed to start output sink: %w", err)
	}
	defer sink.Stop()

	pmp := pump.New(sup, sink, pump.Config{})

	identity := control.DeriveIdentity(cfg.ComponentName, cfg.ComponentID)
	log.Info().
		Str("component_id", identity.ComponentID).
		Str("component_name", identity.ComponentName).
		Msg("Control plane identity")

	plane := control.NewPlane(identity, sup, registry, matcher, pmp, store, control.Config{})

	server := control.NewServer(plane)
	if mjpeg != nil {
		server.Handle("/preview", mjpeg.Handler())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Control server starting")
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Error().Err(err).Msg("Control server stopped")
			cancel()
		}
	}()

	go plane.RunBroadcaster(ctx)

	url := cfg.BridgeURL
	if bridgeURL != "" {
		url = bridgeURL
	}
	if url != "" {
		bridge := control.NewBridge(url, plane)
		go bridge.Run(ctx)
	}

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pmp.Run(ctx)
	}()

	log.Info().Msg("Receiver running, press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-pumpDone:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Frame pump exited")
		}
	}

	// Teardown order: active connection, discovery, then controllers.
	// Each step is best effort.
	log.Info().Msg("Shutting down")
	if err := sup.Close(); err != nil {
		log.Warn().Err(err).Msg("Connection teardown error")
	}
	if err := registry.Close(); err != nil {
		log.Warn().Err(err).Msg("Discovery teardown error")
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Control server shutdown error")
	}
	return nil
}
