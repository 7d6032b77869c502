package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/paseo-dev/paseod/internal/agent"
	"github.com/paseo-dev/paseod/internal/config"
	"github.com/paseo-dev/paseod/internal/crypto"
	"github.com/paseo-dev/paseod/internal/events/bus"
	"github.com/paseo-dev/paseod/internal/paseolog"
	"github.com/paseo-dev/paseod/internal/persistence"
	"github.com/paseo-dev/paseod/internal/provider"
	"github.com/paseo-dev/paseod/internal/session"
	"github.com/paseo-dev/paseod/internal/transport"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := paseolog.New(paseolog.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	paseolog.SetDefault(log)

	log.Info("starting paseod")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect to the event bus: NATS when configured, in-process otherwise.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsBus.Close()
		eventBus = natsBus
		log.Info("connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		memBus := bus.NewMemoryEventBus(log)
		defer memBus.Close()
		eventBus = memBus
		log.Info("using in-process event bus")
	}

	// 5. Registry store and provider registry.
	if err := os.MkdirAll(cfg.Paseo.Home, 0700); err != nil {
		log.Fatal("failed to create paseo home directory", zap.Error(err), zap.String("path", cfg.Paseo.Home))
	}
	store, err := persistence.NewRegistryStore(cfg.Paseo.AgentRegistryPath)
	if err != nil {
		log.Fatal("failed to open agent registry store", zap.Error(err))
	}
	providers := provider.NewRegistry()
	log.Info("loaded provider registry", zap.Int("providers", len(providers.List())))

	// 6. Session hub and agent manager, wired together in both directions:
	// the manager publishes agent/stream/permission updates into the hub's
	// Sink, and the hub's dispatcher calls back into the manager.
	hub := session.NewHub(nil, log) // manager is set below via SetManager
	clientFactory := func(ctx context.Context, providerID, cwd string) (provider.AgentClient, error) {
		providerCfg, err := providers.Get(providerID)
		if err != nil {
			return nil, err
		}
		return provider.Launch(ctx, providerCfg, cwd, log)
	}
	manager := agent.NewManager(providers, store, eventBus, hub, clientFactory, cfg.Paseo.Home, log)
	hub.SetManager(manager)

	if err := manager.LoadFromRegistry(ctx); err != nil {
		log.Error("failed to load persisted agents", zap.Error(err))
	}

	dispatcher := session.NewDispatcher(hub, manager)
	go hub.Run(ctx)

	// 7. Relay bootstrap: generate or load the daemon's persisted key pair
	// whenever relay mode is enabled, so the QR/debug endpoint always has a
	// key to render even before the control connection is established.
	var daemonKey *crypto.KeyPair
	if cfg.Relay.Enabled {
		daemonKey, err = crypto.LoadOrGenerateDaemonKeyPair(cfg.Paseo.Home)
		if err != nil {
			log.Fatal("failed to load or generate relay key pair", zap.Error(err))
		}
		if cfg.Relay.ServerID == "" {
			log.Fatal("relay.serverId is required when relay.enabled is true")
		}

		payload := crypto.BootstrapPayload{
			RelayURL:  cfg.Relay.URL,
			ServerID:  cfg.Relay.ServerID,
			DaemonPub: daemonKey.PublicBase64(),
		}
		if ascii, err := crypto.ASCII(payload); err != nil {
			log.Warn("failed to render bootstrap QR", zap.Error(err))
		} else {
			fmt.Println(ascii)
			fmt.Println(payload.String())
		}

		relayClient := transport.NewRelayClient(cfg.Relay, daemonKey, hub, dispatcher, log)
		go func() {
			if err := relayClient.Run(ctx); err != nil {
				log.Error("relay client stopped", zap.Error(err))
			}
		}()
	}

	// 8. Local HTTP/WebSocket server.
	httpServer := transport.NewServer(hub, dispatcher, daemonKey, log)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	serverErrCh := make(chan error, 1)
	go func() {
		log.Info("paseod listening", zap.String("addr", addr))
		if err := httpServer.Run(ctx, addr); err != nil {
			serverErrCh <- err
		}
	}()

	// 9. Wait for shutdown signal or fatal server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("shutting down paseod")
	case err := <-serverErrCh:
		log.Error("http server failed", zap.Error(err))
	}

	// 10. Graceful shutdown: cancelling ctx unwinds the relay client, the
	// hub's Run loop, and transport.Server.Run's own Shutdown(30s) call.
	cancel()
	time.Sleep(100 * time.Millisecond)

	log.Info("paseod stopped")
}
