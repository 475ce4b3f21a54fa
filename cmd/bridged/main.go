package main

import (
	"call-lab/auth"
	"call-lab/domain"
	"call-lab/infrastructure/http/client"
	"call-lab/infrastructure/http/server"
	"call-lab/internal"
	"call-lab/observability"
	"call-lab/repositories"
	"call-lab/runtime/workers"
	"call-lab/services"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bridge daemon terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the daemon lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the API and background workers.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	if config.JWTSigningKey != "" {
		auth.SetSigningKey(config.JWTSigningKey)
	}

	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, log, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Services
	monitor := observability.NewMonitoringManager(log)
	rooms := repositories.NewRoomDirectory(db, log, domain.UserID(config.LocalUserID))
	directory := client.NewDirectoryClient(log, config.BridgeBaseURL, config.BridgeServiceID)
	discovery := services.NewDiscoveryService(log, directory)
	discovery.AddListener(observability.NewCapabilityLogListener(log, monitor))
	lookup := services.NewLookupClient(log, directory, discovery)
	mapper := services.NewRoomMapper(log, discovery, lookup, rooms, monitor)

	if log.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		url := fmt.Sprintf("http://localhost:%d%s", config.DebugPort, endpoint)
		log.Info("Debug room inspector available", "url", url)
		internal.StartDebugServer(db, config.DebugPort, endpoint, nil, func() map[string]any {
			latest := monitor.GetLatest()
			return map[string]any{
				"PSTN":             discovery.SupportedPSTNProtocol(),
				"VirtualRooms":     discovery.SupportsVirtualRooms(),
				"RoomsProvisioned": latest.RoomsProvisioned,
				"InvitesJoined":    latest.InvitesJoined,
			}
		})
	}

	// 4. Supervision & workers
	invites := make(chan domain.Invite, config.InviteBufferSize)
	bridge := server.NewBridgeServer(log, config.ListenAddr, discovery, lookup, mapper, monitor, invites)
	sup := workers.NewSupervisor(log)
	sup.Add(
		bridge,
		workers.NewInviteWorker(log, invites, rooms, mapper),
		workers.NewHealthWorker(log, monitor, config.HealthInterval),
		monitor,
	)

	// 5. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Kick off capability discovery right away, listeners and awaiters
	// pick up the result whenever it lands.
	discovery.CheckProtocols()

	// 7. Run everything under supervision until shutdown
	log.Info("Starting telephony bridge daemon",
		"listen", config.ListenAddr, "local_user", config.LocalUserID, "bridge", config.BridgeBaseURL)
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
