package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/logging"
	"github.com/deemkeen/apcore/db"
	"github.com/deemkeen/apcore/federation/core"
	"github.com/deemkeen/apcore/middleware"
	"github.com/deemkeen/apcore/util"
	"github.com/deemkeen/apcore/web"
)

// App represents the main application with all its servers and dependencies
type App struct {
	config     *util.AppConfig
	sshServer  *ssh.Server
	httpServer *http.Server
	fedCore    *core.Core
	done       chan os.Signal
}

// New creates a new App instance with the given configuration
func New(conf *util.AppConfig) (*App, error) {
	return &App{
		config: conf,
		done:   make(chan os.Signal, 1),
	}, nil
}

// Initialize sets up the database, runs migrations, and initializes servers
func (a *App) Initialize() error {
	// Run database migrations
	log.Println("Running database migrations...")
	database := db.GetDB()
	if err := database.RunActivityPubMigrations(); err != nil {
		log.Printf("Warning: Migration errors (may be normal if tables exist): %v", err)
	}
	if err := database.RunFederationMigrations(); err != nil {
		log.Printf("Warning: Federation migration errors (may be normal if tables exist): %v", err)
	}
	log.Println("Database migrations complete")

	// Run key format migration (PKCS#1 to PKCS#8)
	log.Println("Checking for key format migration...")
	if err := database.MigrateKeysToPKCS8(); err != nil {
		log.Printf("Warning: Key migration encountered errors: %v", err)
		log.Println("You may need to manually review the migration. See logs above for details.")
	} else {
		log.Println("Key format migration complete")
	}

	// Run duplicate follows cleanup migration
	log.Println("Checking for duplicate follows...")
	if err := database.MigrateDuplicateFollows(); err != nil {
		log.Printf("Warning: Duplicate follows migration encountered errors: %v", err)
		log.Println("You may need to manually review the migration. See logs above for details.")
	} else {
		log.Println("Duplicate follows migration complete")
	}

	// Run local reply counts migration
	log.Println("Checking for uncounted local replies...")
	if err := database.MigrateLocalReplyCounts(); err != nil {
		log.Printf("Warning: Local reply counts migration encountered errors: %v", err)
	} else {
		log.Println("Local reply counts migration complete")
	}

	// Initialize SSH server
	sshKeyPath := util.ResolveFilePathWithSubdir(".ssh", "stegodonhostkey")
	log.Printf("Using SSH host key at: %s", sshKeyPath)

	sshServer, err := wish.NewServer(
		wish.WithAddress(fmt.Sprintf("%s:%d", a.config.Conf.Host, a.config.Conf.SshPort)),
		wish.WithHostKeyPath(sshKeyPath),
		wish.WithPublicKeyAuth(func(ssh.Context, ssh.PublicKey) bool { return true }),
		wish.WithMiddleware(
			middleware.MainTui(),
			middleware.AuthMiddleware(a.config),
			logging.MiddlewareWithLogger(log.Default()),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create SSH server: %w", err)
	}
	a.sshServer = sshServer

	// Build the federation core (ActorResolver, InboxHandler, DeliveryQueue/
	// Worker, StaleCleaner, DomainPolicy, Publisher) before the router, so
	// the inbox routes can be wired against it.
	if a.config.Conf.WithAp {
		a.fedCore = core.New(fedCoreConfig(a.config), database)
		core.SetGlobal(a.fedCore)
	}

	// Initialize HTTP router and server
	router, err := web.Router(a.config, a.fedCore)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP router: %w", err)
	}

	a.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Conf.HttpPort),
		Handler: router,
	}

	return nil
}

// Start starts all servers and blocks until a shutdown signal is received
func (a *App) Start() error {
	// Start the federation core's background workers (delivery, stale
	// cleanup, domain policy refresh) if enabled.
	if a.fedCore != nil {
		if err := a.fedCore.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start federation core: %w", err)
		}
	}

	// Setup signal handling
	signal.Notify(a.done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Start SSH server
	log.Printf("Starting SSH server on %s:%d", a.config.Conf.Host, a.config.Conf.SshPort)
	go func() {
		if err := a.sshServer.ListenAndServe(); err != nil && err != ssh.ErrServerClosed {
			log.Fatalf("SSH server error: %v", err)
		}
	}()

	// Start HTTP server
	log.Printf("Starting HTTP server on %s:%d", a.config.Conf.Host, a.config.Conf.HttpPort)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-a.done
	log.Println("Shutdown signal received")

	return a.Shutdown()
}

// Shutdown gracefully stops all servers with a 30 second timeout
func (a *App) Shutdown() error {
	log.Println("Initiating graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error

	// Shutdown HTTP server first (stop accepting new requests)
	log.Println("Stopping HTTP server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		shutdownErr = err
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	// Shutdown SSH server
	log.Println("Stopping SSH server...")
	if err := a.sshServer.Shutdown(ctx); err != nil {
		log.Printf("SSH server shutdown error: %v", err)
		if shutdownErr == nil {
			shutdownErr = err
		}
	} else {
		log.Println("SSH server stopped gracefully")
	}

	if a.fedCore != nil {
		log.Println("Stopping federation core workers...")
		a.fedCore.Stop()
		core.SetGlobal(nil)
		log.Println("Federation core workers stopped")
	}

	log.Println("All servers stopped")
	return shutdownErr
}

// fedCoreConfig translates the on-disk federation settings (spec.md section
// 6, read into AppConfig by util.ReadConf) into federation/core.Config.
func fedCoreConfig(conf *util.AppConfig) core.Config {
	c := conf.Conf
	return core.Config{
		BaseURL:              fmt.Sprintf("https://%s", c.SslDomain),
		UserAgent:            fmt.Sprintf("%s/1.0 (+https://%s)", util.Name, c.SslDomain),
		MasterSecret:         c.FedMasterSecret,
		ActorCacheTTL:        time.Duration(c.FedActorCacheTtlSeconds) * time.Second,
		SignatureMaxAge:      time.Duration(c.FedSignatureMaxAgeSeconds) * time.Second,
		HTTPConnectTimeout:   time.Duration(c.FedHttpConnectTimeoutMs) * time.Millisecond,
		HTTPReceiveTimeout:   time.Duration(c.FedHttpReceiveTimeoutMs) * time.Millisecond,
		MaxPayloadSize:       c.FedMaxPayloadSize,
		DeliveryPollInterval: time.Duration(c.FedDeliveryPollIntervalMs) * time.Millisecond,
		DeliveryBatchSize:    c.FedDeliveryBatchSize,
		DeliveryConcurrency:  c.FedDeliveryMaxConcurrency,
		DeliveryMaxAttempts:  c.FedDeliveryMaxAttempts,
		StaleMaxAge:          time.Duration(c.FedStaleActorMaxAgeSeconds) * time.Second,
		StaleCleanupInterval: time.Duration(c.FedStaleCleanupIntervalMs) * time.Millisecond,
	}
}
