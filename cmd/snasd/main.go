// Command snasd is the SNAS server: it loads configuration, connects
// to NATS, opens the credential store's JetStream KV bucket, and
// serves the messaging and socket transports until terminated.
//
// Grounded on warren's cmd/warren/main.go clusterInitCmd: cobra
// root command, a metrics/health HTTP server started in the
// background, component health registered as subsystems come up, and
// a signal.Notify/select shutdown sequence — generalized from a
// Raft+containerd cluster bootstrap to a single-process directory
// service with no cluster membership of its own.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/cuemby/snas/internal/config"
	"github.com/cuemby/snas/internal/handler"
	"github.com/cuemby/snas/internal/log"
	"github.com/cuemby/snas/internal/metrics"
	"github.com/cuemby/snas/internal/store"
	"github.com/cuemby/snas/internal/transport/messaging"
	"github.com/cuemby/snas/internal/transport/socket"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "snasd",
	Short:   "snasd serves the SNAS directory and credential service",
	Version: Version,
	RunE:    runServe,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("snasd version %s\nCommit: %s\n", Version, Commit))
	rootCmd.Flags().String("config", "", "Path to a YAML config file (optional; env vars always take precedence)")
	rootCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready, /live HTTP endpoints")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log.Init(log.Config{Level: log.InfoLevel, Format: cfg.LogFormat})

	instanceID := uuid.NewString()
	log.Info(fmt.Sprintf("starting snasd instance %s", instanceID))

	metrics.SetVersion(Version)
	critical := []string{metrics.ComponentKV}
	if cfg.EnableAdminMessaging || cfg.EnableUserMessaging {
		critical = append(critical, metrics.ComponentMessaging)
	}
	if cfg.EnableSocket {
		critical = append(critical, metrics.ComponentSocket)
	}
	metrics.SetCriticalComponents(critical)
	metrics.RegisterComponent(metrics.ComponentKV, false, "connecting")

	go func() {
		http.Handle("/metrics", metrics.Handler())
		http.Handle("/health", metrics.HealthHandler())
		http.Handle("/ready", metrics.ReadyHandler())
		http.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			log.Errorf("metrics server exited", err)
		}
	}()
	log.Info(fmt.Sprintf("metrics endpoint: http://%s/metrics", metricsAddr))

	ctx := context.Background()
	natsURL := fmt.Sprintf("nats://%s:%d", cfg.NATSHost, cfg.NATSPort)
	nc, err := nats.Connect(natsURL)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentKV, false, "nats connection failed")
		return fmt.Errorf("connecting to nats at %s: %w", natsURL, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("creating jetstream context: %w", err)
	}

	kv, err := store.OpenBucket(ctx, js, cfg.KVBucket, 1)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentKV, false, err.Error())
		return fmt.Errorf("opening kv bucket %s: %w", cfg.KVBucket, err)
	}
	metrics.UpdateComponent(metrics.ComponentKV, true, "connected")

	credStore := store.New(kv, store.NewDefaultHasher())
	adminHandler := handler.NewAdmin(credStore, store.NewDefaultHasher(), handler.DefaultLimits())
	userHandler := handler.NewUser(credStore, store.NewDefaultHasher())

	var msgServer *messaging.Server
	if cfg.EnableAdminMessaging || cfg.EnableUserMessaging {
		msgCfg := messaging.DefaultConfig()
		msgCfg.AdminPrefix = cfg.AdminPrefix
		msgCfg.UserPrefix = cfg.UserPrefix
		msgCfg.EnableAdmin = cfg.EnableAdminMessaging
		msgCfg.EnableUser = cfg.EnableUserMessaging

		msgServer = messaging.NewServer(nc, adminHandler, userHandler, msgCfg)
		if err := msgServer.Start(); err != nil {
			return fmt.Errorf("starting messaging transport: %w", err)
		}
		metrics.RegisterComponent(metrics.ComponentMessaging, true, "subscribed")
		log.Info("messaging transport subscribed")
	}

	var sockServer *socket.Server
	if cfg.EnableSocket {
		sockServer = socket.NewServer(userHandler, cfg.SocketPath)
		if err := sockServer.Start(); err != nil {
			return fmt.Errorf("starting socket transport: %w", err)
		}
		metrics.RegisterComponent(metrics.ComponentSocket, true, "listening")
		log.Info(fmt.Sprintf("socket transport listening on %s", cfg.SocketPath))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	if sockServer != nil {
		sockServer.Stop()
	}
	if msgServer != nil {
		msgServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = nc.FlushWithContext(shutdownCtx)

	log.Info("shutdown complete")
	return nil
}
