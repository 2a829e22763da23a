package main

import (
	"MarginSync/internal/feed"
	"MarginSync/internal/history"
	"MarginSync/internal/ledgerclient"
	"MarginSync/internal/observability"
	"MarginSync/internal/registry"
	"MarginSync/internal/server"
	"MarginSync/internal/venue"
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// Collaborators
	LedgerURL  string
	TradesURL  string
	NATSURL    string
	HTTPClient time.Duration

	// Venue
	GroupAddr venue.Address
	Owner     venue.Address // optional: auto-connect at startup

	// Sync cadence
	PollInterval   time.Duration
	FillBufferSize int

	// gRPC/HTTP/Metrics
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string
}

func DefaultConfig() Config {
	return Config{
		LedgerURL:      envOrDefault("MSYNC_LEDGER_URL", "http://localhost:8900"),
		TradesURL:      envOrDefault("MSYNC_TRADES_URL", "http://localhost:8901"),
		NATSURL:        envOrDefault("MSYNC_NATS_URL", "nats://localhost:4222"),
		HTTPClient:     envDurOrDefault("MSYNC_HTTP_TIMEOUT", 10*time.Second),
		GroupAddr:      venue.Address(envOrDefault("MSYNC_GROUP_ADDR", "")),
		Owner:          venue.Address(envOrDefault("MSYNC_OWNER", "")),
		PollInterval:   envDurOrDefault("MSYNC_POLL_INTERVAL", registry.DefaultPollInterval),
		FillBufferSize: envIntOrDefault("MSYNC_FILL_BUFFER", feed.DefaultBufferSize),
		GRPCAddr:       envOrDefault("MSYNC_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("MSYNC_HTTP_ADDR", ":8080"),
		MetricsAddr:    envOrDefault("MSYNC_METRICS_ADDR", ":9091"),
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: MarginSync starting...")

	cfg := DefaultConfig()
	if cfg.GroupAddr.IsZero() {
		log.Fatal("FATAL: MSYNC_GROUP_ADDR is required")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Collaborator clients ---
	client := ledgerclient.New(cfg.LedgerURL, cfg.TradesURL, cfg.HTTPClient,
		observability.NewLogger("ledgerclient"))

	// --- Account registry + trade history ---
	reg := registry.New(client, client, cfg.GroupAddr,
		observability.NewLogger("registry"), metrics)
	rec := history.New(client, observability.NewLogger("history"), metrics)

	// --- NATS ---
	nc, js, err := feed.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("FATAL: nats connect: %v", err)
	}
	defer nc.Close()
	log.Println("INFO: NATS connected")

	if err := feed.EnsureFillStream(ctx, js); err != nil {
		log.Fatalf("FATAL: ensure fills stream: %v", err)
	}

	// --- Live fill feed → reconciler ---
	fillFeed := feed.NewFillFeed(js, cfg.FillBufferSize,
		func(batch []venue.Fill) { rec.ApplyLive(batch) },
		observability.NewLogger("feed"), metrics)

	// Active-account changes drive the feed subscription and the bulk load.
	// SwitchTo binds the reconciler synchronously; the bulk load runs in its
	// own goroutine and a load superseded by a newer switch is discarded no
	// matter how the goroutines get scheduled.
	reg.OnActiveChange(func(acct *venue.MarginAccount) {
		if acct == nil {
			if err := fillFeed.Switch(ctx, venue.Address("")); err != nil {
				log.Printf("WARN: fill feed teardown: %v", err)
			}
			rec.Reset()
			return
		}
		if err := fillFeed.Switch(ctx, acct.Address); err != nil {
			log.Printf("WARN: fill feed switch: %v", err)
		}
		token := rec.SwitchTo(acct.Address)
		go func(acct *venue.MarginAccount, token uint64) {
			if err := rec.BulkLoad(ctx, acct, token); err != nil {
				log.Printf("WARN: trade history bulk load: %v", err)
			}
		}(acct, token)
	})

	// --- Servers ---
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr)
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, &server.Deps{
		Registry:   reg,
		Reconciler: rec,
		GRPC:       grpcServer,
		Health:     healthChecker,
		Metrics:    metrics,
	})

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	// 1. Account poller
	go reg.Run(ctx, cfg.PollInterval)

	// 2. gRPC server
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	// 3. HTTP API
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	// 4. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: Metrics server listening on %s/metrics", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// --- Optional auto-connect ---
	if !cfg.Owner.IsZero() {
		go func() {
			if err := reg.Connect(ctx, cfg.Owner); err != nil {
				log.Printf("WARN: auto-connect for %s failed: %v", cfg.Owner, err)
				return
			}
			grpcServer.SetServing(true)
			log.Printf("INFO: auto-connected owner %s", cfg.Owner)
		}()
	}

	healthChecker.SetReady(true)
	log.Printf("INFO: MarginSync ready (group=%s, grpc=%s, http=%s, metrics=%s)",
		cfg.GroupAddr, cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	cancel()
	fillFeed.Stop()

	log.Println("INFO: MarginSync shutdown complete")
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envDurOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
