package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	relayconfig "logrelay/config"
	"logrelay/internal/idpool"
	"logrelay/internal/messaging/consumer"
	worker "logrelay/processing"
	core "logrelay/relay/service/core"
	grpchandler "logrelay/relay/service/grpc"
	httphandler "logrelay/relay/service/http"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Real-time log relay",
		Long:  "relay accepts structured logs over HTTP, gRPC, Kafka and Postgres NOTIFY and streams them to live subscribers.",
	}

	serveCmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the relay (HTTP/SSE and gRPC)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, path)
		},
	}
	serveCmd.Flags().String("config", relayconfig.DefaultConfigPath, "Path to the relay YAML config")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the relay version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relay", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// serviceOptions maps the file configuration onto core options
func serviceOptions(cfg *relayconfig.RelayConfig) core.Options {
	return core.Options{
		BufferCapacity: cfg.Buffer.Capacity,
		BroadcastOnly:  cfg.Buffer.Mode == relayconfig.BufferModeBroadcast,
		IDPool: idpool.Options{
			PoolSize:        cfg.IDPool.PoolSize,
			BatchSize:       cfg.IDPool.BatchSize,
			RefillThreshold: cfg.IDPool.RefillThreshold,
			Generate:        idpool.GeneratorFor(cfg.IDPool.Format),
		},
		MaxConnections:        cfg.Connections.MaxConnections,
		MaxConnectionsPerAddr: cfg.Connections.MaxConnectionsPerIP,
		StaleTimeout:          cfg.Connections.StaleTimeout,
		ReapInterval:          cfg.Connections.ReapInterval,
		KeepAliveInterval:     cfg.Connections.KeepAliveInterval,
		SubscriberQueue:       cfg.Connections.SubscriberQueue,
	}
}

// startSources builds every enabled ingest source with its worker pool
func startSources(ctx context.Context, cfg relayconfig.SourcesConfig, svc *core.Service, logger *log.Logger, wg *sync.WaitGroup) ([]consumer.Consumer, error) {
	var consumers []consumer.Consumer

	if cfg.KafkaConsumer.Enabled {
		for i := 0; i < cfg.KafkaConsumer.Count; i++ {
			c, err := consumer.NewKafkaConsumer(cfg.KafkaConsumer, logger)
			if err != nil {
				return consumers, fmt.Errorf("failed to initialize Kafka consumer %d: %w", i+1, err)
			}
			consumers = append(consumers, c)
		}
	}

	if cfg.PGNotify.Enabled {
		c, err := consumer.NewPGNotifyConsumer(ctx, cfg.PGNotify, logger)
		if err != nil {
			return consumers, fmt.Errorf("failed to initialize PG notify consumer: %w", err)
		}
		consumers = append(consumers, c)
	}

	for _, c := range consumers {
		w := worker.New(cfg.Worker, logger, svc, c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	return consumers, nil
}

func serve(ctx context.Context, configPath string) error {
	logger := log.New(os.Stdout, "[RELAY] ", log.LstdFlags|log.Lshortfile)
	logger.Println("Starting log relay...")

	// 1. Load relay configuration
	cfg, err := relayconfig.LoadRelayConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load relay configuration: %w", err)
	}

	// 2. Create core Service and transports
	coreService := core.NewService(serviceOptions(cfg), logger)
	coreService.Start()
	defer coreService.Close()
	logger.Printf("Core service started (mode: %s, capacity: %d)", cfg.Buffer.Mode, cfg.Buffer.Capacity)

	logHttpHandler := httphandler.NewLogHandler(coreService, logger, cfg.HttpServer.MaxBodyBytes)
	logGrpcService := grpchandler.NewServer(coreService, logger)

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	// 3. [Conditional startup] HTTP server
	var httpServer *http.Server
	if cfg.HttpListenAddr != "" {
		mux := http.NewServeMux()
		logHttpHandler.Register(mux)

		httpServer = &http.Server{
			Addr:           cfg.HttpListenAddr,
			Handler:        mux,
			ReadTimeout:    cfg.HttpServer.ReadTimeout,
			WriteTimeout:   cfg.HttpServer.WriteTimeout, // SSE streams lift this per request
			IdleTimeout:    cfg.HttpServer.IdleTimeout,
			MaxHeaderBytes: cfg.HttpServer.MaxHeaderBytes,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Printf("HTTP server listening on %s", cfg.HttpListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("HTTP server startup failed: %w", err)
			}
			logger.Println("HTTP server stopped listening.")
		}()
	} else {
		logger.Println("http_listen_addr not configured, skipping HTTP server startup.")
	}

	// 4. [Conditional startup] gRPC server
	var grpcServer *grpc.Server
	if cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			return fmt.Errorf("unable to listen on gRPC port %s: %w", cfg.GrpcListenAddr, err)
		}
		grpcServer = grpc.NewServer()
		grpchandler.RegisterRelayServer(grpcServer, logGrpcService)
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Printf("gRPC server listening on %s", cfg.GrpcListenAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("gRPC server startup failed: %w", err)
			}
			logger.Println("gRPC server stopped listening.")
		}()
	} else {
		logger.Println("grpc_listen_addr not configured, skipping gRPC server startup.")
	}

	// 5. [Conditional startup] ingest sources
	sourceCtx, stopSources := context.WithCancel(ctx)
	defer stopSources()
	var sourceWg sync.WaitGroup
	consumers, err := startSources(sourceCtx, cfg.Sources, coreService, logger, &sourceWg)
	if err != nil {
		for _, c := range consumers {
			_ = c.Close()
		}
		return err
	}
	if len(consumers) == 0 {
		logger.Println("No ingest sources enabled, accepting logs over HTTP/gRPC only.")
	}

	// 6. Graceful shutdown
	var runErr error
	select {
	case <-ctx.Done():
		logger.Println("Received shutdown signal, starting graceful shutdown of relay...")
	case runErr = <-errCh:
		logger.Printf("Server failure: %v, shutting down relay...", runErr)
	}

	stopSources()
	sourceWg.Wait()
	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Printf("Consumer close failed: %v", err)
		}
	}

	// Ends every open stream so the servers below can drain.
	coreService.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		logger.Println("Shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP server shutdown failed: %v", err)
		} else {
			logger.Println("HTTP server shutdown.")
		}
	}
	if grpcServer != nil {
		logger.Println("Shutting down gRPC server...")
		grpcServer.GracefulStop()
		logger.Println("gRPC server shutdown.")
	}

	wg.Wait()
	logger.Println("All servers stopped. Relay shutdown.")
	return runErr
}
