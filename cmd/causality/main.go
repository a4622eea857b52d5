package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/causality/internal/config"
	"github.com/devrev/causality/internal/health"
	"github.com/devrev/causality/internal/membership"
	"github.com/devrev/causality/internal/metrics"
	"github.com/devrev/causality/internal/model"
	"github.com/devrev/causality/internal/service"
	"github.com/devrev/causality/internal/transport"
	"github.com/devrev/causality/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	flag.Parse()

	if *configPath == "" {
		*configPath = "./config.yaml"
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to render configuration: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting causality node",
		zap.String("node_id", cfg.Node.ID),
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("event_log_backend", cfg.EventLog.Backend),
		zap.Bool("transport_enabled", cfg.Transport.Enabled),
		zap.Bool("membership_enabled", cfg.Membership.Enabled))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Causality node failed", zap.Error(err))
	}
	logger.Info("Causality node stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	stateStore, err := openStateStore(cfg, logger)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	eventLog, err := openEventLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eventLog.Close()

	// Clock services recover their persisted state on construction
	nodeID := cfg.Node.ID
	lamport := service.NewLamportService(ctx, nodeID, stateStore, service.LamportConfig{
		PersistenceEnabled: cfg.Lamport.PersistenceEnabled,
		PersistTimeout:     cfg.Store.PersistTimeout,
	}, logger, m)
	vectorClock := service.NewVectorClockService(ctx, nodeID, stateStore, service.VectorClockConfig{
		MaxEntries:     cfg.VectorClock.MaxEntries,
		GCThreshold:    cfg.VectorClock.GCThreshold,
		PersistTimeout: cfg.Store.PersistTimeout,
	}, logger, m)
	versionVector := service.NewVersionVectorService(ctx, nodeID, stateStore, service.VersionVectorConfig{
		HistoryLimit:      cfg.VersionVector.HistoryLimit,
		MergeHistoryLimit: cfg.VersionVector.MergeHistoryLimit,
		PersistTimeout:    cfg.Store.PersistTimeout,
	}, logger, m)
	conflicts := service.NewConflictService(eventLog, cfg.Conflict.Window, logger, m)

	timestamps := service.NewTimestampService(lamport, vectorClock, versionVector, conflicts, eventLog,
		service.TimestampConfig{
			DefaultConflictLimit: cfg.Conflict.DefaultLimit,
			DefaultStrategy:      model.ParseStrategy(cfg.Conflict.DefaultStrategy),
		}, logger, m)

	logger.Info("Timestamp services initialized",
		zap.Int64("lamport_time", lamport.CurrentTime()),
		zap.Int("vector_entries", vectorClock.CurrentClock().Len()))

	g, gctx := errgroup.WithContext(ctx)

	var (
		grpcServer *grpc.Server
		publisher  *transport.PeerPublisher
	)
	if cfg.Transport.Enabled {
		publisher = transport.NewPeerPublisher(transport.PublisherConfig{
			StaticPeers:    cfg.Transport.Peers,
			Workers:        cfg.Transport.PublishWorkers,
			QueueSize:      cfg.Transport.QueueSize,
			PublishTimeout: cfg.Transport.PublishTimeout,
		}, logger, m)
		timestamps.SetPublisher(publisher)

		validator := validation.NewValidatorWithLimits(0, cfg.VectorClock.MaxEntries)
		grpcServer = transport.NewServer(timestamps, validator, transport.ServerConfig{
			RateLimit: cfg.Transport.RateLimit,
			Burst:     cfg.Transport.Burst,
		}, logger, m).NewGRPCServer()

		addr := fmt.Sprintf("%s:%d", cfg.Transport.Host, cfg.Transport.Port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to create transport listener: %w", err)
		}
		g.Go(func() error {
			logger.Info("Starting timestamp exchange server", zap.String("address", addr))
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("transport server: %w", err)
			}
			return nil
		})
	}

	var gossip *membership.Service
	if cfg.Membership.Enabled {
		gossip = membership.NewService(membership.Config{
			Enabled:           true,
			BindAddr:          cfg.Membership.BindAddr,
			BindPort:          cfg.Membership.BindPort,
			SeedNodes:         cfg.Membership.SeedNodes,
			GossipInterval:    cfg.Membership.GossipInterval,
			ProbeTimeout:      cfg.Membership.ProbeTimeout,
			ProbeInterval:     cfg.Membership.ProbeInterval,
			UnregisterOnLeave: cfg.Membership.UnregisterOnLeave,
			TransportAddr:     transportAddr(cfg),
		}, nodeID, timestamps, lamport, logger, m)
		if publisher != nil {
			gossip.AddListener(publisher)
		}
		if err := gossip.Start(gctx); err != nil {
			if grpcServer != nil {
				grpcServer.Stop()
			}
			return err
		}
	}

	if cfg.Sync.Enabled {
		scheduler := service.NewSyncScheduler(timestamps, cfg.Sync.Interval, cfg.EventLog.Retention, logger)
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
	}

	checker := health.NewHealthChecker(stateStore, eventLog, logger)
	var servers []*http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Port != cfg.Health.Port {
		servers = append(servers, newHTTPServer(cfg.Metrics.Port,
			health.NewRouter(checker, cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))))
		servers = append(servers, newHTTPServer(cfg.Health.Port, health.NewRouter(checker, "", nil)))
	} else {
		var metricsHandler http.Handler
		if cfg.Metrics.Enabled {
			metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		}
		servers = append(servers, newHTTPServer(cfg.Health.Port, health.NewRouter(checker, cfg.Metrics.Path, metricsHandler)))
	}
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("Starting HTTP server", zap.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	// Shutdown starts once a signal arrives or any server fails
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully")
		checker.SetShuttingDown()
		shutdown(cfg.Server.ShutdownTimeout, grpcServer, publisher, gossip, servers, logger)
		return nil
	})

	return g.Wait()
}

func shutdown(
	timeout time.Duration,
	grpcServer *grpc.Server,
	publisher *transport.PeerPublisher,
	gossip *membership.Service,
	servers []*http.Server,
	logger *zap.Logger,
) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		select {
		case <-stopped:
			logger.Info("Transport server stopped gracefully")
		case <-shutdownCtx.Done():
			logger.Warn("Transport server stop timeout, forcing shutdown")
			grpcServer.Stop()
		}
	}

	if gossip != nil {
		if err := gossip.Shutdown(timeout); err != nil {
			logger.Warn("Failed to leave gossip cluster", zap.Error(err))
		}
	}

	if publisher != nil {
		if err := publisher.Close(timeout); err != nil {
			logger.Warn("Peer publisher did not drain", zap.Error(err))
		}
	}

	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown failed", zap.String("address", srv.Addr), zap.Error(err))
		}
	}
}

func newHTTPServer(port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// transportAddr is gossiped to peers only when the exchange is served
func transportAddr(cfg *config.Config) string {
	if !cfg.Transport.Enabled {
		return ""
	}
	return cfg.TransportAdvertiseAddr()
}
