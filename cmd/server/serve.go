package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"

	"semaphore/liveclass/internal/clients"
	"semaphore/liveclass/internal/clock"
	"semaphore/liveclass/internal/collab"
	"semaphore/liveclass/internal/db"
	livegrpc "semaphore/liveclass/internal/grpc"
	internalhttp "semaphore/liveclass/internal/http"
	"semaphore/liveclass/internal/jobs"
	"semaphore/liveclass/internal/lifecycle"
	"semaphore/liveclass/internal/notify"
	"semaphore/liveclass/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and gRPC servers (default)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	if migrateFirst, _ := cmd.Flags().GetBool("migrate"); migrateFirst {
		if err := db.MigrateUp(cfg.DatabaseURL, logger); err != nil {
			return err
		}
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := db.NewStore(pool)

	deps, err := clients.New(ctx, cfg, 5*time.Second)
	if err != nil {
		return err
	}
	defer deps.Close()

	dispatcher := notify.NewDispatcher(notify.NewRedisPublisher(deps.Redis), logger, cfg.NotifyBuffer)
	dispatcher.Start(ctx)
	defer dispatcher.Close()

	lifecycleService := lifecycle.NewService(store, dispatcher, clock.System{}, cfg.GracePeriod, logger)
	collabService := collab.NewService(store, lifecycleService, deps.Tutor, dispatcher, clock.System{}, collab.Config{
		WaitingRoomTTL:         cfg.WaitingRoomTTL,
		InvitationTTL:          cfg.InvitationTTL,
		MinMessagesForBalance:  cfg.MinMessagesForBalance,
		ImbalanceThreshold:     cfg.ImbalanceThreshold,
		AvailablePartnersLimit: cfg.AvailablePartnersLimit,
	}, logger)

	pingRedis := func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	server := internalhttp.NewServer(cfg, lifecycleService, collabService, notify.NewRelay(deps.Redis, logger), []internalhttp.Check{
		{Name: "postgres", Ping: store.Ping},
		{Name: "redis", Ping: pingRedis},
	}, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer, err := livegrpc.NewServer(cfg.ServiceAuthToken, healthServer)
	if err != nil {
		return err
	}
	livegrpc.WatchHealth(ctx, healthServer, []livegrpc.Dependency{
		{Name: "postgres", Ping: store.Ping},
		{Name: "redis", Ping: pingRedis},
	}, 10*time.Second, logger)
	jobs.StartCleanupJob(ctx, cfg, collabService, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("liveclass http listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			errCh <- err
			return
		}
		logger.Info("liveclass grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(listener); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()
	logger.Info("liveclass stopped")
	return nil
}
