// Package main runs the explorer bridge: block sync, chain state caching and the API.
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

	networkconfig "github.com/goodnatureofminers/blockinsight7000-bridge/internal/config"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/refresh"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/registry"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/service"
	"github.com/goodnatureofminers/blockinsight7000-bridge/internal/transport"
	"github.com/goodnatureofminers/blockinsight7000-proto/pkg/blockinsight7000/v1"
	grpcMiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcRecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcCtxTags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var config struct {
	NetworksDir          string        `long:"networks-dir" env:"EXPLORER_NETWORKS_DIR" description:"directory with one sub-directory per network (default: $BLOCKINSIGHT7000_PATH/networks or ~/.blockinsight7000/networks)"`
	Templates            []string      `long:"template" description:"add a network from a template: mainnet, testnet, regtest, signet or a path to a .yml file (repeatable)"`
	Networks             []string      `long:"network" env:"EXPLORER_NETWORKS" env-delim:"," description:"networks to serve (default: every configured network)"`
	NoSync               bool          `long:"no-sync" env:"EXPLORER_NO_SYNC" description:"serve stored blocks without syncing from the nodes"`
	Addr                 string        `long:"addr" env:"EXPLORER_ADDR" description:"grpc addr" default:":8000"`
	RestAddr             string        `long:"rest-addr" env:"EXPLORER_REST_ADDR" description:"rest addr" default:":8001"`
	RetryDelay           time.Duration `long:"retry-delay" env:"EXPLORER_RETRY_DELAY" description:"pause before reconnecting to a node after a failure" default:"10s"`
	RetryLimit           int           `long:"retry-limit" env:"EXPLORER_RETRY_LIMIT" description:"consecutive failures before a network stops syncing, 0 retries forever" default:"0"`
	NoResyncOnDivergence bool          `long:"no-resync-on-divergence" env:"EXPLORER_NO_RESYNC_ON_DIVERGENCE" description:"keep a diverged chain state stale instead of rebuilding it"`
	QueueSize            int           `long:"queue-size" env:"EXPLORER_QUEUE_SIZE" description:"chain state events buffered per network" default:"16"`
	Verbose              bool          `short:"v" long:"verbose" description:"log debug messages"`
	Quiet                bool          `short:"q" long:"quiet" description:"log errors only"`
	Silent               bool          `long:"silent" description:"disable logging"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := flags.ParseArgs(&config, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
	logger, err := newLogger(config.Verbose, config.Quiet, config.Silent)
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	grpcZap.ReplaceGrpcLoggerV2(logger)

	root := config.NetworksDir
	if root == "" {
		if root, err = networkconfig.DefaultRoot(); err != nil {
			logger.Fatal("Failed to resolve networks directory", zap.Error(err))
		}
	}
	for _, template := range config.Templates {
		name, created, err := networkconfig.AddNetwork(root, template)
		if err != nil {
			logger.Fatal("Failed to add network", zap.String("template", template), zap.Error(err))
		}
		logger.Info("Network configured", zap.String("network", name), zap.Bool("created", created))
	}

	names := config.Networks
	if len(names) == 0 {
		if names, err = networkconfig.Discover(root); err != nil {
			logger.Fatal("Failed to discover networks", zap.String("root", root), zap.Error(err))
		}
	}
	if len(names) == 0 {
		logger.Fatal("No networks configured, add one with --template", zap.String("root", root))
	}

	networks, err := registry.Build(ctx, root, names, registry.OpenBadger, logger.Named("registry"))
	if err != nil {
		logger.Fatal("Failed to load networks", zap.Error(err))
	}
	defer func() {
		if err := networks.Close(); err != nil {
			logger.Error("Failed to close networks", zap.Error(err))
		}
	}()

	healthServer := health.NewServer()
	explorerService := service.NewExplorerService(networks.Networks(), service.Options{
		Sync: !config.NoSync,
		Retry: refresh.RetryPolicy{
			Delay:       config.RetryDelay,
			MaxAttempts: config.RetryLimit,
		},
		ResyncOnDivergence: !config.NoResyncOnDivergence,
		QueueSize:          config.QueueSize,
		Signal:             blockSignal(logger.Named("blockSignal")),
		Health:             healthServer,
	}, logger.Named("explorerService"))

	serviceDone := make(chan struct{})
	go func() {
		defer close(serviceDone)
		if err := explorerService.Run(ctx); err != nil {
			logger.Error("Explorer service stopped", zap.Error(err))
		}
	}()

	chain := []grpc.UnaryServerInterceptor{
		grpcRecovery.UnaryServerInterceptor(),
		grpcCtxTags.UnaryServerInterceptor(),
		grpcPrometheus.UnaryServerInterceptor,
		grpcZap.UnaryServerInterceptor(logger),
	}
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(grpcMiddleware.ChainUnaryServer(chain...)),
	)
	grpcPrometheus.EnableHandlingTimeHistogram()

	blockinsight7000v1.RegisterExplorerServiceServer(grpcServer, transport.NewExplorerHandler(networks))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	grpcPrometheus.Register(grpcServer)

	socket, err := net.Listen("tcp", config.Addr)
	if err != nil {
		logger.Fatal("net.Listen error", zap.Error(err))
	}
	go func() {
		if serveErr := grpcServer.Serve(socket); serveErr != nil {
			logger.Fatal("Start GRPC server", zap.Error(serveErr))
		}
	}()
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down gRPC server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	mux := http.NewServeMux()

	gw := gwruntime.NewServeMux()
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if err := blockinsight7000v1.RegisterExplorerServiceHandlerFromEndpoint(ctx, gw, config.Addr, opts); err != nil {
		logger.Fatal("Register explorer handler", zap.Error(err))
	}

	mux.Handle(transport.APIPrefix+"/", transport.NewAPIHandler(networks, logger.Named("api")).Router())
	mux.Handle("/", gw)
	mux.Handle("/metrics", promhttp.Handler())

	s := &http.Server{
		Addr:              config.RestAddr,
		Handler:           cors.Default().Handler(mux),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down the http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown http server", zap.Error(err))
		}
	}()

	logger.Info("Starting HTTP server", zap.String("addr", config.RestAddr), zap.Strings("networks", networks.Names()))
	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to listen and serve", zap.Error(err))
	}

	stop()
	<-serviceDone
	logger.Info("Explorer stopped")
}
