package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/coins/internal/contract"
	"github.com/MarkoPoloResearchLab/coins/internal/gateway"
	"github.com/MarkoPoloResearchLab/coins/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/coins/internal/identity"
	"github.com/MarkoPoloResearchLab/coins/internal/observability"
	"github.com/MarkoPoloResearchLab/coins/internal/store"
	"github.com/MarkoPoloResearchLab/coins/internal/store/redisstore"
	"github.com/MarkoPoloResearchLab/coins/pkg/ledger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const (
	flagStateURL         = "state-url"
	flagGRPCListenAddr   = "grpc-listen-addr"
	flagHTTPListenAddr   = "http-listen-addr"
	flagJWTSigningKey    = "jwt-signing-key"
	flagJWTIssuer        = "jwt-issuer"
	flagJWTUsernameClaim = "jwt-username-claim"
	flagAllowedOrigins   = "allowed-origins"
	flagRequestTimeout   = "request-timeout"
	flagRedisKeyPrefix   = "redis-key-prefix"
	flagCreatorCA        = "creator-ca"
	flagMinter           = "minter"
	flagCurrency         = "currency"
	flagCaller           = "caller"

	envPrefix = "COINSD"

	defaultStateURL       = "badger:///tmp/coins/state"
	defaultGRPCListenAddr = ":7050"
	defaultHTTPListenAddr = ":8080"
	defaultJWTIssuer      = "coins-gateway"
	defaultRequestTimeout = 5 * time.Second
)

type runtimeConfig struct {
	StateURL         string
	GRPCListenAddr   string
	HTTPListenAddr   string
	JWTSigningKey    string
	JWTIssuer        string
	JWTUsernameClaim string
	AllowedOrigins   []string
	RequestTimeout   time.Duration
	RedisKeyPrefix   string
	CreatorCAPath    string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "coinsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	settings := newSettings()
	cmd := &cobra.Command{
		Use:           "coinsd",
		Short:         "Coins ledger gRPC and HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, settings, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(cfg.JWTSigningKey) == "" {
				return fmt.Errorf("jwt signing key is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	flags := cmd.PersistentFlags()
	flags.String(flagStateURL, defaultStateURL, "World state URL (memory://, badger://dir, sqlite://path, postgres://..., pgx://..., redis://...)")
	flags.String(flagRedisKeyPrefix, redisstore.DefaultKeyPrefix, "Key prefix for the redis world state")
	cmd.Flags().String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP gateway listen address")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 key for gateway bearer tokens")
	cmd.Flags().String(flagJWTIssuer, defaultJWTIssuer, "Expected issuer of gateway bearer tokens")
	cmd.Flags().String(flagJWTUsernameClaim, identity.DefaultUsernameClaim, "Token claim carrying the caller id")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "Per-request ledger timeout")
	cmd.Flags().String(flagCreatorCA, "", "PEM bundle of CAs trusted to issue gRPC creator certificates (unset rejects all creators)")

	cmd.AddCommand(newInitLedgerCommand(cfg))
	return cmd
}

func newInitLedgerCommand(cfg *runtimeConfig) *cobra.Command {
	var minterID, currencyName, callerID string
	cmd := &cobra.Command{
		Use:   "init-ledger",
		Short: "Initialize the currency and minter in the configured world state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(callerID) == "" {
				callerID = minterID
			}
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			service, cleanup, err := openService(cmd.Context(), cfg, logger, nil)
			if err != nil {
				return err
			}
			defer func() { _ = cleanup() }()

			currency, err := service.InitLedger(identity.WithCaller(cmd.Context(), callerID), minterID, currencyName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), currency)
			return nil
		},
	}
	cmd.Flags().StringVar(&minterID, flagMinter, "", "Minter account id")
	cmd.Flags().StringVar(&currencyName, flagCurrency, "", "Currency name")
	cmd.Flags().StringVar(&callerID, flagCaller, "", "Caller id recorded for the operation (defaults to the minter)")
	_ = cmd.MarkFlagRequired(flagMinter)
	_ = cmd.MarkFlagRequired(flagCurrency)
	return cmd
}

func newSettings() *viper.Viper {
	settings := viper.New()
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
	return settings
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *runtimeConfig) error {
	if err := settings.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.StateURL = settings.GetString(flagStateURL)
	if cfg.StateURL == "" {
		cfg.StateURL = defaultStateURL
	}
	cfg.RedisKeyPrefix = settings.GetString(flagRedisKeyPrefix)
	cfg.GRPCListenAddr = settings.GetString(flagGRPCListenAddr)
	if cfg.GRPCListenAddr == "" {
		cfg.GRPCListenAddr = defaultGRPCListenAddr
	}
	cfg.HTTPListenAddr = settings.GetString(flagHTTPListenAddr)
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = defaultHTTPListenAddr
	}
	cfg.JWTSigningKey = settings.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = settings.GetString(flagJWTIssuer)
	cfg.JWTUsernameClaim = settings.GetString(flagJWTUsernameClaim)
	cfg.AllowedOrigins = gateway.ParseAllowedOrigins(settings.GetString(flagAllowedOrigins))
	cfg.RequestTimeout = settings.GetDuration(flagRequestTimeout)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	cfg.CreatorCAPath = strings.TrimSpace(settings.GetString(flagCreatorCA))
	return nil
}

func loadCertificateVerifier(path string) (*identity.CertificateVerifier, error) {
	if path == "" {
		return nil, nil
	}
	bundle, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read creator CA bundle: %w", err)
	}
	return identity.NewCertificateVerifier(bundle)
}

func openService(ctx context.Context, cfg *runtimeConfig, logger *zap.Logger, metrics *observability.Metrics) (*ledger.Service, func() error, error) {
	state, cleanup, err := store.Open(ctx, cfg.StateURL, store.Options{Logger: logger, RedisKeyPrefix: cfg.RedisKeyPrefix})
	if err != nil {
		return nil, nil, fmt.Errorf("world state open: %w", err)
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(
		state,
		identity.ContextResolver{},
		clock,
		uuid.NewString,
		ledger.WithOperationLogger(observability.NewOperationLogger(logger, metrics)),
	)
	if err != nil {
		_ = cleanup()
		return nil, nil, fmt.Errorf("ledger service init: %w", err)
	}
	return service, cleanup, nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	service, cleanup, err := openService(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := cleanup(); closeErr != nil {
			logger.Warn("world state close error", zap.Error(closeErr))
		}
	}()
	dispatcher := contract.NewDispatcher(service)

	verifier, err := identity.NewTokenVerifier(identity.TokenConfig{
		SigningKey:    []byte(cfg.JWTSigningKey),
		Issuer:        cfg.JWTIssuer,
		UsernameClaim: cfg.JWTUsernameClaim,
	})
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}
	gatewayConfig := gateway.Config{
		ListenAddr:     cfg.HTTPListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	}
	router, err := gateway.NewRouter(gatewayConfig, gateway.Dependencies{
		Dispatcher: dispatcher,
		Verifier:   verifier,
		Metrics:    metrics,
		Logger:     logger.Named("gateway"),
	})
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	certificates, err := loadCertificateVerifier(cfg.CreatorCAPath)
	if err != nil {
		return fmt.Errorf("creator certificates: %w", err)
	}
	if certificates == nil {
		logger.Warn("no creator CA configured, gRPC calls are anonymous only")
	}
	grpcServer, err := grpcserver.NewServer(dispatcher, certificates, logger.Named("grpc"))
	if err != nil {
		return fmt.Errorf("grpc server init: %w", err)
	}
	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		if serveErr := grpcServer.Serve(lis); serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			return serveErr
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown requested")
		grpcServer.GracefulStop()
		return nil
	})
	group.Go(func() error {
		return gateway.Run(groupCtx, gatewayConfig, router, logger.Named("gateway"))
	})
	return group.Wait()
}
