package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/internal/sandbox"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

const (
	configCodeMissingJWTSigningKey     = "config.missing_jwt_signing_key"
	configCodeInvalidAccessTTL         = "config.invalid_access_ttl"
	configCodeInvalidRefreshTTL        = "config.invalid_refresh_ttl"
	configCodeInvalidSlotDays          = "config.invalid_slot_days"
	configCodeUninitializedSandboxConf = "config.uninitialized_sandbox_config"

	sandboxConfigContextKey contextKey = "sandboxConfig"
	metricsNamespace                   = "clinicgate"
)

// SandboxConfig holds the settings of the local practice API double.
type SandboxConfig struct {
	ListenAddr  string
	DatabaseURL string
	Server      sandbox.Config
}

func newSandboxCommand() *cobra.Command {
	sandboxCmd := &cobra.Command{
		Use:               "sandbox",
		Short:             "Run a local practice API for development and demos",
		PersistentPreRunE: prepareSandboxConfig,
		RunE:              runSandbox,
	}

	sandboxCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	sandboxCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for access tokens")
	sandboxCmd.Flags().String("issuer", sandbox.DefaultIssuer, "Access token issuer")
	sandboxCmd.Flags().Duration("access_ttl", sandbox.DefaultAccessTokenTTL, "Access token TTL")
	sandboxCmd.Flags().Duration("refresh_ttl", sandbox.DefaultRefreshTokenTTL, "Refresh token TTL")
	sandboxCmd.Flags().String("database_url", "", "Database URL for refresh tokens (postgres:// or sqlite://; leave empty for in-memory store)")
	sandboxCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Origins allowed to call the API from a browser; empty disables CORS")
	sandboxCmd.Flags().Int("slot_days", sandbox.DefaultSlotDays, "Number of weekdays offered by the slot calendar")

	_ = viper.BindPFlag("listen_addr", sandboxCmd.Flags().Lookup("listen_addr"))
	_ = viper.BindPFlag("jwt_signing_key", sandboxCmd.Flags().Lookup("jwt_signing_key"))
	_ = viper.BindPFlag("issuer", sandboxCmd.Flags().Lookup("issuer"))
	_ = viper.BindPFlag("access_ttl", sandboxCmd.Flags().Lookup("access_ttl"))
	_ = viper.BindPFlag("refresh_ttl", sandboxCmd.Flags().Lookup("refresh_ttl"))
	_ = viper.BindPFlag("database_url", sandboxCmd.Flags().Lookup("database_url"))
	_ = viper.BindPFlag("cors_allowed_origins", sandboxCmd.Flags().Lookup("cors_allowed_origins"))
	_ = viper.BindPFlag("slot_days", sandboxCmd.Flags().Lookup("slot_days"))

	return sandboxCmd
}

func prepareSandboxConfig(command *cobra.Command, arguments []string) error {
	sandboxConfig, loadErr := LoadSandboxConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, sandboxConfigContextKey, sandboxConfig))
	return nil
}

// LoadSandboxConfig reads and validates the sandbox settings from viper.
func LoadSandboxConfig() (SandboxConfig, error) {
	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return SandboxConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	accessTTL := viper.GetDuration("access_ttl")
	if accessTTL <= 0 {
		return SandboxConfig{}, configError(configCodeInvalidAccessTTL, "access_ttl must be greater than zero")
	}

	refreshTTL := viper.GetDuration("refresh_ttl")
	if refreshTTL <= accessTTL {
		return SandboxConfig{}, configError(configCodeInvalidRefreshTTL, "refresh_ttl must be greater than access_ttl")
	}

	slotDays := viper.GetInt("slot_days")
	if slotDays < 0 {
		return SandboxConfig{}, configError(configCodeInvalidSlotDays, "slot_days must not be negative")
	}

	listenAddr := viper.GetString("listen_addr")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	return SandboxConfig{
		ListenAddr:  listenAddr,
		DatabaseURL: viper.GetString("database_url"),
		Server: sandbox.Config{
			SigningKey:      []byte(jwtSigningKey),
			Issuer:          viper.GetString("issuer"),
			AccessTokenTTL:  accessTTL,
			RefreshTokenTTL: refreshTTL,
			AllowedOrigins:  viper.GetStringSlice("cors_allowed_origins"),
			SlotDays:        slotDays,
		},
	}, nil
}

func runSandbox(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(sandboxConfigContextKey)
	}
	sandboxConfig, ok := contextValue.(SandboxConfig)
	if !ok {
		return configError(configCodeUninitializedSandboxConf, "sandbox configuration not prepared; PersistentPreRunE must execute before RunE")
	}

	var refreshStore sandbox.RefreshTokenStore
	if sandboxConfig.DatabaseURL != "" {
		persistentStore, storeErr := sandbox.NewDatabaseRefreshTokenStore(context.Background(), sandboxConfig.DatabaseURL)
		if storeErr != nil {
			return storeErr
		}
		defer func() { _ = persistentStore.Close() }()
		refreshStore = persistentStore
		logger.Info("using persistent refresh token store", zap.String("driver", persistentStore.Driver()))
	} else {
		refreshStore = sandbox.NewMemoryRefreshTokenStore()
		logger.Info("using in-memory refresh token store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsRecorder, metricsErr := metrics.NewPrometheusMetrics(registry, metricsNamespace)
	if metricsErr != nil {
		return metricsErr
	}

	gin.SetMode(gin.ReleaseMode)
	practiceServer, serverErr := sandbox.New(sandboxConfig.Server, sandbox.Dependencies{
		RefreshTokens:  refreshStore,
		Logger:         logger,
		Metrics:        metricsRecorder,
		MetricsHandler: metrics.Handler(registry),
	})
	if serverErr != nil {
		return serverErr
	}
	server := &http.Server{
		Addr:              sandboxConfig.ListenAddr,
		Handler:           practiceServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(stopSignals)
		select {
		case <-stopSignals:
		case <-shutdownCtx.Done():
			return
		}
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", sandboxConfig.ListenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}
