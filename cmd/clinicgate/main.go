package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/clinicgate/internal/clinic"
	"github.com/tyemirov/clinicgate/internal/credentialstore"
	"github.com/tyemirov/clinicgate/internal/metrics"
	"github.com/tyemirov/clinicgate/pkg/credentials"
	"github.com/tyemirov/clinicgate/pkg/gateway"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

const (
	configCodeMissingBaseURL          = "config.missing_base_url"
	configCodeInvalidBaseURL          = "config.invalid_base_url"
	configCodeInvalidTimeout          = "config.invalid_timeout"
	configCodeInvalidLogLevel         = "config.invalid_log_level"
	configCodeMissingProfile          = "config.missing_profile"
	configCodeUninitializedClientConf = "config.uninitialized_client_config"
)

type contextKey string

const clientConfigContextKey contextKey = "clientConfig"

// ClientConfig holds the settings shared by every API subcommand.
type ClientConfig struct {
	BaseURL            string
	Timeout            time.Duration
	CredentialStoreURL string
	Profile            string
	LogLevel           zapcore.Level
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "clinicgate",
		Short:             "Practice API client with automatic access token refresh",
		SilenceUsage:      true,
		PersistentPreRunE: prepareClientConfig,
	}

	rootCmd.PersistentFlags().String("base_url", "http://localhost:8080", "Practice API base URL")
	rootCmd.PersistentFlags().Duration("timeout", gateway.DefaultTimeout, "Per-request timeout")
	rootCmd.PersistentFlags().String("credential_store", "", "Credential store URL (memory://, file://, sqlite://, postgres://, pgx://, redis://); defaults to a file in the user config directory")
	rootCmd.PersistentFlags().String("profile", credentials.DefaultProfile, "Credential profile name")
	rootCmd.PersistentFlags().String("log_level", "warn", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("base_url", rootCmd.PersistentFlags().Lookup("base_url"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	_ = viper.BindPFlag("credential_store", rootCmd.PersistentFlags().Lookup("credential_store"))
	_ = viper.BindPFlag("profile", rootCmd.PersistentFlags().Lookup("profile"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))

	viper.SetEnvPrefix("CLINICGATE")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newWhoAmICommand(),
		newRegisterCommand(),
		newPatientsCommand(),
		newSessionsCommand(),
		newDashboardCommand(),
		newPingCommand(),
		newSandboxCommand(),
	)
	return rootCmd
}

func prepareClientConfig(command *cobra.Command, arguments []string) error {
	clientConfig, loadErr := LoadClientConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, clientConfigContextKey, clientConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

// LoadClientConfig reads and validates the client settings from viper.
func LoadClientConfig() (ClientConfig, error) {
	baseURL := strings.TrimSpace(viper.GetString("base_url"))
	if baseURL == "" {
		return ClientConfig{}, configError(configCodeMissingBaseURL, "base_url must be provided")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return ClientConfig{}, configError(configCodeInvalidBaseURL, "base_url must be an http or https URL")
	}

	timeout := viper.GetDuration("timeout")
	if timeout <= 0 {
		return ClientConfig{}, configError(configCodeInvalidTimeout, "timeout must be greater than zero")
	}

	profile := strings.TrimSpace(viper.GetString("profile"))
	if profile == "" {
		return ClientConfig{}, configError(configCodeMissingProfile, "profile must be provided")
	}

	logLevel := zapcore.WarnLevel
	if configuredLevel := strings.TrimSpace(viper.GetString("log_level")); configuredLevel != "" {
		parsedLevel, parseErr := zapcore.ParseLevel(configuredLevel)
		if parseErr != nil {
			return ClientConfig{}, configError(configCodeInvalidLogLevel, "log_level must be one of debug, info, warn, error")
		}
		logLevel = parsedLevel
	}

	storeURL := strings.TrimSpace(viper.GetString("credential_store"))
	if storeURL == "" {
		storeURL = defaultCredentialStoreURL()
	}

	return ClientConfig{
		BaseURL:            baseURL,
		Timeout:            timeout,
		CredentialStoreURL: storeURL,
		Profile:            profile,
		LogLevel:           logLevel,
	}, nil
}

func defaultCredentialStoreURL() string {
	configDirectory, err := os.UserConfigDir()
	if err != nil || configDirectory == "" {
		return "memory://"
	}
	return "file://" + filepath.Join(configDirectory, "clinicgate", "credentials.json")
}

func clientConfigFrom(command *cobra.Command) (ClientConfig, error) {
	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(clientConfigContextKey)
	}
	clientConfig, ok := contextValue.(ClientConfig)
	if !ok {
		return ClientConfig{}, configError(configCodeUninitializedClientConf, "client configuration not prepared; PersistentPreRunE must execute before RunE")
	}
	return clientConfig, nil
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	if level == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	return loggerConfig.Build()
}

// session bundles the gateway client and the services built on it for one command run.
type session struct {
	logger   *zap.Logger
	store    credentialstore.Store
	metrics  *metrics.CounterMetrics
	client   *gateway.Client
	auth     *clinic.AuthService
	users    *clinic.UserService
	patients *clinic.PatientService
	schedule *clinic.ScheduleService
}

func openSession(command *cobra.Command) (*session, error) {
	clientConfig, err := clientConfigFrom(command)
	if err != nil {
		return nil, err
	}
	logger, loggerErr := newLogger(clientConfig.LogLevel)
	if loggerErr != nil {
		return nil, loggerErr
	}
	store, storeErr := credentialstore.Open(command.Context(), clientConfig.CredentialStoreURL, clientConfig.Profile)
	if storeErr != nil {
		_ = logger.Sync()
		return nil, storeErr
	}
	recorder := metrics.NewCounterMetrics()
	client, clientErr := gateway.New(gateway.Config{
		BaseURL:      clientConfig.BaseURL,
		Timeout:      clientConfig.Timeout,
		PublicRoutes: append(gateway.DefaultPublicRoutes(), "GET "+healthPath),
		Credentials:  store,
		Logger:       logger,
		Metrics:      recorder,
		OnUnrecoverable: func(ctx context.Context, redirect gateway.Redirect) {
			logger.Warn("session ended; run `clinicgate login` to sign in again",
				zap.String("code", "cli.session.unrecoverable"),
				zap.String("login_path", redirect.LoginPath),
				zap.String("profile", clientConfig.Profile))
		},
	})
	if clientErr != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, clientErr
	}
	return &session{
		logger:   logger,
		store:    store,
		metrics:  recorder,
		client:   client,
		auth:     clinic.NewAuthService(client, logger),
		users:    clinic.NewUserService(client),
		patients: clinic.NewPatientService(client),
		schedule: clinic.NewScheduleService(client),
	}, nil
}

func (activeSession *session) Close() {
	activeSession.logger.Debug("gateway counters",
		zap.Any("events", activeSession.metrics.Snapshot()))
	if closeErr := activeSession.store.Close(); closeErr != nil {
		activeSession.logger.Warn("credential store close failed",
			zap.String("code", "cli.credentials.close_failed"),
			zap.Error(closeErr))
	}
	_ = activeSession.logger.Sync()
}
