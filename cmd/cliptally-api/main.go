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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cliptally/backend/internal/auth"
	"github.com/cliptally/backend/internal/clock"
	"github.com/cliptally/backend/internal/config"
	"github.com/cliptally/backend/internal/database"
	"github.com/cliptally/backend/internal/ledger"
	"github.com/cliptally/backend/internal/logging"
	"github.com/cliptally/backend/internal/rooms"
	"github.com/cliptally/backend/internal/server"
	"github.com/cliptally/backend/internal/stats"
)

var cfgFile string

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "cliptally-api",
		Short: "Upload accounting service for chat-room media counts",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("timezone", defaults.GetString("time.timezone"), "Civil timezone for all user-facing dates")
	cmd.PersistentFlags().String("signing-secret", "", "Shim token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "time.timezone", "timezone")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// newIssueTokenCommand mints a long-lived credential for a transport shim
// deployment. The shim stores the token and presents it as a bearer token.
func newIssueTokenCommand() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Mint a bearer token for a transport shim",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.SigningSecret),
				Issuer:        appConfig.TokenIssuer,
				Audience:      appConfig.TokenAudience,
				TokenTTL:      ttl,
			})
			token, expiresIn, err := issuer.IssueShimToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "relay", "Name identifying the shim deployment")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default 90 days)")
	return cmd
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	appClock, err := clock.New(clock.Config{Timezone: appConfig.Timezone})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
	})

	ledgerStore, err := ledger.NewStore(ledger.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	merger, err := ledger.NewMerger(ledger.MergerConfig{
		Database:   db,
		Clock:      appClock.Now,
		IDProvider: ledger.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	settingsStore, err := rooms.NewStore(rooms.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	statsService, err := stats.NewService(stats.ServiceConfig{
		Ledger:   ledgerStore,
		Settings: settingsStore,
		Clock:    appClock.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Ledger:       ledgerStore,
		Merger:       merger,
		Stats:        statsService,
		Settings:     settingsStore,
		Clock:        appClock,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("timezone", appConfig.Timezone))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
