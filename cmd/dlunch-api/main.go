package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scarvalhojr/dlunch/internal/auth"
	"github.com/scarvalhojr/dlunch/internal/config"
	"github.com/scarvalhojr/dlunch/internal/database"
	"github.com/scarvalhojr/dlunch/internal/decisions"
	"github.com/scarvalhojr/dlunch/internal/eaters"
	"github.com/scarvalhojr/dlunch/internal/eateries"
	"github.com/scarvalhojr/dlunch/internal/events"
	"github.com/scarvalhojr/dlunch/internal/logging"
	"github.com/scarvalhojr/dlunch/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dlunch-api",
		Short: "DLunch eating decision service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

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
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")
	cmd.PersistentFlags().String("owner-subject", defaults.GetString("auth.owner_subject"), "Identity allowed to mutate the registries")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("group-name", defaults.GetString("group.name"), "Display name of the decision group")
	cmd.PersistentFlags().Int64("min-lead-time-s", defaults.GetInt64("engine.min_lead_time_s"), "Minimum seconds between now and a proposed decision time")
	cmd.PersistentFlags().Int64("day-offset-s", defaults.GetInt64("engine.day_offset_s"), "Offset applied before day bucketing")
	cmd.PersistentFlags().Int("max-proposals-per-day", defaults.GetInt("engine.max_proposals_per_day"), "Maximum proposals per day bucket")
	cmd.PersistentFlags().Int("min-eaters", defaults.GetInt("engine.min_eaters"), "Minimum voters required to decide a proposal")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.owner_subject", "owner-subject")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "group.name", "group-name")
	bindFlag(cmd, "engine.min_lead_time_s", "min-lead-time-s")
	bindFlag(cmd, "engine.day_offset_s", "day-offset-s")
	bindFlag(cmd, "engine.max_proposals_per_day", "max-proposals-per-day")
	bindFlag(cmd, "engine.min_eaters", "min-eaters")
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

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	dispatcher := events.NewDispatcher()
	recorder, err := events.NewRecorder(events.RecorderConfig{
		IDProvider: events.NewUUIDProvider(),
		Dispatcher: dispatcher,
	})
	if err != nil {
		return err
	}

	eaterRegistry, err := eaters.NewService(eaters.ServiceConfig{
		Database: db,
		Owner:    appConfig.OwnerSubject,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	eateryCatalog, err := eateries.NewService(eateries.ServiceConfig{
		Database: db,
		Owner:    appConfig.OwnerSubject,
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	decisionEngine, err := decisions.NewService(decisions.ServiceConfig{
		Database: db,
		Registry: eaterRegistry,
		Catalog:  eateryCatalog,
		Recorder: recorder,
		Logger:   logger,
		Params: decisions.Params{
			GroupName:          appConfig.GroupName,
			MinLeadTime:        appConfig.MinLeadTime,
			DayOffsetSeconds:   appConfig.DayOffsetSeconds,
			MaxProposalsPerDay: appConfig.MaxProposalsPerDay,
			MinEaters:          appConfig.MinEaters,
		},
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:    tokenManager,
		Eaters:          eaterRegistry,
		Eateries:        eateryCatalog,
		Decisions:       decisionEngine,
		Dispatcher:      dispatcher,
		BootstrapSecret: appConfig.SigningSecret,
		Logger:          logger,
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
			zap.String("group", appConfig.GroupName))
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
