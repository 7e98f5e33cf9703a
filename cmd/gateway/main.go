package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/attendance"
	cfgpkg "github.com/jntcloudcod2019/mypregiato-sub003/pkg/config"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/gateway"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/pubsub"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Messaging gateway and attendance router",
		Long:  "Bridges the headless messaging client and the operator pool over RabbitMQ.",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return serve(configPath)
		},
	}
	serveCmd.Flags().String("config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(configPath string) error {
	cfg, err := cfgpkg.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var st attendance.Store
	if cfg.Database.DSN != "" {
		pg, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		if err := pg.Migrate(); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
		st = pg
	} else {
		logger.Warn("no database DSN configured, chat requests are not persisted")
		st = store.NewNop(logger)
	}

	router := attendance.NewRouter(st, logger,
		attendance.WithResponseWindow(cfg.Attendance.ResponseWindow),
		attendance.WithDefaultMaxChats(cfg.Attendance.DefaultMaxChats),
	)
	if err := router.LoadOperators(ctx); err != nil {
		logger.Warn("loading operators failed", slog.Any("error", err))
	}

	client, err := pubsub.NewClient(ctx, pubsub.Config{
		URL:           cfg.Rabbit.URL,
		Exchange:      cfg.Rabbit.Exchange,
		IncomingQueue: cfg.Rabbit.IncomingQueue,
		OutgoingQueue: cfg.Rabbit.OutgoingQueue,
	}, logger)
	if err != nil {
		return fmt.Errorf("broker client: %w", err)
	}
	defer client.Close()

	gw := gateway.New(client, router, gateway.Config{
		OutgoingQueue: cfg.Rabbit.OutgoingQueue,
	}, logger)

	logger.Info("gateway started",
		slog.String("incoming", cfg.Rabbit.IncomingQueue),
		slog.String("outgoing", cfg.Rabbit.OutgoingQueue),
	)
	if err := gw.Run(ctx, client); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
