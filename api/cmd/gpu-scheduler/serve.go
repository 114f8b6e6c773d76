package gpuscheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/causalai/gpu-scheduler/api/pkg/auth"
	"github.com/causalai/gpu-scheduler/api/pkg/calendar"
	"github.com/causalai/gpu-scheduler/api/pkg/config"
	"github.com/causalai/gpu-scheduler/api/pkg/janitor"
	"github.com/causalai/gpu-scheduler/api/pkg/scheduler"
	"github.com/causalai/gpu-scheduler/api/pkg/server"
	"github.com/causalai/gpu-scheduler/api/pkg/store"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gpu-scheduler api server.",
		Long:  "Start the gpu-scheduler api server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServerConfig()
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.ServerConfig) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("state_file", cfg.StateFile).
		Str("time_zone", calendar.TimeZoneName).
		Msg("starting gpu-scheduler")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fileStore := store.NewFileStore(cfg.StateFile)
	sched, err := scheduler.New(cfg, fileStore, calendar.RealClock{})
	if err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	sessions := auth.NewSessions(cfg.SessionTTL)
	apiServer := server.NewServer(cfg, sched, sessions)

	tick, err := janitor.New(sched, cfg.JanitorInterval)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return apiServer.ListenAndServe(groupCtx)
	})
	group.Go(func() error {
		return tick.Start(groupCtx)
	})

	return group.Wait()
}
