package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tabletop-session-service/internal/app"
	"tabletop-session-service/internal/config"
	"tabletop-session-service/internal/coordinator"
	"tabletop-session-service/internal/domain"
	"tabletop-session-service/internal/http/handler"
	"tabletop-session-service/internal/http/router"
	"tabletop-session-service/internal/observability"
	"tabletop-session-service/internal/registry"
	"tabletop-session-service/internal/security"
	"tabletop-session-service/internal/transport"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "tabletop-session-service",
		Short: "Real-time tabletop RPG session server",
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to a dotenv file")
	cmd.AddCommand(newServeCommand(&envFile))
	cmd.AddCommand(newTokenCommand(&envFile))
	return cmd
}

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), *envFile)
		},
	}
}

func newTokenCommand(envFile *string) *cobra.Command {
	var (
		userID   string
		username string
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := config.LoadEnvFile(*envFile); err != nil {
				return err
			}
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			verifier := security.NewVerifier(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)
			token, err := verifier.Sign(security.Identity{
				UserID:   userID,
				Username: username,
				Role:     domain.Role(role),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "dev-user", "subject user id")
	cmd.Flags().StringVar(&username, "username", "dev", "display name")
	cmd.Flags().StringVar(&role, "role", "player", "role: master or player")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serve(ctx context.Context, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logProvider, err := observability.NewLogger(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	store := registry.New()
	hub := transport.NewHub(logger)
	coord := coordinator.New(store, hub, logger,
		coordinator.WithMaxGrantDuration(time.Duration(cfg.TempGrantMaxSecs)*time.Second))
	sweeper := registry.NewSweeper(store, cfg.SweepInterval, logger)
	verifier := security.NewVerifier(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSecret)

	sessionHandler := handler.NewSessionHandler(store)
	realtimeHandler := handler.NewRealtimeHandler(hub, coord, logger)

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: router.New(router.Dependencies{
			SessionHandler:  sessionHandler,
			RealtimeHandler: realtimeHandler,
			Verifier:        verifier,
			CORSOrigins:     cfg.CORSOrigins,
			APIRateLimitRPM: cfg.APIRateLimitRPM,
			EnableOTelHTTP:  cfg.OTELTracesEnabled,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a := app.New(cfg, logger, server, sweeper, runtime)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.Addr, "profile", cfg.Profile)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := a.Sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return a.Server.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := a.Observability.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("observability shutdown", "error", shutdownErr)
	}
	if logProvider != nil {
		if shutdownErr := logProvider.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("log provider shutdown", "error", shutdownErr)
		}
	}
	return err
}
