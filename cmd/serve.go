package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/outreach-cli/internal/api"
	"github.com/sells-group/outreach-cli/internal/auth"
	"github.com/sells-group/outreach-cli/internal/monitoring"
	"github.com/sells-group/outreach-cli/internal/pipeline"
)

var servePort int

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and pipeline workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		tokens, err := auth.NewJWTManager(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.StateTTLSecs)*time.Second)
		if err != nil {
			return err
		}

		pool := pipeline.NewPool(env.Orchestrator, env.Store, pipeline.PoolConfig{
			Workers:       cfg.Pipeline.Workers,
			QueueSize:     cfg.Pipeline.QueueSize,
			SweepInterval: time.Duration(cfg.Pipeline.SweepIntervalSecs) * time.Second,
		})
		if err := pool.Recover(ctx); err != nil {
			return eris.Wrap(err, "recover pipeline requests")
		}

		handler := api.NewRouter(api.Deps{
			Requests:             pipeline.NewService(env.Store, pool),
			Contacts:             env.Resolver,
			Messages:             env.Messages,
			Sender:               env.Dispatcher,
			Credentials:          env.Credentials,
			Sends:                env.Store,
			Attachments:          env.Store,
			Health:               env.Store,
			Tokens:               tokens,
			Pool:                 pool,
			AllowedOrigins:       cfg.Server.AllowedOrigins,
			AllowedReturnOrigins: cfg.Server.AllowedReturnOrigins,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderTimeoutSecs) * time.Second,
		}

		pool.Start(ctx)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		if cfg.Monitoring.WebhookURL != "" {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			g.Go(func() error {
				checker.Run(gctx)
				return nil
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			err := srv.Shutdown(shutdownCtx)
			// In-flight runs stay processing and are failed by the next Recover.
			pool.Stop()
			return eris.Wrap(err, "server shutdown")
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
