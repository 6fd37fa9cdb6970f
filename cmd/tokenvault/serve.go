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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/tokenvault"
	"github.com/xraph/tokenvault/api"
	audithook "github.com/xraph/tokenvault/audit_hook"
	"github.com/xraph/tokenvault/notify"
	"github.com/xraph/tokenvault/observability"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks, checkout and balance endpoints and run maintenance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.viper.GetString("http.addr")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, addr, a.viper.GetString("http.base_path"))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from http.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context, addr, basePath string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	auditLog := a.logger.With("component", "audit")
	recorder := audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
		auditLog.InfoContext(ctx, ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
			"severity", ev.Severity,
			"reason", ev.Reason,
			"metadata", ev.Metadata,
		)
		return nil
	})

	v, err := a.openWith(ctx, a.cfg,
		tokenvault.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		tokenvault.WithPlugin(audithook.New(recorder, audithook.WithLogger(a.logger))),
		tokenvault.WithPlugin(notify.New(notify.LogSender{Logger: a.logger}, notify.WithLogger(a.logger))),
	)
	if err != nil {
		return err
	}
	defer func() {
		if stopErr := v.Stop(); stopErr != nil {
			a.logger.Error("tokenvault: stop", "error", stopErr)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := api.New(v, api.WithLogger(a.logger)).Router(basePath)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("tokenvault: listening", "addr", addr, "base_path", basePath, "store", a.cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("tokenvault: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
