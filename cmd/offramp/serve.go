package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/marwen-abid/offramp-go/api"
	"github.com/marwen-abid/offramp-go/observer"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if account := a.fundsAccount(); a.cfg.ObservePayments && account != "" {
			obs := observer.NewHorizonObserver(a.cfg.HorizonURL, account, observer.WithLogger(a.logger))
			observer.NewReconciler(a.store, a.orch.Hooks(), a.logger).Attach(obs, account)
			go func() {
				if err := obs.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.WithError(err).Error("payment observer stopped")
				}
			}()
			a.logger.WithField("account", account).Info("watching settlement payments")
		}

		srv := &http.Server{
			Addr:              ":" + a.cfg.Port,
			Handler:           api.SetupRouter(a.orch, a.creator, a.logger),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.WithFields(logrus.Fields{
				"addr":   srv.Addr,
				"anchor": a.cfg.AnchorDomain(),
			}).Info("offramp service started")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.WithError(err).Warn("http shutdown")
		}
		a.close(shutdownCtx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
