package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dandriscoll/devlogs/internal/api"
	"github.com/dandriscoll/devlogs/internal/logger"
	"github.com/dandriscoll/devlogs/internal/repository"
	"github.com/dandriscoll/devlogs/internal/service"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read and rollup API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serverCfg := cli.cfg.Server
		if cmd.Flags().Changed("host") {
			serverCfg.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			serverCfg.Port = servePort
		}

		var runs service.RunStore
		if db, err := cli.stateDB(); err != nil {
			cli.log.WithError(err).Warn("rollup history disabled")
		} else {
			runs = repository.NewRollupRunRepository(db)
		}

		router := api.SetupRouter(&api.Services{
			Logs:   cli.logService(),
			Rollup: cli.rollupService(),
			Runs:   runs,
			Store:  cli.store,
		}, &serverCfg, cli.log)

		srv := &http.Server{
			Addr:              fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			cli.log.WithFields(logger.Fields{
				"addr":  srv.Addr,
				"mode":  serverCfg.Mode,
				"index": cli.index(),
			}).Info("Starting API server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			return nil
		case <-cmd.Context().Done():
		}

		cli.log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		cli.log.Info("Server exited")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
