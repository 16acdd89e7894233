package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/vrsandeep/repokeep/internal/api"
	"github.com/vrsandeep/repokeep/internal/jobs"
	"github.com/vrsandeep/repokeep/internal/layout"
	"github.com/vrsandeep/repokeep/internal/watcher"
)

func newServeCmd(st *state) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the refresh scheduler and the file watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := st.openApp()
			if err != nil {
				return err
			}
			defer app.Close()
			l := app.Logger()
			cfg := app.Config()
			if port != 0 {
				cfg.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go app.WsHub().Run()

			// Pick up upstream changes to installed content right away.
			if err := app.JobManager().RunJob(ctx, jobs.JobRefreshInstalled); err != nil {
				l.Warn("Initial refresh did not start", "err", err)
			}
			scheduler := jobs.StartJobs(ctx, app.JobManager(), app.Schedule())
			defer scheduler.Stop()

			w := watcher.New(layout.Roots(cfg.ConfigDir), func(paths []string) {
				if n := app.Manager().HandleLocalChanges(paths); n > 0 {
					l.Info("Installed content disappeared", "repositories", n)
				}
			}, l)
			if err := w.Start(); err != nil {
				l.Warn("File watcher disabled", "err", err)
			} else {
				defer w.Stop()
			}

			httpServer := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.Port),
				Handler: api.NewServer(app).Router(),
			}
			serveErr := make(chan error, 1)
			go func() {
				l.Info("Starting web server", "addr", httpServer.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("could not start server: %w", err)
				}
			case <-ctx.Done():
			}
			l.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			l.Info("Server exiting")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides the config)")
	return cmd
}
