package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/elfolz/robot/internal/app"
	"github.com/elfolz/robot/internal/config"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the robot and serve the browser bridge",
	Long: `Load the model, animations and ambient track, then serve the
websocket bridge the page connects to. Changes to the audio gains and log
level in the config file apply without a restart.

Examples:
  robot serve
  robot serve --addr 0.0.0.0:8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, cfg, syslog, err := setup()
		if err != nil {
			return err
		}
		defer syslog.Close()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		robot, err := app.New(cfg, syslog)
		if err != nil {
			return err
		}
		defer robot.Close()

		loader.Watch(func(next *config.Config, ev fsnotify.Event, err error) {
			if err != nil {
				syslog.Warn("config", "Reload failed", map[string]interface{}{"error": err.Error()})
				return
			}
			robot.Scheduler().Post(func() { robot.ApplyConfig(next) })
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{Addr: cfg.Server.Addr, Handler: robot.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			syslog.Info("main", "Serving", map[string]interface{}{"addr": cfg.Server.Addr, "ws": cfg.Server.WSPath})
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				syslog.Error("main", "Server failed", err, nil)
				stop()
			}
		}()

		runErr := robot.Run(ctx)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		syslog.Info("main", "Robot stopped", nil)
		return runErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}
