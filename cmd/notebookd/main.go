// Command notebookd is the notebook kernel server's process entrypoint:
// it parses flags, loads configuration, wires the server, and serves
// the WebSocket and callback endpoints over HTTP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/brandonshearin/notebookd/config"
	"github.com/brandonshearin/notebookd/server"
)

func main() {
	app := &cli.App{
		Name:  "notebookd",
		Usage: "run the notebook kernel server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "override the configured bind address",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "override the configured bind port",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("notebookd: exiting")
	}
}

func run(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}
	if addr := cctx.String("addr"); addr != "" {
		cfg.Addr = addr
	}
	if port := cctx.Int("port"); port != 0 {
		cfg.Port = port
	}

	logger := logrus.NewEntry(logrus.StandardLogger())

	srv := server.New(cfg, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv.Start(ctx)
	defer srv.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Addr, cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("notebookd: listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
