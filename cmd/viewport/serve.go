package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/viewport"
	"github.com/loykin/viewport/internal/process"
)

// shutdownTimeout bounds the flush of queued events and the API shutdown.
const shutdownTimeout = 5 * time.Second

func runServe(ctx context.Context, flags ServeFlags) error {
	cfg, err := viewport.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	gin.SetMode(gin.ReleaseMode)
	d, err := viewport.NewDaemon(cfg)
	if err != nil {
		return err
	}
	log := d.Logger()

	if flags.Once {
		rep := d.Once(ctx)
		closeDaemon(d, log)
		if rep.Err != nil {
			return rep.Err
		}
		return writeJSON(os.Stdout, rep)
	}

	if flags.PidFile != "" && os.Getenv(daemonChildEnv) == "" {
		if err := process.WritePIDFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pid file: %w", err)
		}
	}
	defer func() {
		if err := removePidFile(flags.PidFile); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove pid file", "path", flags.PidFile, "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	controls := make(chan os.Signal, 4)
	notifyControl(controls)
	defer signal.Stop(controls)
	go handleControlSignals(ctx, controls, d, log)

	err = d.Run(ctx)
	log.Info("shutting down")
	closeDaemon(d, log)
	return err
}

func closeDaemon(d *viewport.Daemon, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		log.Warn("shutdown incomplete", "error", err)
	}
}

// controller is the part of the daemon the signal handler drives.
type controller interface {
	Reload(ctx context.Context) error
	Reset(ctx context.Context, keys ...viewport.Key) (int, error)
}

// handleControlSignals maps SIGHUP to a layout reload and SIGUSR1 to a
// reset of every tile until ctx ends.
func handleControlSignals(ctx context.Context, sigs <-chan os.Signal, c controller, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			cctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			switch controlAction(sig) {
			case actionReload:
				if err := c.Reload(cctx); err != nil {
					log.Warn("reload failed", "signal", sig.String(), "error", err)
				} else {
					log.Info("layout reload requested", "signal", sig.String())
				}
			case actionReset:
				n, err := c.Reset(cctx)
				if err != nil {
					log.Warn("reset failed", "signal", sig.String(), "error", err)
				} else {
					log.Info("quarantines lifted", "signal", sig.String(), "tiles", n)
				}
			}
			cancel()
		}
	}
}

type action int

const (
	actionNone action = iota
	actionReload
	actionReset
)
