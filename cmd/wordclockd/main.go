package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"periph.io/x/host/v3"

	"github.com/coreman2200/wordclock/internal/app"
	"github.com/coreman2200/wordclock/internal/config"
	"github.com/coreman2200/wordclock/internal/control"
)

func main() {
	// ---- Flags (a present config.yaml overrides them) ----
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		addr       = flag.String("addr", ":8080", "HTTP listen address")
		driver     = flag.String("driver", config.DriverSim, "LED bus: sim | tlc59116 | pca9685")
		i2cBus     = flag.String("i2c-bus", "", "I2C bus name or number; empty picks the first")
		level      = flag.String("log-level", "info", "debug | info | warn | error")
		simOnly    = flag.Bool("sim-only", false, "force simulation (no hardware output)")
		runDemo    = flag.Bool("demo", false, "start the demo sequence at boot")
		streamHz   = flag.Int("stream-hz", 10, "frame stream rate for /ws/frames")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	// ---- Config ----
	cfg := config.Default()
	cfg.HTTP.Addr = *addr
	cfg.Bus.Driver = *driver
	cfg.Bus.I2CBus = *i2cBus
	cfg.LogLevel = *level
	if c, err := config.Load(*configPath); err != nil {
		log.Warn().Err(err).Str("path", *configPath).Msg("config load failed; proceeding with flags")
	} else {
		cfg = c
	}
	if *simOnly {
		cfg.Bus.Driver = config.DriverSim
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// ---- Hardware ----
	if cfg.Bus.Driver != config.DriverSim {
		if _, err := host.Init(); err != nil {
			log.Warn().Err(err).Msg("periph host init failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.InitCore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}

	srv := control.NewServer(control.Deps{
		Engine:     core.Engine,
		Writer:     core.Writer,
		Bright:     core.Bright,
		Net:        core.Net,
		Demo:       core.Demo,
		Diag:       core.Diag,
		Config:     cfg,
		ConfigPath: *configPath,
		BusDriver:  core.BusDriver,
		Context:    ctx,
	})
	if *runDemo {
		if err := core.Demo.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("demo start")
		}
	}

	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go srv.Stream(ctx, time.Second/time.Duration(max(1, *streamHz)))
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Str("driver", core.BusDriver).Msg("HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server crashed")
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	srv.Close()
	if err := core.Close(); err != nil {
		log.Warn().Err(err).Msg("close")
	}
}
