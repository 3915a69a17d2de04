package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rjboer/iiotx/internal/app"
	"github.com/rjboer/iiotx/internal/config"
	"github.com/rjboer/iiotx/internal/dsp"
	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.LookupEnv, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "iio-tx: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(lookup config.LookupFunc, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "iio-tx [uri]",
		Short: "Stream a 40 ms I/Q frame loop to an ADRV9009 transmitter",
		Long: "Stream a 40 ms I/Q frame loop to an ADRV9009 transmitter.\n\n" +
			"uri selects the IIO context: local:, ip:host[:port], ip: (DNS-SD),\n" +
			"ssh:[user@]host[:port] or mock:. Without uri IIOD_REMOTE is used when\n" +
			"set, otherwise local:. Settings are read from IIOTX_* variables.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args, lookup, stderr)
		},
	}
}

func run(ctx context.Context, args []string, lookup config.LookupFunc, stderr io.Writer) error {
	cfg, err := config.Load(lookup)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	logging.SetDefault(logger)

	uri := ""
	if len(args) == 1 {
		uri = args[0]
	}

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	open := func(ctx context.Context, uri string) (*iio.Context, error) {
		return iio.Create(ctx, uri, iio.Options{
			Logger:        logger,
			Timeout:       cfg.IIODTimeout,
			SSHKeyPath:    cfg.SSHKey,
			SSHPassword:   cfg.SSHPassword,
			SSHKnownHosts: cfg.KnownHosts,
			Getenv:        lookup,
		})
	}

	var webWG sync.WaitGroup
	defer webWG.Wait()
	webCtx, stopWeb := context.WithCancel(context.Background())
	defer stopWeb()
	var reporter telemetry.Reporter
	if cfg.WebAddr != "" {
		hub := telemetry.NewHub(cfg.HistoryLimit)
		reporter = telemetry.MultiReporter{hub, telemetry.NewStdoutReporter(logger)}
		srv := telemetry.NewWebServer(cfg.WebAddr, hub, logger)
		webWG.Add(1)
		go func() {
			defer webWG.Done()
			if err := srv.Start(webCtx); err != nil {
				logger.Warn("web telemetry stopped", logging.Err(err))
			}
		}()
	} else {
		reporter = telemetry.NewStdoutReporter(logger)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			logger.Info("waiting for process to finish")
		case <-done:
		}
	}()

	tx := app.NewTransmitter(open, source, reporter, logger, cfg.App(uri))
	if err := tx.Init(ctx); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return tx.Run(ctx)
}

func newSource(cfg config.Config, logger logging.Logger) (app.SampleSource, error) {
	if cfg.ToneHz == 0 {
		logger.Info("sample source: silence")
		return dsp.Silence{}, nil
	}
	tone, err := dsp.NewTone(cfg.ToneHz, cfg.SampleRate, cfg.ToneAmplitude)
	if err != nil {
		return nil, err
	}
	logger.Info("sample source: tone",
		logging.F("offset_hz", cfg.ToneHz),
		logging.F("amplitude", cfg.ToneAmplitude))

	// Measure a separate copy; the returned tone must start at phase zero.
	probe, _ := dsp.NewTone(cfg.ToneHz, cfg.SampleRate, cfg.ToneAmplitude)
	m, err := dsp.MeasureTone(probe, 4096, cfg.SampleRate, cfg.ToneHz)
	if err != nil {
		return nil, err
	}
	logger.Debug("tone spectrum",
		logging.F("peak_hz", m.PeakHz),
		logging.F("peak_dbfs", m.PeakDBFS),
		logging.F("bin_hz", m.BinHz))
	return tone, nil
}
