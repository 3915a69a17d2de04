package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/telemetry"
)

// Config captures application level configuration.
type Config struct {
	URI          string
	Stream       StreamConfig
	Channel      int
	FrameSamples int
	Diagnostics  bool
	Presets      []Preset
}

// Transmitter wires the sample source into the frame push loop.
type Transmitter struct {
	open     Opener
	source   SampleSource
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config
	session  *Session
	ntx      int64
	frames   int64
}

func NewTransmitter(open Opener, source SampleSource, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Transmitter {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FrameSamples == 0 {
		cfg.FrameSamples = FrameSamples
	}
	if cfg.Stream.LOHz == 0 {
		cfg.Stream.LOHz = DefaultLOHz
	}
	return &Transmitter{
		open:     open,
		source:   source,
		reporter: reporter,
		logger:   logger,
		cfg:      cfg,
	}
}

// Init acquires the context, configures the phy, enables the I/Q channels and
// creates the silent frame buffer. On failure everything acquired so far is
// released before the error is returned.
func (t *Transmitter) Init(ctx context.Context) error {
	if t.source == nil {
		return errors.New("no sample source")
	}
	if t.cfg.FrameSamples < 0 {
		return fmt.Errorf("invalid frame length %d", t.cfg.FrameSamples)
	}

	log := t.logger.With(logging.Subsystem("resolver"))
	s := newSession(t.logger)
	t.session = s

	err := t.acquire(ctx, s, log)
	if err != nil {
		if terr := s.Teardown(); terr != nil {
			t.logger.Warn("teardown after failed init", logging.Err(terr))
		}
		return err
	}
	return nil
}

func (t *Transmitter) acquire(ctx context.Context, s *Session, log logging.Logger) error {
	log.Info("acquiring IIO context", logging.F("uri", t.cfg.URI))
	c, err := ResolveContext(ctx, t.cfg.URI, t.open)
	if err != nil {
		return err
	}
	s.Context = c

	log.Info("acquiring ADRV9009 streaming devices")
	if s.TX, err = findStreamDevice(c, Transmit); err != nil {
		return err
	}
	if s.Phy, err = findPhy(c); err != nil {
		return err
	}

	log.Info("configuring ADRV9009 for streaming")
	conf := &Configurator{
		Phy:         s.Phy,
		Direction:   Transmit,
		Diagnostics: t.cfg.Diagnostics,
		Presets:     t.cfg.Presets,
		Logger:      t.logger,
	}
	if err := conf.Configure(ctx, t.cfg.Stream, t.cfg.Channel); err != nil {
		return err
	}

	log.Info("initializing streaming channels")
	iCh, err := streamChannel(s.TX, Transmit, 0, 0)
	if err != nil {
		return err
	}
	qCh, err := streamChannel(s.TX, Transmit, 1, 0)
	if err != nil {
		return err
	}
	logResolved(log, "tx i", iCh)
	logResolved(log, "tx q", qCh)

	log.Info("enabling streaming channels")
	s.Channels = append(s.Channels, iCh, qCh)
	iCh.Enable()
	qCh.Enable()

	t.logger.Info("creating non-cyclic buffer",
		logging.Subsystem("framebuf"),
		logging.F("samples", t.cfg.FrameSamples),
		logging.F("frame_ms", float64(t.cfg.FrameSamples)*1000/SampleRate))
	fb, err := CreateFrameBuffer(ctx, s.TX, iCh, qCh, t.cfg.FrameSamples)
	if err != nil {
		t.logger.Error("buffer creation failed", logging.Subsystem("framebuf"), logging.Err(err))
		return err
	}
	s.Buffer = fb
	return nil
}

// Run pushes frames until ctx is cancelled or an operation fails, then tears
// the session down. The first frame pushed is the silent frame from Init;
// every later frame is filled from the source first. Cancellation is checked
// once per frame, so an in-flight push always completes. A cancelled run
// returns nil.
func (t *Transmitter) Run(ctx context.Context) (err error) {
	s := t.session
	if s == nil || s.Buffer == nil {
		return errors.New("transmitter not initialized")
	}
	defer func() {
		if terr := s.Teardown(); terr != nil && err == nil {
			err = terr
		}
	}()

	log := t.logger.With(logging.Subsystem("stream"))
	fb := s.Buffer
	pushCtx := context.WithoutCancel(ctx)

	log.Info("starting IO streaming (press CTRL+C to cancel)")
	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			log.Info("stopping", logging.F("frames", t.frames), logging.F("tx_samples", t.ntx))
			return nil
		}

		if iteration > 0 {
			fb.Fill(t.source)
		}

		start := time.Now()
		n, err := fb.Push(pushCtx)
		if err != nil {
			log.Error("error pushing buffer", logging.Err(err))
			return err
		}
		latency := time.Since(start)

		t.ntx += int64(n / fb.Step())
		t.frames++
		if t.reporter != nil {
			t.reporter.Report(telemetry.Sample{
				Timestamp:   time.Now(),
				Frames:      t.frames,
				TXSamples:   t.ntx,
				Bytes:       n,
				PushLatency: latency,
			})
		}
		log.Debug("frame pushed", logging.F("iteration", iteration), logging.F("bytes", n))
	}
}

// Transmitted returns the cumulative number of pushed sample pairs.
func (t *Transmitter) Transmitted() int64 { return t.ntx }

// Frames returns the number of frames pushed.
func (t *Transmitter) Frames() int64 { return t.frames }

// Session returns the hardware session, or nil before Init.
func (t *Transmitter) Session() *Session { return t.session }
