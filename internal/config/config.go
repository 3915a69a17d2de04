// Package config reads the transmitter settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/iiotx/internal/app"
	"github.com/rjboer/iiotx/internal/logging"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(string) (string, bool)

// Config is the complete runtime configuration of iio-tx.
type Config struct {
	LOHz          int64
	Channel       int
	FrameSamples  int
	SampleRate    float64
	ToneHz        float64
	ToneAmplitude float64
	Diagnostics   bool
	PhyAttrs      []app.Preset
	IIODTimeout   time.Duration
	WebAddr       string
	HistoryLimit  int
	LogLevel      logging.Level
	LogFormat     logging.Format
	SSHKey        string
	SSHPassword   string
	KnownHosts    string
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		LOHz:          app.DefaultLOHz,
		Channel:       0,
		FrameSamples:  app.FrameSamples,
		SampleRate:    app.SampleRate,
		ToneHz:        10_000,
		ToneAmplitude: 0.5,
		IIODTimeout:   5 * time.Second,
		HistoryLimit:  500,
		LogLevel:      logging.Info,
		LogFormat:     logging.Text,
	}
}

// loader collects malformed values instead of silently using defaults.
type loader struct {
	lookup LookupFunc
	errs   []error
}

func (l *loader) bad(key, val string, err error) {
	l.errs = append(l.errs, fmt.Errorf("%s=%q: %w", key, val, err))
}

func (l *loader) envFloat(key string, def float64) float64 {
	if val, ok := l.lookup(key); ok {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			l.bad(key, val, err)
			return def
		}
		return parsed
	}
	return def
}

func (l *loader) envInt(key string, def int) int {
	if val, ok := l.lookup(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			l.bad(key, val, err)
			return def
		}
		return parsed
	}
	return def
}

func (l *loader) envInt64(key string, def int64) int64 {
	if val, ok := l.lookup(key); ok {
		parsed, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			l.bad(key, val, err)
			return def
		}
		return parsed
	}
	return def
}

func (l *loader) envBool(key string, def bool) bool {
	if val, ok := l.lookup(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(val))
		if err != nil {
			l.bad(key, val, err)
			return def
		}
		return parsed
	}
	return def
}

func (l *loader) envDuration(key string, def time.Duration) time.Duration {
	if val, ok := l.lookup(key); ok {
		parsed, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			l.bad(key, val, err)
			return def
		}
		return parsed
	}
	return def
}

func (l *loader) envString(key, def string) string {
	if val, ok := l.lookup(key); ok {
		return val
	}
	return def
}

// Load reads every IIOTX_ variable through lookup and validates the result.
func Load(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}
	def := Default()
	l := &loader{lookup: lookup}
	cfg := Config{
		LOHz:          l.envInt64("IIOTX_LO_HZ", def.LOHz),
		Channel:       l.envInt("IIOTX_CHANNEL", def.Channel),
		FrameSamples:  l.envInt("IIOTX_FRAME_SAMPLES", def.FrameSamples),
		SampleRate:    l.envFloat("IIOTX_SAMPLE_RATE", def.SampleRate),
		ToneHz:        l.envFloat("IIOTX_TONE_HZ", def.ToneHz),
		ToneAmplitude: l.envFloat("IIOTX_TONE_AMPLITUDE", def.ToneAmplitude),
		Diagnostics:   l.envBool("IIOTX_DIAGNOSTICS", def.Diagnostics),
		IIODTimeout:   l.envDuration("IIOTX_IIOD_TIMEOUT", def.IIODTimeout),
		WebAddr:       l.envString("IIOTX_WEB_ADDR", def.WebAddr),
		HistoryLimit:  l.envInt("IIOTX_HISTORY_LIMIT", def.HistoryLimit),
		SSHKey:        l.envString("IIOTX_SSH_KEY", def.SSHKey),
		SSHPassword:   l.envString("IIOTX_SSH_PASSWORD", def.SSHPassword),
		KnownHosts:    l.envString("IIOTX_SSH_KNOWN_HOSTS", def.KnownHosts),
	}

	presets, err := app.ParsePresets(l.envString("IIOTX_PHY_ATTRS", ""))
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("IIOTX_PHY_ATTRS: %w", err))
	}
	cfg.PhyAttrs = presets

	if cfg.LogLevel, err = logging.ParseLevel(l.envString("IIOTX_LOG_LEVEL", "")); err != nil {
		l.errs = append(l.errs, fmt.Errorf("IIOTX_LOG_LEVEL: %w", err))
	}
	if cfg.LogFormat, err = logging.ParseFormat(l.envString("IIOTX_LOG_FORMAT", "")); err != nil {
		l.errs = append(l.errs, fmt.Errorf("IIOTX_LOG_FORMAT: %w", err))
	}

	if len(l.errs) > 0 {
		return cfg, errors.Join(l.errs...)
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges that cannot be expressed by parsing alone.
func (c Config) Validate() error {
	var errs []error
	if c.LOHz <= 0 {
		errs = append(errs, fmt.Errorf("LO frequency must be positive, got %d", c.LOHz))
	}
	if c.Channel < 0 {
		errs = append(errs, fmt.Errorf("channel must not be negative, got %d", c.Channel))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("frame samples must be positive, got %d", c.FrameSamples))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %g", c.SampleRate))
	}
	if c.ToneHz < -c.SampleRate/2 || c.ToneHz > c.SampleRate/2 {
		errs = append(errs, fmt.Errorf("tone %g Hz exceeds Nyquist for %g SPS", c.ToneHz, c.SampleRate))
	}
	if c.ToneAmplitude <= 0 || c.ToneAmplitude > 1 {
		errs = append(errs, fmt.Errorf("tone amplitude %g outside (0, 1]", c.ToneAmplitude))
	}
	if c.IIODTimeout <= 0 {
		errs = append(errs, fmt.Errorf("iiod timeout must be positive, got %s", c.IIODTimeout))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit))
	}
	return errors.Join(errs...)
}

// App returns the transmitter settings for the context at uri.
func (c Config) App(uri string) app.Config {
	return app.Config{
		URI:          uri,
		Stream:       app.StreamConfig{LOHz: c.LOHz},
		Channel:      c.Channel,
		FrameSamples: c.FrameSamples,
		Diagnostics:  c.Diagnostics,
		Presets:      c.PhyAttrs,
	}
}
