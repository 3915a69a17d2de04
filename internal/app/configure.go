package app

import (
	"context"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
)

// Configurator brings the phy into a transmit state. Writes happen in a fixed
// order: phy channel resolution, LO resolution, LO frequency, then presets.
type Configurator struct {
	Phy         *iio.Device
	Direction   Direction
	Diagnostics bool
	Presets     []Preset
	Logger      logging.Logger
}

// Configure applies cfg to phy channel voltage<channel>.
func (c *Configurator) Configure(ctx context.Context, cfg StreamConfig, channel int) error {
	log := c.Logger.With(logging.Subsystem("configurator"))
	gw := gateway{log: log}

	log.Info("acquiring phy channel", logging.F("channel", channel), logging.F("direction", c.Direction.String()))
	ch, err := phyChannel(c.Phy, c.Direction, channel)
	if err != nil {
		return err
	}
	logResolved(log, "phy", ch)

	if c.Diagnostics {
		if _, err := gw.readChannelInt(ctx, ch, "rf_bandwidth"); err != nil {
			return err
		}
		if _, err := gw.readChannelInt(ctx, ch, "sampling_frequency"); err != nil {
			return err
		}
	}

	log.Info("acquiring TRX LO channel")
	lo, err := loChannel(c.Phy)
	if err != nil {
		return err
	}
	logResolved(log, "lo", lo)

	if err := gw.writeChannelInt(ctx, lo, "frequency", cfg.LOHz); err != nil {
		return err
	}

	for _, p := range c.Presets {
		if err := gw.writeDeviceString(ctx, c.Phy, p.Name, p.Value); err != nil {
			return err
		}
	}
	return nil
}
