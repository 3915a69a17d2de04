package app

import (
	"context"
	"fmt"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
)

// Opener creates a context from a URI; iio.Create in production.
type Opener func(ctx context.Context, uri string) (*iio.Context, error)

// ResolveContext opens the context and checks it has devices. An empty uri
// selects the default context.
func ResolveContext(ctx context.Context, uri string, open Opener) (*iio.Context, error) {
	c, err := open(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoContext, err)
	}
	if c == nil {
		return nil, ErrNoContext
	}
	if c.DeviceCount() == 0 {
		_ = c.Destroy()
		return nil, ErrNoDevices
	}
	return c, nil
}

func findDevice(c *iio.Context, name string) (*iio.Device, error) {
	dev := c.FindDevice(name)
	if dev == nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
	}
	return dev, nil
}

// findPhy returns the transceiver control device.
func findPhy(c *iio.Context) (*iio.Device, error) {
	return findDevice(c, PhyDevice)
}

// findStreamDevice returns the streaming device for one side.
func findStreamDevice(c *iio.Context, d Direction) (*iio.Device, error) {
	if d == Transmit {
		return findDevice(c, TXStreamDevice)
	}
	return findDevice(c, RXStreamDevice)
}

// channelFinder is the lookup findChannel performs; *iio.Device in production.
type channelFinder interface {
	FindChannel(name string, output bool) *iio.Channel
}

// findChannel looks up "<base><index>" or "<base><index>_<modifier>". A miss
// is retried once with the same arguments. It returns nil when the channel
// does not exist.
func findChannel(dev channelFinder, base string, index int, modifier rune, output bool) *iio.Channel {
	name := fmt.Sprintf("%s%d", base, index)
	if modifier != 0 {
		name = fmt.Sprintf("%s_%c", name, modifier)
	}
	if ch := dev.FindChannel(name, output); ch != nil {
		return ch
	}
	return dev.FindChannel(name, output)
}

// phyChannel returns the phy configuration channel voltage<index> of one
// side.
func phyChannel(phy *iio.Device, d Direction, index int) (*iio.Channel, error) {
	ch := findChannel(phy, "voltage", index, 0, d.output())
	if ch == nil {
		return nil, fmt.Errorf("%w: %s %s voltage%d", ErrChannelNotFound, phy.Name(), d, index)
	}
	return ch, nil
}

// loChannel returns the shared TRX local oscillator, which is an output
// channel whichever side is being configured.
func loChannel(phy *iio.Device) (*iio.Channel, error) {
	ch := findChannel(phy, "altvoltage", 0, 0, true)
	if ch == nil {
		return nil, fmt.Errorf("%w: %s altvoltage0", ErrChannelNotFound, phy.Name())
	}
	return ch, nil
}

// streamChannel returns a data channel of a streaming device.
func streamChannel(dev *iio.Device, d Direction, index int, modifier rune) (*iio.Channel, error) {
	ch := findChannel(dev, "voltage", index, modifier, d.output())
	if ch == nil {
		return nil, fmt.Errorf("%w: %s %s voltage%d", ErrChannelNotFound, dev.Name(), d, index)
	}
	return ch, nil
}

func logResolved(log logging.Logger, what string, ch *iio.Channel) {
	log.Debug("channel resolved",
		logging.F("what", what),
		logging.F("device", ch.Device().Name()),
		logging.F("channel", ch.ID()),
		logging.F("output", ch.IsOutput()))
}
