// Package iio is a small object model over an IIO backend: a Context owns
// Devices, Devices own Channels, and an output Device can hand out a Buffer
// of interleaved samples for its enabled channels.
package iio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/sdrxml"
)

// Backend moves attributes and sample blocks between the object model and
// the hardware. Channel IDs are empty for device attributes.
type Backend interface {
	Describe(ctx context.Context) (*sdrxml.SDRContext, error)
	ReadAttr(ctx context.Context, dev, ch string, output bool, attr string) (string, error)
	WriteAttr(ctx context.Context, dev, ch string, output bool, attr, value string) error
	OpenBuffer(ctx context.Context, dev *sdrxml.DeviceEntry, samples int, enabled []*sdrxml.ChannelEntry, cyclic bool) error
	WriteBuffer(ctx context.Context, dev string, p []byte) (int, error)
	CloseBuffer(ctx context.Context, dev string) error
	Close() error
}

// ErrClosed is returned by operations on a destroyed context.
var ErrClosed = errors.New("iio: context destroyed")

// Context is one connection to a set of IIO devices.
type Context struct {
	backend Backend
	desc    *sdrxml.SDRContext
	devices []*Device
	log     logging.Logger
	uri     string
	closers []io.Closer
	closed  bool
}

// NewContext describes the backend and builds the device tree.
func NewContext(ctx context.Context, b Backend) (*Context, error) {
	desc, err := b.Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("describe context: %w", err)
	}
	c := &Context{
		backend: b,
		desc:    desc,
		log:     logging.Default().With(logging.Subsystem("iio")),
	}
	for i := range desc.Device {
		entry := &desc.Device[i]
		dev := &Device{ctx: c, entry: entry}
		for ci := range entry.Channel {
			dev.channels = append(dev.channels, &Channel{dev: dev, entry: &entry.Channel[ci]})
		}
		c.devices = append(c.devices, dev)
	}
	return c, nil
}

// SetLogger replaces the context logger.
func (c *Context) SetLogger(l logging.Logger) {
	if l != nil {
		c.log = l
	}
}

// Name returns the backend-reported context name ("network", "local", ...).
func (c *Context) Name() string { return c.desc.Name }

// Description returns the free-form context description.
func (c *Context) Description() string { return c.desc.Description }

// URI returns the URI the context was created from, if any.
func (c *Context) URI() string { return c.uri }

// Attrs returns the context attributes in server order.
func (c *Context) Attrs() []sdrxml.ContextAttribute {
	return append([]sdrxml.ContextAttribute(nil), c.desc.ContextAttribute...)
}

// DeviceCount returns the number of devices in the context.
func (c *Context) DeviceCount() int { return len(c.devices) }

// Devices returns the devices in description order.
func (c *Context) Devices() []*Device { return append([]*Device(nil), c.devices...) }

// FindDevice returns the device whose name, ID or label equals name, or nil.
// Names are tried on every device before IDs and labels.
func (c *Context) FindDevice(name string) *Device {
	for _, d := range c.devices {
		if d.entry.Name == name {
			return d
		}
	}
	for _, d := range c.devices {
		if d.entry.ID == name || (d.entry.Label != "" && d.entry.Label == name) {
			return d
		}
	}
	return nil
}

// Destroy closes every open buffer and the backend. Calling it again is a
// no-op.
func (c *Context) Destroy() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, d := range c.devices {
		if d.buf != nil {
			if err := d.buf.Destroy(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := c.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Backend exposes the underlying backend.
func (c *Context) Backend() Backend { return c.backend }
