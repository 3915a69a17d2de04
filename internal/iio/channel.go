package iio

import (
	"context"
	"strconv"

	"github.com/rjboer/iiotx/internal/sdrxml"
)

// Channel is one input or output path of a device.
type Channel struct {
	dev     *Device
	entry   *sdrxml.ChannelEntry
	enabled bool
}

func (c *Channel) ID() string      { return c.entry.ID }
func (c *Channel) Name() string    { return c.entry.Name }
func (c *Channel) IsOutput() bool  { return c.entry.IsOutput() }
func (c *Channel) Device() *Device { return c.dev }

// IsScanElement reports whether the channel can stream through a buffer.
func (c *Channel) IsScanElement() bool { return c.entry.IsScanElement() }

// Format returns the scan format, or nil for non-streaming channels.
func (c *Channel) Format() *sdrxml.ScanFormat { return c.entry.ParsedFormat }

// Enable marks the channel for the next buffer created on its device.
func (c *Channel) Enable() { c.enabled = true }

// Disable removes the channel from future buffers.
func (c *Channel) Disable() { c.enabled = false }

func (c *Channel) IsEnabled() bool { return c.enabled }

// Attrs returns the channel attribute names.
func (c *Channel) Attrs() []string {
	out := make([]string, 0, len(c.entry.Attribute))
	for _, a := range c.entry.Attribute {
		out = append(out, a.Name)
	}
	return out
}

func (c *Channel) ReadAttr(ctx context.Context, attr string) (string, error) {
	if c.dev.ctx.closed {
		return "", ErrClosed
	}
	return c.dev.ctx.backend.ReadAttr(ctx, c.dev.entry.ID, c.entry.ID, c.IsOutput(), attr)
}

func (c *Channel) WriteAttr(ctx context.Context, attr, value string) error {
	if c.dev.ctx.closed {
		return ErrClosed
	}
	return c.dev.ctx.backend.WriteAttr(ctx, c.dev.entry.ID, c.entry.ID, c.IsOutput(), attr, value)
}

// ReadAttrInt reads a channel attribute as a decimal integer.
func (c *Channel) ReadAttrInt(ctx context.Context, attr string) (int64, error) {
	s, err := c.ReadAttr(ctx, attr)
	if err != nil {
		return 0, err
	}
	return parseInt(attr, s)
}

// WriteAttrInt writes a decimal integer channel attribute.
func (c *Channel) WriteAttrInt(ctx context.Context, attr string, v int64) error {
	return c.WriteAttr(ctx, attr, strconv.FormatInt(v, 10))
}
