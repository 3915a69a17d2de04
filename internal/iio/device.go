package iio

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rjboer/iiotx/internal/sdrxml"
)

// Device is a named IIO endpoint.
type Device struct {
	ctx      *Context
	entry    *sdrxml.DeviceEntry
	channels []*Channel
	buf      *Buffer
}

func (d *Device) ID() string    { return d.entry.ID }
func (d *Device) Name() string  { return d.entry.Name }
func (d *Device) Label() string { return d.entry.Label }

// Context returns the owning context.
func (d *Device) Context() *Context { return d.ctx }

// Channels returns the device channels in description order.
func (d *Device) Channels() []*Channel { return append([]*Channel(nil), d.channels...) }

// Attrs returns the names of the device attributes.
func (d *Device) Attrs() []string {
	out := make([]string, 0, len(d.entry.Attribute))
	for _, a := range d.entry.Attribute {
		out = append(out, a.Name)
	}
	return out
}

// FindChannel returns the channel with the given ID or extended name and
// direction, or nil.
func (d *Device) FindChannel(name string, output bool) *Channel {
	for _, ch := range d.channels {
		if ch.entry.ID == name && ch.IsOutput() == output {
			return ch
		}
	}
	for _, ch := range d.channels {
		if ch.entry.Name != "" && ch.entry.Name == name && ch.IsOutput() == output {
			return ch
		}
	}
	return nil
}

// ReadAttr reads a device attribute.
func (d *Device) ReadAttr(ctx context.Context, attr string) (string, error) {
	if d.ctx.closed {
		return "", ErrClosed
	}
	return d.ctx.backend.ReadAttr(ctx, d.entry.ID, "", false, attr)
}

// WriteAttr writes a device attribute.
func (d *Device) WriteAttr(ctx context.Context, attr, value string) error {
	if d.ctx.closed {
		return ErrClosed
	}
	return d.ctx.backend.WriteAttr(ctx, d.entry.ID, "", false, attr, value)
}

// ReadAttrInt reads a device attribute as a decimal integer.
func (d *Device) ReadAttrInt(ctx context.Context, attr string) (int64, error) {
	s, err := d.ReadAttr(ctx, attr)
	if err != nil {
		return 0, err
	}
	return parseInt(attr, s)
}

// WriteAttrInt writes a decimal integer device attribute.
func (d *Device) WriteAttrInt(ctx context.Context, attr string, v int64) error {
	return d.WriteAttr(ctx, attr, strconv.FormatInt(v, 10))
}

// enabled returns the enabled scan-element channels.
func (d *Device) enabled() []*Channel {
	var out []*Channel
	for _, ch := range d.channels {
		if ch.enabled && ch.IsScanElement() {
			out = append(out, ch)
		}
	}
	return out
}

// SampleSize returns the bytes one interleaved sample of the currently
// enabled channels occupies.
func (d *Device) SampleSize() (int, error) {
	layout, err := sdrxml.Layout(entries(d.enabled()))
	if err != nil {
		return 0, err
	}
	if layout.Size == 0 {
		return 0, fmt.Errorf("device %s: no channels enabled", d.entry.ID)
	}
	return layout.Size, nil
}

func entries(chans []*Channel) []*sdrxml.ChannelEntry {
	out := make([]*sdrxml.ChannelEntry, len(chans))
	for i, ch := range chans {
		out[i] = ch.entry
	}
	return out
}

// parseInt accepts values such as "905050000" and "-10.000000 dB"; anything
// after the leading number is ignored, fractions are truncated.
func parseInt(attr, s string) (int64, error) {
	field := strings.Fields(s)
	if len(field) == 0 {
		return 0, fmt.Errorf("attribute %s: empty value", attr)
	}
	if v, err := strconv.ParseInt(field[0], 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(field[0], 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %q is not a number", attr, s)
	}
	return int64(f), nil
}
