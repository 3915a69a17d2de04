package iio

import (
	"context"
	"fmt"
	"syscall"

	"github.com/rjboer/iiotx/internal/sdrxml"
)

// Buffer is a block of interleaved samples for the channels that were
// enabled when it was created.
type Buffer struct {
	dev     *Device
	samples int
	cyclic  bool
	layout  sdrxml.SampleLayout
	data    []byte
	closed  bool
}

// CreateBuffer opens a buffer of samples interleaved samples on the device.
// At least one scan-element channel must be enabled.
func (d *Device) CreateBuffer(ctx context.Context, samples int, cyclic bool) (*Buffer, error) {
	if d.ctx.closed {
		return nil, ErrClosed
	}
	if d.buf != nil {
		return nil, fmt.Errorf("device %s: buffer already open: %w", d.entry.ID, syscall.EBUSY)
	}
	if samples <= 0 {
		return nil, fmt.Errorf("device %s: invalid sample count %d: %w", d.entry.ID, samples, syscall.EINVAL)
	}

	enabled := entries(d.enabled())
	if len(enabled) == 0 {
		return nil, fmt.Errorf("device %s: no channels enabled: %w", d.entry.ID, syscall.EINVAL)
	}
	layout, err := sdrxml.Layout(enabled)
	if err != nil {
		return nil, err
	}
	if err := d.ctx.backend.OpenBuffer(ctx, d.entry, samples, enabled, cyclic); err != nil {
		return nil, err
	}

	b := &Buffer{
		dev:     d,
		samples: samples,
		cyclic:  cyclic,
		layout:  layout,
		data:    make([]byte, samples*layout.Size),
	}
	d.buf = b
	return b, nil
}

// Device returns the device the buffer streams to.
func (b *Buffer) Device() *Device { return b.dev }

// Samples returns the buffer capacity in interleaved samples.
func (b *Buffer) Samples() int { return b.samples }

// Step returns the distance in bytes between two consecutive samples of the
// same channel.
func (b *Buffer) Step() int { return b.layout.Size }

// First returns the byte offset of ch inside the first sample. For a channel
// that is not part of the buffer it returns End, so a First..End walk is
// empty.
func (b *Buffer) First(ch *Channel) int {
	off, ok := b.layout.Offsets[ch.entry]
	if !ok {
		return b.End()
	}
	return off
}

// End returns the byte length of the sample area.
func (b *Buffer) End() int { return len(b.data) }

// Bytes exposes the sample area for in-place filling.
func (b *Buffer) Bytes() []byte { return b.data }

// Push hands the whole sample area to the hardware and returns the number of
// bytes accepted. It blocks until the backend takes the block.
func (b *Buffer) Push(ctx context.Context) (int, error) {
	if b.closed {
		return 0, fmt.Errorf("push %s: %w", b.dev.entry.ID, syscall.EBADF)
	}
	return b.dev.ctx.backend.WriteBuffer(ctx, b.dev.entry.ID, b.data)
}

// Destroy closes the buffer. Calling it again is a no-op.
func (b *Buffer) Destroy() error {
	if b.closed {
		return nil
	}
	b.closed = true
	if b.dev.buf == b {
		b.dev.buf = nil
	}
	return b.dev.ctx.backend.CloseBuffer(context.Background(), b.dev.entry.ID)
}
