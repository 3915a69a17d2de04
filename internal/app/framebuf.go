package app

import (
	"context"
	"fmt"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/sdrxml"
)

// FrameBuffer is one non-cyclic buffer holding a frame of interleaved 16-bit
// I/Q pairs. The I and Q slots of a pair sit wherever the scan indices of the
// two channels put them inside the sample.
type FrameBuffer struct {
	buf    *iio.Buffer
	firstI int
	firstQ int
	fmtI   *sdrxml.ScanFormat
	fmtQ   *sdrxml.ScanFormat
}

// CreateFrameBuffer opens a frame-sized buffer on dev and fills it with
// silence. iChan and qChan must already be enabled.
func CreateFrameBuffer(ctx context.Context, dev *iio.Device, iChan, qChan *iio.Channel, frameSamples int) (*FrameBuffer, error) {
	buf, err := dev.CreateBuffer(ctx, frameSamples, false)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %w", ErrBufferCreate, dev.Name(), err)
	}
	fb := &FrameBuffer{
		buf:    buf,
		firstI: buf.First(iChan),
		firstQ: buf.First(qChan),
		fmtI:   iChan.Format(),
		fmtQ:   qChan.Format(),
	}
	if err := fb.checkLayout(); err != nil {
		_ = buf.Destroy()
		return nil, fmt.Errorf("%w on %s: %w", ErrBufferCreate, dev.Name(), err)
	}
	fb.Fill(SourceFunc(func() (int16, int16) { return 0, 0 }))
	return fb, nil
}

// checkLayout makes sure both 16-bit slots fit inside one sample without
// overlapping.
func (fb *FrameBuffer) checkLayout() error {
	step := fb.buf.Step()
	if step < 4 {
		return fmt.Errorf("%d-byte samples cannot hold an I/Q pair", step)
	}
	if fb.firstI+2 > step || fb.firstQ+2 > step {
		return fmt.Errorf("I at byte %d and Q at byte %d do not fit a %d-byte sample", fb.firstI, fb.firstQ, step)
	}
	if d := fb.firstI - fb.firstQ; d > -2 && d < 2 {
		return fmt.Errorf("I and Q overlap at byte %d", fb.firstI)
	}
	return nil
}

// Step returns the bytes per sample pair.
func (fb *FrameBuffer) Step() int { return fb.buf.Step() }

// End returns the byte length of the sample area.
func (fb *FrameBuffer) End() int { return fb.buf.End() }

// Samples returns the frame length in sample pairs.
func (fb *FrameBuffer) Samples() int { return fb.buf.Samples() }

// Fill calls src once per pair and stores I then Q.
func (fb *FrameBuffer) Fill(src SampleSource) {
	data := fb.buf.Bytes()
	step, end := fb.buf.Step(), fb.buf.End()
	for p := 0; p < end; p += step {
		i, q := src.Next()
		fb.fmtI.PutInt16(data[p+fb.firstI:], i)
		fb.fmtQ.PutInt16(data[p+fb.firstQ:], q)
	}
}

// Pair returns the I/Q values stored in slot k.
func (fb *FrameBuffer) Pair(k int) (i, q int16) {
	data := fb.buf.Bytes()
	p := k * fb.buf.Step()
	return fb.fmtI.Int16(data[p+fb.firstI:]), fb.fmtQ.Int16(data[p+fb.firstQ:])
}

// Push hands the frame to the hardware and blocks until it is accepted.
func (fb *FrameBuffer) Push(ctx context.Context) (int, error) {
	n, err := fb.buf.Push(ctx)
	if err != nil {
		return 0, &PushError{Code: statusCode(err), Err: err}
	}
	return n, nil
}

// Destroy releases the buffer. It is safe to call more than once.
func (fb *FrameBuffer) Destroy() error {
	return fb.buf.Destroy()
}
