package app

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
)

// AttrError reports a rejected attribute read or write. Code is the negative
// errno status.
type AttrError struct {
	Target string // "iio:device0 altvoltage0" or "iio:device0"
	Attr   string
	Op     string
	Code   int
	Err    error
}

func (e *AttrError) Error() string {
	return fmt.Sprintf("%s %s on %s: status %d: %v", e.Op, e.Attr, e.Target, e.Code, e.Err)
}

func (e *AttrError) Unwrap() error { return e.Err }

// PushError reports a rejected buffer push.
type PushError struct {
	Code int
	Err  error
}

func (e *PushError) Error() string {
	return fmt.Sprintf("push buffer: status %d: %v", e.Code, e.Err)
}

func (e *PushError) Unwrap() error { return e.Err }

// statusCode maps an error to the negative errno libiio would have returned.
func statusCode(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(syscall.EIO)
}

// gateway performs attribute I/O and turns every failure into an AttrError
// logged at Error level. It never retries.
type gateway struct {
	log logging.Logger
}

func (g gateway) fail(op, target, attr string, err error) error {
	ae := &AttrError{Target: target, Attr: attr, Op: op, Code: statusCode(err), Err: err}
	g.log.Error(fmt.Sprintf("error %d %s %q", ae.Code, op, attr),
		logging.F("target", target), logging.Err(err))
	return ae
}

func chanTarget(ch *iio.Channel) string {
	return ch.Device().ID() + " " + ch.ID()
}

func (g gateway) writeChannelInt(ctx context.Context, ch *iio.Channel, name string, v int64) error {
	if err := ch.WriteAttrInt(ctx, name, v); err != nil {
		return g.fail("write", chanTarget(ch), name, err)
	}
	g.log.Debug("attribute written", logging.F("channel", ch.ID()), logging.F("attr", name), logging.F("value", v))
	return nil
}

func (g gateway) readChannelInt(ctx context.Context, ch *iio.Channel, name string) (int64, error) {
	v, err := ch.ReadAttrInt(ctx, name)
	if err != nil {
		return 0, g.fail("read", chanTarget(ch), name, err)
	}
	g.log.Info(fmt.Sprintf("%s: %d", name, v))
	return v, nil
}

func (g gateway) writeDeviceString(ctx context.Context, dev *iio.Device, name, v string) error {
	if err := dev.WriteAttr(ctx, name, v); err != nil {
		return g.fail("write", dev.ID(), name, err)
	}
	g.log.Debug("attribute written", logging.F("device", dev.ID()), logging.F("attr", name), logging.F("value", v))
	return nil
}
