//go:build !linux

package sdr

import (
	"context"
	"errors"

	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/sdrxml"
)

var errNoLocal = errors.New("local IIO backend requires linux")

// Local is unavailable off linux; every call fails.
type Local struct {
	SysfsRoot string
	DevRoot   string
	Logger    logging.Logger
}

func NewLocal() *Local {
	return &Local{SysfsRoot: DefaultSysfsRoot, DevRoot: DefaultDevRoot}
}

func (l *Local) Describe(context.Context) (*sdrxml.SDRContext, error) { return nil, errNoLocal }

func (l *Local) ReadAttr(context.Context, string, string, bool, string) (string, error) {
	return "", errNoLocal
}

func (l *Local) WriteAttr(context.Context, string, string, bool, string, string) error {
	return errNoLocal
}

func (l *Local) OpenBuffer(context.Context, *sdrxml.DeviceEntry, int, []*sdrxml.ChannelEntry, bool) error {
	return errNoLocal
}

func (l *Local) WriteBuffer(context.Context, string, []byte) (int, error) { return 0, errNoLocal }

func (l *Local) CloseBuffer(context.Context, string) error { return errNoLocal }

func (l *Local) Close() error { return nil }
