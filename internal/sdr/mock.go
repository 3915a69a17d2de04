package sdr

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/sdrxml"
)

//go:embed adrv9009.xml
var adrv9009XML []byte

// MockSampleRate is the rate a paced mock plays pushed blocks at.
const MockSampleRate = 271_000

// AttrKey addresses one attribute of the mock. Chan is empty for device
// attributes.
type AttrKey struct {
	Dev    string
	Chan   string
	Output bool
	Attr   string
}

// AttrWrite records one attribute write.
type AttrWrite struct {
	AttrKey
	Value string
}

// Mock is an in-memory backend describing an ADRV9009 board. It keeps
// attribute values, records every write and push, and can be told to fail.
type Mock struct {
	// PaceRate makes WriteBuffer take as long as the block would take to
	// play at this many samples per second. Zero disables pacing.
	PaceRate float64
	Logger   logging.Logger

	mu      sync.Mutex
	xml     []byte
	attrs   map[AttrKey]string
	writes  []AttrWrite
	events  []string
	open    map[string]int // device -> bytes per sample
	pushes  int
	last    []byte
	closed  bool
	onPush  func(n int)
	attrErr map[string]error

	describeErr error
	openErr     error
	pushErr     error
	pushOK      int
}

// NewMock returns a mock of an ADRV9009 transceiver.
func NewMock() *Mock {
	return NewMockXML(adrv9009XML)
}

// NewMockXML returns a mock serving the given context description.
func NewMockXML(raw []byte) *Mock {
	return &Mock{
		xml:     raw,
		attrs:   make(map[AttrKey]string),
		open:    make(map[string]int),
		attrErr: make(map[string]error),
	}
}

func (m *Mock) log() logging.Logger {
	if m.Logger == nil {
		return logging.Default().With(logging.Subsystem("mock"))
	}
	return m.Logger
}

var mockDefaults = map[string]string{
	"frequency":          "2400000000",
	"rf_bandwidth":       "200000000",
	"sampling_frequency": "271000",
	"hardwaregain":       "-10.000000 dB",
	"ensm_mode":          "radio_on",
}

// FailAttr makes every read and write of the named attribute return err.
func (m *Mock) FailAttr(attr string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrErr[attr] = err
}

// FailDescribe makes Describe return err.
func (m *Mock) FailDescribe(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.describeErr = err
}

// FailOpen makes OpenBuffer return err.
func (m *Mock) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// FailPush makes WriteBuffer return err once after pushes have succeeded.
func (m *Mock) FailPush(after int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushErr = err
	m.pushOK = after
}

// OnPush registers fn to run after every successful push with the push count.
func (m *Mock) OnPush(fn func(n int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPush = fn
}

// SetAttr seeds an attribute value.
func (m *Mock) SetAttr(key AttrKey, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[key] = value
}

// Attr returns the current value of an attribute.
func (m *Mock) Attr(key AttrKey) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.attrs[key]
	return v, ok
}

// Writes returns the attribute writes in order.
func (m *Mock) Writes() []AttrWrite {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AttrWrite(nil), m.writes...)
}

// Events returns the buffer and context lifecycle events in order.
func (m *Mock) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Pushes returns the number of successful pushes.
func (m *Mock) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// LastBlock returns a copy of the most recently pushed block.
func (m *Mock) LastBlock() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.last...)
}

// Closed reports whether Close has been called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mock) Describe(_ context.Context) (*sdrxml.SDRContext, error) {
	m.mu.Lock()
	err := m.describeErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return sdrxml.ParseIIODXML(m.xml)
}

func (m *Mock) ReadAttr(_ context.Context, dev, ch string, output bool, attr string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", syscall.EBADF
	}
	if err := m.attrErr[attr]; err != nil {
		return "", err
	}
	if v, ok := m.attrs[AttrKey{dev, ch, output, attr}]; ok {
		return v, nil
	}
	if v, ok := mockDefaults[attr]; ok {
		return v, nil
	}
	return "0", nil
}

func (m *Mock) WriteAttr(_ context.Context, dev, ch string, output bool, attr, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return syscall.EBADF
	}
	if err := m.attrErr[attr]; err != nil {
		return err
	}
	key := AttrKey{dev, ch, output, attr}
	m.attrs[key] = value
	m.writes = append(m.writes, AttrWrite{AttrKey: key, Value: value})
	return nil
}

func (m *Mock) OpenBuffer(_ context.Context, dev *sdrxml.DeviceEntry, samples int, enabled []*sdrxml.ChannelEntry, cyclic bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return syscall.EBADF
	}
	if m.openErr != nil {
		return m.openErr
	}
	if _, busy := m.open[dev.ID]; busy {
		return fmt.Errorf("open %s: %w", dev.ID, syscall.EBUSY)
	}
	layout, err := sdrxml.Layout(enabled)
	if err != nil {
		return err
	}
	if samples <= 0 || layout.Size == 0 {
		return fmt.Errorf("open %s: %w", dev.ID, syscall.EINVAL)
	}
	m.open[dev.ID] = layout.Size
	ev := fmt.Sprintf("open %s %d %s", dev.ID, samples, sdrxml.ChannelMask(dev, enabled))
	if cyclic {
		ev += " cyclic"
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Mock) WriteBuffer(_ context.Context, dev string, p []byte) (int, error) {
	m.mu.Lock()
	size, ok := m.open[dev]
	switch {
	case !ok:
		m.mu.Unlock()
		return 0, fmt.Errorf("push %s: %w", dev, syscall.EBADF)
	case m.pushErr != nil && m.pushes >= m.pushOK:
		err := m.pushErr
		m.pushErr = nil
		m.mu.Unlock()
		return 0, err
	}
	rate := m.PaceRate
	m.mu.Unlock()

	if rate > 0 {
		samples := len(p) / size
		time.Sleep(time.Duration(float64(samples) / rate * float64(time.Second)))
	}

	m.mu.Lock()
	m.pushes++
	n := m.pushes
	m.last = append(m.last[:0], p...)
	m.events = append(m.events, fmt.Sprintf("push %s %d", dev, len(p)))
	hook := m.onPush
	m.mu.Unlock()

	m.log().Debug("mock push", logging.F("device", dev), logging.F("bytes", len(p)))
	if hook != nil {
		hook(n)
	}
	return len(p), nil
}

func (m *Mock) CloseBuffer(_ context.Context, dev string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.open[dev]; !ok {
		return fmt.Errorf("close %s: %w", dev, syscall.EBADF)
	}
	delete(m.open, dev)
	m.events = append(m.events, "close "+dev)
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.events = append(m.events, "close")
	return nil
}
