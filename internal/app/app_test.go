package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"testing"

	"github.com/rjboer/iiotx/internal/iio"
	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/sdr"
)

// recordLogger keeps every message so tests can assert on log output.
type recordLogger struct {
	mu     *sync.Mutex
	lines  *[]string
	fields []logging.Field
}

func newRecordLogger() *recordLogger {
	return &recordLogger{mu: &sync.Mutex{}, lines: new([]string)}
}

func (l *recordLogger) add(level, msg string, fields []logging.Field) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", level, msg)
	for _, f := range append(append([]logging.Field{}, l.fields...), fields...) {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	l.mu.Lock()
	*l.lines = append(*l.lines, b.String())
	l.mu.Unlock()
}

func (l *recordLogger) Debug(msg string, f ...logging.Field) { l.add("DEBUG", msg, f) }
func (l *recordLogger) Info(msg string, f ...logging.Field)  { l.add("INFO", msg, f) }
func (l *recordLogger) Warn(msg string, f ...logging.Field)  { l.add("WARN", msg, f) }
func (l *recordLogger) Error(msg string, f ...logging.Field) { l.add("ERROR", msg, f) }

func (l *recordLogger) With(f ...logging.Field) logging.Logger {
	return &recordLogger{mu: l.mu, lines: l.lines, fields: append(append([]logging.Field{}, l.fields...), f...)}
}

func (l *recordLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), *l.lines...)
}

// contains reports whether some line holds every fragment.
func (l *recordLogger) contains(fragments ...string) bool {
	for _, line := range l.Lines() {
		ok := true
		for _, f := range fragments {
			if !strings.Contains(line, f) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func mockOpener(m *sdr.Mock) Opener {
	return func(ctx context.Context, _ string) (*iio.Context, error) {
		c, err := iio.NewContext(ctx, m)
		if err != nil {
			return nil, err
		}
		c.SetLogger(logging.Discard())
		return c, nil
	}
}

func newMock() *sdr.Mock {
	m := sdr.NewMock()
	m.Logger = logging.Discard()
	return m
}

func openMock(t *testing.T, m *sdr.Mock) *iio.Context {
	t.Helper()
	c, err := mockOpener(m)(context.Background(), "mock:")
	if err != nil {
		t.Fatalf("open mock: %v", err)
	}
	return c
}

func TestDirection(t *testing.T) {
	if Transmit.String() != "TX" || Receive.String() != "RX" {
		t.Fatalf("names = %s/%s", Transmit, Receive)
	}
	if !Transmit.output() || Receive.output() {
		t.Fatalf("TX must select output channels and RX input channels")
	}
}

func TestFrameConstants(t *testing.T) {
	if FrameSamples != 10840 {
		t.Fatalf("FrameSamples = %d", FrameSamples)
	}
	if ms := FrameSamples * 1000 / SampleRate; ms != 40 {
		t.Fatalf("frame lasts %d ms", ms)
	}
}

func TestParsePresets(t *testing.T) {
	tests := []struct {
		in      string
		want    []Preset
		wantErr bool
	}{
		{in: "", want: nil},
		{in: "ensm_mode=radio_on", want: []Preset{{"ensm_mode", "radio_on"}}},
		{in: " ensm_mode = radio_on , calibrate=1 ,", want: []Preset{{"ensm_mode", "radio_on"}, {"calibrate", "1"}}},
		{in: "calibrate=", want: []Preset{{"calibrate", ""}}},
		{in: "calibrate", wantErr: true},
		{in: "=1", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParsePresets(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePresets(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePresets(%q): %v", tc.in, err)
			continue
		}
		if fmt.Sprint(got) != fmt.Sprint(tc.want) {
			t.Errorf("ParsePresets(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestResolveContext(t *testing.T) {
	ctx := context.Background()

	openErr := errors.New("connection refused")
	_, err := ResolveContext(ctx, "ip:10.0.0.1", func(context.Context, string) (*iio.Context, error) {
		return nil, openErr
	})
	if !errors.Is(err, ErrNoContext) || !errors.Is(err, openErr) {
		t.Fatalf("open failure = %v", err)
	}

	empty := sdr.NewMockXML([]byte(`<context name="empty"></context>`))
	empty.Logger = logging.Discard()
	if _, err := ResolveContext(ctx, "", mockOpener(empty)); !errors.Is(err, ErrNoDevices) {
		t.Fatalf("empty context = %v, want ErrNoDevices", err)
	}
	if !empty.Closed() {
		t.Fatalf("context without devices should be destroyed")
	}

	var gotURI string
	m := newMock()
	c, err := ResolveContext(ctx, "mock:", func(ctx context.Context, uri string) (*iio.Context, error) {
		gotURI = uri
		return mockOpener(m)(ctx, uri)
	})
	if err != nil || c.DeviceCount() != 3 || gotURI != "mock:" {
		t.Fatalf("ResolveContext = %v, %v (uri %q)", c, err, gotURI)
	}
}

func TestResolveDevicesAndChannels(t *testing.T) {
	c := openMock(t, newMock())

	tx, err := findStreamDevice(c, Transmit)
	if err != nil || tx.Name() != TXStreamDevice {
		t.Fatalf("tx device = %v, %v", tx, err)
	}
	rx, err := findStreamDevice(c, Receive)
	if err != nil || rx.Name() != RXStreamDevice {
		t.Fatalf("rx device = %v, %v", rx, err)
	}
	phy, err := findPhy(c)
	if err != nil || phy.ID() != "iio:device0" {
		t.Fatalf("phy = %v, %v", phy, err)
	}

	tests := []struct {
		name    string
		resolve func() (*iio.Channel, error)
		wantID  string
		wantOut bool
	}{
		{"phy tx", func() (*iio.Channel, error) { return phyChannel(phy, Transmit, 0) }, "voltage0", true},
		{"phy rx", func() (*iio.Channel, error) { return phyChannel(phy, Receive, 0) }, "voltage0", false},
		{"phy tx 1", func() (*iio.Channel, error) { return phyChannel(phy, Transmit, 1) }, "voltage1", true},
		{"lo", func() (*iio.Channel, error) { return loChannel(phy) }, "altvoltage0", true},
		{"tx i", func() (*iio.Channel, error) { return streamChannel(tx, Transmit, 0, 0) }, "voltage0", true},
		{"tx q", func() (*iio.Channel, error) { return streamChannel(tx, Transmit, 1, 0) }, "voltage1", true},
		{"rx i", func() (*iio.Channel, error) { return streamChannel(rx, Receive, 0, 'i') }, "voltage0_i", false},
		{"rx q", func() (*iio.Channel, error) { return streamChannel(rx, Receive, 0, 'q') }, "voltage0_q", false},
	}
	for _, tc := range tests {
		ch, err := tc.resolve()
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
			continue
		}
		if ch.ID() != tc.wantID || ch.IsOutput() != tc.wantOut {
			t.Errorf("%s: got %s output=%v", tc.name, ch.ID(), ch.IsOutput())
		}
	}

	if _, err := phyChannel(phy, Receive, 1); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("missing rx voltage1 = %v", err)
	}
	if _, err := streamChannel(tx, Transmit, 7, 0); !errors.Is(err, ErrChannelNotFound) {
		t.Fatalf("missing tx voltage7 = %v", err)
	}
}

// flakyFinder misses the first misses lookups and records every call.
type flakyFinder struct {
	dev    *iio.Device
	misses int
	calls  []string
}

func (f *flakyFinder) FindChannel(name string, output bool) *iio.Channel {
	f.calls = append(f.calls, fmt.Sprintf("%s/%v", name, output))
	if len(f.calls) <= f.misses {
		return nil
	}
	return f.dev.FindChannel(name, output)
}

func TestFindChannelRetriesOnce(t *testing.T) {
	c := openMock(t, newMock())
	rx, _ := findStreamDevice(c, Receive)

	tests := []struct {
		misses    int
		wantFound bool
		wantCalls int
	}{
		{0, true, 1},
		{1, true, 2},
		{2, false, 2},
	}
	for _, tc := range tests {
		f := &flakyFinder{dev: rx, misses: tc.misses}
		ch := findChannel(f, "voltage", 0, 'q', false)
		if (ch != nil) != tc.wantFound || len(f.calls) != tc.wantCalls {
			t.Errorf("misses=%d: found=%v calls=%v", tc.misses, ch != nil, f.calls)
			continue
		}
		for _, call := range f.calls {
			if call != "voltage0_q/false" {
				t.Errorf("misses=%d: lookup %q, want voltage0_q/false", tc.misses, call)
			}
		}
		if ch != nil && ch.ID() != "voltage0_q" {
			t.Errorf("misses=%d: got %s", tc.misses, ch.ID())
		}
	}
}

func TestConfigureWritesLOAndPresets(t *testing.T) {
	m := newMock()
	c := openMock(t, m)
	phy, _ := findPhy(c)
	log := newRecordLogger()

	conf := &Configurator{
		Phy:         phy,
		Direction:   Transmit,
		Diagnostics: true,
		Presets:     []Preset{{"ensm_mode", "radio_on"}, {"calibrate", "1"}},
		Logger:      log,
	}
	if err := conf.Configure(context.Background(), StreamConfig{LOHz: DefaultLOHz}, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	writes := m.Writes()
	if len(writes) != 3 {
		t.Fatalf("writes = %+v", writes)
	}
	lo := writes[0]
	if lo.Dev != "iio:device0" || lo.Chan != "altvoltage0" || !lo.Output || lo.Attr != "frequency" || lo.Value != "905050000" {
		t.Fatalf("LO write = %+v", lo)
	}
	if writes[1].Attr != "ensm_mode" || writes[1].Chan != "" || writes[2].Attr != "calibrate" {
		t.Fatalf("preset writes = %+v", writes[1:])
	}

	if !log.contains("rf_bandwidth: 200000000") || !log.contains("sampling_frequency: 271000") {
		t.Fatalf("diagnostic reads not logged: %q", log.Lines())
	}
}

func TestConfigureWithoutDiagnosticsSkipsReads(t *testing.T) {
	m := newMock()
	m.FailAttr("rf_bandwidth", syscall.EIO)
	c := openMock(t, m)
	phy, _ := findPhy(c)

	conf := &Configurator{Phy: phy, Direction: Transmit, Logger: logging.Discard()}
	if err := conf.Configure(context.Background(), StreamConfig{LOHz: 100_000_000}, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	v, _ := m.Attr(sdr.AttrKey{Dev: "iio:device0", Chan: "altvoltage0", Output: true, Attr: "frequency"})
	if v != "100000000" {
		t.Fatalf("LO = %q", v)
	}
}

func TestConfigureAttrError(t *testing.T) {
	m := newMock()
	m.FailAttr("frequency", syscall.EINVAL)
	c := openMock(t, m)
	phy, _ := findPhy(c)
	log := newRecordLogger()

	conf := &Configurator{Phy: phy, Direction: Transmit, Logger: log}
	err := conf.Configure(context.Background(), StreamConfig{LOHz: DefaultLOHz}, 0)

	var ae *AttrError
	if !errors.As(err, &ae) {
		t.Fatalf("Configure = %v, want AttrError", err)
	}
	if ae.Code != -22 || ae.Attr != "frequency" || ae.Op != "write" || !errors.Is(err, syscall.EINVAL) {
		t.Fatalf("AttrError = %+v", ae)
	}
	if !log.contains("[ERROR]", "error -22 write \"frequency\"") {
		t.Fatalf("failure not logged: %q", log.Lines())
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{syscall.EINVAL, -22},
		{fmt.Errorf("wrapped: %w", syscall.ETIMEDOUT), -int(syscall.ETIMEDOUT)},
		{errors.New("opaque"), -5},
	}
	for _, tc := range tests {
		if got := statusCode(tc.err); got != tc.want {
			t.Errorf("statusCode(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestFrameBufferStartsSilent(t *testing.T) {
	c := openMock(t, newMock())
	tx, _ := findStreamDevice(c, Transmit)
	iCh, _ := streamChannel(tx, Transmit, 0, 0)
	qCh, _ := streamChannel(tx, Transmit, 1, 0)
	iCh.Enable()
	qCh.Enable()

	fb, err := CreateFrameBuffer(context.Background(), tx, iCh, qCh, FrameSamples)
	if err != nil {
		t.Fatalf("CreateFrameBuffer: %v", err)
	}
	defer fb.Destroy()

	if fb.Step() != 4 || fb.Samples() != FrameSamples || fb.End() != 4*FrameSamples {
		t.Fatalf("step=%d samples=%d end=%d", fb.Step(), fb.Samples(), fb.End())
	}
	for k := 0; k < FrameSamples; k++ {
		if i, q := fb.Pair(k); i != 0 || q != 0 {
			t.Fatalf("pair %d = (%d, %d)", k, i, q)
		}
	}

	calls := 0
	fb.Fill(SourceFunc(func() (int16, int16) {
		calls++
		return int16(calls), -int16(calls)
	}))
	if calls != FrameSamples {
		t.Fatalf("source called %d times", calls)
	}
	if i, q := fb.Pair(FrameSamples - 1); i != FrameSamples || q != -FrameSamples {
		t.Fatalf("last pair = (%d, %d)", i, q)
	}
}

func TestFrameBufferCreateFailure(t *testing.T) {
	m := newMock()
	m.FailOpen(syscall.ENOMEM)
	c := openMock(t, m)
	tx, _ := findStreamDevice(c, Transmit)
	iCh, _ := streamChannel(tx, Transmit, 0, 0)
	qCh, _ := streamChannel(tx, Transmit, 1, 0)
	iCh.Enable()
	qCh.Enable()

	_, err := CreateFrameBuffer(context.Background(), tx, iCh, qCh, FrameSamples)
	if !errors.Is(err, ErrBufferCreate) || !errors.Is(err, syscall.ENOMEM) {
		t.Fatalf("CreateFrameBuffer = %v", err)
	}
}

func TestFrameBufferRejectsNarrowSamples(t *testing.T) {
	c := openMock(t, newMock())
	tx, _ := findStreamDevice(c, Transmit)
	iCh, _ := streamChannel(tx, Transmit, 0, 0)
	qCh, _ := streamChannel(tx, Transmit, 1, 0)
	iCh.Enable()

	if _, err := CreateFrameBuffer(context.Background(), tx, iCh, qCh, 16); !errors.Is(err, ErrBufferCreate) {
		t.Fatalf("single channel buffer = %v, want ErrBufferCreate", err)
	}
	// The rejected buffer must not keep the device busy.
	qCh.Enable()
	fb, err := CreateFrameBuffer(context.Background(), tx, iCh, qCh, 16)
	if err != nil {
		t.Fatalf("CreateFrameBuffer after rejection: %v", err)
	}
	_ = fb.Destroy()

	// Q not part of the sample: I sits alone next to another channel.
	v2, _ := streamChannel(tx, Transmit, 2, 0)
	qCh.Disable()
	v2.Enable()
	if _, err := CreateFrameBuffer(context.Background(), tx, iCh, qCh, 16); !errors.Is(err, ErrBufferCreate) {
		t.Fatalf("buffer without Q = %v, want ErrBufferCreate", err)
	}
}

// swappedTX describes a TX device whose I channel follows Q in scan order.
const swappedTX = `<context name="swapped">` +
	`<device id="iio:device0" name="adrv9009-phy">` +
	`<channel id="voltage0" type="output"/>` +
	`<channel id="altvoltage0" type="output" name="TRX_LO"><attribute name="frequency"/></channel>` +
	`</device>` +
	`<device id="iio:device4" name="axi-adrv9009-tx-hpc">` +
	`<channel id="voltage0" type="output"><scan-element index="1" format="le:S16/16&gt;&gt;0"/></channel>` +
	`<channel id="voltage1" type="output"><scan-element index="0" format="le:S16/16&gt;&gt;0"/></channel>` +
	`</device></context>`

func TestFrameBufferFollowsScanOrder(t *testing.T) {
	m := sdr.NewMockXML([]byte(swappedTX))
	m.Logger = logging.Discard()
	c := openMock(t, m)
	tx, _ := findStreamDevice(c, Transmit)
	iCh, _ := streamChannel(tx, Transmit, 0, 0)
	qCh, _ := streamChannel(tx, Transmit, 1, 0)
	iCh.Enable()
	qCh.Enable()

	fb, err := CreateFrameBuffer(context.Background(), tx, iCh, qCh, 8)
	if err != nil {
		t.Fatalf("CreateFrameBuffer: %v", err)
	}
	defer fb.Destroy()

	fb.Fill(SourceFunc(func() (int16, int16) { return 1, -1 }))
	if i, q := fb.Pair(7); i != 1 || q != -1 {
		t.Fatalf("last pair = (%d, %d)", i, q)
	}
	if _, err := fb.Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	block := m.LastBlock()
	if len(block) != 32 {
		t.Fatalf("block length = %d", len(block))
	}
	for p := 0; p < len(block); p += 4 {
		// voltage1 (Q) has scan index 0 and comes first.
		if block[p] != 0xff || block[p+1] != 0xff || block[p+2] != 0x01 || block[p+3] != 0x00 {
			t.Fatalf("pair at %d = % x", p, block[p:p+4])
		}
	}
}
