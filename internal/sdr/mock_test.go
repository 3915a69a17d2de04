package sdr

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/rjboer/iiotx/internal/sdrxml"
)

func describeMock(t *testing.T, m *Mock) (*sdrxml.DeviceEntry, []*sdrxml.ChannelEntry) {
	t.Helper()
	desc, err := m.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	dev, err := desc.Index.LookupDevice("axi-adrv9009-tx-hpc")
	if err != nil {
		t.Fatalf("LookupDevice: %v", err)
	}
	i, _ := desc.Index.LookupChannel(dev.ID, "voltage0", true)
	q, _ := desc.Index.LookupChannel(dev.ID, "voltage1", true)
	return dev, []*sdrxml.ChannelEntry{i, q}
}

func TestMockDescribesADRV9009(t *testing.T) {
	m := NewMock()
	desc, err := m.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	for _, name := range []string{"adrv9009-phy", "axi-adrv9009-rx-hpc", "axi-adrv9009-tx-hpc"} {
		if _, err := desc.Index.LookupDevice(name); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	phy, _ := desc.Index.LookupDevice("adrv9009-phy")
	if _, err := desc.Index.LookupChannel(phy.ID, "altvoltage0", true); err != nil {
		t.Fatalf("LO channel: %v", err)
	}
	if _, err := desc.Index.LookupChannel(phy.ID, "voltage0", false); err != nil {
		t.Fatalf("phy input voltage0: %v", err)
	}
}

func TestMockAttributes(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	got, err := m.ReadAttr(ctx, "iio:device0", "voltage0", true, "rf_bandwidth")
	if err != nil || got != "200000000" {
		t.Fatalf("default rf_bandwidth = %q, %v", got, err)
	}
	if err := m.WriteAttr(ctx, "iio:device0", "altvoltage0", true, "frequency", "905050000"); err != nil {
		t.Fatalf("WriteAttr: %v", err)
	}
	key := AttrKey{Dev: "iio:device0", Chan: "altvoltage0", Output: true, Attr: "frequency"}
	if v, ok := m.Attr(key); !ok || v != "905050000" {
		t.Fatalf("Attr = %q, %v", v, ok)
	}
	if w := m.Writes(); len(w) != 1 || w[0].AttrKey != key {
		t.Fatalf("Writes = %+v", w)
	}

	m.FailAttr("frequency", syscall.EINVAL)
	if err := m.WriteAttr(ctx, "iio:device0", "altvoltage0", true, "frequency", "1"); !errors.Is(err, syscall.EINVAL) {
		t.Fatalf("expected EINVAL, got %v", err)
	}
}

func TestMockBufferLifecycle(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	dev, enabled := describeMock(t, m)

	var seen int
	m.OnPush(func(n int) { seen = n })

	if err := m.OpenBuffer(ctx, dev, 4, enabled, false); err != nil {
		t.Fatalf("OpenBuffer: %v", err)
	}
	if err := m.OpenBuffer(ctx, dev, 4, enabled, false); !errors.Is(err, syscall.EBUSY) {
		t.Fatalf("second open = %v, want EBUSY", err)
	}
	block := []byte{1, 0, 0xff, 0xff, 1, 0, 0xff, 0xff, 1, 0, 0xff, 0xff, 1, 0, 0xff, 0xff}
	if n, err := m.WriteBuffer(ctx, dev.ID, block); err != nil || n != len(block) {
		t.Fatalf("WriteBuffer = %d, %v", n, err)
	}
	if m.Pushes() != 1 || seen != 1 {
		t.Fatalf("pushes = %d, hook saw %d", m.Pushes(), seen)
	}
	if got := m.LastBlock(); string(got) != string(block) {
		t.Fatalf("LastBlock = %v", got)
	}
	if err := m.CloseBuffer(ctx, dev.ID); err != nil {
		t.Fatalf("CloseBuffer: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	want := []string{"open iio:device4 4 00000003", "push iio:device4 16", "close iio:device4", "close"}
	got := m.Events()
	if len(got) != len(want) {
		t.Fatalf("events = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMockPushFailure(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	dev, enabled := describeMock(t, m)
	if err := m.OpenBuffer(ctx, dev, 1, enabled, false); err != nil {
		t.Fatalf("OpenBuffer: %v", err)
	}

	m.FailPush(1, syscall.EIO)
	block := make([]byte, 4)
	if _, err := m.WriteBuffer(ctx, dev.ID, block); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if _, err := m.WriteBuffer(ctx, dev.ID, block); !errors.Is(err, syscall.EIO) {
		t.Fatalf("second push = %v, want EIO", err)
	}
	if _, err := m.WriteBuffer(ctx, dev.ID, block); err != nil {
		t.Fatalf("failure should fire once: %v", err)
	}
	if _, err := m.WriteBuffer(ctx, "iio:device3", block); !errors.Is(err, syscall.EBADF) {
		t.Fatalf("push to unopened device = %v", err)
	}
}
