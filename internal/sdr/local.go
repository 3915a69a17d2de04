//go:build linux

package sdr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/sdrxml"
)

// Local talks to IIO devices on this machine through sysfs and the iio
// character devices.
type Local struct {
	SysfsRoot string
	DevRoot   string
	Logger    logging.Logger

	mu   sync.Mutex
	desc *sdrxml.SDRContext
	bufs map[string]*localBuffer
}

type localBuffer struct {
	fd      int
	enabled []*sdrxml.ChannelEntry
}

// NewLocal returns a backend rooted at the default sysfs and /dev locations.
func NewLocal() *Local {
	return &Local{SysfsRoot: DefaultSysfsRoot, DevRoot: DefaultDevRoot}
}

func (l *Local) log() logging.Logger {
	if l.Logger == nil {
		return logging.Default().With(logging.Subsystem("sysfs"))
	}
	return l.Logger
}

var (
	chanAttrRe  = regexp.MustCompile(`^(in|out)_([a-z]+[0-9]+(?:_[a-z])?)_(.+)$`)
	sharedRe    = regexp.MustCompile(`^(in|out)_([a-z]+)_(.+)$`)
	scanEnRe    = regexp.MustCompile(`^(in|out)_(.+)_en$`)
	deviceDirRe = regexp.MustCompile(`^iio:device([0-9]+)$`)
)

// non-attribute entries of a device directory
var skipEntries = map[string]bool{
	"name": true, "label": true, "uevent": true, "dev": true, "power": true,
	"subsystem": true, "of_node": true, "buffer": true, "scan_elements": true,
	"trigger": true, "device": true, "events": true, "waiting_for_supplier": true,
}

// Describe walks sysfs and builds the context description.
func (l *Local) Describe(_ context.Context) (*sdrxml.SDRContext, error) {
	entries, err := os.ReadDir(l.SysfsRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.SysfsRoot, err)
	}

	type numbered struct {
		id  string
		num int
	}
	var ids []numbered
	for _, e := range entries {
		m := deviceDirRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		ids = append(ids, numbered{id: e.Name(), num: n})
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].num < ids[j].num })

	desc := &sdrxml.SDRContext{Name: "local", Description: "local sysfs"}
	for _, id := range ids {
		dev, err := l.describeDevice(id.id)
		if err != nil {
			return nil, err
		}
		desc.Device = append(desc.Device, *dev)
	}
	if err := desc.Reindex(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.desc = desc
	l.mu.Unlock()
	l.log().Debug("described local context", logging.F("devices", len(desc.Device)))
	return desc, nil
}

func (l *Local) describeDevice(id string) (*sdrxml.DeviceEntry, error) {
	dir := filepath.Join(l.SysfsRoot, id)
	dev := &sdrxml.DeviceEntry{ID: id}
	dev.Name = readTrimmed(filepath.Join(dir, "name"))
	dev.Label = readTrimmed(filepath.Join(dir, "label"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	chanIdx := map[sdrxml.ChannelKey]int{}
	channel := func(output bool, chID string) *sdrxml.ChannelEntry {
		key := sdrxml.ChannelKey{ID: chID, Output: output}
		if i, ok := chanIdx[key]; ok {
			return &dev.Channel[i]
		}
		typ := "input"
		if output {
			typ = "output"
		}
		dev.Channel = append(dev.Channel, sdrxml.ChannelEntry{ID: chID, Type: typ})
		chanIdx[key] = len(dev.Channel) - 1
		return &dev.Channel[len(dev.Channel)-1]
	}

	var shared []string
	for _, e := range entries {
		name := e.Name()
		if skipEntries[name] || e.IsDir() {
			continue
		}
		m := chanAttrRe.FindStringSubmatch(name)
		if m == nil {
			if sharedRe.MatchString(name) {
				shared = append(shared, name)
				continue
			}
			dev.Attribute = append(dev.Attribute, sdrxml.DevAttribute{Name: name})
			continue
		}
		label, attr := splitLabel(m[3])
		ch := channel(m[1] == "out", m[2])
		if label != "" {
			ch.Name = label
		}
		ch.Attribute = append(ch.Attribute, sdrxml.ChannelAttr{Name: attr, Filename: name})
	}

	scanDir := filepath.Join(dir, "scan_elements")
	if scans, err := os.ReadDir(scanDir); err == nil {
		for _, e := range scans {
			m := scanEnRe.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			prefix := m[1] + "_" + m[2]
			ch := channel(m[1] == "out", m[2])
			ch.ScanElementRaw = &sdrxml.ScanElement{
				Index:  readTrimmed(filepath.Join(scanDir, prefix+"_index")),
				Format: readTrimmed(filepath.Join(scanDir, prefix+"_type")),
			}
		}
	}

	// Shared attributes such as in_voltage_sampling_frequency apply to every
	// channel of that type and direction.
	for _, name := range shared {
		m := sharedRe.FindStringSubmatch(name)
		output := m[1] == "out"
		for i := range dev.Channel {
			ch := &dev.Channel[i]
			if ch.IsOutput() == output && strings.HasPrefix(ch.ID, m[2]) && !ch.HasAttr(m[3]) {
				ch.Attribute = append(ch.Attribute, sdrxml.ChannelAttr{Name: m[3], Filename: name})
			}
		}
	}

	if bufs, err := os.ReadDir(filepath.Join(dir, "buffer")); err == nil {
		for _, e := range bufs {
			dev.BufferAttribute = append(dev.BufferAttribute, sdrxml.DevAttribute{Name: e.Name()})
		}
	}
	return dev, nil
}

// splitLabel separates an upper-case channel label from the attribute name:
// "TRX_LO_frequency" becomes ("TRX_LO", "frequency").
func splitLabel(s string) (string, string) {
	parts := strings.Split(s, "_")
	n := 0
	for n < len(parts)-1 && isLabelToken(parts[n]) {
		n++
	}
	return strings.Join(parts[:n], "_"), strings.Join(parts[n:], "_")
}

func isLabelToken(s string) bool {
	letter := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			letter = true
		case r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return letter
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func (l *Local) described() (*sdrxml.SDRContext, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.desc == nil {
		return nil, errors.New("local backend: Describe has not been called")
	}
	return l.desc, nil
}

// ReadAttr reads a device or channel attribute file.
func (l *Local) ReadAttr(_ context.Context, dev, ch string, output bool, attr string) (string, error) {
	desc, err := l.described()
	if err != nil {
		return "", err
	}
	path, err := attrPath(desc, l.SysfsRoot, dev, ch, output, attr)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00\r\n"), nil
}

// WriteAttr writes a device or channel attribute file.
func (l *Local) WriteAttr(_ context.Context, dev, ch string, output bool, attr, value string) error {
	desc, err := l.described()
	if err != nil {
		return err
	}
	path, err := attrPath(desc, l.SysfsRoot, dev, ch, output, attr)
	if err != nil {
		return err
	}
	l.log().Debug("sysfs write", logging.F("path", path), logging.F("value", value))
	return writeSysfs(path, value)
}

func writeSysfs(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// OpenBuffer enables the requested scan elements, sizes the kernel buffer
// and opens the character device for writing.
func (l *Local) OpenBuffer(_ context.Context, dev *sdrxml.DeviceEntry, samples int, enabled []*sdrxml.ChannelEntry, cyclic bool) error {
	if cyclic {
		return fmt.Errorf("open %s: cyclic buffers: %w", dev.ID, unix.ENOSYS)
	}
	if samples <= 0 {
		return fmt.Errorf("open %s: invalid sample count %d: %w", dev.ID, samples, unix.EINVAL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bufs == nil {
		l.bufs = make(map[string]*localBuffer)
	}
	if _, busy := l.bufs[dev.ID]; busy {
		return fmt.Errorf("open %s: %w", dev.ID, unix.EBUSY)
	}

	dir := filepath.Join(l.SysfsRoot, dev.ID)
	want := make(map[*sdrxml.ChannelEntry]bool, len(enabled))
	for _, ch := range enabled {
		want[ch] = true
	}
	for i := range dev.Channel {
		ch := &dev.Channel[i]
		if !ch.IsScanElement() {
			continue
		}
		val := "0"
		if want[ch] {
			val = "1"
		}
		if err := writeSysfs(filepath.Join(dir, "scan_elements", channelPrefix(ch)+"_en"), val); err != nil {
			return fmt.Errorf("open %s: enable %s: %w", dev.ID, ch.ID, err)
		}
	}
	if err := writeSysfs(filepath.Join(dir, "buffer", "length"), strconv.Itoa(samples)); err != nil {
		return fmt.Errorf("open %s: buffer length: %w", dev.ID, err)
	}
	if err := writeSysfs(filepath.Join(dir, "buffer", "enable"), "1"); err != nil {
		return fmt.Errorf("open %s: buffer enable: %w", dev.ID, err)
	}

	path := filepath.Join(l.DevRoot, dev.ID)
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		_ = writeSysfs(filepath.Join(dir, "buffer", "enable"), "0")
		return fmt.Errorf("open %s: %w", path, err)
	}
	l.bufs[dev.ID] = &localBuffer{fd: fd, enabled: enabled}
	l.log().Info("buffer opened", logging.F("device", dev.ID), logging.F("samples", samples))
	return nil
}

// WriteBuffer writes one block to the character device. The kernel blocks
// the write until DMA space is free.
func (l *Local) WriteBuffer(_ context.Context, dev string, p []byte) (int, error) {
	l.mu.Lock()
	buf, ok := l.bufs[dev]
	l.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("write %s: %w", dev, unix.EBADF)
	}

	total := 0
	for total < len(p) {
		n, err := unix.Write(buf.fd, p[total:])
		if n > 0 {
			total += n
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return total, fmt.Errorf("write %s after %d bytes: %w", dev, total, err)
		}
		if n == 0 {
			return total, fmt.Errorf("write %s: short write: %w", dev, unix.EIO)
		}
	}
	return total, nil
}

// CloseBuffer closes the character device and disables the kernel buffer.
func (l *Local) CloseBuffer(_ context.Context, dev string) error {
	l.mu.Lock()
	buf, ok := l.bufs[dev]
	delete(l.bufs, dev)
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("close %s: %w", dev, unix.EBADF)
	}
	return l.release(dev, buf)
}

func (l *Local) release(dev string, buf *localBuffer) error {
	err := unix.Close(buf.fd)
	if e := writeSysfs(filepath.Join(l.SysfsRoot, dev, "buffer", "enable"), "0"); e != nil && err == nil {
		err = e
	}
	return err
}

// Close releases any buffers still open.
func (l *Local) Close() error {
	l.mu.Lock()
	bufs := l.bufs
	l.bufs = nil
	l.mu.Unlock()

	var errs []error
	for dev, buf := range bufs {
		if err := l.release(dev, buf); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dev, err))
		}
	}
	return errors.Join(errs...)
}
