// Package sdr provides iio backends that do not speak the network protocol
// directly: the local sysfs backend, an in-memory mock of an ADRV9009 board,
// and an SSH tunnel dialer for reaching iiod behind a jump host.
package sdr

import (
	"fmt"
	"path/filepath"

	"github.com/rjboer/iiotx/internal/sdrxml"
)

const (
	// DefaultSysfsRoot is where the kernel publishes IIO devices.
	DefaultSysfsRoot = "/sys/bus/iio/devices"
	// DefaultDevRoot holds the iio:deviceN character devices.
	DefaultDevRoot = "/dev"
)

// channelPrefix returns the sysfs prefix of a channel, e.g. "out_voltage0".
func channelPrefix(ch *sdrxml.ChannelEntry) string {
	if ch.IsOutput() {
		return "out_" + ch.ID
	}
	return "in_" + ch.ID
}

// attrPath resolves the sysfs file backing a device attribute (ch == "") or a
// channel attribute.
func attrPath(desc *sdrxml.SDRContext, root, dev, ch string, output bool, attr string) (string, error) {
	if desc == nil || desc.Index == nil {
		return "", fmt.Errorf("context not described")
	}
	if ch == "" {
		return filepath.Join(root, dev, attr), nil
	}
	file, err := desc.Index.LookupAttributeFile(dev, ch, output, attr)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, dev, file), nil
}
