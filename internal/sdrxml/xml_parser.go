package sdrxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// ChannelKey identifies a channel inside a device. The same ID can exist once
// as input and once as output (voltage0 on a transceiver phy, for example).
type ChannelKey struct {
	ID     string
	Output bool
}

// IIODIndex provides fast lookup structures for devices and channels.
// It is built from the parsed XML.
type IIODIndex struct {
	DevicesByID   map[string]*DeviceEntry
	DevicesByName map[string]*DeviceEntry
	Channels      map[string]map[ChannelKey]*ChannelEntry // devID → key → entry
	NoDevices     int
	NoChannels    int
}

// Parse decodes the raw IIOD XML stream into the SDRContext receiver, parses
// every scan-element format, and builds the lookup index.
func (ctx *SDRContext) Parse(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return errors.New("empty XML data")
	}

	// Some servers include leading garbage before the document; skip to '<'.
	if idx := bytes.IndexByte(raw, '<'); idx > 0 {
		raw = raw[idx:]
	}

	if err := xml.Unmarshal(raw, ctx); err != nil {
		return fmt.Errorf("IIOD XML parse error: %w", err)
	}
	return ctx.Reindex()
}

// ParseIIODXML returns a new context parsed from raw.
func ParseIIODXML(raw []byte) (*SDRContext, error) {
	var ctx SDRContext
	if err := ctx.Parse(raw); err != nil {
		return nil, err
	}
	return &ctx, nil
}

// Reindex parses scan formats and rebuilds the lookup index. Backends that
// synthesize a context in memory call it after populating Device.
func (ctx *SDRContext) Reindex() error {
	for di := range ctx.Device {
		dev := &ctx.Device[di]
		for ci := range dev.Channel {
			ch := &dev.Channel[ci]
			if ch.ScanElementRaw == nil {
				continue
			}
			sf, err := ParseScanFormat(ch.ScanElementRaw.Format)
			if err != nil {
				return fmt.Errorf("device %s channel %s: %w", dev.ID, ch.ID, err)
			}
			if _, err := fmt.Sscanf(ch.ScanElementRaw.Index, "%d", &sf.Index); err != nil {
				return fmt.Errorf("device %s channel %s: bad scan index %q", dev.ID, ch.ID, ch.ScanElementRaw.Index)
			}
			if ch.ScanElementRaw.Scale != "" {
				if _, err := fmt.Sscanf(ch.ScanElementRaw.Scale, "%g", &sf.Scale); err == nil {
					sf.WithScale = true
				}
			}
			ch.ParsedFormat = sf
		}
	}

	index, err := BuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("IIOD XML index build error: %w", err)
	}
	ctx.Index = index
	return nil
}

// BuildIndex constructs lookup tables from the context.
func BuildIndex(ctx *SDRContext) (*IIODIndex, error) {
	idx := &IIODIndex{
		DevicesByID:   make(map[string]*DeviceEntry),
		DevicesByName: make(map[string]*DeviceEntry),
		Channels:      make(map[string]map[ChannelKey]*ChannelEntry),
	}

	for i := range ctx.Device {
		dev := &ctx.Device[i]
		if dev.ID == "" {
			return nil, fmt.Errorf("device %d has no id", i)
		}
		if _, dup := idx.DevicesByID[dev.ID]; dup {
			return nil, fmt.Errorf("duplicate device id %q", dev.ID)
		}

		idx.DevicesByID[dev.ID] = dev
		if dev.Name != "" {
			// First device wins, which matches libiio's linear search.
			if _, ok := idx.DevicesByName[dev.Name]; !ok {
				idx.DevicesByName[dev.Name] = dev
			}
		}
		idx.NoDevices++

		chans := make(map[ChannelKey]*ChannelEntry, len(dev.Channel))
		for ci := range dev.Channel {
			ch := &dev.Channel[ci]
			chans[ChannelKey{ID: ch.ID, Output: ch.IsOutput()}] = ch
			idx.NoChannels++
		}
		idx.Channels[dev.ID] = chans
	}

	return idx, nil
}

// -----------------------------------------------------------------------------
// Lookup Helpers
// -----------------------------------------------------------------------------

// LookupDevice returns a device by name, label, or ID.
func (index *IIODIndex) LookupDevice(identifier string) (*DeviceEntry, error) {
	if d, ok := index.DevicesByName[identifier]; ok {
		return d, nil
	}
	if d, ok := index.DevicesByID[identifier]; ok {
		return d, nil
	}
	for _, d := range index.DevicesByID {
		if d.Label != "" && d.Label == identifier {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found in XML: %q", identifier)
}

// LookupChannel returns a channel by ID or extended name with the given
// direction.
func (index *IIODIndex) LookupChannel(devID, chName string, output bool) (*ChannelEntry, error) {
	devMap, ok := index.Channels[devID]
	if !ok {
		return nil, fmt.Errorf("device not found: %q", devID)
	}

	if ch, ok := devMap[ChannelKey{ID: chName, Output: output}]; ok {
		return ch, nil
	}

	// Extended names such as TX_LO for altvoltage0.
	for key, ch := range devMap {
		if key.Output == output && ch.Name != "" && ch.Name == chName {
			return ch, nil
		}
	}

	return nil, fmt.Errorf("channel %q (output=%v) not found in device %q", chName, output, devID)
}

// LookupAttributeFile returns the backing filename for a channel attribute.
func (index *IIODIndex) LookupAttributeFile(devID, chID string, output bool, attr string) (string, error) {
	ch, err := index.LookupChannel(devID, chID, output)
	if err != nil {
		return "", err
	}
	for _, a := range ch.Attribute {
		if a.Name == attr && a.Filename != "" {
			return a.Filename, nil
		}
	}
	return "", fmt.Errorf("attribute %q not found in device %q channel %q", attr, devID, chID)
}

// NormalizeXMLForDebug collapses whitespace for single-line log output.
func NormalizeXMLForDebug(raw []byte) string {
	return strings.Join(strings.Fields(string(raw)), " ")
}
