package sdrxml

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// ScanFormat represents the parsed IIOD scan-element format.
// This mirrors libiio's internal struct iio_data_format.
type ScanFormat struct {
	Index        uint32  // index of the scan element
	IsBE         bool    // big-endian (true) or little-endian (false)
	IsSigned     bool    // signed (true) or unsigned (false)
	Bits         uint32  // number of meaningful bits
	Length       uint32  // total bits allocated for storage
	Repeat       uint32  // number of repeated values (X2 etc.)
	Shift        uint32  // right-shift applied to the raw storage
	FullyDefined bool    // S/U variants use "fully defined" ABI semantics
	WithScale    bool    // true if scale attribute was present
	Scale        float64 // optional scaling factor
}

// ParseScanFormat parses a sysfs/XML format string such as "le:S16/16>>0" or
// "be:s12/16X2>>4".
func ParseScanFormat(s string) (*ScanFormat, error) {
	var (
		endian, sign rune
		bits, length uint32
		repeat       uint32 = 1
		shift        uint32
	)

	n, err := fmt.Sscanf(s, "%ce:%c%d/%dX%d>>%d", &endian, &sign, &bits, &length, &repeat, &shift)
	if err != nil || n != 6 {
		repeat = 1
		n, err = fmt.Sscanf(s, "%ce:%c%d/%d>>%d", &endian, &sign, &bits, &length, &shift)
		if err != nil || n != 5 {
			return nil, fmt.Errorf("malformed scan format %q", s)
		}
	}

	sf := &ScanFormat{
		Bits:   bits,
		Length: length,
		Repeat: repeat,
		Shift:  shift,
		Scale:  1,
	}
	switch endian {
	case 'b':
		sf.IsBE = true
	case 'l':
	default:
		return nil, fmt.Errorf("scan format %q: unknown endianness %q", s, endian)
	}
	switch sign {
	case 'S':
		sf.IsSigned, sf.FullyDefined = true, true
	case 's':
		sf.IsSigned = true
	case 'U':
		sf.FullyDefined = true
	case 'u':
	default:
		return nil, fmt.Errorf("scan format %q: unknown sign %q", s, sign)
	}
	if length == 0 || length%8 != 0 || bits > length {
		return nil, fmt.Errorf("scan format %q: bad storage %d/%d", s, bits, length)
	}
	if repeat == 0 {
		sf.Repeat = 1
	}
	return sf, nil
}

// StorageBytes returns the bytes one sample of this element occupies.
func (sf *ScanFormat) StorageBytes() int {
	return int(sf.Length/8) * int(sf.Repeat)
}

// String renders the format back to its sysfs form.
func (sf *ScanFormat) String() string {
	endian := 'l'
	if sf.IsBE {
		endian = 'b'
	}
	sign := 'u'
	switch {
	case sf.IsSigned && sf.FullyDefined:
		sign = 'S'
	case sf.IsSigned:
		sign = 's'
	case sf.FullyDefined:
		sign = 'U'
	}
	if sf.Repeat > 1 {
		return fmt.Sprintf("%ce:%c%d/%dX%d>>%d", endian, sign, sf.Bits, sf.Length, sf.Repeat, sf.Shift)
	}
	return fmt.Sprintf("%ce:%c%d/%d>>%d", endian, sign, sf.Bits, sf.Length, sf.Shift)
}

// SampleLayout describes where each enabled channel lives inside one
// interleaved sample of a buffer.
type SampleLayout struct {
	Offsets map[*ChannelEntry]int
	Size    int
}

// Layout computes the interleaved layout for the enabled channels of a device.
// Channels are ordered by scan index and each element is aligned to its own
// storage size, as the kernel does.
func Layout(enabled []*ChannelEntry) (SampleLayout, error) {
	chans := make([]*ChannelEntry, 0, len(enabled))
	for _, ch := range enabled {
		if ch.ParsedFormat == nil {
			return SampleLayout{}, fmt.Errorf("channel %s is not a scan element", ch.ID)
		}
		chans = append(chans, ch)
	}

	//the xml order is not the same as the scan order, so we need to sort the enabled channels
	sort.Slice(chans, func(i, j int) bool {
		return chans[i].ParsedFormat.Index < chans[j].ParsedFormat.Index
	})

	layout := SampleLayout{Offsets: make(map[*ChannelEntry]int, len(chans))}
	size := 0
	for _, ch := range chans {
		elem := int(ch.ParsedFormat.Length / 8)
		if rem := size % elem; rem != 0 {
			size += elem - rem
		}
		layout.Offsets[ch] = size
		size += ch.SampleSize()
	}
	layout.Size = size
	return layout, nil
}

// ChannelMask returns the IIOD mask string for the enabled channels: one
// 32-bit word per 32 scan indexes, most significant word first, as "%08x".
func ChannelMask(dev *DeviceEntry, enabled []*ChannelEntry) string {
	words := 1
	for i := range dev.Channel {
		if pf := dev.Channel[i].ParsedFormat; pf != nil {
			if w := int(pf.Index)/32 + 1; w > words {
				words = w
			}
		}
	}

	mask := make([]uint32, words)
	for _, ch := range enabled {
		if ch.ParsedFormat == nil {
			continue
		}
		idx := ch.ParsedFormat.Index
		mask[idx/32] |= 1 << (idx % 32)
	}

	out := make([]byte, 0, words*8)
	for i := words - 1; i >= 0; i-- {
		out = fmt.Appendf(out, "%08x", mask[i])
	}
	return string(out)
}

// PutInt16 stores v at p[0:2] using the element's byte order.
func (sf *ScanFormat) PutInt16(p []byte, v int16) {
	if sf != nil && sf.IsBE {
		binary.BigEndian.PutUint16(p, uint16(v))
		return
	}
	binary.LittleEndian.PutUint16(p, uint16(v))
}

// Int16 loads the value at p[0:2] using the element's byte order.
func (sf *ScanFormat) Int16(p []byte) int16 {
	if sf != nil && sf.IsBE {
		return int16(binary.BigEndian.Uint16(p))
	}
	return int16(binary.LittleEndian.Uint16(p))
}
