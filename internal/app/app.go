package app

import (
	"errors"
	"fmt"
	"strings"
)

// Device names of an ADRV9009 transceiver.
const (
	PhyDevice      = "adrv9009-phy"
	TXStreamDevice = "axi-adrv9009-tx-hpc"
	RXStreamDevice = "axi-adrv9009-rx-hpc"
)

const (
	// SymbolsPerFrame and SamplesPerSymbol define one 40 ms frame.
	SymbolsPerFrame  = 1084
	SamplesPerSymbol = 10
	// FrameSamples is the number of I/Q pairs in one frame.
	FrameSamples = SymbolsPerFrame * SamplesPerSymbol
	// SampleRate is the baseband rate the frame length is derived from.
	SampleRate = 271_000
	// DefaultLOHz is the TRX local oscillator frequency.
	DefaultLOHz = 905_050_000
)

var (
	ErrNoContext       = errors.New("no IIO context")
	ErrNoDevices       = errors.New("IIO context has no devices")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrBufferCreate    = errors.New("could not create buffer")
)

// Direction selects the receive or transmit side of the transceiver.
type Direction int

const (
	Receive Direction = iota
	Transmit
)

func (d Direction) String() string {
	if d == Transmit {
		return "TX"
	}
	return "RX"
}

// output reports the channel direction flag used for lookups on this side.
func (d Direction) output() bool { return d == Transmit }

// StreamConfig holds the RF parameters applied before streaming.
type StreamConfig struct {
	LOHz int64
}

// Preset is one phy device attribute written after the LO is set.
type Preset struct {
	Name  string
	Value string
}

// ParsePresets parses a comma separated "name=value" list.
func ParsePresets(s string) ([]Preset, error) {
	var out []Preset
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, value, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("preset %q: want name=value", item)
		}
		out = append(out, Preset{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}

// SampleSource produces one I/Q pair per call. It runs inline in the push
// loop and must not block.
type SampleSource interface {
	Next() (i, q int16)
}

// SourceFunc adapts a function to SampleSource.
type SourceFunc func() (i, q int16)

func (f SourceFunc) Next() (int16, int16) { return f() }
