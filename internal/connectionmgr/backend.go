package connectionmgr

import (
	"context"
	"fmt"

	"github.com/rjboer/iiotx/internal/logging"
	"github.com/rjboer/iiotx/internal/sdrxml"
)

// maxXMLLen bounds the PRINT payload.
const maxXMLLen = 16 << 20

// FetchXML sends PRINT and returns the XML payload.
func (m *Manager) FetchXML(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.execCommand(ctx, "PRINT")
	if err != nil {
		return nil, err
	}
	if err := statusErr("PRINT", n); err != nil {
		return nil, err
	}
	if n == 0 || n > maxXMLLen {
		return nil, fmt.Errorf("PRINT returned invalid length %d", n)
	}

	buf := make([]byte, n+1) // +1 for trailing '\n'
	if err := m.readAll(ctx, buf); err != nil {
		return nil, fmt.Errorf("read xml: %w", err)
	}
	return buf[:n], nil
}

// The methods below let a connected Manager serve as an iio backend.

// Describe fetches and parses the server's context description.
func (m *Manager) Describe(ctx context.Context) (*sdrxml.SDRContext, error) {
	raw, err := m.FetchXML(ctx)
	if err != nil {
		return nil, err
	}
	desc, err := sdrxml.ParseIIODXML(raw)
	if err != nil {
		m.log().Debug("unparsable context", logging.F("xml", sdrxml.NormalizeXMLForDebug(raw)))
		return nil, err
	}
	return desc, nil
}

func (m *Manager) ReadAttr(ctx context.Context, dev, ch string, output bool, attr string) (string, error) {
	return m.ReadAttrASCII(ctx, dev, ch, output, attr)
}

func (m *Manager) WriteAttr(ctx context.Context, dev, ch string, output bool, attr, value string) error {
	return m.WriteAttrASCII(ctx, dev, ch, output, attr, value)
}

func (m *Manager) OpenBuffer(ctx context.Context, dev *sdrxml.DeviceEntry, samples int, enabled []*sdrxml.ChannelEntry, cyclic bool) error {
	return m.OpenBufferASCII(ctx, dev.ID, samples, sdrxml.ChannelMask(dev, enabled), cyclic)
}

func (m *Manager) WriteBuffer(ctx context.Context, dev string, p []byte) (int, error) {
	return m.WriteBufferASCII(ctx, dev, p)
}

func (m *Manager) CloseBuffer(ctx context.Context, dev string) error {
	return m.CloseBufferASCII(ctx, dev)
}
