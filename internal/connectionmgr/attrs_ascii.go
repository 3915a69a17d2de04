package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rjboer/iiotx/internal/logging"
)

// maxAttrLen bounds attribute reads, matching libiio's scratch buffer.
const maxAttrLen = 4096

// attrTarget renders the "<dev> [INPUT|OUTPUT <chan>] <attr>" part shared by
// READ and WRITE. An empty chanID addresses a device attribute.
func attrTarget(devID, chanID string, isOutput bool, attr string) (string, error) {
	if devID == "" || attr == "" {
		return "", errors.New("devID and attr are required")
	}
	if chanID == "" {
		return fmt.Sprintf("%s %s", devID, attr), nil
	}
	dir := "INPUT"
	if isOutput {
		dir = "OUTPUT"
	}
	return fmt.Sprintf("%s %s %s %s", devID, dir, chanID, attr), nil
}

// ReadAttrASCII reads a device or channel attribute.
//
//	READ <dev> [INPUT|OUTPUT <chan>] <attr>
//	-> integer N (negative errno on failure), then N bytes and '\n'
func (m *Manager) ReadAttrASCII(ctx context.Context, devID, chanID string, isOutput bool, attr string) (string, error) {
	target, err := attrTarget(devID, chanID, isOutput, attr)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := "READ " + target
	n, err := m.execCommand(ctx, cmd)
	if err != nil {
		return "", err
	}
	if err := statusErr(cmd, n); err != nil {
		return "", err
	}
	if n > maxAttrLen {
		return "", fmt.Errorf("%s: attribute length %d exceeds %d", cmd, n, maxAttrLen)
	}

	buf := make([]byte, n+1) // +1 for trailing '\n'
	if err := m.readAll(ctx, buf); err != nil {
		return "", fmt.Errorf("%s: read value: %w", cmd, err)
	}
	return strings.TrimRight(string(buf[:n]), "\x00\r\n"), nil
}

// WriteAttrASCII writes a device or channel attribute.
//
//	WRITE <dev> [INPUT|OUTPUT <chan>] <attr> <len>
//	<len bytes>
//	-> integer (bytes written, or negative errno)
//
// libiio writes raw bytes without appending a newline; keep that behavior.
func (m *Manager) WriteAttrASCII(ctx context.Context, devID, chanID string, isOutput bool, attr, value string) error {
	target, err := attrTarget(devID, chanID, isOutput, attr)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	payload := []byte(value)
	cmd := fmt.Sprintf("WRITE %s %d", target, len(payload))
	m.log().Debug("command", logging.F("cmd", cmd), logging.F("value", value))

	if err := m.writeLine(ctx, cmd); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if err := m.writeAll(ctx, payload); err != nil {
		return fmt.Errorf("%s: write value: %w", cmd, err)
	}

	ret, err := m.readInteger(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return statusErr(cmd, ret)
}
