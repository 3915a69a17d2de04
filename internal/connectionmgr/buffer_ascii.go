package connectionmgr

import (
	"context"
	"fmt"

	"github.com/rjboer/iiotx/internal/logging"
)

// OpenBufferASCII opens an IIO buffer using the text protocol.
//
// Equivalent to iiod_client_open_with_mask() in libiio.
//
// maskHex must be a hex string representing the channel mask,
// exactly as IIOD expects (e.g. "00000003").
func (m *Manager) OpenBufferASCII(ctx context.Context, deviceID string, samples int, maskHex string, cyclic bool) error {
	if samples <= 0 {
		return fmt.Errorf("OPEN %s: invalid sample count %d", deviceID, samples)
	}

	cmd := fmt.Sprintf("OPEN %s %d %s", deviceID, samples, maskHex)
	if cyclic {
		cmd += " CYCLIC"
	}

	ret, err := m.ExecCommand(ctx, cmd)
	if err != nil {
		return err
	}
	return statusErr(cmd, ret)
}

// WriteBufferASCII pushes one block of samples to an open output buffer.
//
//	WRITEBUF <dev> <len>
//	-> integer (negative errno rejects the transfer)
//	<len bytes>
//	-> integer (negative errno on failure)
//
// The call blocks until the server has handed the block to the kernel, which
// is what paces the caller to the hardware rate.
func (m *Manager) WriteBufferASCII(ctx context.Context, deviceID string, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cmd := fmt.Sprintf("WRITEBUF %s %d", deviceID, len(data))
	ret, err := m.execCommand(ctx, cmd)
	if err != nil {
		return 0, err
	}
	if err := statusErr(cmd, ret); err != nil {
		return 0, err
	}

	if err := m.writeAll(ctx, data); err != nil {
		return 0, fmt.Errorf("%s: write samples: %w", cmd, err)
	}

	ret, err = m.readInteger(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	if err := statusErr(cmd, ret); err != nil {
		return 0, err
	}

	m.log().Debug("buffer pushed", logging.F("device", deviceID), logging.F("bytes", len(data)))
	return len(data), nil
}

// CloseBufferASCII closes an open buffer.
//
// Equivalent to iiod_client_close_unlocked().
func (m *Manager) CloseBufferASCII(ctx context.Context, deviceID string) error {
	cmd := fmt.Sprintf("CLOSE %s", deviceID)
	ret, err := m.ExecCommand(ctx, cmd)
	if err != nil {
		return err
	}
	return statusErr(cmd, ret)
}
