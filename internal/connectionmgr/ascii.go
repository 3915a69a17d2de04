package connectionmgr

import (
	"context"
	"fmt"
	"strconv"
	"syscall"

	"github.com/rjboer/iiotx/internal/logging"
)

// maxIntegerLine bounds a status line; iiod never sends more than a signed
// 64-bit decimal.
const maxIntegerLine = 32

// readInteger reads a single ASCII integer terminated by '\n'.
// It reads byte-by-byte directly from the socket to avoid any read-ahead,
// since binary payloads may follow the status line.
func (m *Manager) readInteger(ctx context.Context) (int, error) {
	if m.conn == nil {
		return 0, errNotConnected
	}

	var buf []byte
	var one [1]byte

	m.applyDeadline(ctx)
	for {
		if _, err := m.conn.Read(one[:]); err != nil {
			return 0, err
		}

		b := one[0]
		switch {
		case b == '\n':
			if len(buf) > 0 {
				val, err := strconv.Atoi(string(buf))
				if err != nil {
					return 0, fmt.Errorf("parse integer %q: %w", string(buf), err)
				}
				return val, nil
			}
			// stray newline before the number
		case b == '\r':
		case b == '-' && len(buf) == 0, b >= '0' && b <= '9':
			buf = append(buf, b)
			if len(buf) > maxIntegerLine {
				return 0, fmt.Errorf("status line too long")
			}
		default:
			return 0, fmt.Errorf("unexpected byte %q in status line", b)
		}
	}
}

// execCommand sends a single ASCII command and reads the integer response.
// Callers hold m.mu.
func (m *Manager) execCommand(ctx context.Context, cmd string) (int, error) {
	if m.conn == nil {
		return 0, errNotConnected
	}
	m.log().Debug("command", logging.F("cmd", cmd))
	if err := m.writeLine(ctx, cmd); err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	ret, err := m.readInteger(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", cmd, err)
	}
	return ret, nil
}

// ExecCommand is the locked form of execCommand.
func (m *Manager) ExecCommand(ctx context.Context, cmd string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execCommand(ctx, cmd)
}

// hasLineEnding checks whether the string already ends with CR or LF.
func hasLineEnding(s string) bool {
	return len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r')
}

// writeLine writes a command line terminated with CRLF.
func (m *Manager) writeLine(ctx context.Context, cmd string) error {
	if !hasLineEnding(cmd) {
		cmd += "\r\n"
	}
	return m.writeAll(ctx, []byte(cmd))
}

// statusErr converts a negative iiod status into a wrapped errno.
func statusErr(op string, ret int) error {
	if ret >= 0 {
		return nil
	}
	return fmt.Errorf("%s: %w", op, syscall.Errno(-ret))
}
