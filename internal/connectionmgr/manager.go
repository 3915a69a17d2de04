package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rjboer/iiotx/internal/logging"
)

// DefaultPort is the TCP port iiod listens on.
const DefaultPort = 30431

// DialFunc opens the byte stream to an IIOD server. The default dials TCP;
// the SSH transport substitutes a tunnelled connection.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// Manager speaks the IIOD text protocol over a single connection. All
// commands are strictly request/response; the Manager serializes them.
type Manager struct {
	Address string
	Timeout time.Duration
	Logger  logging.Logger
	Dial    DialFunc

	mu   sync.Mutex
	conn net.Conn
}

var errNotConnected = errors.New("not connected")

// ---------- Construction / lifecycle ----------

// New returns a Manager for addr. A missing port defaults to DefaultPort.
func New(addr string) *Manager {
	return &Manager{
		Address: WithDefaultPort(addr),
		Timeout: 5 * time.Second,
	}
}

// WithDefaultPort appends DefaultPort when addr carries no port.
func WithDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
}

// Connect dials the server and pushes the client timeout to it.
func (m *Manager) Connect(ctx context.Context) error {
	dial := m.Dial
	if dial == nil {
		dial = func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: m.Timeout}
			return d.DialContext(ctx, "tcp", addr)
		}
	}

	c, err := dial(ctx, m.Address)
	if err != nil {
		return fmt.Errorf("connect to IIOD at %s: %w", m.Address, err)
	}
	m.SetConn(c)
	m.log().Info("connected", logging.F("addr", m.Address))

	if m.Timeout > 0 {
		if err := m.SetServerTimeout(ctx, m.Timeout); err != nil {
			_ = m.Close()
			return err
		}
	}
	return nil
}

// SetConn injects an established connection (tests, SSH tunnels, etc.).
func (m *Manager) SetConn(conn net.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

// Close shuts the connection down. It is safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

// SetServerTimeout sends TIMEOUT so the server-side blocking calls use the
// same bound as the client.
func (m *Manager) SetServerTimeout(ctx context.Context, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret, err := m.execCommand(ctx, fmt.Sprintf("TIMEOUT %d", d.Milliseconds()))
	if err != nil {
		return err
	}
	return statusErr("TIMEOUT", ret)
}

// ---------- Logging ----------

func (m *Manager) log() logging.Logger {
	l := m.Logger
	if l == nil {
		l = logging.Default()
	}
	return l.With(logging.Subsystem("iiod"))
}

// ---------- Raw I/O (NO BUFFERING) ----------

// applyDeadline bounds the next socket operation by the context deadline or,
// failing that, by the Manager timeout. Cancellation of ctx does not abort an
// in-flight transfer.
func (m *Manager) applyDeadline(ctx context.Context) {
	if m.conn == nil {
		return
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = m.conn.SetDeadline(dl)
		return
	}
	if m.Timeout > 0 {
		_ = m.conn.SetDeadline(time.Now().Add(m.Timeout))
		return
	}
	_ = m.conn.SetDeadline(time.Time{})
}

// writeAll writes the full buffer to the socket, handling short writes.
func (m *Manager) writeAll(ctx context.Context, b []byte) error {
	if m.conn == nil {
		return errNotConnected
	}
	for len(b) > 0 {
		m.applyDeadline(ctx)
		n, err := m.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// readAll reads exactly len(b) bytes from the socket.
// This MUST use the raw connection, not a buffered reader.
func (m *Manager) readAll(ctx context.Context, b []byte) error {
	if m.conn == nil {
		return errNotConnected
	}
	m.applyDeadline(ctx)
	_, err := io.ReadFull(m.conn, b)
	return err
}
