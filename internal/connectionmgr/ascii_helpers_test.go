package connectionmgr

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/rjboer/iiotx/internal/logging"
)

type asciiMockStep struct {
	name            string
	expectLine      string
	ackStatus       *int // status sent before the payload is read (WRITEBUF)
	expectPayload   []byte
	responseStatus  int
	responsePayload []byte
}

type asciiMockResponder struct {
	conn  net.Conn
	steps []asciiMockStep
	done  chan struct{}
	errCh chan error
}

func status(v int) *int { return &v }

// newASCIIMockResponder returns a Manager wired to a scripted iiod peer.
func newASCIIMockResponder(t *testing.T, steps []asciiMockStep) (*Manager, *asciiMockResponder) {
	t.Helper()

	client, server := net.Pipe()
	responder := &asciiMockResponder{
		conn:  server,
		steps: steps,
		done:  make(chan struct{}),
		errCh: make(chan error, 1),
	}
	go responder.run()

	m := New("pipe")
	m.Timeout = 0
	m.Logger = logging.Discard()
	m.SetConn(client)
	t.Cleanup(func() {
		_ = m.Close()
		_ = server.Close()
	})
	return m, responder
}

func (r *asciiMockResponder) run() {
	defer close(r.done)

	reader := bufio.NewReader(r.conn)
	for idx, step := range r.steps {
		line, err := reader.ReadString('\n')
		if err != nil {
			r.errCh <- fmt.Errorf("step %d (%s): read command: %w", idx, step.name, err)
			return
		}
		if step.expectLine != "" && line != step.expectLine {
			r.errCh <- fmt.Errorf("step %d (%s): unexpected command %q", idx, step.name, line)
			return
		}

		if step.ackStatus != nil {
			if _, err := fmt.Fprintf(r.conn, "%d\n", *step.ackStatus); err != nil {
				r.errCh <- fmt.Errorf("step %d (%s): write ack: %w", idx, step.name, err)
				return
			}
			if *step.ackStatus < 0 {
				continue
			}
		}

		if step.expectPayload != nil {
			payload := make([]byte, len(step.expectPayload))
			if _, err := io.ReadFull(reader, payload); err != nil {
				r.errCh <- fmt.Errorf("step %d (%s): read payload: %w", idx, step.name, err)
				return
			}
			if !bytes.Equal(step.expectPayload, payload) {
				r.errCh <- fmt.Errorf("step %d (%s): payload mismatch: %q", idx, step.name, payload)
				return
			}
		}

		if _, err := fmt.Fprintf(r.conn, "%d\n", step.responseStatus); err != nil {
			r.errCh <- fmt.Errorf("step %d (%s): write status: %w", idx, step.name, err)
			return
		}
		if len(step.responsePayload) > 0 {
			if _, err := r.conn.Write(step.responsePayload); err != nil {
				r.errCh <- fmt.Errorf("step %d (%s): write payload: %w", idx, step.name, err)
				return
			}
		}
	}
}

func (r *asciiMockResponder) wait(t *testing.T) {
	t.Helper()
	<-r.done
	select {
	case err := <-r.errCh:
		t.Fatalf("mock responder error: %v", err)
	default:
	}
}
