package telemetry

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjboer/iiotx/internal/logging"
)

func sample(frame int64) Sample {
	return Sample{
		Timestamp:   time.Unix(1700000000+frame, 0).UTC(),
		Frames:      frame,
		TXSamples:   frame * 10840,
		Bytes:       43360,
		PushLatency: 40 * time.Millisecond,
	}
}

func TestHubHistoryLimit(t *testing.T) {
	hub := NewHub(3)
	for i := int64(1); i <= 5; i++ {
		hub.Report(sample(i))
	}
	hist := hub.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(hist))
	}
	if hist[0].Frames != 3 || hist[2].Frames != 5 {
		t.Fatalf("expected frames 3..5, got %d..%d", hist[0].Frames, hist[2].Frames)
	}
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe()
	hub.Report(sample(1))

	select {
	case s := <-ch:
		if s.TXSamples != 10840 {
			t.Fatalf("expected 10840 samples, got %d", s.TXSamples)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive sample")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
	hub.Report(sample(2))
}

func TestHandleHistory(t *testing.T) {
	hub := NewHub(10)
	hub.Report(sample(1))
	hub.Report(sample(2))

	rr := httptest.NewRecorder()
	hub.handleHistory(rr, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var got []Sample
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got) != 2 || got[1].TXSamples != 21680 {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestHandleStatus(t *testing.T) {
	hub := NewHub(10)

	rr := httptest.NewRecorder()
	hub.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var empty Status
	if err := json.NewDecoder(rr.Body).Decode(&empty); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if empty.Last != nil || empty.Frames != 0 {
		t.Fatalf("expected empty status, got %+v", empty)
	}

	hub.Report(sample(4))
	rr = httptest.NewRecorder()
	hub.handleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var st Status
	if err := json.NewDecoder(rr.Body).Decode(&st); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if st.Frames != 4 || st.TXSamples != 43360 || st.Last == nil {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestHandlersMethodNotAllowed(t *testing.T) {
	hub := NewHub(10)
	for name, h := range map[string]http.HandlerFunc{
		"history": hub.handleHistory,
		"status":  hub.handleStatus,
	} {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodPost, "/api/"+name, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", name, rr.Code)
		}
	}
}

func TestLiveWebsocket(t *testing.T) {
	hub := NewHub(10)
	hub.Report(sample(1))
	ws := NewWebServer("127.0.0.1:0", hub, logging.Discard())
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Sample
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if first.Frames != 1 {
		t.Fatalf("expected history frame 1, got %d", first.Frames)
	}

	// The subscription is registered before history is replayed, so a sample
	// reported now reaches the client.
	hub.Report(sample(2))
	var live Sample
	if err := conn.ReadJSON(&live); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if live.Frames != 2 || live.PushLatency != 40*time.Millisecond {
		t.Fatalf("unexpected live sample %+v", live)
	}
}

func TestStdoutReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewStdoutReporter(logging.New(logging.Info, logging.Text, &buf))
	r.Report(sample(100))
	out := buf.String()
	if !strings.Contains(out, "TX     1.08 MSmp") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "subsystem=telemetry") || !strings.Contains(out, "frames=100") {
		t.Fatalf("missing fields in %q", out)
	}
}

type countingReporter struct{ n int }

func (c *countingReporter) Report(Sample) { c.n++ }

func TestMultiReporter(t *testing.T) {
	a, b := &countingReporter{}, &countingReporter{}
	MultiReporter{a, nil, b}.Report(sample(1))
	if a.n != 1 || b.n != 1 {
		t.Fatalf("expected one report each, got %d and %d", a.n, b.n)
	}
}
