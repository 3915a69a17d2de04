package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const defaultHistoryLimit = 500

// Status is the latest state served by /api/status.
type Status struct {
	Started   time.Time `json:"started"`
	Uptime    float64   `json:"uptimeSeconds"`
	Frames    int64     `json:"frames"`
	TXSamples int64     `json:"txSamples"`
	Last      *Sample   `json:"last,omitempty"`
}

// Hub collects history and fans telemetry updates out to subscribers. It only
// ever sees counter snapshots.
type Hub struct {
	mu           sync.RWMutex
	history      []Sample
	historyLimit int
	subscribers  map[chan Sample]struct{}
	started      time.Time
}

// NewHub builds a telemetry hub with the provided history limit.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan Sample]struct{}),
		started:      time.Now(),
	}
}

// Report implements Reporter and records a new telemetry sample.
func (h *Hub) Report(s Sample) {
	h.mu.Lock()
	h.history = append(h.history, s)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
	h.mu.Unlock()
}

// History returns a copy of stored telemetry samples.
func (h *Hub) History() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Sample, len(h.history))
	copy(out, h.history)
	return out
}

// Status summarizes the stream so far.
func (h *Hub) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := Status{Started: h.started, Uptime: time.Since(h.started).Seconds()}
	if n := len(h.history); n > 0 {
		last := h.history[n-1]
		st.Frames = last.Frames
		st.TXSamples = last.TXSamples
		st.Last = &last
	}
	return st
}

// Subscribe registers a listener for live updates. Slow listeners miss
// samples rather than stall the stream.
func (h *Hub) Subscribe() (chan Sample, func()) {
	ch := make(chan Sample, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

func (h *Hub) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.History())
}

func (h *Hub) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Status())
}
