package telemetry

import (
	"fmt"
	"time"

	"github.com/rjboer/iiotx/internal/logging"
)

// Sample is the transmit counter snapshot taken after one frame push.
type Sample struct {
	Timestamp   time.Time     `json:"timestamp"`
	Frames      int64         `json:"frames"`
	TXSamples   int64         `json:"txSamples"`
	Bytes       int           `json:"bytes"`
	PushLatency time.Duration `json:"pushLatencyNs"`
}

// Reporter captures telemetry events.
type Reporter interface {
	Report(s Sample)
}

// StdoutReporter logs the running TX counter in mega-samples.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) Report(s Sample) {
	r.logger.Info(fmt.Sprintf("TX %8.2f MSmp", float64(s.TXSamples)/1e6),
		logging.Subsystem("telemetry"),
		logging.F("frames", s.Frames),
		logging.F("push_ms", float64(s.PushLatency.Microseconds())/1000))
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(s Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(s)
		}
	}
}
