package forwarder

import (
	"fmt"
	"io"

	"github.com/haolipeng/audisp_filter/pkg/metrics"
	"github.com/haolipeng/audisp_filter/pkg/types"
)

var newline = []byte{'\n'}

// PipeForwarder writes a forwarded event's records to the consumer pipe, one
// record per line. Writes are synchronous and may block when the consumer is
// not draining; the OS pipe buffer is the only backpressure mechanism — no
// internal queueing is added.
type PipeForwarder struct {
	w       io.Writer
	metrics *metrics.FilterMetrics
}

func NewPipeForwarder(w io.Writer, m *metrics.FilterMetrics) *PipeForwarder {
	return &PipeForwarder{w: w, metrics: m}
}

// Forward writes every record of ev followed by a newline delimiter. The
// first write failure abandons the remaining records of this event only; the
// caller logs and carries on with the next event.
func (f *PipeForwarder) Forward(ev *types.Event) error {
	for i, rec := range ev.Records {
		txt := rec.Text()
		if _, err := io.WriteString(f.w, txt); err != nil {
			return fmt.Errorf("write record %d/%d to pipe: %w", i+1, len(ev.Records), err)
		}
		if _, err := f.w.Write(newline); err != nil {
			return fmt.Errorf("write record delimiter %d/%d to pipe: %w", i+1, len(ev.Records), err)
		}
		if f.metrics != nil {
			f.metrics.AddRecordsWritten(1)
			f.metrics.AddBytesWritten(uint64(len(txt) + 1))
		}
	}
	return nil
}
