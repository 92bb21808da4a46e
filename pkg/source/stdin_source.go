package source

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/audisp_filter/pkg/metrics"
	"github.com/haolipeng/audisp_filter/pkg/types"
)

// maxRecordLen bounds one audit record line; the kernel caps audit messages
// well below this.
const maxRecordLen = 9216

// StdinSource reads the dispatcher's newline-delimited audit records and
// groups them into events. Records sharing an audit serial belong to one
// event; an EOE record closes the event, and a record with a new serial
// flushes whatever is pending. Events come out one at a time on Output, in
// delivery order.
type StdinSource struct {
	r      io.Reader
	output chan *types.Event
	stats  *metrics.SourceMetrics
}

func NewStdinSource(r io.Reader, bufferSize int) *StdinSource {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &StdinSource{
		r:      r,
		output: make(chan *types.Event, bufferSize),
		stats:  &metrics.SourceMetrics{},
	}
}

// Start begins reading the feed. Output is closed when the feed ends.
func (s *StdinSource) Start(ctx context.Context) error {
	go s.read(ctx)
	return nil
}

// Output returns the assembled event channel.
func (s *StdinSource) Output() <-chan *types.Event {
	return s.output
}

func (s *StdinSource) Stats() *metrics.SourceMetrics {
	return s.stats
}

func (s *StdinSource) read(ctx context.Context) {
	defer close(s.output)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 4096), maxRecordLen)

	var pending *types.Event
	emit := func() {
		if pending == nil {
			return
		}
		select {
		case s.output <- pending:
			s.stats.IncrementEventsEmitted()
		case <-ctx.Done():
		}
		pending = nil
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, ts, serial, err := ParseRecord(line)
		if err != nil {
			s.stats.IncrementParseErrors()
			logrus.Warnf("Skipping malformed audit record: %v", err)
			continue
		}
		s.stats.IncrementRecordsRead()

		// A new serial means the previous event is complete even without
		// an explicit EOE marker.
		if pending != nil && pending.Serial != serial {
			emit()
		}

		if rec.Type == "EOE" {
			emit()
			continue
		}

		if pending == nil {
			pending = &types.Event{Serial: serial, Timestamp: ts}
		}
		pending.Records = append(pending.Records, rec)
	}

	emit()

	if err := scanner.Err(); err != nil {
		logrus.Errorf("Dispatcher feed read error: %v", err)
	} else {
		logrus.Info("Dispatcher feed reached end of input")
	}
}
