package metrics

import "sync/atomic"

// FilterMetrics counts what the service loop did with the event stream.
type FilterMetrics struct {
	EventsReceived  uint64
	EventsMatched   uint64
	EventsForwarded uint64
	EventsDropped   uint64
	EvalErrors      uint64
	WriteErrors     uint64
	RecordsWritten  uint64
	BytesWritten    uint64
	Reloads         uint64
	ReloadFailures  uint64
}

func (m *FilterMetrics) IncrementReceived() {
	atomic.AddUint64(&m.EventsReceived, 1)
}

func (m *FilterMetrics) IncrementMatched() {
	atomic.AddUint64(&m.EventsMatched, 1)
}

func (m *FilterMetrics) IncrementForwarded() {
	atomic.AddUint64(&m.EventsForwarded, 1)
}

func (m *FilterMetrics) IncrementDropped() {
	atomic.AddUint64(&m.EventsDropped, 1)
}

func (m *FilterMetrics) IncrementEvalErrors() {
	atomic.AddUint64(&m.EvalErrors, 1)
}

func (m *FilterMetrics) IncrementWriteErrors() {
	atomic.AddUint64(&m.WriteErrors, 1)
}

func (m *FilterMetrics) AddRecordsWritten(records uint64) {
	atomic.AddUint64(&m.RecordsWritten, records)
}

func (m *FilterMetrics) AddBytesWritten(bytes uint64) {
	atomic.AddUint64(&m.BytesWritten, bytes)
}

func (m *FilterMetrics) IncrementReloads() {
	atomic.AddUint64(&m.Reloads, 1)
}

func (m *FilterMetrics) IncrementReloadFailures() {
	atomic.AddUint64(&m.ReloadFailures, 1)
}

// GetStats snapshots the counters for the status endpoint.
func (m *FilterMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"events_received":  atomic.LoadUint64(&m.EventsReceived),
		"events_matched":   atomic.LoadUint64(&m.EventsMatched),
		"events_forwarded": atomic.LoadUint64(&m.EventsForwarded),
		"events_dropped":   atomic.LoadUint64(&m.EventsDropped),
		"eval_errors":      atomic.LoadUint64(&m.EvalErrors),
		"write_errors":     atomic.LoadUint64(&m.WriteErrors),
		"records_written":  atomic.LoadUint64(&m.RecordsWritten),
		"bytes_written":    atomic.LoadUint64(&m.BytesWritten),
		"reloads":          atomic.LoadUint64(&m.Reloads),
		"reload_failures":  atomic.LoadUint64(&m.ReloadFailures),
	}
}

// SourceMetrics counts what the dispatcher feed produced.
type SourceMetrics struct {
	RecordsRead   uint64
	EventsEmitted uint64
	ParseErrors   uint64
}

func (m *SourceMetrics) IncrementRecordsRead() {
	atomic.AddUint64(&m.RecordsRead, 1)
}

func (m *SourceMetrics) IncrementEventsEmitted() {
	atomic.AddUint64(&m.EventsEmitted, 1)
}

func (m *SourceMetrics) IncrementParseErrors() {
	atomic.AddUint64(&m.ParseErrors, 1)
}

func (m *SourceMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"records_read":   atomic.LoadUint64(&m.RecordsRead),
		"events_emitted": atomic.LoadUint64(&m.EventsEmitted),
		"parse_errors":   atomic.LoadUint64(&m.ParseErrors),
	}
}
