package types

// Record is a single structured fragment of an audit event. Raw keeps the
// record text exactly as the dispatcher delivered it, Fields keeps the parsed
// key=value pairs consumed by the matching engine.
type Record struct {
	Type   string
	Raw    string
	Fields map[string]string
}

// Text renders the record as one transmittable line, without the trailing
// newline delimiter.
func (r *Record) Text() string {
	return r.Raw
}

// Event is one discrete audit occurrence composed of one or more records.
// Records keep the order in which the dispatcher delivered them.
type Event struct {
	Serial    uint64
	Timestamp string
	Records   []*Record
}

// NumRecords returns how many records the event carries.
func (e *Event) NumRecords() int {
	return len(e.Records)
}

// FieldMap merges the fields of all records into a single map for expression
// evaluation. A search expression matches the event as a whole, so fields from
// every record participate; the first record wins on duplicate keys.
func (e *Event) FieldMap() map[string]string {
	merged := make(map[string]string)
	for _, rec := range e.Records {
		for k, v := range rec.Fields {
			if _, exists := merged[k]; !exists {
				merged[k] = v
			}
		}
	}
	return merged
}
