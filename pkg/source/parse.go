package source

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/haolipeng/audisp_filter/pkg/types"
)

// ParseRecord parses one audit record line of the form
//
//	type=SYSCALL msg=audit(1700000000.123:456): arch=c000003e syscall=59 ...
//
// returning the record, the event timestamp and the event serial. The raw
// line is preserved untouched for forwarding.
func ParseRecord(line string) (*types.Record, string, uint64, error) {
	fields := make(map[string]string)
	var timestamp string
	var serial uint64
	haveID := false

	for _, tok := range splitTokens(line) {
		eq := strings.IndexByte(tok, '=')
		if eq <= 0 {
			continue
		}
		key := tok[:eq]
		value := tok[eq+1:]

		if key == "msg" && strings.HasPrefix(value, "audit(") {
			ts, sn, err := parseAuditID(value)
			if err != nil {
				return nil, "", 0, err
			}
			timestamp = ts
			serial = sn
			haveID = true
			continue
		}

		fields[key] = unquote(value)
	}

	if !haveID {
		return nil, "", 0, fmt.Errorf("record has no audit(ts:serial) identifier: %s", line)
	}

	recType, ok := fields["type"]
	if !ok {
		return nil, "", 0, fmt.Errorf("record has no type field: %s", line)
	}

	rec := &types.Record{
		Type:   recType,
		Raw:    line,
		Fields: fields,
	}
	return rec, timestamp, serial, nil
}

// parseAuditID extracts "1700000000.123" and 456 from "audit(1700000000.123:456):".
func parseAuditID(value string) (string, uint64, error) {
	inner := strings.TrimPrefix(value, "audit(")
	end := strings.IndexByte(inner, ')')
	if end < 0 {
		return "", 0, fmt.Errorf("malformed audit identifier: %s", value)
	}
	inner = inner[:end]

	colon := strings.LastIndexByte(inner, ':')
	if colon < 0 {
		return "", 0, fmt.Errorf("malformed audit identifier: %s", value)
	}

	serial, err := strconv.ParseUint(inner[colon+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed audit serial in %s: %v", value, err)
	}

	return inner[:colon], serial, nil
}

// splitTokens splits a record on spaces while keeping quoted values (single
// or double quotes) together.
func splitTokens(line string) []string {
	var tokens []string
	var sb strings.Builder
	var quote byte

	flush := func() {
		if sb.Len() > 0 {
			tokens = append(tokens, sb.String())
			sb.Reset()
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quote != 0:
			sb.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			sb.WriteByte(c)
		case c == ' ':
			flush()
		default:
			sb.WriteByte(c)
		}
	}
	flush()

	return tokens
}

// unquote strips one level of surrounding quotes from a field value.
func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
