// SPDX-License-Identifier: Apache-2.0

package warehouse

import (
	"encoding/json"
	"strconv"
)

// businessKeyField is the record field holding the caller-supplied natural
// key. The key must be a JSON string or number.
const businessKeyField = "id"

// recordKey extracts the business key of one imported record, normalizing
// numbers to their canonical decimal form ("1", not "1.0").
func recordKey(record map[string]any) (string, bool) {
	switch v := record[businessKeyField].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// dedupeRecords collapses records sharing a business key to a single entry,
// keeping the position of the first occurrence and the data of the last.
// A single INSERT cannot touch the same conflict target twice, so duplicates
// must be resolved before the records are chunked.
func dedupeRecords(records []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, record := range records {
		key, ok := recordKey(record)
		if !ok {
			out = append(out, record)
			continue
		}
		if at, dup := seen[key]; dup {
			out[at] = record
			continue
		}
		seen[key] = len(out)
		out = append(out, record)
	}
	return out
}

// chunkRecords partitions records into slices of at most size elements,
// preserving order.
func chunkRecords(records []map[string]any, size int) [][]map[string]any {
	if size <= 0 || len(records) == 0 {
		return nil
	}

	chunks := make([][]map[string]any, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
