package tablestore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/egil/evstore/core/es"
)

// eventKey builds the row key for one event. The zero-padded sequence keeps
// lexicographic key order aligned with sequence order within a stream.
func eventKey(stream string, seq uint64, eventID string) string {
	return fmt.Sprintf("%s/%020d/%s", stream, seq, eventID)
}

func splitEventKey(key string) (stream, eventID string, err error) {
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed event row key %q", key)
	}
	return parts[0], parts[2], nil
}

func sortBySeq(records []es.EventRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
}
