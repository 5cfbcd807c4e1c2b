package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ppiankov/e2elog/internal/event"
)

// documentVersion is the Logstash event schema version.
const documentVersion = "1"

// documentType is the "type" of every document; Logstash pipelines key on it.
const documentType = "python-logstash"

// DocumentOptions carries the per-process values of every document.
type DocumentOptions struct {
	Host    string
	Program string
}

// Document renders e as a Logstash JSON event. Envelope fields go at the top
// level. A field named like a header key fails with event.ErrReservedKey.
func Document(e Entry, opts DocumentOptions) ([]byte, error) {
	var shadowed []string
	doc := make(map[string]any, len(e.Fields)+10)
	for k, v := range e.Fields {
		if event.Reserved(k) {
			shadowed = append(shadowed, k)
			continue
		}
		doc[k] = v
	}
	if len(shadowed) > 0 {
		sort.Strings(shadowed)
		return nil, fmt.Errorf("encode document: %w %q", event.ErrReservedKey, shadowed)
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	doc["@timestamp"] = ts.UTC().Format("2006-01-02T15:04:05.000Z")
	doc["@version"] = documentVersion
	doc["host"] = opts.Host
	doc["logsource"] = opts.Host
	doc["level"] = e.Severity
	doc["message"] = e.Message
	doc["program"] = opts.Program
	doc["pid"] = os.Getpid()
	doc["type"] = documentType
	if e.EventID != "" {
		doc["event_id"] = e.EventID
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}
