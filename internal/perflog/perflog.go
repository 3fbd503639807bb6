// Package perflog writes a CSV trace of beacon lifecycle events —
// origination at the sink, processing on acceptance, propagation on
// re-broadcast — keyed by a (node, seqn) id so an external script can
// reconstruct beacon propagation latency across a deployment. This is an
// optional diagnostic: internal/topology works identically with a nil
// *Log.
package perflog

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tratteo/meshcollect/pkg/serrors"
)

// Type identifies the lifecycle event being recorded.
type Type string

const (
	// Originated marks the sink emitting a beacon of a new epoch.
	Originated Type = "originated"
	// Processed marks a node accepting an inbound beacon.
	Processed Type = "processed"
	// Propagated marks a node re-broadcasting an accepted beacon.
	Propagated Type = "propagated"
)

// Log is a CSV sink for beacon lifecycle events. The zero value is not
// usable; construct with Open.
type Log struct {
	mu      sync.Mutex
	pending map[string]time.Time
	file    *os.File
}

// Open creates (or truncates) the CSV file at path and writes its header.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, serrors.Wrap("perflog: open", err, "path", path)
	}
	if _, err := f.WriteString("id,next_id,type,start,end\n"); err != nil {
		f.Close()
		return nil, serrors.Wrap("perflog: write header", err)
	}
	return &Log{pending: make(map[string]time.Time), file: f}, nil
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	return l.file.Close()
}

// Start records the beginning of a lifecycle stage for id.
func (l *Log) Start(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[id] = time.Now()
}

// Done records the end of the lifecycle stage started for id and appends a
// CSV row. nextID chains this event to the id of the stage it triggers
// (e.g. a Processed event's nextID is the id the resulting Propagated event
// will be started under), or "" if there is none. Done returns an error,
// without writing a row, if Start was never called for id.
func (l *Log) Done(id string, typ Type, nextID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	start, ok := l.pending[id]
	if !ok {
		return serrors.New("perflog: no pending start for id", "id", id)
	}
	delete(l.pending, id)
	end := time.Now()
	_, err := fmt.Fprintf(l.file, "%s,%s,%s,%s,%s\n", id, nextID, typ, start.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano))
	return err
}

// ID builds the (node, seqn) key this package's events are correlated by.
func ID(node fmt.Stringer, seqn uint16) string {
	return fmt.Sprintf("%s:%d", node, seqn)
}
