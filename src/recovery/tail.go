package recovery

import (
	"fmt"
	"strings"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// logTail buffers records that have been emitted but not yet handed to
// the storage engine. Insertion order matches LSN order, so draining a
// prefix never leaves a hole in the durable log.
type logTail struct {
	records []LogRecord
}

func newLogTail() *logTail {
	return &logTail{records: []LogRecord{}}
}

func (t *logTail) append(record LogRecord) {
	t.records = append(t.records, record)
}

func (t *logTail) len() int {
	return len(t.records)
}

// flushUpTo serializes every head record with LSN <= maxLSN into one
// newline-delimited chunk, hands it to the engine and drops the
// flushed records. An empty qualifying prefix is a no-op: the engine
// is not called at all.
func (t *logTail) flushUpTo(se common.StorageEngine, maxLSN common.LSN) error {
	cut := 0
	for cut < len(t.records) && t.records[cut].LSN() <= maxLSN {
		cut++
	}

	if cut == 0 {
		return nil
	}

	var chunk strings.Builder
	for _, record := range t.records[:cut] {
		chunk.WriteString(record.String())
		chunk.WriteByte('\n')
	}

	if err := se.UpdateLog(chunk.String()); err != nil {
		return fmt.Errorf("flushing log tail up to %d: %w", maxLSN, err)
	}

	t.records = append([]LogRecord{}, t.records[cut:]...)
	return nil
}
