package recovery

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
	"github.com/Blackdeer1524/PageDB/src/storage/disk"
)

func testLogger(t *testing.T) common.Logger {
	t.Helper()
	return zaptest.NewLogger(t).Sugar()
}

func newTestManager(t *testing.T) (*LogManager, *stubEngine) {
	t.Helper()

	se := newStubEngine()
	m := NewLogManager(testLogger(t))
	m.SetStorageEngine(se)
	return m, se
}

// newMemManager wires a manager to the map-backed engine, WAL hook
// included, the way the app wires the real one.
func newMemManager(t *testing.T) (*LogManager, *disk.InMemoryManager) {
	t.Helper()

	eng := disk.NewInMemoryManager()
	m := NewLogManager(testLogger(t))
	m.SetStorageEngine(eng)
	eng.SetWAL(m)
	return m, eng
}

// reattach builds a fresh manager over a crashed engine, like a
// process restart would.
func reattach(t *testing.T, eng *disk.InMemoryManager) *LogManager {
	t.Helper()

	m := NewLogManager(testLogger(t))
	m.SetStorageEngine(eng)
	eng.SetWAL(m)
	return m
}

// tailRecords exposes the unflushed tail for assertions.
func (m *LogManager) tailRecords() []LogRecord {
	return m.tail.records
}

func tailTypes(m *LogManager) []RecordType {
	types := []RecordType{}
	for _, record := range m.tailRecords() {
		types = append(types, record.Type())
	}
	return types
}
