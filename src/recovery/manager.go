package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/PageDB/src/pkg/assert"
	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// LogManager guards atomicity and durability of the page store. It
// owns the transaction table, the dirty page table and the log tail;
// the storage engine owns the log file, the master record and page
// memory.
//
// Every entry point runs to completion on the caller's goroutine and
// none is re-entrant. The caller serializes access (spec: a global
// latch above the manager); in particular the engine must not call
// PageFlushed while a flush it triggered is still draining the tail.
type LogManager struct {
	se common.StorageEngine

	txnTable   *TransactionTable
	dirtyPages *DirtyPageTable
	tail       *logTail

	log common.Logger
}

var _ common.WAL = (*LogManager)(nil)

func NewLogManager(log common.Logger) *LogManager {
	return &LogManager{
		txnTable:   NewTransactionTable(),
		dirtyPages: NewDirtyPageTable(),
		tail:       newLogTail(),
		log:        log,
	}
}

// SetStorageEngine wires the engine. Single-init: the manager is
// useless before this and the engine is never swapped afterwards.
func (m *LogManager) SetStorageEngine(se common.StorageEngine) {
	m.se = se
}

// TxnTable exposes the live transaction table for inspection.
func (m *LogManager) TxnTable() *TransactionTable {
	return m.txnTable
}

// DirtyPages exposes the live dirty page table for inspection.
func (m *LogManager) DirtyPages() *DirtyPageTable {
	return m.dirtyPages
}

// Write logs an update for txnID: afterImage replaces beforeImage at
// the given page offset. Returns the update's LSN; the caller stamps
// it onto the page (via StorageEngine.PageWrite) so the engine can
// enforce WAL later. The record stays in the tail until a flush.
func (m *LogManager) Write(
	txnID common.TxnID,
	pageID common.PageID,
	offset uint32,
	afterImage string,
	beforeImage string,
) common.LSN {
	assert.Assert(m.se != nil, "storage engine is not set")

	lsn := m.se.NextLSN()
	record := NewUpdateLogRecord(
		lsn,
		m.txnTable.GetLastLSN(txnID),
		txnID,
		pageID,
		offset,
		beforeImage,
		afterImage,
	)
	m.tail.append(record)

	m.txnTable.SetLastLSN(txnID, lsn)
	m.txnTable.SetStatus(txnID, TxnStatusUndo)
	m.dirtyPages.InsertIfAbsent(pageID, lsn)

	return lsn
}

// Commit makes txnID durable: the COMMIT record and everything before
// it is forced to the log before Commit returns. The trailing END is
// only appended to the tail; it may reach disk with a later flush.
// Committing an unknown transaction is a no-op.
func (m *LogManager) Commit(txnID common.TxnID) error {
	assert.Assert(m.se != nil, "storage engine is not set")

	if _, ok := m.txnTable.Get(txnID); !ok {
		m.log.Debugf("commit of unknown txn %d ignored", txnID)
		return nil
	}

	commitLSN := m.se.NextLSN()
	m.tail.append(NewCommitLogRecord(
		commitLSN,
		m.txnTable.GetLastLSN(txnID),
		txnID,
	))
	m.txnTable.SetLastLSN(txnID, commitLSN)
	m.txnTable.SetStatus(txnID, TxnStatusCommit)

	// The durable-commit point.
	if err := m.tail.flushUpTo(m.se, commitLSN); err != nil {
		return fmt.Errorf("commit of txn %d: %w", txnID, err)
	}

	m.txnTable.Remove(txnID)
	m.tail.append(NewTxnEndLogRecord(m.se.NextLSN(), commitLSN, txnID))

	m.log.Debugf("txn %d committed at lsn %d", txnID, commitLSN)
	return nil
}

// Abort rolls txnID back voluntarily. The same Undo machinery that
// handles crash recovery walks the transaction's chain backwards,
// emitting the ABORT record, one CLR per update and the final END.
// Aborting an unknown transaction scans an empty chain and terminates.
func (m *LogManager) Abort(txnID common.TxnID) error {
	assert.Assert(m.se != nil, "storage engine is not set")

	logText, err := m.se.GetLog()
	if err != nil {
		return fmt.Errorf("aborting txn %d: reading log: %w", txnID, err)
	}

	records, err := ParseLog(logText)
	if err != nil {
		return fmt.Errorf("aborting txn %d: %w", txnID, err)
	}

	// Undo must see the unflushed suffix as well.
	records = append(records, m.tail.records...)

	if err := m.undo(records, txnID); err != nil {
		return fmt.Errorf("aborting txn %d: %w", txnID, err)
	}

	m.log.Debugf("txn %d aborted", txnID)
	return nil
}

// Checkpoint takes a fuzzy checkpoint: BEGIN_CKPT, END_CKPT carrying
// deep copies of both tables, a forced flush, then the master record.
// Normal operation continues around it; the tables are not cleared.
func (m *LogManager) Checkpoint() error {
	assert.Assert(m.se != nil, "storage engine is not set")

	beginLSN := m.se.NextLSN()
	endLSN := m.se.NextLSN()

	m.tail.append(NewCheckpointBeginLogRecord(beginLSN))
	m.tail.append(NewCheckpointEndLogRecord(
		endLSN,
		beginLSN,
		m.txnTable.Snapshot(),
		m.dirtyPages.Snapshot(),
	))

	if err := m.tail.flushUpTo(m.se, endLSN); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	if err := m.se.StoreMaster(beginLSN); err != nil {
		return fmt.Errorf("checkpoint: storing master record: %w", err)
	}

	m.log.Infof(
		"checkpoint at lsn %d: %d live txns, %d dirty pages",
		beginLSN, m.txnTable.Len(), m.dirtyPages.Len(),
	)
	return nil
}

// PageFlushed is the WAL gate. The engine calls it right before
// writing the page to disk; every record up to the page's LSN is
// forced to the log first and the page leaves the dirty page table.
func (m *LogManager) PageFlushed(pageID common.PageID) error {
	assert.Assert(m.se != nil, "storage engine is not set")

	pageLSN := m.se.GetLSN(pageID)
	if err := m.tail.flushUpTo(m.se, pageLSN); err != nil {
		return fmt.Errorf("page %d flush: %w", pageID, err)
	}

	m.dirtyPages.Remove(pageID)
	return nil
}
