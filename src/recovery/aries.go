package recovery

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/Blackdeer1524/PageDB/src/pkg/assert"
	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// ErrStorageUnavailable reports a PageWrite the engine refused. During
// Redo the pass aborts and Undo must not run; during Undo the pass
// returns immediately and the CLRs already emitted stay valid, so a
// fresh Recover after the engine is restored picks up from the
// persisted log.
var ErrStorageUnavailable = errors.New("storage engine unavailable")

// Recover restores the database from the durable log: Analysis
// rebuilds the tables as of the crash, Redo repeats history, Undo
// rolls back every transaction that never committed.
func (m *LogManager) Recover(logText string) error {
	assert.Assert(m.se != nil, "storage engine is not set")

	records, err := ParseLog(logText)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	m.log.Infof("recovery started: %d log records", len(records))

	txnTable, dirtyPages := m.txnTable, m.dirtyPages
	if err := m.analyze(records); err != nil {
		// Drop the half-rebuilt tables; no partial state is adopted.
		m.txnTable, m.dirtyPages = txnTable, dirtyPages
		return fmt.Errorf("recover: analysis: %w", err)
	}
	m.log.Infof(
		"analysis done: %d live txns, %d dirty pages",
		m.txnTable.Len(), m.dirtyPages.Len(),
	)

	if err := m.redo(records); err != nil {
		// The engine is wedged; skipping Undo is mandatory here.
		return fmt.Errorf("recover: redo: %w", err)
	}
	m.log.Infof("redo done")

	if err := m.undo(records, common.NilTxnID); err != nil {
		return fmt.Errorf("recover: undo: %w", err)
	}
	m.log.Infof("undo done: %d txns left open", m.txnTable.Len())

	return nil
}

// analyze rebuilds the transaction table and the dirty page table as
// of the crash. It adopts the snapshot of the last complete checkpoint
// (scanning backwards for END_CKPT) and replays table effects forward
// from right after it, or from the log's start when no checkpoint
// completed.
func (m *LogManager) analyze(records []LogRecord) error {
	m.txnTable = NewTransactionTable()
	m.dirtyPages = NewDirtyPageTable()

	start := 0
	for i := len(records) - 1; i >= 0; i-- {
		ckpt, ok := records[i].(*CheckpointEndLogRecord)
		if !ok {
			continue
		}

		m.txnTable.Adopt(ckpt.TxnTableSnapshot())
		m.dirtyPages.Adopt(ckpt.DirtyPageSnapshot())
		start = i + 1
		break
	}

	for _, record := range records[start:] {
		txnID := record.TxnID()
		if txnID != common.NilTxnID {
			m.txnTable.SetLastLSN(txnID, record.LSN())
		}

		switch r := record.(type) {
		case *CommitLogRecord:
			m.txnTable.SetStatus(txnID, TxnStatusCommit)
		case *UpdateLogRecord:
			if entry, ok := m.txnTable.Get(txnID); ok &&
				entry.Status == TxnStatusCommit {
				return fmt.Errorf(
					"%w: update at lsn %d for committed txn %d",
					ErrCorruptLog, r.LSN(), txnID,
				)
			}
			m.txnTable.SetStatus(txnID, TxnStatusUndo)
			m.dirtyPages.InsertIfAbsent(r.PageID(), r.LSN())
		case *CompensationLogRecord:
			m.txnTable.SetStatus(txnID, TxnStatusUndo)
			m.dirtyPages.InsertIfAbsent(r.PageID(), r.LSN())
		case *TxnEndLogRecord:
			m.txnTable.Remove(txnID)
		case *AbortLogRecord,
			*CheckpointBeginLogRecord,
			*CheckpointEndLogRecord:
			// lastLSN bookkeeping only.
		}
	}

	return nil
}

// redo repeats history: every logged page mutation whose effect may be
// missing from disk is re-applied, committed or not. Afterwards every
// transaction the crash caught between COMMIT and END gets its END.
func (m *LogManager) redo(records []LogRecord) error {
	startLSN, dirty := m.dirtyPages.MinRecLSN()
	if dirty {
		for _, record := range records {
			if record.LSN() < startLSN {
				continue
			}

			var (
				pageID     common.PageID
				offset     uint32
				afterImage string
			)
			switch r := record.(type) {
			case *UpdateLogRecord:
				pageID, offset, afterImage = r.PageID(), r.Offset(), r.AfterImage()
			case *CompensationLogRecord:
				pageID, offset, afterImage = r.PageID(), r.Offset(), r.AfterImage()
			default:
				continue
			}

			recLSN, ok := m.dirtyPages.RecLSN(pageID)
			if !ok {
				// Page was clean at crash time; its post-image is on disk.
				continue
			}
			if recLSN > record.LSN() {
				// Dirtied only by a later record; this effect is on disk.
				continue
			}
			if m.se.GetLSN(pageID) >= record.LSN() {
				// Already redone.
				continue
			}

			if !m.se.PageWrite(pageID, offset, afterImage, record.LSN()) {
				return fmt.Errorf(
					"%w: redo of lsn %d on page %d",
					ErrStorageUnavailable, record.LSN(), pageID,
				)
			}
		}
	}

	for _, txnID := range m.txnTable.IDs() {
		entry, ok := m.txnTable.Get(txnID)
		if !ok || entry.Status != TxnStatusCommit {
			continue
		}

		m.tail.append(NewTxnEndLogRecord(
			m.se.NextLSN(),
			entry.LastLSN,
			txnID,
		))
		m.txnTable.Remove(txnID)
	}

	return nil
}

// lsnHeap is the ToUndo max-priority queue.
type lsnHeap []common.LSN

func (h lsnHeap) Len() int            { return len(h) }
func (h lsnHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h lsnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *lsnHeap) Push(x any)         { *h = append(*h, x.(common.LSN)) }
func (h *lsnHeap) Pop() any {
	old := *h
	n := len(old)
	top := old[n-1]
	*h = old[:n-1]
	return top
}

// undo rolls back losers by walking their chains from the largest LSN
// down. With txnID == NilTxnID (crash recovery) the losers are every
// table entry not in status C; otherwise (voluntary abort) the single
// given transaction, for which undo first emits the ABORT record.
//
// Termination: every LSN pushed onto ToUndo is strictly smaller than
// the record just processed, so the queue drains in finite time.
func (m *LogManager) undo(records []LogRecord, txnID common.TxnID) error {
	toUndo := &lsnHeap{}

	if txnID == common.NilTxnID {
		for _, loser := range m.txnTable.IDs() {
			entry, _ := m.txnTable.Get(loser)
			if entry.Status == TxnStatusCommit {
				continue
			}
			heap.Push(toUndo, entry.LastLSN)
		}
	} else {
		abortLSN := m.se.NextLSN()
		abort := NewAbortLogRecord(
			abortLSN,
			m.txnTable.GetLastLSN(txnID),
			txnID,
		)
		m.tail.append(abort)
		// Undo locates records by LSN in this vector; the fresh ABORT
		// must be visible there too.
		records = append(records, abort)

		m.txnTable.SetLastLSN(txnID, abortLSN)
		m.txnTable.SetStatus(txnID, TxnStatusUndo)

		heap.Push(toUndo, abortLSN)
	}

	byLSN := make(map[common.LSN]LogRecord, len(records))
	for _, record := range records {
		byLSN[record.LSN()] = record
	}

	for toUndo.Len() > 0 {
		lsn := heap.Pop(toUndo).(common.LSN)
		record, ok := byLSN[lsn]
		if !ok {
			continue
		}

		switch r := record.(type) {
		case *UpdateLogRecord:
			clrLSN := m.se.NextLSN()
			m.tail.append(NewCompensationLogRecord(
				clrLSN,
				m.txnTable.GetLastLSN(r.TxnID()),
				r.TxnID(),
				r.PageID(),
				r.Offset(),
				r.BeforeImage(),
				r.PrevLSN(),
			))
			m.txnTable.SetLastLSN(r.TxnID(), clrLSN)
			m.txnTable.SetStatus(r.TxnID(), TxnStatusUndo)
			m.dirtyPages.InsertIfAbsent(r.PageID(), clrLSN)

			if !m.se.PageWrite(r.PageID(), r.Offset(), r.BeforeImage(), clrLSN) {
				// Partial undo state stays consistent with the CLRs
				// already emitted; a later Recover resumes from the log.
				return fmt.Errorf(
					"%w: undo of lsn %d on page %d",
					ErrStorageUnavailable, r.LSN(), r.PageID(),
				)
			}

			if r.PrevLSN() == common.NilLSN {
				m.tail.append(NewTxnEndLogRecord(
					m.se.NextLSN(),
					clrLSN,
					r.TxnID(),
				))
				m.txnTable.Remove(r.TxnID())
			} else {
				heap.Push(toUndo, r.PrevLSN())
			}
		case *CompensationLogRecord:
			// CLRs are never compensated themselves; they only steer
			// the walk to the record before the one they undid.
			if r.UndoNextLSN() != common.NilLSN {
				heap.Push(toUndo, r.UndoNextLSN())
			} else {
				m.tail.append(NewTxnEndLogRecord(
					m.se.NextLSN(),
					r.LSN(),
					r.TxnID(),
				))
				m.txnTable.Remove(r.TxnID())
			}
		case *AbortLogRecord:
			if r.PrevLSN() != common.NilLSN {
				heap.Push(toUndo, r.PrevLSN())
			} else {
				m.tail.append(NewTxnEndLogRecord(
					m.se.NextLSN(),
					m.txnTable.GetLastLSN(r.TxnID()),
					r.TxnID(),
				))
				m.txnTable.Remove(r.TxnID())
			}
		}
	}

	return nil
}
