package recovery

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

func TestCommittedTransactionSurvivesCrash(t *testing.T) {
	m, eng := newMemManager(t)

	chain := NewTxnLogChain(m, 1).
		Update(7, 0, "old", "new").
		Commit()
	require.NoError(t, chain.Err())

	eng.Crash()

	m2 := reattach(t, eng)
	logText, err := eng.GetLog()
	require.NoError(t, err)

	durable, err := ParseLog(logText)
	require.NoError(t, err)
	require.Len(t, durable, 2)
	assert.Equal(t, TypeUpdate, durable[0].Type())
	assert.Equal(t, TypeCommit, durable[1].Type())

	require.NoError(t, m2.Recover(logText))

	data, err := eng.ReadAt(7, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "new", data)

	assert.Equal(t, 0, m2.TxnTable().Len())
	// The crash ate the original END; recovery re-issues it.
	require.Equal(t, []RecordType{TypeTxnEnd}, tailTypes(m2))
	assert.Equal(t, common.TxnID(1), m2.tailRecords()[0].TxnID())
}

func TestUncommittedTransactionRolledBack(t *testing.T) {
	m, eng := newMemManager(t)

	chain := NewTxnLogChain(m, 1).Update(7, 0, "old", "new")
	require.NoError(t, chain.Err())

	// The engine pushes the page out; WAL forces the update record.
	require.NoError(t, eng.FlushPage(7))

	eng.Crash()

	m2 := reattach(t, eng)
	logText, err := eng.GetLog()
	require.NoError(t, err)
	require.NoError(t, m2.Recover(logText))

	data, err := eng.ReadAt(7, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "old", data)

	assert.Equal(t, 0, m2.TxnTable().Len())
	require.Equal(t, []RecordType{TypeCompensation, TypeTxnEnd}, tailTypes(m2))

	clr := m2.tailRecords()[0].(*CompensationLogRecord)
	assert.Equal(t, "old", clr.AfterImage())
	assert.Equal(t, common.NilLSN, clr.UndoNextLSN())
}

func TestVoluntaryAbort(t *testing.T) {
	m, eng := newMemManager(t)

	chain := NewTxnLogChain(m, 2).
		Update(9, 4, "A", "B").
		Update(9, 5, "C", "D")
	require.NoError(t, chain.Err())

	require.NoError(t, m.Abort(2))

	require.Equal(
		t,
		[]RecordType{
			TypeUpdate, TypeUpdate,
			TypeAbort,
			TypeCompensation, TypeCompensation,
			TypeTxnEnd,
		},
		tailTypes(m),
	)

	// Updates are undone newest first.
	first := m.tailRecords()[3].(*CompensationLogRecord)
	assert.Equal(t, uint32(5), first.Offset())
	assert.Equal(t, "C", first.AfterImage())

	second := m.tailRecords()[4].(*CompensationLogRecord)
	assert.Equal(t, uint32(4), second.Offset())
	assert.Equal(t, "A", second.AfterImage())

	data, err := eng.ReadAt(9, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "AC", data)

	assert.Equal(t, 0, m.TxnTable().Len())
}

func TestAbortUnknownTransaction(t *testing.T) {
	m, _ := newMemManager(t)

	require.NoError(t, m.Abort(99))

	// The empty chain terminates right after the ABORT.
	require.Equal(t, []RecordType{TypeAbort, TypeTxnEnd}, tailTypes(m))
	assert.Equal(t, 0, m.TxnTable().Len())
}

func TestCheckpointBoundsAnalysis(t *testing.T) {
	m, eng := newMemManager(t)

	// Four committed transactions...
	for txn := common.TxnID(1); txn <= 4; txn++ {
		pageID := common.PageID(txn)
		chain := NewTxnLogChain(m, txn).
			Update(pageID, 0, "aa", "bb").
			Commit()
		require.NoError(t, chain.Err())
	}

	// ...then a fuzzy checkpoint...
	require.NoError(t, m.Checkpoint())
	master, err := eng.GetMaster()
	require.NoError(t, err)
	assert.NotEqual(t, common.NilLSN, master)

	// ...then two pending transactions whose updates reach the log
	// through page flushes before the crash.
	chain := NewTxnLogChain(m, 5).Update(5, 0, "e0", "e1")
	require.NoError(t, chain.Err())
	chain = NewTxnLogChain(m, 6).Update(6, 0, "f0", "f1")
	require.NoError(t, chain.Err())
	require.NoError(t, eng.FlushPage(5))
	require.NoError(t, eng.FlushPage(6))

	eng.Crash()

	m2 := reattach(t, eng)
	logText, err := eng.GetLog()
	require.NoError(t, err)
	require.NoError(t, m2.Recover(logText))

	// Both pending transactions were re-populated and undone.
	assert.Equal(t, 0, m2.TxnTable().Len())

	for pageID, before := range map[common.PageID]string{5: "e0", 6: "f0"} {
		data, err := eng.ReadAt(pageID, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, before, data)
	}

	// One CLR + END per loser.
	clrs, ends := 0, 0
	for _, record := range m2.tailRecords() {
		switch record.Type() {
		case TypeCompensation:
			clrs++
		case TypeTxnEnd:
			ends++
		}
	}
	assert.Equal(t, 2, clrs)
	assert.Equal(t, 2, ends)

	// Committed work from before the checkpoint is intact.
	for pageID := common.PageID(1); pageID <= 4; pageID++ {
		data, err := eng.ReadAt(pageID, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, "bb", data)
	}
}

func TestRedoSkipsAlreadyApplied(t *testing.T) {
	m, se := newTestManager(t)

	// The page on disk already carries LSN 50; the update at LSN 40
	// must not be reapplied.
	logText := NewUpdateLogRecord(40, common.NilLSN, 1, 5, 0, "old", "new").
		String() + "\n"
	se.page(5).lsn = 50
	se.lsnCounter = 60

	require.NoError(t, m.Recover(logText))

	assert.Equal(t, 0, se.pageWriteCount(40))

	// Undo still rolls the loser back, with a freshly allocated LSN.
	assert.Equal(t, 1, se.pageWriteCount(61))
	assert.Equal(t, "old", se.pageString(5, 0, 3))
}

func TestUndoDoesNotCompensateCLRs(t *testing.T) {
	m, se := newTestManager(t)

	update := NewUpdateLogRecord(40, common.NilLSN, 1, 5, 0, "old", "new")
	clr := NewCompensationLogRecord(41, 40, 1, 5, 0, "old", common.NilLSN)
	logText := update.String() + "\n" + clr.String() + "\n"

	// Both effects made it to the page before the crash.
	se.page(5).lsn = 41
	se.lsnCounter = 50

	require.NoError(t, m.Recover(logText))

	// The CLR only steers the walk: no new CLR, no page write, just
	// the transaction's END.
	for _, record := range m.tailRecords() {
		assert.NotEqual(t, TypeCompensation, record.Type())
	}
	require.Equal(t, []RecordType{TypeTxnEnd}, tailTypes(m))
	assert.Equal(t, 0, se.pageWriteCount(51))
	assert.Equal(t, 0, m.TxnTable().Len())
}

func TestRecoveryIsIdempotent(t *testing.T) {
	m, eng := newMemManager(t)

	chain := NewTxnLogChain(m, 1).
		Update(7, 0, "old", "new").
		SwitchTxn(2).
		Update(8, 0, "qq", "rr").
		SwitchTxn(1).
		Commit()
	require.NoError(t, chain.Err())
	require.NoError(t, eng.FlushPage(8))

	eng.Crash()

	logText, err := eng.GetLog()
	require.NoError(t, err)

	m2 := reattach(t, eng)
	require.NoError(t, m2.Recover(logText))

	firstPage7, err := eng.ReadAt(7, 0, 3)
	require.NoError(t, err)
	firstPage8, err := eng.ReadAt(8, 0, 2)
	require.NoError(t, err)

	require.NoError(t, m2.Recover(logText))

	secondPage7, err := eng.ReadAt(7, 0, 3)
	require.NoError(t, err)
	secondPage8, err := eng.ReadAt(8, 0, 2)
	require.NoError(t, err)

	assert.Equal(t, firstPage7, secondPage7)
	assert.Equal(t, firstPage8, secondPage8)
	assert.Equal(t, "new", secondPage7)
	assert.Equal(t, "qq", secondPage8)

	assert.Equal(t, 0, m2.TxnTable().Len())
}

func TestRecoveryLeavesNoOpenTransactions(t *testing.T) {
	m, eng := newMemManager(t)

	// A mix of losers, one committed survivor, one finished rollback.
	chain := NewTxnLogChain(m, 1).
		Update(1, 0, "a0", "a1").
		SwitchTxn(2).
		Update(2, 0, "b0", "b1").
		SwitchTxn(3).
		Update(3, 0, "c0", "c1").
		Commit().
		SwitchTxn(2).
		Abort()
	require.NoError(t, chain.Err())
	require.NoError(t, eng.FlushPage(1))

	eng.Crash()

	m2 := reattach(t, eng)
	logText, err := eng.GetLog()
	require.NoError(t, err)
	require.NoError(t, m2.Recover(logText))

	assert.Equal(t, 0, m2.TxnTable().Len())

	// Every loser's trail finishes with an END.
	lastByTxn := map[common.TxnID]RecordType{}
	durable, err := ParseLog(logText)
	require.NoError(t, err)
	for _, record := range append(durable, m2.tailRecords()...) {
		if record.TxnID() != common.NilTxnID {
			lastByTxn[record.TxnID()] = record.Type()
		}
	}
	for txn, last := range lastByTxn {
		assert.Equal(t, TypeTxnEnd, last, "txn %d", txn)
	}
}

func TestRedoFailureSkipsUndo(t *testing.T) {
	m, se := newTestManager(t)

	logText := NewUpdateLogRecord(40, common.NilLSN, 1, 5, 0, "old", "new").
		String() + "\n"
	se.lsnCounter = 50
	se.failPageWrites = true

	err := m.Recover(logText)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// Undo never ran: no CLR was emitted.
	for _, record := range m.tailRecords() {
		assert.NotEqual(t, TypeCompensation, record.Type())
	}
}

func TestUndoFailureKeepsEmittedCLRs(t *testing.T) {
	m, se := newTestManager(t)

	logText := NewUpdateLogRecord(40, common.NilLSN, 1, 5, 0, "old", "new").
		String() + "\n"
	// Redo has nothing to do; the page already carries the update.
	se.page(5).lsn = 40
	se.lsnCounter = 50
	se.failPageWrites = true

	err := m.Recover(logText)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	// The CLR emitted before the refused write survives; a later
	// Recover picks the rollback up from the persisted log.
	require.Equal(t, []RecordType{TypeCompensation}, tailTypes(m))
}

func TestRecoverRejectsCorruptLog(t *testing.T) {
	m, _ := newTestManager(t)

	err := m.Recover("UPDATE 1 0 1 7\nJUNK\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptLog)

	// No partial state was adopted.
	assert.Equal(t, 0, m.TxnTable().Len())
	assert.Equal(t, 0, m.DirtyPages().Len())
}

func TestAnalysisRejectsUpdateAfterCommit(t *testing.T) {
	m, _ := newTestManager(t)

	logText := fmt.Sprintf(
		"%s\n%s\n",
		NewCommitLogRecord(10, common.NilLSN, 1).String(),
		NewUpdateLogRecord(11, 10, 1, 5, 0, "old", "new").String(),
	)

	err := m.Recover(logText)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorruptLog)
}

func TestCrashDuringRollbackResumesViaCLRs(t *testing.T) {
	m, eng := newMemManager(t)

	// Two updates, then an abort whose rollback is interrupted: only
	// the ABORT and the first CLR made it to the durable log.
	chain := NewTxnLogChain(m, 2).
		Update(9, 4, "A", "B").
		Update(9, 5, "C", "D").
		Abort()
	require.NoError(t, chain.Err())

	// Flush the whole rollback trail, then drop its last two records
	// (second CLR + END) to simulate the partial flush a crash leaves.
	require.NoError(t, m.Checkpoint())
	logText, err := eng.GetLog()
	require.NoError(t, err)

	records, err := ParseLog(logText)
	require.NoError(t, err)

	truncated := ""
	for _, record := range records {
		if record.Type() == TypeCompensation &&
			record.(*CompensationLogRecord).AfterImage() == "A" {
			break
		}
		truncated += record.String() + "\n"
	}

	eng.Crash()
	m2 := reattach(t, eng)
	require.NoError(t, m2.Recover(truncated))

	// The surviving CLR steered undo past the already-undone update:
	// exactly one new CLR (for the first update) was emitted.
	clrs := 0
	for _, record := range m2.tailRecords() {
		if record.Type() == TypeCompensation {
			clrs++
			assert.Equal(
				t,
				"A",
				record.(*CompensationLogRecord).AfterImage(),
			)
		}
	}
	assert.Equal(t, 1, clrs)

	data, err := eng.ReadAt(9, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, "AC", data)

	assert.Equal(t, 0, m2.TxnTable().Len())
}
