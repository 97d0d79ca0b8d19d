package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

func TestTransactionTableLifecycle(t *testing.T) {
	table := NewTransactionTable()

	assert.Equal(t, common.NilLSN, table.GetLastLSN(1))

	table.SetLastLSN(1, 10)
	entry, ok := table.Get(1)
	require.True(t, ok)
	assert.Equal(t, common.LSN(10), entry.LastLSN)
	assert.Equal(t, TxnStatusUndo, entry.Status)

	table.SetStatus(1, TxnStatusCommit)
	table.SetLastLSN(1, 12)
	entry, _ = table.Get(1)
	assert.Equal(t, common.LSN(12), entry.LastLSN)
	assert.Equal(t, TxnStatusCommit, entry.Status)

	table.Remove(1)
	assert.Equal(t, common.NilLSN, table.GetLastLSN(1))
	assert.Equal(t, 0, table.Len())
}

func TestTransactionTableIgnoresSystemRecords(t *testing.T) {
	table := NewTransactionTable()

	table.SetLastLSN(common.NilTxnID, 5)
	table.SetStatus(common.NilTxnID, TxnStatusCommit)
	assert.Equal(t, 0, table.Len())
}

func TestTransactionTableSnapshotIsDeepCopy(t *testing.T) {
	table := NewTransactionTable()
	table.SetLastLSN(1, 10)
	table.SetLastLSN(2, 11)

	snap := table.Snapshot()

	table.SetLastLSN(1, 99)
	table.Remove(2)

	assert.Equal(t, common.LSN(10), snap[1].LastLSN)
	_, ok := snap[2]
	assert.True(t, ok)
}

func TestTransactionTableIDsSorted(t *testing.T) {
	table := NewTransactionTable()
	for _, id := range []common.TxnID{5, 1, 9, 3} {
		table.SetLastLSN(id, common.LSN(id))
	}

	assert.Equal(t, []common.TxnID{1, 3, 5, 9}, table.IDs())
}

func TestDirtyPageTableRecLSN(t *testing.T) {
	dpt := NewDirtyPageTable()

	_, ok := dpt.MinRecLSN()
	assert.False(t, ok)

	dpt.InsertIfAbsent(7, 10)
	dpt.InsertIfAbsent(7, 5) // later insert must not lower recLSN
	recLSN, ok := dpt.RecLSN(7)
	require.True(t, ok)
	assert.Equal(t, common.LSN(10), recLSN)

	dpt.InsertIfAbsent(9, 3)
	min, ok := dpt.MinRecLSN()
	require.True(t, ok)
	assert.Equal(t, common.LSN(3), min)

	dpt.Remove(9)
	min, ok = dpt.MinRecLSN()
	require.True(t, ok)
	assert.Equal(t, common.LSN(10), min)
}

func TestDirtyPageTableSnapshotIsDeepCopy(t *testing.T) {
	dpt := NewDirtyPageTable()
	dpt.InsertIfAbsent(7, 10)

	snap := dpt.Snapshot()
	dpt.Remove(7)

	assert.Equal(t, common.LSN(10), snap[7])
}
