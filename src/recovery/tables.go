package recovery

import (
	"sort"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

type TxnStatus byte

const (
	// TxnStatusUndo marks a transaction that is in progress or being
	// rolled back. There is no separate "aborted" status: an aborting
	// transaction stays in U until its END is emitted.
	TxnStatusUndo TxnStatus = iota
	// TxnStatusCommit marks a transaction that has a COMMIT record and
	// awaits its END.
	TxnStatusCommit
)

func (s TxnStatus) String() string {
	if s == TxnStatusCommit {
		return "C"
	}
	return "U"
}

type TxnTableEntry struct {
	LastLSN common.LSN
	Status  TxnStatus
}

// TransactionTable maps every live transaction to its most recent log
// record and status. Entries appear on the first record emitted for a
// transaction and disappear with its END.
type TransactionTable struct {
	entries map[common.TxnID]TxnTableEntry
}

func NewTransactionTable() *TransactionTable {
	return &TransactionTable{entries: map[common.TxnID]TxnTableEntry{}}
}

// GetLastLSN returns the LSN of the most recent record for the
// transaction, or NilLSN when the transaction is unknown.
func (t *TransactionTable) GetLastLSN(txnID common.TxnID) common.LSN {
	entry, ok := t.entries[txnID]
	if !ok {
		return common.NilLSN
	}
	return entry.LastLSN
}

// SetLastLSN records lsn as the transaction's most recent record,
// creating the entry (status U) if needed. System records carry
// NilTxnID and never enter the table.
func (t *TransactionTable) SetLastLSN(txnID common.TxnID, lsn common.LSN) {
	if txnID == common.NilTxnID {
		return
	}

	entry := t.entries[txnID]
	entry.LastLSN = lsn
	t.entries[txnID] = entry
}

func (t *TransactionTable) SetStatus(txnID common.TxnID, status TxnStatus) {
	if txnID == common.NilTxnID {
		return
	}

	entry := t.entries[txnID]
	entry.Status = status
	t.entries[txnID] = entry
}

func (t *TransactionTable) Get(txnID common.TxnID) (TxnTableEntry, bool) {
	entry, ok := t.entries[txnID]
	return entry, ok
}

func (t *TransactionTable) Remove(txnID common.TxnID) {
	delete(t.entries, txnID)
}

func (t *TransactionTable) Len() int {
	return len(t.entries)
}

// IDs returns the transaction IDs in ascending order. Iteration over
// a snapshot of the keys lets callers mutate the table mid-walk.
func (t *TransactionTable) IDs() []common.TxnID {
	ids := make([]common.TxnID, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot deep-copies the table for a checkpoint record.
func (t *TransactionTable) Snapshot() map[common.TxnID]TxnTableEntry {
	snap := make(map[common.TxnID]TxnTableEntry, len(t.entries))
	for id, entry := range t.entries {
		snap[id] = entry
	}
	return snap
}

// Adopt replaces the table's contents with the given snapshot,
// copying it so the caller's map stays independent.
func (t *TransactionTable) Adopt(snap map[common.TxnID]TxnTableEntry) {
	t.entries = make(map[common.TxnID]TxnTableEntry, len(snap))
	for id, entry := range snap {
		t.entries[id] = entry
	}
}

// DirtyPageTable maps each page that is dirty in the buffer pool to
// its recLSN: the LSN of the earliest record that dirtied it since it
// was last clean.
type DirtyPageTable struct {
	recLSNs map[common.PageID]common.LSN
}

func NewDirtyPageTable() *DirtyPageTable {
	return &DirtyPageTable{recLSNs: map[common.PageID]common.LSN{}}
}

// RecLSN returns the page's recLSN; ok is false when the page is not
// tracked as dirty.
func (d *DirtyPageTable) RecLSN(pageID common.PageID) (common.LSN, bool) {
	lsn, ok := d.recLSNs[pageID]
	return lsn, ok
}

// InsertIfAbsent registers the page with the given recLSN unless an
// earlier record already dirtied it.
func (d *DirtyPageTable) InsertIfAbsent(pageID common.PageID, recLSN common.LSN) {
	if _, ok := d.recLSNs[pageID]; ok {
		return
	}
	d.recLSNs[pageID] = recLSN
}

func (d *DirtyPageTable) Remove(pageID common.PageID) {
	delete(d.recLSNs, pageID)
}

func (d *DirtyPageTable) Len() int {
	return len(d.recLSNs)
}

// MinRecLSN is where Redo starts scanning. ok is false when no page
// is dirty, in which case Redo has nothing to reapply.
func (d *DirtyPageTable) MinRecLSN() (common.LSN, bool) {
	if len(d.recLSNs) == 0 {
		return common.NilLSN, false
	}

	first := true
	min := common.NilLSN
	for _, lsn := range d.recLSNs {
		if first || lsn < min {
			min = lsn
			first = false
		}
	}
	return min, true
}

func (d *DirtyPageTable) Snapshot() map[common.PageID]common.LSN {
	snap := make(map[common.PageID]common.LSN, len(d.recLSNs))
	for id, lsn := range d.recLSNs {
		snap[id] = lsn
	}
	return snap
}

func (d *DirtyPageTable) Adopt(snap map[common.PageID]common.LSN) {
	d.recLSNs = make(map[common.PageID]common.LSN, len(snap))
	for id, lsn := range snap {
		d.recLSNs[id] = lsn
	}
}
