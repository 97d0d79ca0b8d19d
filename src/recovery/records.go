package recovery

import (
	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// RecordType tags the log record variants.
type RecordType byte

const (
	TypeUpdate RecordType = iota + 1
	TypeCompensation
	TypeCommit
	TypeAbort
	TypeTxnEnd
	TypeCheckpointBegin
	TypeCheckpointEnd
	typeUnknown
)

var recordTypeNames = map[RecordType]string{
	TypeUpdate:          "UPDATE",
	TypeCompensation:    "CLR",
	TypeCommit:          "COMMIT",
	TypeAbort:           "ABORT",
	TypeTxnEnd:          "END",
	TypeCheckpointBegin: "BEGIN_CKPT",
	TypeCheckpointEnd:   "END_CKPT",
}

func (t RecordType) String() string {
	name, ok := recordTypeNames[t]
	if !ok {
		return "UNKNOWN"
	}
	return name
}

// LogRecord is the common surface of every record variant. Every
// record carries its own LSN, the LSN of the previous record of the
// same transaction (NilLSN if first) and the transaction it belongs
// to (NilTxnID for checkpoint markers).
type LogRecord interface {
	Type() RecordType
	LSN() common.LSN
	PrevLSN() common.LSN
	TxnID() common.TxnID

	// String renders the canonical single-line text form; see codec.go.
	String() string
}

type UpdateLogRecord struct {
	lsn         common.LSN
	prevLSN     common.LSN
	txnID       common.TxnID
	pageID      common.PageID
	offset      uint32
	beforeImage string
	afterImage  string
}

func NewUpdateLogRecord(
	lsn common.LSN,
	prevLSN common.LSN,
	txnID common.TxnID,
	pageID common.PageID,
	offset uint32,
	beforeImage string,
	afterImage string,
) *UpdateLogRecord {
	return &UpdateLogRecord{
		lsn:         lsn,
		prevLSN:     prevLSN,
		txnID:       txnID,
		pageID:      pageID,
		offset:      offset,
		beforeImage: beforeImage,
		afterImage:  afterImage,
	}
}

func (r *UpdateLogRecord) Type() RecordType     { return TypeUpdate }
func (r *UpdateLogRecord) LSN() common.LSN      { return r.lsn }
func (r *UpdateLogRecord) PrevLSN() common.LSN  { return r.prevLSN }
func (r *UpdateLogRecord) TxnID() common.TxnID  { return r.txnID }
func (r *UpdateLogRecord) PageID() common.PageID { return r.pageID }
func (r *UpdateLogRecord) Offset() uint32       { return r.offset }
func (r *UpdateLogRecord) BeforeImage() string  { return r.beforeImage }
func (r *UpdateLogRecord) AfterImage() string   { return r.afterImage }

// CompensationLogRecord describes the undo of a single update. It is
// redo-only: undoNextLSN points at the record that preceded the
// compensated update, so a crashed rollback resumes there instead of
// undoing the CLR itself.
type CompensationLogRecord struct {
	lsn         common.LSN
	prevLSN     common.LSN
	txnID       common.TxnID
	pageID      common.PageID
	offset      uint32
	afterImage  string
	undoNextLSN common.LSN
}

func NewCompensationLogRecord(
	lsn common.LSN,
	prevLSN common.LSN,
	txnID common.TxnID,
	pageID common.PageID,
	offset uint32,
	afterImage string,
	undoNextLSN common.LSN,
) *CompensationLogRecord {
	return &CompensationLogRecord{
		lsn:         lsn,
		prevLSN:     prevLSN,
		txnID:       txnID,
		pageID:      pageID,
		offset:      offset,
		afterImage:  afterImage,
		undoNextLSN: undoNextLSN,
	}
}

func (r *CompensationLogRecord) Type() RecordType        { return TypeCompensation }
func (r *CompensationLogRecord) LSN() common.LSN         { return r.lsn }
func (r *CompensationLogRecord) PrevLSN() common.LSN     { return r.prevLSN }
func (r *CompensationLogRecord) TxnID() common.TxnID     { return r.txnID }
func (r *CompensationLogRecord) PageID() common.PageID   { return r.pageID }
func (r *CompensationLogRecord) Offset() uint32          { return r.offset }
func (r *CompensationLogRecord) AfterImage() string      { return r.afterImage }
func (r *CompensationLogRecord) UndoNextLSN() common.LSN { return r.undoNextLSN }

type CommitLogRecord struct {
	lsn     common.LSN
	prevLSN common.LSN
	txnID   common.TxnID
}

func NewCommitLogRecord(
	lsn common.LSN,
	prevLSN common.LSN,
	txnID common.TxnID,
) *CommitLogRecord {
	return &CommitLogRecord{lsn: lsn, prevLSN: prevLSN, txnID: txnID}
}

func (r *CommitLogRecord) Type() RecordType    { return TypeCommit }
func (r *CommitLogRecord) LSN() common.LSN     { return r.lsn }
func (r *CommitLogRecord) PrevLSN() common.LSN { return r.prevLSN }
func (r *CommitLogRecord) TxnID() common.TxnID { return r.txnID }

type AbortLogRecord struct {
	lsn     common.LSN
	prevLSN common.LSN
	txnID   common.TxnID
}

func NewAbortLogRecord(
	lsn common.LSN,
	prevLSN common.LSN,
	txnID common.TxnID,
) *AbortLogRecord {
	return &AbortLogRecord{lsn: lsn, prevLSN: prevLSN, txnID: txnID}
}

func (r *AbortLogRecord) Type() RecordType    { return TypeAbort }
func (r *AbortLogRecord) LSN() common.LSN     { return r.lsn }
func (r *AbortLogRecord) PrevLSN() common.LSN { return r.prevLSN }
func (r *AbortLogRecord) TxnID() common.TxnID { return r.txnID }

type TxnEndLogRecord struct {
	lsn     common.LSN
	prevLSN common.LSN
	txnID   common.TxnID
}

func NewTxnEndLogRecord(
	lsn common.LSN,
	prevLSN common.LSN,
	txnID common.TxnID,
) *TxnEndLogRecord {
	return &TxnEndLogRecord{lsn: lsn, prevLSN: prevLSN, txnID: txnID}
}

func (r *TxnEndLogRecord) Type() RecordType    { return TypeTxnEnd }
func (r *TxnEndLogRecord) LSN() common.LSN     { return r.lsn }
func (r *TxnEndLogRecord) PrevLSN() common.LSN { return r.prevLSN }
func (r *TxnEndLogRecord) TxnID() common.TxnID { return r.txnID }

type CheckpointBeginLogRecord struct {
	lsn common.LSN
}

func NewCheckpointBeginLogRecord(lsn common.LSN) *CheckpointBeginLogRecord {
	return &CheckpointBeginLogRecord{lsn: lsn}
}

func (r *CheckpointBeginLogRecord) Type() RecordType    { return TypeCheckpointBegin }
func (r *CheckpointBeginLogRecord) LSN() common.LSN     { return r.lsn }
func (r *CheckpointBeginLogRecord) PrevLSN() common.LSN { return common.NilLSN }
func (r *CheckpointBeginLogRecord) TxnID() common.TxnID { return common.NilTxnID }

// CheckpointEndLogRecord carries by-value snapshots of both tables as
// of the checkpoint. The snapshots are deep copies taken at emission:
// later mutation of the live tables must not leak into a checkpoint
// already sitting in the tail.
type CheckpointEndLogRecord struct {
	lsn       common.LSN
	prevLSN   common.LSN // LSN of the paired BEGIN_CKPT
	txnTable  map[common.TxnID]TxnTableEntry
	dirtyPages map[common.PageID]common.LSN
}

func NewCheckpointEndLogRecord(
	lsn common.LSN,
	beginLSN common.LSN,
	txnTable map[common.TxnID]TxnTableEntry,
	dirtyPages map[common.PageID]common.LSN,
) *CheckpointEndLogRecord {
	return &CheckpointEndLogRecord{
		lsn:        lsn,
		prevLSN:    beginLSN,
		txnTable:   txnTable,
		dirtyPages: dirtyPages,
	}
}

func (r *CheckpointEndLogRecord) Type() RecordType    { return TypeCheckpointEnd }
func (r *CheckpointEndLogRecord) LSN() common.LSN     { return r.lsn }
func (r *CheckpointEndLogRecord) PrevLSN() common.LSN { return r.prevLSN }
func (r *CheckpointEndLogRecord) TxnID() common.TxnID { return common.NilTxnID }

func (r *CheckpointEndLogRecord) TxnTableSnapshot() map[common.TxnID]TxnTableEntry {
	return r.txnTable
}

func (r *CheckpointEndLogRecord) DirtyPageSnapshot() map[common.PageID]common.LSN {
	return r.dirtyPages
}
