package recovery

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// ErrCorruptLog reports a log line the codec cannot parse. Recovery
// adopts no partial state when it surfaces.
var ErrCorruptLog = errors.New("corrupt log record")

// The codec renders one record per line, fields space-separated, type
// name first. Page images are hex-encoded so a line always splits on
// whitespace; an empty image is rendered as "-".
//
//	UPDATE <lsn> <prevLSN> <txn> <page> <offset> <before> <after>
//	CLR <lsn> <prevLSN> <txn> <page> <offset> <after> <undoNextLSN>
//	COMMIT|ABORT|END <lsn> <prevLSN> <txn>
//	BEGIN_CKPT <lsn>
//	END_CKPT <lsn> <beginLSN> <nTxn> {<txn> <lastLSN> <U|C>} <nPages> {<page> <recLSN>}
//
// Snapshot entries are emitted in ascending key order so serialization
// is deterministic.

const emptyImage = "-"

func encodeImage(image string) string {
	if image == "" {
		return emptyImage
	}
	return hex.EncodeToString([]byte(image))
}

func decodeImage(field string) (string, error) {
	if field == emptyImage {
		return "", nil
	}

	raw, err := hex.DecodeString(field)
	if err != nil {
		return "", fmt.Errorf("%w: bad image %q", ErrCorruptLog, field)
	}
	return string(raw), nil
}

func (r *UpdateLogRecord) String() string {
	return fmt.Sprintf(
		"UPDATE %d %d %d %d %d %s %s",
		r.lsn, r.prevLSN, r.txnID, r.pageID, r.offset,
		encodeImage(r.beforeImage), encodeImage(r.afterImage),
	)
}

func (r *CompensationLogRecord) String() string {
	return fmt.Sprintf(
		"CLR %d %d %d %d %d %s %d",
		r.lsn, r.prevLSN, r.txnID, r.pageID, r.offset,
		encodeImage(r.afterImage), r.undoNextLSN,
	)
}

func (r *CommitLogRecord) String() string {
	return fmt.Sprintf("COMMIT %d %d %d", r.lsn, r.prevLSN, r.txnID)
}

func (r *AbortLogRecord) String() string {
	return fmt.Sprintf("ABORT %d %d %d", r.lsn, r.prevLSN, r.txnID)
}

func (r *TxnEndLogRecord) String() string {
	return fmt.Sprintf("END %d %d %d", r.lsn, r.prevLSN, r.txnID)
}

func (r *CheckpointBeginLogRecord) String() string {
	return fmt.Sprintf("BEGIN_CKPT %d", r.lsn)
}

func (r *CheckpointEndLogRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "END_CKPT %d %d", r.lsn, r.prevLSN)

	txnIDs := make([]common.TxnID, 0, len(r.txnTable))
	for id := range r.txnTable {
		txnIDs = append(txnIDs, id)
	}
	sort.Slice(txnIDs, func(i, j int) bool { return txnIDs[i] < txnIDs[j] })

	fmt.Fprintf(&b, " %d", len(txnIDs))
	for _, id := range txnIDs {
		entry := r.txnTable[id]
		fmt.Fprintf(&b, " %d %d %s", id, entry.LastLSN, entry.Status)
	}

	pageIDs := make([]common.PageID, 0, len(r.dirtyPages))
	for id := range r.dirtyPages {
		pageIDs = append(pageIDs, id)
	}
	sort.Slice(pageIDs, func(i, j int) bool { return pageIDs[i] < pageIDs[j] })

	fmt.Fprintf(&b, " %d", len(pageIDs))
	for _, id := range pageIDs {
		fmt.Fprintf(&b, " %d %d", id, r.dirtyPages[id])
	}

	return b.String()
}

// fieldReader walks the whitespace-separated fields of a single log
// line, converting as it goes. The first conversion error sticks.
type fieldReader struct {
	fields []string
	pos    int
	err    error
}

func newFieldReader(line string) *fieldReader {
	return &fieldReader{fields: strings.Fields(line)}
}

func (f *fieldReader) next() string {
	if f.err != nil {
		return ""
	}
	if f.pos >= len(f.fields) {
		f.err = fmt.Errorf("%w: truncated line", ErrCorruptLog)
		return ""
	}

	field := f.fields[f.pos]
	f.pos++
	return field
}

func (f *fieldReader) uint64() uint64 {
	field := f.next()
	if f.err != nil {
		return 0
	}

	v, err := strconv.ParseUint(field, 10, 64)
	if err != nil {
		f.err = fmt.Errorf("%w: bad integer %q", ErrCorruptLog, field)
		return 0
	}
	return v
}

func (f *fieldReader) lsn() common.LSN       { return common.LSN(f.uint64()) }
func (f *fieldReader) txnID() common.TxnID   { return common.TxnID(f.uint64()) }
func (f *fieldReader) pageID() common.PageID { return common.PageID(f.uint64()) }

func (f *fieldReader) offset() uint32 {
	v := f.uint64()
	if f.err == nil && v > uint64(^uint32(0)) {
		f.err = fmt.Errorf("%w: offset %d out of range", ErrCorruptLog, v)
	}
	return uint32(v)
}

func (f *fieldReader) image() string {
	field := f.next()
	if f.err != nil {
		return ""
	}

	image, err := decodeImage(field)
	if err != nil {
		f.err = err
	}
	return image
}

func (f *fieldReader) status() TxnStatus {
	switch f.next() {
	case "U":
		return TxnStatusUndo
	case "C":
		return TxnStatusCommit
	default:
		if f.err == nil {
			f.err = fmt.Errorf("%w: bad txn status", ErrCorruptLog)
		}
		return TxnStatusUndo
	}
}

func (f *fieldReader) finish() error {
	if f.err != nil {
		return f.err
	}
	if f.pos != len(f.fields) {
		return fmt.Errorf(
			"%w: %d trailing fields",
			ErrCorruptLog,
			len(f.fields)-f.pos,
		)
	}
	return nil
}

// ParseLogRecord decodes a single line back into a freshly owned
// record of the right variant. parse(serialize(R)) == R for every R.
func ParseLogRecord(line string) (LogRecord, error) {
	f := newFieldReader(line)

	var record LogRecord
	switch typeName := f.next(); typeName {
	case "UPDATE":
		lsn, prev, txn := f.lsn(), f.lsn(), f.txnID()
		page, offset := f.pageID(), f.offset()
		before, after := f.image(), f.image()
		record = NewUpdateLogRecord(lsn, prev, txn, page, offset, before, after)
	case "CLR":
		lsn, prev, txn := f.lsn(), f.lsn(), f.txnID()
		page, offset := f.pageID(), f.offset()
		after := f.image()
		undoNext := f.lsn()
		record = NewCompensationLogRecord(lsn, prev, txn, page, offset, after, undoNext)
	case "COMMIT":
		record = NewCommitLogRecord(f.lsn(), f.lsn(), f.txnID())
	case "ABORT":
		record = NewAbortLogRecord(f.lsn(), f.lsn(), f.txnID())
	case "END":
		record = NewTxnEndLogRecord(f.lsn(), f.lsn(), f.txnID())
	case "BEGIN_CKPT":
		record = NewCheckpointBeginLogRecord(f.lsn())
	case "END_CKPT":
		lsn, beginLSN := f.lsn(), f.lsn()

		txnTable := map[common.TxnID]TxnTableEntry{}
		for n := f.uint64(); n > 0; n-- {
			id := f.txnID()
			entry := TxnTableEntry{LastLSN: f.lsn(), Status: f.status()}
			if f.err != nil {
				break
			}
			txnTable[id] = entry
		}

		dirtyPages := map[common.PageID]common.LSN{}
		for n := f.uint64(); n > 0; n-- {
			id := f.pageID()
			recLSN := f.lsn()
			if f.err != nil {
				break
			}
			dirtyPages[id] = recLSN
		}

		record = NewCheckpointEndLogRecord(lsn, beginLSN, txnTable, dirtyPages)
	default:
		return nil, fmt.Errorf(
			"%w: unknown record type %q",
			ErrCorruptLog,
			typeName,
		)
	}

	if err := f.finish(); err != nil {
		return nil, err
	}
	return record, nil
}

// ParseLog decodes a newline-delimited log into an owned record
// vector, preserving emission order. Blank lines are skipped.
func ParseLog(logText string) ([]LogRecord, error) {
	records := []LogRecord{}
	for _, line := range strings.Split(logText, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		record, err := ParseLogRecord(line)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
