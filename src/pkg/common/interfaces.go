package common

// Logger is the logging surface the rest of the system depends on.
// *zap.SugaredLogger satisfies it.
type Logger interface {
	Debugf(template string, args ...any)
	Infof(template string, args ...any)
	Warnf(template string, args ...any)
	Errorf(template string, args ...any)
	Sync() error
}

// StorageEngine is the contract the recovery manager consumes. The
// engine owns page memory, the durable log file, the master record and
// LSN allocation; the recovery manager owns everything else.
type StorageEngine interface {
	// NextLSN allocates a fresh, strictly increasing LSN.
	NextLSN() LSN

	// UpdateLog appends an already-serialized, newline-delimited block
	// of records to the durable log. The block is durable on return.
	UpdateLog(chunk string) error

	// GetLog returns the complete durable log as text.
	GetLog() (string, error)

	// PageWrite overwrites page bytes at the given offset and stamps
	// the page with lsn. Returns false if the engine cannot perform
	// the write.
	PageWrite(pageID PageID, offset uint32, image string, lsn LSN) bool

	// GetLSN returns the LSN currently stamped on the page.
	GetLSN(pageID PageID) LSN

	// StoreMaster persists the begin-checkpoint LSN in a known
	// location; GetMaster fetches it back (NilLSN if none yet).
	StoreMaster(lsn LSN) error
	GetMaster() (LSN, error)
}

// WAL is the write-ahead hook the storage engine drives right before
// it writes a page back to disk.
type WAL interface {
	PageFlushed(pageID PageID) error
}
