package common

// LSN is a log sequence number. LSNs are allocated by the storage
// engine and grow strictly monotonically over the life of the log.
type LSN uint64

// NilLSN marks "no record". The engine never allocates it.
const NilLSN LSN = 0

// TxnID identifies a transaction. NilTxnID is reserved for system
// records (checkpoint markers) that are not tied to any transaction.
type TxnID uint64

const NilTxnID TxnID = 0

// PageID is an opaque key into the storage engine's page space.
type PageID uint64
