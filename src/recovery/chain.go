package recovery

import (
	"fmt"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// TxnLogChain is a fluent helper for driving interleaved transactions
// through the façade. The first error sticks and short-circuits the
// rest of the chain.
type TxnLogChain struct {
	m     *LogManager
	txnID common.TxnID
	err   error
}

func NewTxnLogChain(m *LogManager, txnID common.TxnID) *TxnLogChain {
	return &TxnLogChain{m: m, txnID: txnID}
}

func (c *TxnLogChain) SwitchTxn(txnID common.TxnID) *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.txnID = txnID
	return c
}

// Update logs the write and applies it to the page, stamping the
// returned LSN the way a transactional client would.
func (c *TxnLogChain) Update(
	pageID common.PageID,
	offset uint32,
	beforeImage string,
	afterImage string,
) *TxnLogChain {
	if c.err != nil {
		return c
	}

	lsn := c.m.Write(c.txnID, pageID, offset, afterImage, beforeImage)
	if !c.m.se.PageWrite(pageID, offset, afterImage, lsn) {
		c.err = fmt.Errorf(
			"%w: applying update at lsn %d to page %d",
			ErrStorageUnavailable, lsn, pageID,
		)
	}

	return c
}

func (c *TxnLogChain) Commit() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.err = c.m.Commit(c.txnID)
	return c
}

func (c *TxnLogChain) Abort() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.err = c.m.Abort(c.txnID)
	return c
}

func (c *TxnLogChain) Checkpoint() *TxnLogChain {
	if c.err != nil {
		return c
	}

	c.err = c.m.Checkpoint()
	return c
}

func (c *TxnLogChain) Err() error {
	return c.err
}
