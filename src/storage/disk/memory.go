package disk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// InMemoryManager is the Manager's map-backed twin. It keeps a
// separate "durable" copy of each page so tests can crash the cache
// and observe what recovery has to work with.
type InMemoryManager struct {
	pages   map[common.PageID]*page // buffer pool side
	durable map[common.PageID]*page // what survived the last flush

	logText strings.Builder
	master  common.LSN
	nextLSN common.LSN

	wal common.WAL
}

var _ common.StorageEngine = (*InMemoryManager)(nil)

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		pages:   map[common.PageID]*page{},
		durable: map[common.PageID]*page{},
	}
}

func (m *InMemoryManager) SetWAL(wal common.WAL) {
	m.wal = wal
}

func (m *InMemoryManager) NextLSN() common.LSN {
	m.nextLSN++
	return m.nextLSN
}

func (m *InMemoryManager) UpdateLog(chunk string) error {
	m.logText.WriteString(chunk)
	return nil
}

func (m *InMemoryManager) GetLog() (string, error) {
	return m.logText.String(), nil
}

func (m *InMemoryManager) getPage(pageID common.PageID) *page {
	if pg, ok := m.pages[pageID]; ok {
		return pg
	}

	pg := newPage()
	if stored, ok := m.durable[pageID]; ok {
		copy(pg.data, stored.data)
	}
	m.pages[pageID] = pg
	return pg
}

func (m *InMemoryManager) PageWrite(
	pageID common.PageID,
	offset uint32,
	image string,
	lsn common.LSN,
) bool {
	if int(offset)+len(image) > PayloadSize {
		return false
	}

	pg := m.getPage(pageID)
	copy(pg.data[pageHeaderSize+offset:], image)
	pg.stamp(lsn)
	pg.dirty = true
	return true
}

func (m *InMemoryManager) GetLSN(pageID common.PageID) common.LSN {
	return m.getPage(pageID).lsn()
}

func (m *InMemoryManager) ReadAt(
	pageID common.PageID,
	offset uint32,
	length uint32,
) (string, error) {
	if int(offset)+int(length) > PayloadSize {
		return "", fmt.Errorf("read past page %d payload", pageID)
	}

	pg := m.getPage(pageID)
	start := pageHeaderSize + offset
	return string(pg.data[start : start+length]), nil
}

func (m *InMemoryManager) FlushPage(pageID common.PageID) error {
	pg, ok := m.pages[pageID]
	if !ok {
		return fmt.Errorf("flush of page %d: %w", pageID, ErrNoSuchPage)
	}

	if m.wal != nil {
		if err := m.wal.PageFlushed(pageID); err != nil {
			return fmt.Errorf("wal hook for page %d: %w", pageID, err)
		}
	}

	stored := newPage()
	copy(stored.data, pg.data)
	m.durable[pageID] = stored
	pg.dirty = false
	return nil
}

func (m *InMemoryManager) FlushAll() error {
	ids := make([]common.PageID, 0, len(m.pages))
	for id, pg := range m.pages {
		if pg.dirty {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if err := m.FlushPage(id); err != nil {
			return err
		}
	}
	return nil
}

func (m *InMemoryManager) StoreMaster(lsn common.LSN) error {
	m.master = lsn
	return nil
}

func (m *InMemoryManager) GetMaster() (common.LSN, error) {
	return m.master, nil
}

// Crash drops the buffer pool, keeping only what was flushed. The log
// and the LSN counter survive, the way a real crash leaves them.
func (m *InMemoryManager) Crash() {
	m.pages = map[common.PageID]*page{}
}
