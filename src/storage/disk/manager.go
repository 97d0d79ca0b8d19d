package disk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

const (
	// PageSize is the on-disk page footprint, header included.
	PageSize = 4096
	// pageHeaderSize holds the big-endian page LSN.
	pageHeaderSize = 8

	// PayloadSize is the caller-addressable byte range of a page.
	PayloadSize = PageSize - pageHeaderSize
)

var ErrNoSuchPage = errors.New("no such page")

const (
	openAppendFlags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	openWriteFlags  = os.O_RDWR | os.O_CREATE
)

const (
	pagesFilename  = "pages.db"
	logFilename    = "wal.log"
	masterFilename = "master"
	lsnFilename    = "lsn"
)

type page struct {
	data  []byte // PageSize bytes, header first
	dirty bool
}

func newPage() *page {
	return &page{data: make([]byte, PageSize)}
}

func (p *page) lsn() common.LSN {
	return common.LSN(binary.BigEndian.Uint64(p.data[:pageHeaderSize]))
}

func (p *page) stamp(lsn common.LSN) {
	binary.BigEndian.PutUint64(p.data[:pageHeaderSize], uint64(lsn))
}

// Manager is the storage engine: it owns page memory, the durable log
// file, the master record and LSN allocation. Pages written through
// PageWrite live in memory until FlushPage/FlushAll pushes them to
// disk; flushing a page first drives the registered WAL hook so no
// page ever overtakes its log records.
type Manager struct {
	fs  afero.Fs
	dir string

	pages   map[common.PageID]*page
	nextLSN common.LSN

	wal common.WAL
	log common.Logger
}

var _ common.StorageEngine = (*Manager)(nil)

// New opens (or bootstraps) the engine's data directory. The LSN
// counter is restored from its slot so allocation stays strictly
// increasing across restarts; LSNs handed out but never logged before
// a crash are reissued, which is safe because nothing durable carries
// them.
func New(fs afero.Fs, dir string, log common.Logger) (*Manager, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}

	m := &Manager{
		fs:    fs,
		dir:   dir,
		pages: map[common.PageID]*page{},
		log:   log,
	}

	lsn, err := m.readLSNFile(lsnFilename)
	if err != nil {
		return nil, fmt.Errorf("reading lsn slot: %w", err)
	}
	m.nextLSN = lsn

	return m, nil
}

// SetWAL registers the recovery manager's write-ahead hook. Single
// init, before the first page flush.
func (m *Manager) SetWAL(wal common.WAL) {
	m.wal = wal
}

func (m *Manager) path(name string) string {
	return filepath.Join(m.dir, name)
}

func (m *Manager) readLSNFile(name string) (common.LSN, error) {
	data, err := afero.ReadFile(m.fs, m.path(name))
	if err != nil {
		// A missing slot means a fresh database.
		return common.NilLSN, nil
	}

	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return common.NilLSN, fmt.Errorf("bad lsn slot %s: %w", name, err)
	}
	return common.LSN(v), nil
}

func (m *Manager) writeLSNFile(name string, lsn common.LSN) error {
	data := []byte(strconv.FormatUint(uint64(lsn), 10))
	if err := afero.WriteFile(m.fs, m.path(name), data, 0o600); err != nil {
		return fmt.Errorf("writing lsn slot %s: %w", name, err)
	}
	return nil
}

func (m *Manager) NextLSN() common.LSN {
	m.nextLSN++
	return m.nextLSN
}

func (m *Manager) UpdateLog(chunk string) error {
	if chunk == "" {
		return nil
	}

	f, err := m.fs.OpenFile(
		m.path(logFilename),
		openAppendFlags,
		0o600,
	)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	if _, err := f.WriteString(chunk); err != nil {
		_ = f.Close()
		return fmt.Errorf("appending to log file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}

	// Keep the allocation counter at least as durable as the log so a
	// restart never reissues an LSN that made it to disk.
	return m.writeLSNFile(lsnFilename, m.nextLSN)
}

func (m *Manager) GetLog() (string, error) {
	data, err := afero.ReadFile(m.fs, m.path(logFilename))
	if err != nil {
		return "", nil // no log yet
	}
	return string(data), nil
}

func (m *Manager) getPage(pageID common.PageID) (*page, error) {
	if pg, ok := m.pages[pageID]; ok {
		return pg, nil
	}

	pg := newPage()
	data, err := afero.ReadFile(m.fs, m.path(pagesFilename))
	if err == nil {
		offset := int64(pageID) * PageSize
		if offset+PageSize <= int64(len(data)) {
			copy(pg.data, data[offset:offset+PageSize])
		}
	}

	m.pages[pageID] = pg
	return pg, nil
}

func (m *Manager) PageWrite(
	pageID common.PageID,
	offset uint32,
	image string,
	lsn common.LSN,
) bool {
	if int(offset)+len(image) > PayloadSize {
		m.log.Errorf(
			"page %d write rejected: offset %d + %d bytes exceeds payload",
			pageID, offset, len(image),
		)
		return false
	}

	pg, err := m.getPage(pageID)
	if err != nil {
		m.log.Errorf("page %d load failed: %v", pageID, err)
		return false
	}

	copy(pg.data[pageHeaderSize+offset:], image)
	pg.stamp(lsn)
	pg.dirty = true
	return true
}

func (m *Manager) GetLSN(pageID common.PageID) common.LSN {
	pg, err := m.getPage(pageID)
	if err != nil {
		return common.NilLSN
	}
	return pg.lsn()
}

// ReadAt returns length payload bytes of the page starting at offset.
func (m *Manager) ReadAt(
	pageID common.PageID,
	offset uint32,
	length uint32,
) (string, error) {
	if int(offset)+int(length) > PayloadSize {
		return "", fmt.Errorf("read past page %d payload", pageID)
	}

	pg, err := m.getPage(pageID)
	if err != nil {
		return "", err
	}

	start := pageHeaderSize + offset
	return string(pg.data[start : start+length]), nil
}

// FlushPage writes the page back to the pages file. The WAL hook runs
// first: the recovery manager forces every record up to the page's LSN
// and drops the page from its dirty page table.
func (m *Manager) FlushPage(pageID common.PageID) error {
	pg, ok := m.pages[pageID]
	if !ok {
		return fmt.Errorf("flush of page %d: %w", pageID, ErrNoSuchPage)
	}

	if m.wal != nil {
		if err := m.wal.PageFlushed(pageID); err != nil {
			return fmt.Errorf("wal hook for page %d: %w", pageID, err)
		}
	}

	f, err := m.fs.OpenFile(m.path(pagesFilename), openWriteFlags, 0o600)
	if err != nil {
		return fmt.Errorf("opening pages file: %w", err)
	}

	if _, err := f.WriteAt(pg.data, int64(pageID)*PageSize); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing page %d: %w", pageID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing pages file: %w", err)
	}

	pg.dirty = false
	return nil
}

// FlushAll pushes every dirty page to disk in pageID order.
func (m *Manager) FlushAll() error {
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

func (m *Manager) StoreMaster(lsn common.LSN) error {
	if err := m.writeLSNFile(masterFilename, lsn); err != nil {
		return err
	}
	return m.writeLSNFile(lsnFilename, m.nextLSN)
}

func (m *Manager) GetMaster() (common.LSN, error) {
	return m.readLSNFile(masterFilename)
}
