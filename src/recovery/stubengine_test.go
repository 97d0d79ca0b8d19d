package recovery

import (
	"fmt"
	"strings"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
)

// stubEngine is an instrumented in-memory storage engine. It records
// the order of UpdateLog and PageWrite calls so tests can check the
// write-ahead invariant, and it can be told to refuse page writes.
type stubEngine struct {
	lsnCounter common.LSN

	logText   strings.Builder
	loggedMax common.LSN // highest LSN handed to UpdateLog

	pages map[common.PageID]*stubPage

	calls []string

	failPageWrites bool
}

type stubPage struct {
	data []byte
	lsn  common.LSN
}

var _ common.StorageEngine = (*stubEngine)(nil)

func newStubEngine() *stubEngine {
	return &stubEngine{pages: map[common.PageID]*stubPage{}}
}

func (e *stubEngine) NextLSN() common.LSN {
	e.lsnCounter++
	return e.lsnCounter
}

func (e *stubEngine) UpdateLog(chunk string) error {
	e.logText.WriteString(chunk)

	records, err := ParseLog(chunk)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.LSN() > e.loggedMax {
			e.loggedMax = record.LSN()
		}
	}

	e.calls = append(e.calls, fmt.Sprintf("updateLog upto %d", e.loggedMax))
	return nil
}

func (e *stubEngine) GetLog() (string, error) {
	return e.logText.String(), nil
}

func (e *stubEngine) page(pageID common.PageID) *stubPage {
	pg, ok := e.pages[pageID]
	if !ok {
		pg = &stubPage{data: make([]byte, 256)}
		e.pages[pageID] = pg
	}
	return pg
}

func (e *stubEngine) PageWrite(
	pageID common.PageID,
	offset uint32,
	image string,
	lsn common.LSN,
) bool {
	if e.failPageWrites {
		e.calls = append(e.calls, fmt.Sprintf("pageWrite %d refused", pageID))
		return false
	}

	pg := e.page(pageID)
	copy(pg.data[offset:], image)
	pg.lsn = lsn

	e.calls = append(
		e.calls,
		fmt.Sprintf("pageWrite %d lsn %d", pageID, lsn),
	)
	return true
}

func (e *stubEngine) GetLSN(pageID common.PageID) common.LSN {
	return e.page(pageID).lsn
}

func (e *stubEngine) StoreMaster(lsn common.LSN) error {
	e.calls = append(e.calls, fmt.Sprintf("storeMaster %d", lsn))
	return nil
}

func (e *stubEngine) GetMaster() (common.LSN, error) {
	return common.NilLSN, nil
}

func (e *stubEngine) pageString(pageID common.PageID, offset, length uint32) string {
	pg := e.page(pageID)
	return string(pg.data[offset : offset+length])
}

// pageWriteCount counts PageWrite calls carrying the given LSN.
func (e *stubEngine) pageWriteCount(lsn common.LSN) int {
	needle := fmt.Sprintf("lsn %d", lsn)
	count := 0
	for _, call := range e.calls {
		if strings.HasPrefix(call, "pageWrite") &&
			strings.HasSuffix(call, needle) {
			count++
		}
	}
	return count
}
