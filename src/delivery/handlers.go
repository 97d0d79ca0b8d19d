package delivery

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/Blackdeer1524/PageDB/src/pkg/common"
	"github.com/Blackdeer1524/PageDB/src/recovery"
)

// Engine is what the handlers need from the storage engine on top of
// the recovery manager's contract: page flushing and payload reads.
type Engine interface {
	common.StorageEngine
	FlushPage(pageID common.PageID) error
	FlushAll() error
	ReadAt(pageID common.PageID, offset uint32, length uint32) (string, error)
}

// Handler exposes the transactional façade over HTTP. The recovery
// manager is single-threaded cooperative, so every handler runs under
// one latch.
type Handler struct {
	Manager *recovery.LogManager
	Engine  Engine
	Log     common.Logger

	mu sync.Mutex
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/txns/{id}/write", h.Write).Methods("POST")
	router.HandleFunc("/txns/{id}/commit", h.Commit).Methods("POST")
	router.HandleFunc("/txns/{id}/abort", h.Abort).Methods("POST")

	router.HandleFunc("/checkpoint", h.Checkpoint).Methods("POST")
	router.HandleFunc("/recover", h.Recover).Methods("POST")

	router.HandleFunc("/pages/{id}/flush", h.FlushPage).Methods("POST")
	router.HandleFunc("/pages/{id}", h.ReadPage).Methods("GET")

	router.HandleFunc("/log", h.DumpLog).Methods("GET")
}

func txnIDFromRequest(r *http.Request) (common.TxnID, error) {
	raw, ok := mux.Vars(r)["id"]
	if !ok {
		return common.NilTxnID, errors.New("missing txn id")
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || common.TxnID(id) == common.NilTxnID {
		return common.NilTxnID, errors.New("bad txn id")
	}
	return common.TxnID(id), nil
}

func pageIDFromRequest(r *http.Request) (common.PageID, error) {
	raw, ok := mux.Vars(r)["id"]
	if !ok {
		return 0, errors.New("missing page id")
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.New("bad page id")
	}
	return common.PageID(id), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	txnID, err := txnIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	var request struct {
		Page   common.PageID `json:"page"`
		Offset uint32        `json:"offset"`
		Before string        `json:"before"`
		After  string        `json:"after"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	lsn := h.Manager.Write(
		txnID,
		request.Page,
		request.Offset,
		request.After,
		request.Before,
	)
	if !h.Engine.PageWrite(request.Page, request.Offset, request.After, lsn) {
		http.Error(
			w,
			"storage engine refused the write",
			http.StatusInternalServerError,
		)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"lsn": lsn})
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	txnID, err := txnIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Manager.Commit(txnID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"committed": txnID})
}

func (h *Handler) Abort(w http.ResponseWriter, r *http.Request) {
	txnID, err := txnIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Manager.Abort(txnID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"aborted": txnID})
}

func (h *Handler) Checkpoint(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Manager.Checkpoint(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	master, err := h.Engine.GetMaster()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"master": master})
}

func (h *Handler) Recover(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logText, err := h.Engine.GetLog()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	if err := h.Manager.Recover(logText); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"live_txns":   h.Manager.TxnTable().Len(),
		"dirty_pages": h.Manager.DirtyPages().Len(),
	})
}

func (h *Handler) FlushPage(w http.ResponseWriter, r *http.Request) {
	pageID, err := pageIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Engine.FlushPage(pageID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"flushed": pageID})
}

func (h *Handler) ReadPage(w http.ResponseWriter, r *http.Request) {
	pageID, err := pageIDFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	query := r.URL.Query()
	offset, _ := strconv.ParseUint(query.Get("offset"), 10, 32)
	length, err := strconv.ParseUint(query.Get("length"), 10, 32)
	if err != nil {
		http.Error(w, "bad length", http.StatusBadRequest)

		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.Engine.ReadAt(pageID, uint32(offset), uint32(length))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lsn":  h.Engine.GetLSN(pageID),
		"data": data,
	})
}

func (h *Handler) DumpLog(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	logText, err := h.Engine.GetLog()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	records, err := recovery.ParseLog(logText)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, record.String())
	}

	writeJSON(w, http.StatusOK, map[string]any{"records": lines})
}
