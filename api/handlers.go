package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/Benedikt1992/blockchain-vaccination-records/controller"
)

// handlers binds the REST surface to a Controller. Every mutating endpoint
// reads the raw body and hands it straight to controller, which does its
// own strict parsing -- handlers never unmarshal protocol messages
// themselves.
type handlers struct {
	ctrl *controller.Controller
}

const maxBodyBytes = 4 << 20 // matches core.MaxWireMessageSize

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	if len(data) > maxBodyBytes {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return nil, false
	}
	return data, true
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"ack":true}`))
}

func (h *handlers) newBlock(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	h.ctrl.ReceiveBlock(data)
	ack(w)
}

func (h *handlers) newTransaction(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	h.ctrl.ReceiveTransaction(data)
	ack(w)
}

func (h *handlers) newJudgement(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	h.ctrl.ReceiveJudgement(data)
	ack(w)
}

func (h *handlers) syncRequest(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	// HTTP callers have no persistent peer ID to reply to directly; the
	// response travels via the normal broadcast path, same as a P2P peer.
	h.ctrl.ReceiveSyncRequest(r.RemoteAddr, data)
	ack(w)
}

func (h *handlers) latestBlock(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Chain.Lock()
	leaves := h.ctrl.Chain.GetLeaves()
	h.ctrl.Chain.Unlock()
	if len(leaves) == 0 {
		http.Error(w, "chain has no leaves", http.StatusInternalServerError)
		return
	}
	writeBlock(w, leaves[0])
}

func (h *handlers) blockByIndex(w http.ResponseWriter, r *http.Request) {
	idxStr := mux.Vars(r)["i"]
	idx, err := strconv.ParseInt(idxStr, 10, 64)
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	h.ctrl.Chain.Lock()
	blocks := h.ctrl.Chain.FindBlocksByIndex(idx)
	h.ctrl.Chain.Unlock()
	if len(blocks) == 0 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeBlock(w, blocks[0])
}

func (h *handlers) blockByHash(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["h"]
	h.ctrl.Chain.Lock()
	block, ok := h.ctrl.Chain.FindBlockByHash(hash)
	h.ctrl.Chain.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeBlock(w, block)
}

func writeBlock(w http.ResponseWriter, block any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(block); err != nil {
		http.Error(w, "encode failure", http.StatusInternalServerError)
	}
}
