// Package httpapi is the read/submit HTTP surface (component C7): JSON
// election and ballot reads served straight off storage, plus ballot
// submission forwarded into the consensus engine's mempool.
//
// Grounded on pkg/server/proof_handlers.go's shape: one handlers struct
// carrying its repositories and a *log.Logger, http.ServeMux route
// registration in the teacher's main.go, and the same
// writeJSON/writeError helper pair.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	cmttypes "github.com/cometbft/cometbft/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vote-bft/vote-node/internal/ballot"
	"github.com/vote-bft/vote-node/internal/chain"
	"github.com/vote-bft/vote-node/internal/election"
	"github.com/vote-bft/vote-node/internal/storage"
)

// pingTimeout bounds how long the health check waits on the database.
const pingTimeout = 2 * time.Second

// Handlers serves every route of the HTTP surface.
type Handlers struct {
	store     *storage.Store
	registry  *election.Registry
	core      *chain.Core
	rpcClient *cmthttp.HTTP
	logger    *log.Logger
}

// New constructs Handlers. rpcClient is the consensus engine's local RPC
// client, used only by the ballot-submission route.
func New(store *storage.Store, registry *election.Registry, core *chain.Core, rpcClient *cmthttp.HTTP) *Handlers {
	return &Handlers{
		store:     store,
		registry:  registry,
		core:      core,
		rpcClient: rpcClient,
		logger:    log.New(log.Writer(), "[HTTPAPI] ", log.LstdFlags),
	}
}

// NewMux builds the full route table, including the [EXPANSION] /metrics
// and /healthz routes alongside the spec's /election routes.
func NewMux(h *Handlers, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/election/", h.handleElection)
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// handleElection dispatches every /election/... route by splitting the
// path after the shared prefix, mirroring the teacher's
// strings.TrimPrefix-then-strings.Split path parsing.
func (h *Handlers) handleElection(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	path := strings.TrimPrefix(r.URL.Path, "/election/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		h.writeError(w, http.StatusBadRequest, reqID, "election id is required")
		return
	}
	electionID := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetElection(w, r, reqID, electionID)
	case len(parts) == 2 && parts[1] == "num_ballots" && r.Method == http.MethodGet:
		h.handleNumBallots(w, r, reqID, electionID)
	case len(parts) == 4 && parts[1] == "ballot" && parts[2] == "height" && r.Method == http.MethodGet:
		h.handleGetBallot(w, r, reqID, electionID, parts[3])
	case len(parts) == 2 && parts[1] == "ballot" && r.Method == http.MethodPost:
		h.handleSubmitBallot(w, r, reqID, electionID)
	default:
		h.writeError(w, http.StatusNotFound, reqID, "no such route")
	}
}

// handleGetElection implements "GET /election/<id> -> election
// definition as JSON" (spec §4.7).
func (h *Handlers) handleGetElection(w http.ResponseWriter, r *http.Request, reqID, electionID string) {
	e, ok := h.registry.Get(electionID)
	if !ok {
		h.writeError(w, http.StatusNotFound, reqID, "election not found")
		return
	}
	h.writeJSON(w, http.StatusOK, e)
}

// handleNumBallots implements "GET /election/<id>/num_ballots -> count
// as decimal" (spec §4.7).
func (h *Handlers) handleNumBallots(w http.ResponseWriter, r *http.Request, reqID, electionID string) {
	n, err := h.store.NumBallots(r.Context(), electionID)
	if err != nil {
		h.logger.Printf("[%s] num_ballots(%s): %v", reqID, electionID, err)
		h.writeError(w, http.StatusInternalServerError, reqID, "storage error")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "%d", n)
}

// handleGetBallot implements "GET /election/<id>/ballot/height/<h> ->
// stored ballot as JSON" (spec §4.7).
func (h *Handlers) handleGetBallot(w http.ResponseWriter, r *http.Request, reqID, electionID, heightStr string) {
	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, reqID, "height must be a non-negative integer")
		return
	}
	row, err := h.store.GetBallot(r.Context(), electionID, height)
	if errors.Is(err, storage.ErrBallotNotFound) {
		h.writeError(w, http.StatusNotFound, reqID, "ballot not found")
		return
	}
	if err != nil {
		h.logger.Printf("[%s] get ballot(%s, %d): %v", reqID, electionID, height, err)
		h.writeError(w, http.StatusInternalServerError, reqID, "storage error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(row.Data)
}

// submitResponse is the body returned by a successful ballot submission.
type submitResponse struct {
	TxHash string `json:"tx_hash"`
}

// handleSubmitBallot implements "POST /election/<id>/ballot ... envelope
// as Tx{id, ballot} ... forward to the consensus engine's RPC
// broadcast_tx_sync" (spec §4.7).
func (h *Handlers) handleSubmitBallot(w http.ResponseWriter, r *http.Request, reqID, electionID string) {
	var b ballot.Ballot
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		h.writeError(w, http.StatusBadRequest, reqID, "invalid ballot JSON: "+err.Error())
		return
	}

	txBytes, err := ballot.EncodeTx(ballot.Tx{ID: electionID, Ballot: b})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, reqID, "encode tx: "+err.Error())
		return
	}

	res, err := h.rpcClient.BroadcastTxSync(r.Context(), cmttypes.Tx(txBytes))
	if err != nil {
		h.logger.Printf("[%s] broadcast_tx_sync(%s): %v", reqID, electionID, err)
		h.writeError(w, http.StatusBadGateway, reqID, err.Error())
		return
	}
	if res.Code != 0 {
		h.writeError(w, http.StatusBadRequest, reqID, res.Log)
		return
	}
	h.writeJSON(w, http.StatusOK, submitResponse{TxHash: res.Hash.String()})
}

// healthzResponse reports the core's last-seen height, mirroring the
// teacher's /health route in main.go.
type healthzResponse struct {
	Status string `json:"status"`
	Height uint32 `json:"height"`
}

func (h *Handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, healthzResponse{Status: "database unreachable"})
		return
	}
	state, err := h.core.Info(ctx)
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, healthzResponse{Status: "core unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, healthzResponse{Status: "ok", Height: state.Height})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("encode response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, reqID, message string) {
	h.writeJSON(w, status, map[string]string{
		"request_id": reqID,
		"error":      message,
	})
}
