// Package rpcserver implements the three peer RPCs named in §6: Gossip
// Exchange, Insert Write, and Update Apply. Adapted from the node's HTTP
// mux + path-scoped handler style (cmd/node/main.go's /shard/ routing),
// generalized from shard-store operations to gossip/dispatcher operations.
package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dreamware/torua-sql/internal/ast"
	"github.com/dreamware/torua-sql/internal/catalog"
	"github.com/dreamware/torua-sql/internal/cluster"
	"github.com/dreamware/torua-sql/internal/dberrors"
	"github.com/dreamware/torua-sql/internal/dispatcher"
	"github.com/dreamware/torua-sql/internal/gossip"
	"github.com/dreamware/torua-sql/internal/logging"
	"github.com/dreamware/torua-sql/internal/rowlayout"
	"github.com/dreamware/torua-sql/internal/types"
)

var logger = logging.Component("rpcserver")

// Server exposes the gossip store, catalog, and dispatcher as HTTP
// handlers for peer-to-peer calls.
type Server struct {
	Gossip     *gossip.Store
	Catalog    *catalog.Catalog
	Dispatcher *dispatcher.Dispatcher
}

// exchangeRequest/exchangeResponse mirror gossip.Entry across the wire;
// json.Marshal encodes the []byte Value field as base64 automatically.
type exchangeRequest struct {
	Entries map[string]gossip.Entry `json:"entries"`
}

type exchangeResponse struct {
	Entries map[string]gossip.Entry `json:"entries"`
}

type writeRequest struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Cells   [][]byte `json:"cells"`
}

// Mux builds the HTTP handler the node binds its gRPC/peer listener to.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/gossip/exchange", s.handleExchange)
	mux.HandleFunc("/insert/write", s.handleInsertWrite)
	mux.HandleFunc("/update/apply", s.handleUpdateApply)
	return mux
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode exchange request: "+err.Error(), http.StatusBadRequest)
		return
	}

	newer := s.Gossip.ServeExchange(req.Entries)
	writeJSON(w, http.StatusOK, exchangeResponse{Entries: newer})
}

func (s *Server) handleInsertWrite(w http.ResponseWriter, r *http.Request) {
	var req writeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decode write request: "+err.Error(), http.StatusBadRequest)
		return
	}

	tbl, err := s.Catalog.GetTable(req.Table)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Columns) != len(req.Cells) {
		writeError(w, dberrors.InvalidArgumentf("insert write: %d columns but %d cells", len(req.Columns), len(req.Cells)))
		return
	}

	values := make([]types.Datum, len(req.Columns))
	var pk types.Datum
	var pkSet bool
	for i, colName := range req.Columns {
		col, ok := tbl.Column(colName)
		if !ok {
			writeError(w, dberrors.InvalidArgumentf("column %q not present in table %s", colName, req.Table))
			return
		}
		v, err := types.Decode(req.Cells[i], col.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		values[i] = v
		if col.IsPK {
			pk = v
			pkSet = true
		}
	}
	if !pkSet {
		writeError(w, dberrors.InvalidArgumentf("table %s has no primary key in the forwarded column list", req.Table))
		return
	}

	if err := rowlayout.WriteRow(s.Dispatcher.Store, req.Table, pk, req.Columns, values); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateApply(w http.ResponseWriter, r *http.Request) {
	var stmt ast.UpdateStmt
	if err := json.NewDecoder(r.Body).Decode(&stmt); err != nil {
		http.Error(w, "decode update statement: "+err.Error(), http.StatusBadRequest)
		return
	}
	stmt.Dispatch = false // a forwarded update is applied locally only, never re-forwarded

	if _, err := s.Dispatcher.HandleStatement(r.Context(), &ast.Statement{Kind: ast.KindUpdate, Update: &stmt}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("encode response failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch dberrors.KindOf(err) {
	case dberrors.NotFound:
		status = http.StatusNotFound
	case dberrors.AlreadyExists:
		status = http.StatusConflict
	case dberrors.InvalidArgument, dberrors.Unsupported:
		status = http.StatusBadRequest
	}
	http.Error(w, err.Error(), status)
}

// Client-side helpers: the ExchangeFunc/WriteRowFunc/ApplyUpdateFunc the
// gossip worker and dispatcher call out through, built on cluster.PostJSON.

// Exchange performs the client side of Gossip.Exchange against peerAddr.
func Exchange(ctx context.Context, peerAddr string, local map[string]gossip.Entry) (map[string]gossip.Entry, error) {
	var resp exchangeResponse
	url := "http://" + peerAddr + "/gossip/exchange"
	if err := cluster.PostJSON(ctx, url, exchangeRequest{Entries: local}, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// WriteRow performs the client side of Insert.Write against peerAddr.
func WriteRow(ctx context.Context, peerAddr, table string, columns []string, cells [][]byte) error {
	url := "http://" + peerAddr + "/insert/write"
	return cluster.PostJSON(ctx, url, writeRequest{Table: table, Columns: columns, Cells: cells}, nil)
}

// ApplyUpdate performs the client side of Update.Apply against peerAddr,
// forwarding the raw JSON-encoded UpdateStmt produced by the dispatcher.
func ApplyUpdate(ctx context.Context, peerAddr string, raw []byte) error {
	url := "http://" + peerAddr + "/update/apply"
	var body json.RawMessage = raw
	return cluster.PostJSON(ctx, url, body, nil)
}
