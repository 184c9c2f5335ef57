package query

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/nexa-sim/pkg/core"
)

type handler func(*Server, *http.Request) (interface{}, error)

type route struct {
	name    string
	path    string
	handler handler
}

var routes = []route{
	{"blocks", "/api/blocks", (*Server).getBlocks},
	{"block", "/api/blocks/{index:[0-9]+}", (*Server).getBlock},
	{"block_transactions", "/api/blocks/{index:[0-9]+}/transactions", (*Server).getBlockTransactions},
	{"transactions", "/api/transactions", (*Server).getTransactions},
	{"status", "/api/status", (*Server).getStatus},
}

func blockIndex(r *http.Request) (uint32, error) {
	param := mux.Vars(r)["index"]
	index, err := strconv.ParseUint(param, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", core.ErrBlockNotFound, param)
	}
	return uint32(index), nil
}

func (s *Server) getBlocks(_ *http.Request) (interface{}, error) {
	blocks := s.ledger.Blocks()
	res := make([]json.RawMessage, 0, len(blocks))
	for _, b := range blocks {
		data, err := s.encodedBlock(b)
		if err != nil {
			return nil, err
		}
		res = append(res, data)
	}
	return res, nil
}

func (s *Server) getBlock(r *http.Request) (interface{}, error) {
	index, err := blockIndex(r)
	if err != nil {
		return nil, err
	}
	b, err := s.ledger.GetBlock(index)
	if err != nil {
		return nil, err
	}
	return s.encodedBlock(b)
}

func (s *Server) getBlockTransactions(r *http.Request) (interface{}, error) {
	index, err := blockIndex(r)
	if err != nil {
		return nil, err
	}
	return s.ledger.BlockTransactions(index)
}

func (s *Server) getTransactions(_ *http.Request) (interface{}, error) {
	return s.ledger.Transactions(), nil
}

func (s *Server) getStatus(_ *http.Request) (interface{}, error) {
	blocks := s.ledger.Blocks()
	res := Status{
		TotalBlocks:       len(blocks),
		ConnectedSessions: s.sessions.Count(),
		Timestamp:         uint64(time.Now().Unix()),
	}
	if len(blocks) != 0 {
		if h := blocks[len(blocks)-1].Hash; h != "" {
			res.LastBlockHash = &h
		}
	}
	return res, nil
}
