package query

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru"
	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/nspcc-dev/nexa-sim/pkg/core"
	"github.com/nspcc-dev/nexa-sim/pkg/core/block"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type (
	// Ledger is the read-only ledger view used by the Server.
	Ledger interface {
		Blocks() []*block.Block
		GetBlock(index uint32) (*block.Block, error)
		Transactions() []core.TransactionRecord
		BlockTransactions(index uint32) ([]core.TransactionRecord, error)
	}

	// SessionCounter reports the number of connected streaming clients.
	SessionCounter interface {
		Count() int
	}

	// Server answers HTTP queries over the ledger.
	Server struct {
		config   config.Query
		ledger   Ledger
		sessions SessionCounter
		log      *zap.Logger
		handler  http.Handler
		servers  []*http.Server
		errChan  chan error
		started  *atomic.Bool

		// blocks caches JSON encodings of blocks by their index, blocks
		// never change once added.
		blocks *lru.Cache
	}

	// Status is the ledger summary returned by /api/status.
	Status struct {
		TotalBlocks       int     `json:"total_blocks"`
		ConnectedSessions int     `json:"connected_sessions"`
		LastBlockHash     *string `json:"last_block_hash"`
		Timestamp         uint64  `json:"timestamp"`
	}

	// errorResponse is returned with any non-200 code.
	errorResponse struct {
		Error string `json:"error"`
	}
)

const (
	defaultBlockCacheSize = 128

	// httpTimeout is applied to reads and writes of query connections.
	httpTimeout = 10 * time.Second
)

// New creates a new query Server. Bind errors are reported via errChan after
// Start.
func New(conf config.Query, ledger Ledger, sessions SessionCounter, log *zap.Logger, errChan chan error) *Server {
	if conf.BlockCacheSize <= 0 {
		conf.BlockCacheSize = defaultBlockCacheSize
	}
	cache, err := lru.New(conf.BlockCacheSize)
	if err != nil {
		// Only possible with non-positive size.
		panic(err)
	}
	s := &Server{
		config:   conf,
		ledger:   ledger,
		sessions: sessions,
		log:      log.With(zap.String("service", "query")),
		errChan:  errChan,
		started:  atomic.NewBool(false),
		blocks:   cache,
	}
	s.handler = s.newRouter()
	for _, addr := range conf.Addresses {
		s.servers = append(s.servers, &http.Server{
			Addr:              addr,
			Handler:           s.handler,
			ReadHeaderTimeout: httpTimeout,
			ReadTimeout:       httpTimeout,
			WriteTimeout:      httpTimeout,
		})
	}
	return s
}

func (s *Server) newRouter() http.Handler {
	r := mux.NewRouter()
	for _, rt := range routes {
		r.Handle(rt.path, s.wrap(rt.name, rt.handler)).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, errors.New("not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})

	var h http.Handler = r
	if s.config.EnableCORSWorkaround {
		h = handlers.CORS(
			handlers.AllowedOrigins([]string{"*"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Requested-With"}),
		)(h)
	}
	return handlers.RecoveryHandler(handlers.RecoveryLogger(zap.NewStdLog(s.log)))(h)
}

// Name returns service name.
func (s *Server) Name() string {
	return "query"
}

// Handler returns the HTTP handler serving all query routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addresses returns actual listening addresses, they're only known after
// Start.
func (s *Server) Addresses() []string {
	res := make([]string, 0, len(s.servers))
	for _, srv := range s.servers {
		res = append(res, srv.Addr)
	}
	return res
}

// Start starts listening on all configured addresses. It returns
// immediately, failures are reported via errChan.
func (s *Server) Start() {
	if !s.config.Enabled {
		s.log.Info("query service is not enabled")
		return
	}
	if !s.started.CompareAndSwap(false, true) {
		s.log.Info("query service already started")
		return
	}
	for _, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			s.errChan <- err
			return
		}
		srv.Addr = ln.Addr().String() // set Addr to the actual address
		s.log.Info("starting query service", zap.String("endpoint", "http://"+srv.Addr))
		go func(srv *http.Server) {
			err := srv.Serve(ln)
			if !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("failed to start query service", zap.Error(err))
				s.errChan <- err
			}
		}(srv)
	}
}

// Shutdown stops the service waiting for active requests to finish.
func (s *Server) Shutdown() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	for _, srv := range s.servers {
		s.log.Info("shutting down query service", zap.String("endpoint", srv.Addr))
		ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		err := srv.Shutdown(ctx)
		cancel()
		if err != nil {
			s.log.Warn("error during query service shutdown", zap.Error(err))
		}
	}
}

func (s *Server) wrap(name string, h handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() { addReqTimeMetric(name, time.Since(start)) }()

		res, err := h(s, r)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, core.ErrBlockNotFound) {
				code = http.StatusNotFound
			}
			s.log.Debug("query failed", zap.String("route", name),
				zap.String("path", r.URL.Path), zap.Error(err))
			s.writeError(w, code, err)
			return
		}
		s.writeJSON(w, http.StatusOK, res)
	})
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.log.Error("error encountered while encoding response", zap.Error(err))
	}
}

// encodedBlock returns JSON representation of the block with the given
// index using the cache when possible.
func (s *Server) encodedBlock(b *block.Block) (json.RawMessage, error) {
	if v, ok := s.blocks.Get(b.Index); ok {
		blockCacheHits.Inc()
		return v.(json.RawMessage), nil
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	s.blocks.Add(b.Index, json.RawMessage(data))
	return data, nil
}
