package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/nspcc-dev/nexa-sim/pkg/event"
	"github.com/nspcc-dev/nexa-sim/pkg/pubsub"
	"github.com/nspcc-dev/nexa-sim/pkg/session"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type (
	// Server streams domain events to websocket clients.
	Server struct {
		config   config.Streaming
		bus      *pubsub.Bus
		sessions *session.Registry
		log      *zap.Logger
		upgrader websocket.Upgrader
		servers  []*http.Server
		errChan  chan error
		started  *atomic.Bool

		// ctx is the base context of all sessions, it's cancelled on
		// Shutdown.
		ctx    context.Context
		cancel context.CancelFunc

		// sessLock orders session registration with Shutdown, no session
		// is added to wg after ctx is cancelled.
		sessLock sync.Mutex
		// wg tracks running sessions.
		wg sync.WaitGroup
	}
)

const (
	// Disconnection timeout.
	wsPongLimit = 60 * time.Second

	// Ping period for connection liveness check.
	wsPingPeriod = wsPongLimit / 2

	// Write deadline.
	wsWriteLimit = wsPingPeriod / 2

	// wsReadLimit is the maximum size of a client message, they're not
	// expected to be large.
	wsReadLimit = 4096

	// Default maximum number of websocket clients per Server.
	defaultMaxClients = 64

	// pingMessage is acknowledged by the server.
	pingMessage = "ping"
)

// errSessionEnded is returned by session duties on normal termination so
// that the other duty is cancelled.
var errSessionEnded = errors.New("session ended")

// New creates a new streaming Server. Bind errors are reported via errChan
// after Start.
func New(conf config.Streaming, bus *pubsub.Bus, sessions *session.Registry, log *zap.Logger, errChan chan error) *Server {
	if conf.MaxClients == 0 {
		conf.MaxClients = defaultMaxClients
		log.Info("MaxClients is not set or wrong, setting default value", zap.Int("MaxClients", defaultMaxClients))
	}
	var wsOriginChecker func(*http.Request) bool
	if conf.EnableCORSWorkaround {
		wsOriginChecker = func(_ *http.Request) bool { return true }
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   conf,
		bus:      bus,
		sessions: sessions,
		log:      log.With(zap.String("service", "streaming")),
		upgrader: websocket.Upgrader{CheckOrigin: wsOriginChecker},
		errChan:  errChan,
		started:  atomic.NewBool(false),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, addr := range conf.Addresses {
		s.servers = append(s.servers, &http.Server{
			Addr:              addr,
			Handler:           s,
			ReadHeaderTimeout: wsWriteLimit,
		})
	}
	return s
}

// Name returns service name.
func (s *Server) Name() string {
	return "streaming"
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
// immediately, accept loops run in separate goroutines and report their
// failures via errChan. The Server only starts once, subsequent calls are
// no-op.
func (s *Server) Start() {
	if !s.config.Enabled {
		s.log.Info("streaming server is not enabled")
		return
	}
	if !s.started.CompareAndSwap(false, true) {
		s.log.Info("streaming server already started")
		return
	}
	for _, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			s.errChan <- err
			return
		}
		srv.Addr = ln.Addr().String() // set Addr to the actual address
		s.log.Info("starting streaming server", zap.String("endpoint", "ws://"+srv.Addr))
		go func(srv *http.Server) {
			err := srv.Serve(ln)
			if !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("failed to start streaming server", zap.Error(err))
				s.errChan <- err
			}
		}(srv)
	}
}

// Shutdown stops accepting new connections and signals live sessions to
// finish. It doesn't wait for them.
func (s *Server) Shutdown() {
	s.sessLock.Lock()
	s.cancel()
	s.sessLock.Unlock()
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	for _, srv := range s.servers {
		s.log.Info("shutting down streaming server", zap.String("endpoint", srv.Addr))
		err := srv.Shutdown(context.Background())
		if err != nil {
			s.log.Warn("error during streaming server shutdown", zap.Error(err))
		}
	}
}

// Wait waits for all sessions to finish. It must be called after Shutdown.
func (s *Server) Wait() {
	s.wg.Wait()
}

// addSession reserves a slot in wg for a new session, it fails once the
// Server is shut down.
func (s *Server) addSession() bool {
	s.sessLock.Lock()
	defer s.sessLock.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.wg.Add(1)
	return true
}

// ServeHTTP implements the http.Handler interface, it upgrades the connection
// and serves the session until one of its sides fails.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Technically there is a race between this check and the session
	// registration below, some additional clients may sneak in, no big deal.
	if s.sessions.Count() >= s.config.MaxClients {
		http.Error(w, "websocket users limit reached", http.StatusServiceUnavailable)
		return
	}
	if !s.addSession() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader has already replied with an error.
		s.log.Info("websocket connection upgrade failed",
			zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.serveSession(ws, r.RemoteAddr)
}

func (s *Server) serveSession(ws *websocket.Conn, remote string) {
	id := uuid.New()
	log := s.log.With(zap.Stringer("session", id))
	sub := s.bus.Subscribe()

	s.sessions.Attach(id)
	log.Info("client connected", zap.String("remote", remote))
	defer func() {
		sub.Close()
		s.sessions.Detach(id)
		log.Info("client disconnected")
	}()

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		return s.handleWsReads(ws, log)
	})
	g.Go(func() error {
		return s.handleWsWrites(ctx, ws, sub, log)
	})
	g.Go(func() error {
		// Reads are only interrupted by closing the connection.
		<-ctx.Done()
		ws.Close()
		return nil
	})
	err := g.Wait()
	if err != nil && !errors.Is(err, errSessionEnded) {
		log.Debug("session terminated", zap.Error(err))
	}
}

// handleWsReads is the inbound session duty. Client messages don't control
// anything, they're only logged.
func (s *Server) handleWsReads(ws *websocket.Conn, log *zap.Logger) error {
	ws.SetReadLimit(wsReadLimit)
	err := ws.SetReadDeadline(time.Now().Add(wsPongLimit))
	if err != nil {
		return err
	}
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(wsPongLimit)) })
	for {
		typ, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errSessionEnded
			}
			return err
		}
		if err := ws.SetReadDeadline(time.Now().Add(wsPongLimit)); err != nil {
			return err
		}
		if typ != websocket.TextMessage {
			continue
		}
		log.Debug("received message from client", zap.ByteString("message", msg))
		if string(msg) == pingMessage {
			log.Info("pong", zap.String("message", pingMessage))
		}
	}
}

// handleWsWrites is the outbound session duty, it writes events in the order
// they're received from the subscription.
func (s *Server) handleWsWrites(ctx context.Context, ws *websocket.Conn, sub *pubsub.Subscription, log *zap.Logger) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, wsPingPeriod)
		e, missed, err := sub.Next(waitCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return errSessionEnded
			case errors.Is(err, context.DeadlineExceeded):
				if err := s.writeMessage(ws, websocket.PingMessage, []byte{}); err != nil {
					return err
				}
				continue
			case errors.Is(err, pubsub.ErrClosed):
				return errSessionEnded
			default:
				return err
			}
		}
		if missed != 0 {
			log.Warn("client is too slow, events missed", zap.Uint64("count", missed))
			if err := s.writeEvent(ws, event.Missed{Count: missed}, log); err != nil {
				return err
			}
		}
		if err := s.writeEvent(ws, e, log); err != nil {
			return err
		}
	}
}

// writeEvent sends a single event to the client. Events that can't be encoded
// are skipped.
func (s *Server) writeEvent(ws *websocket.Conn, e event.Event, log *zap.Logger) error {
	b, err := event.Encode(e)
	if err != nil {
		log.Error("failed to encode event, skipping", zap.Error(err))
		return nil
	}
	err = s.writeMessage(ws, websocket.TextMessage, b)
	if err != nil {
		log.Debug("failed to deliver event", zap.Stringer("event", e.ID()), zap.Error(err))
		return err
	}
	eventsDelivered.Inc()
	return nil
}

func (s *Server) writeMessage(ws *websocket.Conn, typ int, data []byte) error {
	if err := ws.SetWriteDeadline(time.Now().Add(wsWriteLimit)); err != nil {
		return err
	}
	return ws.WriteMessage(typ, data)
}
