package stream

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/nspcc-dev/nexa-sim/pkg/event"
	"github.com/nspcc-dev/nexa-sim/pkg/pubsub"
	"github.com/nspcc-dev/nexa-sim/pkg/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestServer(t *testing.T, maxClients int, log *zap.Logger) (*Server, *pubsub.Bus, *session.Registry, *httptest.Server) {
	bus := pubsub.New(pubsub.DefaultCapacity, log)
	reg := session.NewRegistry()
	s := New(config.Streaming{MaxClients: maxClients}, bus, reg, log, make(chan error, 1))
	httpSrv := httptest.NewServer(s)
	t.Cleanup(func() {
		s.Shutdown()
		s.Wait()
		httpSrv.Close()
	})
	return s, bus, reg, httpSrv
}

func dial(t *testing.T, httpSrv *httptest.Server) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: time.Second}
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	return dialer.Dial(url, nil)
}

func connect(t *testing.T, httpSrv *httptest.Server, reg *session.Registry, expected int) *websocket.Conn {
	ws, r, err := dial(t, httpSrv)
	require.NoError(t, err)
	defer r.Body.Close()
	t.Cleanup(func() { ws.Close() })

	// The subscription is made before the session is attached.
	require.Eventually(t, func() bool { return reg.Count() == expected }, time.Second, 5*time.Millisecond)
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) event.Event {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	typ, body, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, typ)
	e, err := event.Decode(body)
	require.NoError(t, err)
	return e
}

func TestEventsInOrder(t *testing.T) {
	_, bus, reg, httpSrv := newTestServer(t, 4, zaptest.NewLogger(t))
	ws1 := connect(t, httpSrv, reg, 1)
	ws2 := connect(t, httpSrv, reg, 2)
	require.Equal(t, 2, bus.ActiveSubscribers())

	events := []event.Event{
		event.TransactionCreated{From: "A", To: "B", Amount: 100, Fee: 1, BlockIndex: 1},
		event.TransactionCreated{From: "B", To: "A", Amount: 50, Fee: 1, BlockIndex: 1},
		event.MiningStarted{BlockIndex: 1, Miner: "miner", Timestamp: 1700000000},
		event.BlockMined{BlockIndex: 1, Hash: "00ab", Miner: "miner", Timestamp: 1700000000, TxCount: 2},
		event.LedgerUpdated{TotalBlocks: 2, TotalTransactions: 2},
	}
	for _, e := range events {
		bus.Publish(e)
	}
	for _, ws := range []*websocket.Conn{ws1, ws2} {
		for _, expected := range events {
			require.Equal(t, expected, readEvent(t, ws))
		}
	}
}

func TestFrameFormat(t *testing.T) {
	_, bus, reg, httpSrv := newTestServer(t, 4, zaptest.NewLogger(t))
	ws := connect(t, httpSrv, reg, 1)

	bus.Publish(event.LedgerUpdated{TotalBlocks: 3, TotalTransactions: 4})
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	_, body, err := ws.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"ledger_updated","payload":{"total_blocks":3,"total_transactions":4}}`, string(body))
}

func TestDetachOnClientClose(t *testing.T) {
	_, bus, reg, httpSrv := newTestServer(t, 4, zaptest.NewLogger(t))
	ws := connect(t, httpSrv, reg, 1)
	require.Equal(t, 1, bus.ActiveSubscribers())

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ws.Close()

	require.Eventually(t, func() bool {
		return reg.Count() == 0 && bus.ActiveSubscribers() == 0
	}, time.Second, 5*time.Millisecond)

	// Nobody listens anymore, publishing must not block.
	bus.Publish(event.LedgerUpdated{TotalBlocks: 1})
}

func TestDetachOnAbruptDisconnect(t *testing.T) {
	_, bus, reg, httpSrv := newTestServer(t, 4, zaptest.NewLogger(t))
	ws := connect(t, httpSrv, reg, 1)
	ws.UnderlyingConn().Close()

	require.Eventually(t, func() bool {
		return reg.Count() == 0 && bus.ActiveSubscribers() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestMaxClients(t *testing.T) {
	_, _, reg, httpSrv := newTestServer(t, 1, zaptest.NewLogger(t))
	connect(t, httpSrv, reg, 1)

	_, r, err := dial(t, httpSrv)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, r)
	defer r.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, r.StatusCode)
	require.Equal(t, 1, reg.Count())
}

func TestHandshakeFailureKeepsAccepting(t *testing.T) {
	_, bus, reg, httpSrv := newTestServer(t, 4, zaptest.NewLogger(t))

	// Plain HTTP request, no upgrade headers.
	resp, err := http.Get(httpSrv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, 0, reg.Count())
	require.Equal(t, 0, bus.ActiveSubscribers())

	connect(t, httpSrv, reg, 1)
	require.Equal(t, 1, bus.ActiveSubscribers())
}

func TestWriteFailureEndsWriter(t *testing.T) {
	log := zaptest.NewLogger(t)
	bus := pubsub.New(pubsub.DefaultCapacity, log)
	s := New(config.Streaming{}, bus, session.NewRegistry(), log, make(chan error, 1))
	sub := bus.Subscribe()
	defer sub.Close()

	done := make(chan error, 1)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		ws.Close()
		done <- s.handleWsWrites(s.ctx, ws, sub, log)
	}))
	defer httpSrv.Close()

	ws, r, err := dial(t, httpSrv)
	require.NoError(t, err)
	defer r.Body.Close()
	defer ws.Close()

	bus.Publish(event.LedgerUpdated{TotalBlocks: 1})
	select {
	case err := <-done:
		require.Error(t, err)
		require.NotErrorIs(t, err, errSessionEnded)
	case <-time.After(time.Second):
		t.Fatal("writer didn't fail")
	}
}

func TestWriteFailureDetachesSession(t *testing.T) {
	log := zaptest.NewLogger(t)
	bus := pubsub.New(pubsub.DefaultCapacity, log)
	reg := session.NewRegistry()
	s := New(config.Streaming{}, bus, reg, log, make(chan error, 1))
	t.Cleanup(func() {
		s.Shutdown()
		s.Wait()
	})

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.addSession() {
			return
		}
		defer s.wg.Done()
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Writes fail while reads keep blocking.
		if err := ws.UnderlyingConn().(*net.TCPConn).CloseWrite(); err != nil {
			ws.Close()
			return
		}
		s.serveSession(ws, r.RemoteAddr)
	}))
	defer httpSrv.Close()

	connect(t, httpSrv, reg, 1)
	require.Equal(t, 1, bus.ActiveSubscribers())

	bus.Publish(event.LedgerUpdated{TotalBlocks: 1})
	require.Eventually(t, func() bool {
		return reg.Count() == 0 && bus.ActiveSubscribers() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestNoSessionsAfterShutdown(t *testing.T) {
	s, bus, reg, httpSrv := newTestServer(t, 16, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ws, r, err := dial(t, httpSrv)
			if r != nil {
				r.Body.Close()
			}
			if err == nil {
				ws.Close()
			}
		}()
	}
	s.Shutdown()
	s.Wait()
	wg.Wait()
	s.Wait()
	require.Equal(t, 0, reg.Count())
	require.Equal(t, 0, bus.ActiveSubscribers())

	_, r, err := dial(t, httpSrv)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, r)
	defer r.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, r.StatusCode)
}

func TestShutdownEndsSessions(t *testing.T) {
	s, bus, reg, httpSrv := newTestServer(t, 4, zaptest.NewLogger(t))
	ws := connect(t, httpSrv, reg, 1)

	s.Shutdown()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)

	s.Wait()
	require.Equal(t, 0, reg.Count())
	require.Equal(t, 0, bus.ActiveSubscribers())
}

func TestPingIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	_, _, reg, httpSrv := newTestServer(t, 4, zap.New(core))
	ws := connect(t, httpSrv, reg, 1)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("pong").Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestLaggingClientGetsMissed(t *testing.T) {
	log := zaptest.NewLogger(t)
	bus := pubsub.New(4, log)
	s := New(config.Streaming{}, bus, session.NewRegistry(), log, make(chan error, 1))

	// The subscription falls behind before the writer starts.
	sub := bus.Subscribe()
	for i := 0; i < 10; i++ {
		bus.Publish(event.LedgerUpdated{TotalBlocks: i})
	}

	done := make(chan error, 1)
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			done <- err
			return
		}
		defer ws.Close()
		done <- s.handleWsWrites(s.ctx, ws, sub, log)
	}))
	defer httpSrv.Close()

	ws, r, err := dial(t, httpSrv)
	require.NoError(t, err)
	defer r.Body.Close()
	defer ws.Close()

	require.Equal(t, event.Missed{Count: 6}, readEvent(t, ws))
	for i := 6; i < 10; i++ {
		require.Equal(t, event.LedgerUpdated{TotalBlocks: i}, readEvent(t, ws))
	}

	s.Shutdown()
	select {
	case err := <-done:
		require.ErrorIs(t, err, errSessionEnded)
	case <-time.After(time.Second):
		t.Fatal("writer didn't stop on shutdown")
	}
	sub.Close()
}

func TestStartAndShutdown(t *testing.T) {
	log := zaptest.NewLogger(t)
	errCh := make(chan error, 1)
	conf := config.Streaming{
		BasicService: config.BasicService{Enabled: true, Addresses: []string{"127.0.0.1:0"}},
	}
	reg := session.NewRegistry()
	s := New(conf, pubsub.New(0, log), reg, log, errCh)
	require.Equal(t, "streaming", s.Name())
	s.Start()
	defer s.Shutdown()

	addrs := s.Addresses()
	require.Len(t, addrs, 1)
	require.NotEqual(t, "127.0.0.1:0", addrs[0])

	dialer := websocket.Dialer{HandshakeTimeout: time.Second}
	ws, r, err := dialer.Dial("ws://"+addrs[0], nil)
	require.NoError(t, err)
	defer r.Body.Close()
	defer ws.Close()
	require.Eventually(t, func() bool { return reg.Count() == 1 }, time.Second, 5*time.Millisecond)

	s.Shutdown()
	s.Wait()
	require.Equal(t, 0, reg.Count())
	select {
	case err := <-errCh:
		t.Fatalf("unexpected server error: %v", err)
	default:
	}
}

func TestStartBindFailure(t *testing.T) {
	log := zaptest.NewLogger(t)
	errCh := make(chan error, 1)
	conf := config.Streaming{
		BasicService: config.BasicService{Enabled: true, Addresses: []string{"127.0.0.1:0"}},
	}
	first := New(conf, pubsub.New(0, log), session.NewRegistry(), log, make(chan error, 1))
	first.Start()
	defer first.Shutdown()

	conf.Addresses = first.Addresses()
	second := New(conf, pubsub.New(0, log), session.NewRegistry(), log, errCh)
	second.Start()
	defer second.Shutdown()
	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("no bind error reported")
	}
}
