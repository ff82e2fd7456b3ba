package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

type staticToken struct{ v string }

func (s staticToken) Token() (string, error) { return s.v, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testServer is a minimal pub/sub peer speaking the same frame protocol,
// used to exercise Conn without depending on internal/server.
type testServer struct {
	mu           sync.Mutex
	lastAuth     string
	subscribed   []string
	heartbeats   int32
	pushOnSubAt1 wire.SyncEventDTO
}

func newTestServer(t *testing.T, srv *testServer) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.mu.Lock()
		srv.lastAuth = r.Header.Get("Authorization")
		srv.mu.Unlock()

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()

		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}

			f, err := wire.ReadFrame(bufio.NewReader(bytes.NewReader(data)))
			if err != nil {
				return
			}

			switch f.Command {
			case wire.CmdSubscribe:
				srv.mu.Lock()
				srv.subscribed = append(srv.subscribed, f.Headers["destination"])
				n := len(srv.subscribed)
				srv.mu.Unlock()

				if n == 2 {
					body, _ := json.Marshal(srv.pushOnSubAt1)
					msg := wire.NewMessageFrame(wire.DestFileChanges, body)
					_ = c.Write(ctx, websocket.MessageText, msg.Encode())
				}
			case wire.CmdSend:
				if f.Headers["destination"] == wire.DestHeartbeat {
					atomic.AddInt32(&srv.heartbeats, 1)
				}
			}
		}
	}))
}

func TestConnectSubscribesAndSendsBearerToken(t *testing.T) {
	srv := &testServer{}
	httpSrv := newTestServer(t, srv)
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):]

	var mu sync.Mutex
	var received wire.SyncEventDTO
	got := make(chan struct{})

	conn := New(Options{
		URL: wsURL, ClientID: "client-1", Token: staticToken{"tok-123"}, Logger: discardLogger(),
		OnChange: func(e wire.SyncEventDTO) {
			mu.Lock()
			received = e
			mu.Unlock()
			close(got)
		},
	})

	srv.pushOnSubAt1 = wire.SyncEventDTO{EventID: "e1", FilePath: "a.txt"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go conn.Run(ctx)

	select {
	case <-got:
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for dispatched event")
	}

	mu.Lock()
	require.Equal(t, "e1", received.EventID)
	mu.Unlock()

	srv.mu.Lock()
	require.Equal(t, "Bearer tok-123", srv.lastAuth)
	require.ElementsMatch(t, []string{wire.DestFileChanges, wire.DestConflicts}, srv.subscribed)
	srv.mu.Unlock()

	conn.Stop()
}

func TestStopPreventsReconnect(t *testing.T) {
	srv := &testServer{}
	httpSrv := newTestServer(t, srv)
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):]

	conn := New(Options{URL: wsURL, ClientID: "c1", Token: staticToken{"t"}, Logger: discardLogger()})

	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	conn.Stop()

	require.False(t, conn.wantsReconnect())
}

func TestHeartbeatSentOnInterval(t *testing.T) {
	srv := &testServer{}
	httpSrv := newTestServer(t, srv)
	defer httpSrv.Close()

	wsURL := "ws" + httpSrv.URL[len("http"):]

	conn := New(Options{URL: wsURL, ClientID: "c1", Token: staticToken{"t"}, Logger: discardLogger()})
	conn.heartbeatIntervalOverride = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_ = conn.Run(ctx)

	require.GreaterOrEqual(t, atomic.LoadInt32(&srv.heartbeats), int32(2))
}
