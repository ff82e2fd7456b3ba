package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/filesync-core/internal/transport"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

type fixedToken struct{ v string }

func (f fixedToken) Token() (string, error) { return f.v, nil }

func TestSessionSocketFanOutSkipsOriginatingClient(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.hub.Run(ctx)

	httpSrv := httptest.NewServer(s.Router())
	defer httpSrv.Close()

	token := registerAndLogin(t, s, "bob")
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/api/ws"

	var mu sync.Mutex
	var received []wire.SyncEventDTO
	connectedCh := make(chan bool, 4)

	conn := transport.New(transport.Options{
		URL: wsURL, ClientID: "client-A", Token: fixedToken{token},
		OnChange: func(e wire.SyncEventDTO) {
			mu.Lock()
			received = append(received, e)
			mu.Unlock()
		},
		OnConnected: func(connected bool) { connectedCh <- connected },
	})

	connCtx, connCancel := context.WithCancel(context.Background())
	defer connCancel()

	go conn.Run(connCtx)
	defer conn.Stop()

	select {
	case v := <-connectedCh:
		require.True(t, v)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for connected callback")
	}

	// Give the server a moment to register the subscription before publishing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, s.hub.PublishFileChange(ctx, "bob", wire.SyncEventDTO{
		EventID: "echo", ClientID: "client-A", FilePath: "self.txt",
	}))
	require.NoError(t, s.hub.PublishFileChange(ctx, "bob", wire.SyncEventDTO{
		EventID: "other", ClientID: "client-B", FilePath: "other.txt",
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		for _, e := range received {
			if e.EventID == "other" {
				return true
			}
		}

		return false
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	for _, e := range received {
		require.NotEqual(t, "echo", e.EventID, "hub must not echo an event back to its originating client")
	}
	mu.Unlock()
}

func TestSessionSocketRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	httpSrv := httptest.NewServer(s.Router())
	defer httpSrv.Close()

	req := httptest.NewRequest("GET", "/api/ws", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, 401, rec.Code)
}
