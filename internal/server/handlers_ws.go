package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tonimelisma/filesync-core/internal/eventbus"
	"github.com/tonimelisma/filesync-core/internal/wire"
)

// wsUpgrader mirrors OllamaMax's pkg/api/websocket.go upgrader: origin
// checking is delegated to the same CORS policy already applied to the
// REST surface, not re-implemented here.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleSessionSocket upgrades to a WebSocket and speaks the frame
// protocol described in spec.md §6 over it: SUBSCRIBE on connect,
// MESSAGE for outbound fan-out, SEND for the client's heartbeat.
//
// The bearer token is read the same way requireAuth reads it (spec.md
// §4.11: "authenticated with the user's bearer token added as an
// Authorization header at connect time"); gin's own requireAuth middleware
// isn't reused because the handshake happens before any JSON response body
// would be useful to the caller.
func (s *Server) handleSessionSocket(c *gin.Context) {
	header := c.GetHeader("Authorization")

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	username, err := s.authSvc.Verify(strings.TrimPrefix(header, prefix))
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	clientID := c.Query("client_id")

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(username, clientID)
	defer s.hub.Unsubscribe(sub)

	done := make(chan struct{})
	acks := make(chan wire.SyncEventDTO, 4)

	go s.socketReadLoop(conn, sub, acks, done)
	s.socketWriteLoop(conn, sub, acks, done)
}

// socketReadLoop processes frames the client sends: SUBSCRIBE (acknowledged
// implicitly, there is nothing to reply) and SEND to /app/heartbeat, which
// refreshes the subscriber's staleness clock and queues an ack carrying the
// client's own negotiated clientId back to the write loop — never a
// server-fabricated id (eventbus.Heartbeat).
func (s *Server) socketReadLoop(conn *websocket.Conn, sub *eventbus.Subscriber, acks chan<- wire.SyncEventDTO, done chan struct{}) {
	defer close(done)

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}

		f, err := wire.ReadFrame(bufio.NewReader(bytes.NewReader(data)))
		if err != nil {
			s.logger.Warn("malformed frame from client, dropping", "error", err)
			continue
		}

		if f.Command == wire.CmdSend && f.Headers["destination"] == wire.DestHeartbeat {
			select {
			case acks <- eventbus.Heartbeat(sub):
			default:
			}
		}
	}
}

// socketWriteLoop fans hub events and heartbeat acks out to the socket as
// MESSAGE frames until either the read loop observes the client going away
// or the socket write itself fails. It is the only goroutine that writes to
// conn, since gorilla/websocket connections aren't safe for concurrent
// writers.
func (s *Server) socketWriteLoop(conn *websocket.Conn, sub *eventbus.Subscriber, acks <-chan wire.SyncEventDTO, done chan struct{}) {
	ping := time.NewTicker(45 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return

		case event, ok := <-sub.Changes:
			if !ok {
				return
			}

			if err := writeEventFrame(conn, wire.DestFileChanges, event); err != nil {
				return
			}

		case event, ok := <-sub.Conflicts:
			if !ok {
				return
			}

			if err := writeEventFrame(conn, wire.DestConflicts, event); err != nil {
				return
			}

		case ack := <-acks:
			if err := writeEventFrame(conn, wire.DestHeartbeat, ack); err != nil {
				return
			}

		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEventFrame(conn *websocket.Conn, destination string, event wire.SyncEventDTO) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f := wire.NewMessageFrame(destination, body)

	return conn.WriteMessage(websocket.TextMessage, f.Encode())
}
