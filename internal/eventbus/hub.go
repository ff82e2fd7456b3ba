// Package eventbus fans out sync events and conflict notifications to a
// user's other connected clients (spec.md §4.7). Grounded on OllamaMax's
// pkg/api/websocket.go WebSocketHub: a register/unregister/broadcast
// channel loop owning the subscriber set, generalized from a single global
// client set to one fan-out group per username, and from a fixed broadcast
// channel to per-destination delivery (file-changes vs conflicts).
package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

// staleTimeout is how long a subscriber may go without a heartbeat before
// the hub considers it dead and evicts it (spec.md §4.7, §5).
const staleTimeout = 90 * time.Second

// sweepInterval is how often the hub scans for stale subscribers.
const sweepInterval = 30 * time.Second

const sendBuffer = 64

// Subscriber represents one connected client's fan-out channel.
type Subscriber struct {
	ClientID string
	Username string
	Changes  chan wire.SyncEventDTO
	Conflicts chan wire.SyncEventDTO

	lastSeen time.Time
}

// Touch records a heartbeat from this subscriber.
func (s *Subscriber) Touch() {
	s.lastSeen = time.Now()
}

type registration struct {
	sub    *Subscriber
	remove bool
}

// Hub is the in-process, per-username event fan-out table.
type Hub struct {
	logger *slog.Logger

	subscribers map[string]map[*Subscriber]struct{}
	register    chan registration
	changes     chan userEvent
	conflicts   chan userEvent
	countReq    chan countRequest
	done        chan struct{}
}

type countRequest struct {
	username string
	reply    chan int
}

type userEvent struct {
	username string
	event    wire.SyncEventDTO
}

// NewHub constructs a Hub. Call Run in a goroutine to start it.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		subscribers: make(map[string]map[*Subscriber]struct{}),
		register:    make(chan registration),
		changes:     make(chan userEvent, 256),
		conflicts:   make(chan userEvent, 256),
		countReq:    make(chan countRequest),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber for username and returns it; call
// Unsubscribe when the client disconnects.
func (h *Hub) Subscribe(username, clientID string) *Subscriber {
	sub := &Subscriber{
		ClientID: clientID, Username: username,
		Changes: make(chan wire.SyncEventDTO, sendBuffer), Conflicts: make(chan wire.SyncEventDTO, sendBuffer),
		lastSeen: time.Now(),
	}

	h.register <- registration{sub: sub}

	return sub
}

// Unsubscribe removes sub from the hub and closes its channels.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.register <- registration{sub: sub, remove: true}
}

// PublishFileChange fans event out to every other subscriber of username
// (spec.md §4.7: "to the user's other connected clients"). Implements
// internal/decision.Publisher.
func (h *Hub) PublishFileChange(_ context.Context, username string, event wire.SyncEventDTO) error {
	select {
	case h.changes <- userEvent{username: username, event: event}:
	case <-h.done:
	}

	return nil
}

// PublishConflict fans a conflict event out to every subscriber of username.
func (h *Hub) PublishConflict(_ context.Context, username string, event wire.SyncEventDTO) error {
	select {
	case h.conflicts <- userEvent{username: username, event: event}:
	case <-h.done:
	}

	return nil
}

// deliverExternal enqueues an event received from the Redis relay for local
// fan-out, the same way a locally-originated publish would.
func (h *Hub) deliverExternal(username string, event wire.SyncEventDTO, conflict bool) {
	ue := userEvent{username: username, event: event}

	if conflict {
		select {
		case h.conflicts <- ue:
		case <-h.done:
		}

		return
	}

	select {
	case h.changes <- ue:
	case <-h.done:
	}
}

// Run drives the hub's event loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			return

		case reg := <-h.register:
			h.applyRegistration(reg)

		case ue := <-h.changes:
			h.deliver(ue, false)

		case ue := <-h.conflicts:
			h.deliver(ue, true)

		case req := <-h.countReq:
			req.reply <- len(h.subscribers[req.username])

		case <-sweep.C:
			h.sweepStale()
		}
	}
}

func (h *Hub) applyRegistration(reg registration) {
	set, ok := h.subscribers[reg.sub.Username]

	if reg.remove {
		if ok {
			delete(set, reg.sub)
			close(reg.sub.Changes)
			close(reg.sub.Conflicts)

			if len(set) == 0 {
				delete(h.subscribers, reg.sub.Username)
			}
		}

		return
	}

	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subscribers[reg.sub.Username] = set
	}

	set[reg.sub] = struct{}{}
	h.logger.Info("subscriber registered", "username", reg.sub.Username, "client_id", reg.sub.ClientID)
}

func (h *Hub) deliver(ue userEvent, conflict bool) {
	for sub := range h.subscribers[ue.username] {
		// Don't echo a change back to the client that caused it — but a
		// client must still see its own conflict notice on another
		// connected device, so the exclusion doesn't apply here.
		if !conflict && sub.ClientID == ue.event.ClientID {
			continue
		}

		ch := sub.Changes
		if conflict {
			ch = sub.Conflicts
		}

		select {
		case ch <- ue.event:
		default:
			h.logger.Warn("subscriber send buffer full, dropping event", "username", ue.username, "client_id", sub.ClientID)
		}
	}
}

func (h *Hub) sweepStale() {
	now := time.Now()

	for username, set := range h.subscribers {
		for sub := range set {
			if now.Sub(sub.lastSeen) > staleTimeout {
				h.logger.Info("evicting stale subscriber", "username", username, "client_id", sub.ClientID)
				delete(set, sub)
				close(sub.Changes)
				close(sub.Conflicts)
			}
		}

		if len(set) == 0 {
			delete(h.subscribers, username)
		}
	}
}

// SubscriberCount returns the number of connected subscribers for username,
// for tests and diagnostics. Safe to call concurrently with Run.
func (h *Hub) SubscriberCount(username string) int {
	reply := make(chan int, 1)

	select {
	case h.countReq <- countRequest{username: username, reply: reply}:
	case <-h.done:
		return 0
	}

	return <-reply
}
