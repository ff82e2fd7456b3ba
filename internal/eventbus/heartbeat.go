package eventbus

import "github.com/tonimelisma/filesync-core/internal/wire"

// Heartbeat records a liveness ping from sub and returns the ack event to
// send back over the wire (spec.md §4.7: the client's real clientId is
// echoed, not a server-fabricated one).
func Heartbeat(sub *Subscriber) wire.SyncEventDTO {
	sub.Touch()

	return wire.SyncEventDTO{
		EventType:  wire.EventHeartbeatAck,
		ClientID:   sub.ClientID,
		SyncStatus: wire.SyncStatusCompleted,
	}
}
