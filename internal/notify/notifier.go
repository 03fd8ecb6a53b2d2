// Package notify is the Broadcast-List Notifier (spec §4.G): a stateless
// pusher of room-list and queue-count deltas to every open connection.
package notify

import (
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/queue"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/spectate"
)

// Notifier holds no state of its own; it derives every push from the
// components it fans out from.
type Notifier struct {
	sessions *session.Table
	rooms    *spectate.Registry
	queue    *queue.Queue
	log      *zap.Logger
}

// New constructs a Notifier over the hub's session table, room registry,
// and matchmaking queue.
func New(sessions *session.Table, rooms *spectate.Registry, q *queue.Queue, log *zap.Logger) *Notifier {
	return &Notifier{sessions: sessions, rooms: rooms, queue: q, log: log}
}

// PushBroadcastList sends the current room list to every open connection.
// Called on room creation, room destruction, and explicit
// get_broadcast_list requests.
func (n *Notifier) PushBroadcastList() {
	m := frame.Event("broadcast_list_update", frame.M{"rooms": n.rooms.List()})
	n.fanOut(m)
}

// PushQueueCount sends the current queue depth to every open connection.
// Called on any enqueue, leave, or pairing attempt.
func (n *Notifier) PushQueueCount() {
	m := frame.Event("queue_count_update", frame.M{"count": n.queue.Len()})
	n.fanOut(m)
}

func (n *Notifier) fanOut(m frame.M) {
	for _, connID := range n.sessions.SnapshotConnIDs() {
		n.sessions.Send(connID, m)
	}
}
