// Package hub is the Message Router (spec §4.H) plus the connection
// lifecycle wiring that ties every other component together.
package hub

import (
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/match"
	"github.com/Omezi42/anokoro-tcg-backend/internal/notify"
	"github.com/Omezi42/anokoro-tcg-backend/internal/queue"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/signal"
	"github.com/Omezi42/anokoro-tcg-backend/internal/spectate"
	"github.com/Omezi42/anokoro-tcg-backend/internal/store"
)

// Hub owns every hub-level component and is the single wiring point
// referenced by cmd/hubserver.
type Hub struct {
	store       *store.Store
	sessions    *session.Table
	queue       *queue.Queue
	coordinator *match.Coordinator
	relay       *signal.Relay
	rooms       *spectate.Registry
	notifier    *notify.Notifier
	log         *zap.Logger

	connSeq uint64
}

// New wires a Hub over an already-open Store Gateway.
func New(st *store.Store, log *zap.Logger) *Hub {
	sessions := session.New(log)
	q := queue.New(sessions, log)
	coordinator := match.New(st, sessions, log)
	relay := signal.New(sessions, log)
	rooms := spectate.New(relay, log)
	notifier := notify.New(sessions, rooms, q, log)

	return &Hub{
		store:       st,
		sessions:    sessions,
		queue:       q,
		coordinator: coordinator,
		relay:       relay,
		rooms:       rooms,
		notifier:    notifier,
		log:         log,
	}
}

func (h *Hub) nextConnID() uint64 {
	return atomic.AddUint64(&h.connSeq, 1)
}

// Liveness answers GET / with a fixed 200 body, per spec §6.
func (h *Hub) Liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleDisconnect runs when a connection's read pump exits, for any
// reason: client close, idle timeout, or a forced close from session
// takeover.
func (h *Hub) handleDisconnect(id session.ConnID) {
	userID := h.sessions.Remove(id)
	h.rooms.OnDisconnect(id)

	if userID != nil {
		h.queue.Leave(*userID)
		h.log.Info("connection closed", zap.Uint64("conn_id", uint64(id)), zap.String("user_id", userID.String()))
	} else {
		h.log.Info("connection closed", zap.Uint64("conn_id", uint64(id)))
	}

	h.notifier.PushQueueCount()
	h.notifier.PushBroadcastList()
}
