// Package queue is the Matchmaking Queue (spec §4.C): a strict-FIFO waiting
// list of user ids that pairs consecutive live entries into matches.
package queue

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Live is the narrow view of the Session Table the queue needs: whether a
// user currently has a live, bound connection. Kept as an interface so this
// package does not import internal/session and create a cycle with
// whichever component ends up owning pairing dispatch.
type Live interface {
	IsLive(userID uuid.UUID) bool
}

// Pairer creates a match for two users once TryPair finds a live pair. It
// is the seam to the Match Coordinator (internal/match), again kept as an
// interface to avoid an import cycle (the coordinator does not need to
// depend on the queue's concrete type either).
type Pairer interface {
	CreateMatch(p1, p2 uuid.UUID) error
}

// Queue is the Matchmaking Queue.
type Queue struct {
	mu      sync.Mutex
	entries []uuid.UUID

	live Live
	log  *zap.Logger
}

// New constructs an empty queue.
func New(live Live, log *zap.Logger) *Queue {
	return &Queue{live: live, log: log}
}

// Enqueue appends userID if not already present. Returns true if it was
// added.
func (q *Queue) Enqueue(userID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.entries {
		if id == userID {
			return false
		}
	}
	q.entries = append(q.entries, userID)
	return true
}

// Leave removes userID if present. Returns true if it was removed.
func (q *Queue) Leave(userID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(userID)
}

func (q *Queue) removeLocked(userID uuid.UUID) bool {
	for i, id := range q.entries {
		if id == userID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// TryPair attempts to pair the head of the queue with the next live entry,
// per spec §4.C: pop the head and the next entry; if either has gone stale
// (no live connection), re-enqueue the still-live one at the head and stop;
// otherwise dispatch a match and stop. Called by the hub after each
// join_queue enqueue.
func (q *Queue) TryPair(pairer Pairer) {
	for {
		p1, p2, ok := q.popPairLocked()
		if !ok {
			return
		}

		p1Live := q.live.IsLive(p1)
		p2Live := q.live.IsLive(p2)

		if p1Live && p2Live {
			if err := pairer.CreateMatch(p1, p2); err != nil {
				q.log.Warn("create match failed, re-queueing both", zap.Error(err))
				q.requeueHead(p1)
				q.requeueHead(p2)
			}
			return
		}

		// At most one is live; put it back at the head and stop — the
		// spec does not ask us to keep draining past a stale entry.
		if p1Live {
			q.requeueHead(p1)
		} else if p2Live {
			q.requeueHead(p2)
		}
		return
	}
}

// popPairLocked removes and returns the first two entries, if present.
func (q *Queue) popPairLocked() (p1, p2 uuid.UUID, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) < 2 {
		return uuid.Nil, uuid.Nil, false
	}
	p1, p2 = q.entries[0], q.entries[1]
	q.entries = q.entries[2:]
	return p1, p2, true
}

// requeueHead reinserts userID at the front of the queue, preserving its
// earlier position relative to anyone enqueued after it.
func (q *Queue) requeueHead(userID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]uuid.UUID{userID}, q.entries...)
}
