// Package spectate is the Spectate Room Registry (spec §4.F): rooms with
// one broadcaster and many spectators, an offer cache for latecomers, and
// join/leave/teardown lifecycle.
package spectate

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/signal"
)

// Room is a live spectate session.
type Room struct {
	Token               string
	BroadcasterConnID   session.ConnID
	BroadcasterUsername string
	Spectators          map[session.ConnID]bool
	CachedOffer         frame.M
}

// Registry is the Spectate Room Registry.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	// byBroadcasterConn is the reverse index used both to reject a second
	// start_broadcast from an already-broadcasting connection and to find
	// a disconnecting connection's room without scanning every room.
	byBroadcasterConn map[session.ConnID]string

	relay *signal.Relay
	log   *zap.Logger
}

// New constructs an empty registry.
func New(relay *signal.Relay, log *zap.Logger) *Registry {
	return &Registry{
		rooms:             make(map[string]*Room),
		byBroadcasterConn: make(map[session.ConnID]string),
		relay:             relay,
		log:               log,
	}
}

// StartBroadcast mints a room token for ownerConnID and returns it.
func (r *Registry) StartBroadcast(ownerConnID session.ConnID, ownerUsername string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byBroadcasterConn[ownerConnID]; exists {
		return "", ErrAlreadyOwning
	}

	token := newToken()
	r.rooms[token] = &Room{
		Token:               token,
		BroadcasterConnID:   ownerConnID,
		BroadcasterUsername: ownerUsername,
		Spectators:          make(map[session.ConnID]bool),
	}
	r.byBroadcasterConn[ownerConnID] = token
	return token, nil
}

func newToken() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// StopBroadcast tears a room down. Only its owning connection may call it.
// Every current spectator receives broadcast_stopped.
func (r *Registry) StopBroadcast(ownerConnID session.ConnID, token string) error {
	room, spectators, err := r.removeRoom(ownerConnID, token)
	if err != nil {
		return err
	}
	for spectatorConnID := range spectators {
		r.relay.Deliver(spectatorConnID, frame.Event("broadcast_stopped", frame.M{"roomId": room.Token}))
	}
	return nil
}

func (r *Registry) removeRoom(ownerConnID session.ConnID, token string) (*Room, map[session.ConnID]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[token]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	if room.BroadcasterConnID != ownerConnID {
		return nil, nil, ErrNotOwner
	}

	delete(r.rooms, token)
	delete(r.byBroadcasterConn, ownerConnID)
	return room, room.Spectators, nil
}

// Join adds spectatorConnID to token's room. If the broadcaster has a
// cached offer, the spectator is immediately sent a spectate_signal frame
// carrying it, so a latecomer doesn't have to wait for a renegotiation.
func (r *Registry) Join(token string, spectatorConnID session.ConnID) error {
	r.mu.Lock()
	room, ok := r.rooms[token]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	room.Spectators[spectatorConnID] = true
	cached := room.CachedOffer
	broadcasterConnID := room.BroadcasterConnID
	r.mu.Unlock()

	if cached != nil {
		r.relay.Deliver(spectatorConnID, frame.Event("spectate_signal", frame.M{
			"roomId": token,
			"signal": cached,
		}))
	}
	r.relay.Deliver(broadcasterConnID, frame.Event("new_spectator", frame.M{
		"roomId":      token,
		"spectatorId": uint64(spectatorConnID),
	}))
	return nil
}

// Leave removes spectatorConnID from token's room and notifies the
// broadcaster.
func (r *Registry) Leave(token string, spectatorConnID session.ConnID) error {
	r.mu.Lock()
	room, ok := r.rooms[token]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	delete(room.Spectators, spectatorConnID)
	broadcasterConnID := room.BroadcasterConnID
	r.mu.Unlock()

	r.relay.Deliver(broadcasterConnID, frame.Event("spectator_left", frame.M{
		"roomId":      token,
		"spectatorId": uint64(spectatorConnID),
	}))
	return nil
}

// BroadcastSignal is the broadcaster's undirected spectate_signal: it caches
// body as the room's latest offer and fans it out to every current
// spectator via the Signaling Relay's raw delivery primitive.
func (r *Registry) BroadcastSignal(ownerConnID session.ConnID, token string, body frame.M) error {
	r.mu.Lock()
	room, ok := r.rooms[token]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.BroadcasterConnID != ownerConnID {
		r.mu.Unlock()
		return ErrNotOwner
	}
	room.CachedOffer = body
	spectators := make([]session.ConnID, 0, len(room.Spectators))
	for id := range room.Spectators {
		spectators = append(spectators, id)
	}
	r.mu.Unlock()

	for _, spectatorConnID := range spectators {
		r.relay.Deliver(spectatorConnID, frame.Event("spectate_signal", frame.M{
			"roomId": token,
			"signal": body,
		}))
	}
	return nil
}

// ToSpectator delivers body to spectatorConnID only if ownerConnID owns
// token's room and spectatorConnID is a current member (spec §4.E).
func (r *Registry) ToSpectator(ownerConnID session.ConnID, token string, spectatorConnID session.ConnID, body frame.M) error {
	r.mu.Lock()
	room, ok := r.rooms[token]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.BroadcasterConnID != ownerConnID {
		r.mu.Unlock()
		return ErrNotOwner
	}
	if !room.Spectators[spectatorConnID] {
		r.mu.Unlock()
		return ErrNotSpectator
	}
	r.mu.Unlock()

	r.relay.Deliver(spectatorConnID, frame.Event("webrtc_signal_to_spectator", frame.M{
		"roomId": token,
		"signal": body,
	}))
	return nil
}

// ToBroadcaster delivers body to token's broadcaster only if senderConnID is
// a current spectator of that room (spec §4.E).
func (r *Registry) ToBroadcaster(token string, senderConnID session.ConnID, body frame.M) error {
	r.mu.Lock()
	room, ok := r.rooms[token]
	if !ok {
		r.mu.Unlock()
		return ErrRoomNotFound
	}
	if !room.Spectators[senderConnID] {
		r.mu.Unlock()
		return ErrNotSpectator
	}
	broadcasterConnID := room.BroadcasterConnID
	r.mu.Unlock()

	r.relay.Deliver(broadcasterConnID, frame.Event("webrtc_signal_to_broadcaster", frame.M{
		"roomId": token,
		"signal": body,
	}))
	return nil
}

// List returns every live room, for the Broadcast-List Notifier.
func (r *Registry) List() []frame.M {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]frame.M, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, frame.M{
			"roomId":              room.Token,
			"broadcasterUsername": room.BroadcasterUsername,
		})
	}
	return out
}

// OnDisconnect tears down or repairs rooms affected by a connection going
// away: if connID owned a room, the room is destroyed and its spectators
// notified; otherwise every room is scanned for connID as a spectator and,
// if found, pruned (spec accepts the scan since room count stays small).
func (r *Registry) OnDisconnect(connID session.ConnID) {
	r.mu.Lock()
	token, owned := r.byBroadcasterConn[connID]
	r.mu.Unlock()

	if owned {
		if err := r.StopBroadcast(connID, token); err != nil {
			r.log.Warn("stop broadcast on disconnect failed", zap.Error(err))
		}
		return
	}

	r.mu.Lock()
	var affected []string
	for tok, room := range r.rooms {
		if room.Spectators[connID] {
			affected = append(affected, tok)
		}
	}
	r.mu.Unlock()

	for _, tok := range affected {
		if err := r.Leave(tok, connID); err != nil {
			r.log.Warn("leave on disconnect failed", zap.Error(err))
		}
	}
}
