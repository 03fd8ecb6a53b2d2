package spectate

import (
	"testing"

	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
	"github.com/Omezi42/anokoro-tcg-backend/internal/session"
	"github.com/Omezi42/anokoro-tcg-backend/internal/signal"
)

type fakeSender struct{ sent []frame.M }

func (f *fakeSender) Send(m frame.M) { f.sent = append(f.sent, m) }
func (f *fakeSender) Close()         {}

func newTestRegistry(t *testing.T) (*Registry, *session.Table) {
	t.Helper()
	sessions := session.New(zap.NewNop())
	relay := signal.New(sessions, zap.NewNop())
	return New(relay, zap.NewNop()), sessions
}

func TestStartBroadcastRejectsSecondRoomFromSameConnection(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	sessions.Register(1, &fakeSender{})

	_, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("unexpected error on first broadcast: %v", err)
	}

	_, err = registry.StartBroadcast(1, "alice")
	if err != ErrAlreadyOwning {
		t.Fatalf("expected ErrAlreadyOwning, got %v", err)
	}
}

func TestJoinBootstrapsLatecomerWithCachedOffer(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	ownerSender := &fakeSender{}
	sessions.Register(1, ownerSender)
	token, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}

	if err := registry.BroadcastSignal(1, token, frame.M{"sdp": "offer-1"}); err != nil {
		t.Fatalf("BroadcastSignal: %v", err)
	}

	spectatorSender := &fakeSender{}
	sessions.Register(2, spectatorSender)
	if err := registry.Join(token, 2); err != nil {
		t.Fatalf("Join: %v", err)
	}

	if len(spectatorSender.sent) != 1 {
		t.Fatalf("expected the cached offer to be delivered immediately, got %d frames", len(spectatorSender.sent))
	}
	if spectatorSender.sent[0]["type"] != "spectate_signal" {
		t.Fatalf("expected a spectate_signal frame, got %v", spectatorSender.sent[0]["type"])
	}

	found := false
	for _, m := range ownerSender.sent {
		if m["type"] == "new_spectator" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected broadcaster to be notified of the new spectator")
	}
}

func TestJoinWithoutCachedOfferSendsNothingToSpectator(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	sessions.Register(1, &fakeSender{})
	token, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}

	spectatorSender := &fakeSender{}
	sessions.Register(2, spectatorSender)
	if err := registry.Join(token, 2); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(spectatorSender.sent) != 0 {
		t.Fatalf("expected no bootstrap frame without a cached offer, got %d", len(spectatorSender.sent))
	}
}

func TestBroadcasterDisconnectTearsDownRoomAndNotifiesSpectators(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	sessions.Register(1, &fakeSender{})
	token, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}

	spectatorSender := &fakeSender{}
	sessions.Register(2, spectatorSender)
	if err := registry.Join(token, 2); err != nil {
		t.Fatalf("Join: %v", err)
	}

	registry.OnDisconnect(1)

	found := false
	for _, m := range spectatorSender.sent {
		if m["type"] == "broadcast_stopped" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected spectator to be notified the broadcast stopped")
	}

	if err := registry.Join(token, 3); err != ErrRoomNotFound {
		t.Fatalf("expected room to be gone after broadcaster disconnect, got %v", err)
	}
}

func TestSpectatorDisconnectPrunesRoomMembership(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	ownerSender := &fakeSender{}
	sessions.Register(1, ownerSender)
	token, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}

	sessions.Register(2, &fakeSender{})
	if err := registry.Join(token, 2); err != nil {
		t.Fatalf("Join: %v", err)
	}

	registry.OnDisconnect(2)

	if err := registry.ToSpectator(1, token, 2, frame.M{"sdp": "x"}); err != ErrNotSpectator {
		t.Fatalf("expected spectator 2 to be pruned, got %v", err)
	}
}

func TestToSpectatorRejectsNonOwner(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	sessions.Register(1, &fakeSender{})
	token, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}
	sessions.Register(2, &fakeSender{})
	registry.Join(token, 2)

	sessions.Register(3, &fakeSender{})
	if err := registry.ToSpectator(3, token, 2, frame.M{}); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner from a non-owning connection, got %v", err)
	}
}

func TestToBroadcasterRejectsNonSpectator(t *testing.T) {
	registry, sessions := newTestRegistry(t)
	sessions.Register(1, &fakeSender{})
	token, err := registry.StartBroadcast(1, "alice")
	if err != nil {
		t.Fatalf("StartBroadcast: %v", err)
	}

	sessions.Register(9, &fakeSender{})
	if err := registry.ToBroadcaster(token, 9, frame.M{}); err != ErrNotSpectator {
		t.Fatalf("expected ErrNotSpectator from a non-member connection, got %v", err)
	}
}
