package session

import (
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Omezi42/anokoro-tcg-backend/internal/frame"
)

type fakeSender struct {
	sent   []frame.M
	closed bool
}

func (f *fakeSender) Send(m frame.M) { f.sent = append(f.sent, m) }
func (f *fakeSender) Close()         { f.closed = true }

func TestBindTakesOverExistingConnection(t *testing.T) {
	table := New(zap.NewNop())
	userID := uuid.New()

	table.Register(1, &fakeSender{})
	table.Register(2, &fakeSender{})

	if _, hadEvicted := table.Bind(1, userID); hadEvicted {
		t.Fatalf("expected no eviction on first bind")
	}

	evicted, hadEvicted := table.Bind(2, userID)
	if !hadEvicted || evicted != ConnID(1) {
		t.Fatalf("expected conn 1 to be evicted, got evicted=%v hadEvicted=%v", evicted, hadEvicted)
	}

	s, ok := table.GetByUser(userID)
	if !ok || s.ConnID != ConnID(2) {
		t.Fatalf("expected user bound to conn 2, got %+v ok=%v", s, ok)
	}

	old, ok := table.Get(1)
	if !ok || old.UserID != nil {
		t.Fatalf("expected conn 1's binding cleared, got %+v", old)
	}
}

func TestRemoveIgnoresStaleConnection(t *testing.T) {
	table := New(zap.NewNop())
	userID := uuid.New()

	table.Register(1, &fakeSender{})
	table.Register(2, &fakeSender{})
	table.Bind(1, userID)
	table.Bind(2, userID) // takes over; conn 1 no longer owns userID

	// A stale close of the superseded connection must not evict the
	// live one.
	table.Remove(1)

	if !table.IsLive(userID) {
		t.Fatalf("expected user to remain live after stale connection close")
	}
	s, ok := table.GetByUser(userID)
	if !ok || s.ConnID != ConnID(2) {
		t.Fatalf("expected conn 2 to still own the user")
	}
}

func TestRemoveClearsLiveBinding(t *testing.T) {
	table := New(zap.NewNop())
	userID := uuid.New()

	table.Register(1, &fakeSender{})
	table.Bind(1, userID)

	returned := table.Remove(1)
	if returned == nil || *returned != userID {
		t.Fatalf("expected Remove to report the bound user id")
	}
	if table.IsLive(userID) {
		t.Fatalf("expected user no longer live after Remove")
	}
	if _, ok := table.Get(1); ok {
		t.Fatalf("expected connection record deleted")
	}
}

func TestSendReachesRegisteredSender(t *testing.T) {
	table := New(zap.NewNop())
	sender := &fakeSender{}
	table.Register(1, sender)

	if !table.Send(1, frame.M{"type": "ping"}) {
		t.Fatalf("expected send to a registered connection to succeed")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one frame delivered, got %d", len(sender.sent))
	}

	if table.Send(99, frame.M{"type": "ping"}) {
		t.Fatalf("expected send to an unknown connection to fail")
	}
}

func TestCloseInvokesSenderClose(t *testing.T) {
	table := New(zap.NewNop())
	sender := &fakeSender{}
	table.Register(1, sender)

	table.Close(1)
	if !sender.closed {
		t.Fatalf("expected underlying sender to be closed")
	}
}
