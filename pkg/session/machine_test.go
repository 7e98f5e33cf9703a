package session

import (
	"context"
	"errors"
	"testing"
	"time"

	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

type fakePublisher struct {
	commands []chatv1.CommandEnvelope
	err      error
}

func (f *fakePublisher) PublishCommand(_ context.Context, cmd chatv1.CommandEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *fakePublisher) {
	t.Helper()
	pub := &fakePublisher{}
	return NewMachine(pub, nil), pub
}

func status(state chatv1.ConnectionState) chatv1.StatusUpdate {
	return chatv1.StatusUpdate{State: state, Timestamp: time.Now()}
}

func TestStepwisePairingFlow(t *testing.T) {
	m, _ := newTestMachine(t)
	if m.State() != chatv1.StateDisconnected {
		t.Fatalf("initial state: %s", m.State())
	}

	m.Observe(chatv1.StatusUpdate{State: chatv1.StateQRReady, QRCode: "data:image/png;base64,AA"})
	if m.State() != chatv1.StateQRReady {
		t.Fatalf("want qr_ready, got %s", m.State())
	}
	if m.Snapshot().QRCode == "" {
		t.Fatalf("qr payload should be retained in qr_ready")
	}

	m.Observe(status(chatv1.StateConnecting))
	if m.Snapshot().QRCode != "" {
		t.Fatalf("qr payload must be discarded on leaving qr_ready")
	}

	m.Observe(status(chatv1.StateConnected))
	if m.State() != chatv1.StateConnected {
		t.Fatalf("want connected, got %s", m.State())
	}
}

func TestNoSkippedTransitions(t *testing.T) {
	m, _ := newTestMachine(t)

	// straight to connected from disconnected: ignored
	m.Observe(status(chatv1.StateConnected))
	if m.State() != chatv1.StateDisconnected {
		t.Fatalf("skipped transition accepted: %s", m.State())
	}

	// qr_ready → connected without connecting: ignored
	m.Observe(status(chatv1.StateQRReady))
	m.Observe(status(chatv1.StateConnected))
	if m.State() != chatv1.StateQRReady {
		t.Fatalf("skipped transition accepted: %s", m.State())
	}

	// connecting from disconnected: ignored
	m2, _ := newTestMachine(t)
	m2.Observe(status(chatv1.StateConnecting))
	if m2.State() != chatv1.StateDisconnected {
		t.Fatalf("skipped transition accepted: %s", m2.State())
	}
}

func TestSessionLossFromAnyState(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Observe(status(chatv1.StateQRReady))
	m.Observe(status(chatv1.StateConnecting))
	m.Observe(status(chatv1.StateConnected))

	m.Observe(status(chatv1.StateDisconnected))
	if m.State() != chatv1.StateDisconnected {
		t.Fatalf("session loss not applied: %s", m.State())
	}
}

func TestQRRefreshWhileQRReady(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Observe(chatv1.StatusUpdate{State: chatv1.StateQRReady, QRCode: "first"})
	m.Observe(chatv1.StatusUpdate{State: chatv1.StateQRReady, QRCode: "second"})
	if got := m.Snapshot().QRCode; got != "second" {
		t.Fatalf("qr not refreshed: %q", got)
	}
}

func TestGenerateQRIssuesCommand(t *testing.T) {
	m, pub := newTestMachine(t)
	id, err := m.GenerateQR(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if id == "" {
		t.Fatalf("want requestId")
	}
	if len(pub.commands) != 1 || pub.commands[0].Command != chatv1.CommandGenerateQR {
		t.Fatalf("unexpected commands: %+v", pub.commands)
	}
	if pub.commands[0].RequestID != id {
		t.Fatalf("requestId mismatch")
	}
}

func TestGenerateQRNoopWhileConnected(t *testing.T) {
	m, pub := newTestMachine(t)
	m.Observe(status(chatv1.StateQRReady))
	m.Observe(status(chatv1.StateConnecting))
	m.Observe(status(chatv1.StateConnected))

	id, err := m.GenerateQR(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if id != "" {
		t.Fatalf("no command expected, got requestId %q", id)
	}
	if len(pub.commands) != 0 {
		t.Fatalf("command published from connected: %+v", pub.commands)
	}
	if m.State() != chatv1.StateConnected {
		t.Fatalf("state disturbed: %s", m.State())
	}
}

func TestForceNewAuthResetsFromAnyState(t *testing.T) {
	m, pub := newTestMachine(t)
	m.Observe(status(chatv1.StateQRReady))
	m.Observe(status(chatv1.StateConnecting))
	m.Observe(status(chatv1.StateConnected))

	id, err := m.ForceNewAuth(context.Background())
	if err != nil {
		t.Fatalf("force new auth: %v", err)
	}
	if id == "" {
		t.Fatalf("want requestId")
	}
	if m.State() != chatv1.StateDisconnected {
		t.Fatalf("want disconnected, got %s", m.State())
	}
	if len(pub.commands) != 1 || pub.commands[0].Command != chatv1.CommandForceNewAuth {
		t.Fatalf("unexpected commands: %+v", pub.commands)
	}
}

func TestPublishErrorSurfaced(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	m := NewMachine(pub, nil)
	if _, err := m.GenerateQR(context.Background()); err == nil {
		t.Fatalf("want publish error")
	}
	if len(m.Pending()) != 0 {
		t.Fatalf("failed publish must not leave a pending entry")
	}
}

func TestPendingTrackedAndCleared(t *testing.T) {
	m, _ := newTestMachine(t)
	id, _ := m.GenerateQR(context.Background())
	if got := m.Pending(); len(got) != 1 || got[0].RequestID != id {
		t.Fatalf("pending not tracked: %+v", got)
	}

	// status echo clears the pending entry
	m.Observe(chatv1.StatusUpdate{State: chatv1.StateQRReady, RequestID: id})
	if got := m.Pending(); len(got) != 0 {
		t.Fatalf("pending not cleared: %+v", got)
	}
}

func TestPendingEvictedAfterTTL(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMachine(pub, nil, WithPendingTTL(time.Millisecond))
	if _, err := m.GenerateQR(context.Background()); err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if got := m.Pending(); len(got) != 0 {
		t.Fatalf("stale pending not evicted: %+v", got)
	}
}
