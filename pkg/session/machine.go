// Package session tracks the messaging client's pairing lifecycle. The
// machine never drives the client directly: it issues fire-and-forget
// commands over the outbound queue and advances only on observed status
// updates, so local state can lag but never diverges for long.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

// CommandPublisher delivers a control command to the messaging client.
// The gateway producer implements this over the outgoing queue.
type CommandPublisher interface {
	PublishCommand(ctx context.Context, cmd chatv1.CommandEnvelope) error
}

// Snapshot is a consistent read of the machine.
type Snapshot struct {
	State           chatv1.ConnectionState
	QRCode          string
	LastStateChange time.Time
}

// PendingCommand is an issued command awaiting its status echo.
type PendingCommand struct {
	RequestID string
	Command   string
	IssuedAt  time.Time
}

const defaultPendingTTL = 30 * time.Second

// Machine is the session-authentication state machine. Safe for concurrent
// use; all mutation happens under one mutex.
type Machine struct {
	mu         sync.Mutex
	state      chatv1.ConnectionState
	qr         string
	lastChange time.Time

	pending    map[string]PendingCommand
	pendingTTL time.Duration

	pub CommandPublisher
	log *slog.Logger
}

type Option func(*Machine)

func WithPendingTTL(ttl time.Duration) Option {
	return func(m *Machine) { m.pendingTTL = ttl }
}

func NewMachine(pub CommandPublisher, logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Machine{
		state:      chatv1.StateDisconnected,
		lastChange: time.Now(),
		pending:    make(map[string]PendingCommand),
		pendingTTL: defaultPendingTTL,
		pub:        pub,
		log:        logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe applies an inbound status update. Transitions that would skip a
// step (e.g. straight to connected without connecting) are ignored with a
// warning; session state is externally driven and must stay resilient to
// stray or reordered envelopes.
func (m *Machine) Observe(st chatv1.StatusUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st.RequestID != "" {
		delete(m.pending, st.RequestID)
	}

	if !m.allowed(st.State) {
		m.log.Warn("ignoring invalid session transition",
			slog.String("from", string(m.state)),
			slog.String("to", string(st.State)),
		)
		return
	}

	if m.state == st.State {
		// qr_ready → qr_ready refreshes the code without a state change
		if st.State == chatv1.StateQRReady && st.QRCode != "" {
			m.qr = st.QRCode
		}
		return
	}

	m.state = st.State
	m.lastChange = time.Now()
	if st.State == chatv1.StateQRReady {
		m.qr = st.QRCode
	} else {
		// QR payload is only meaningful while a scan is pending
		m.qr = ""
	}
	m.log.Info("session state changed", slog.String("state", string(st.State)))
}

// allowed holds the transition table. Any state may fall back to
// disconnected (session loss); forward movement is strictly stepwise.
func (m *Machine) allowed(to chatv1.ConnectionState) bool {
	if to == chatv1.StateDisconnected {
		return true
	}
	switch m.state {
	case chatv1.StateDisconnected:
		return to == chatv1.StateQRReady
	case chatv1.StateQRReady:
		return to == chatv1.StateQRReady || to == chatv1.StateConnecting
	case chatv1.StateConnecting:
		return to == chatv1.StateConnected
	case chatv1.StateConnected:
		return false
	}
	return false
}

// GenerateQR asks the client for a fresh pairing code. From connected it is
// a guarded no-op so a stray request cannot tear down a live session; the
// returned requestId is empty in that case.
func (m *Machine) GenerateQR(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state == chatv1.StateConnected || m.state == chatv1.StateConnecting {
		state := m.state
		m.mu.Unlock()
		m.log.Warn("generate_qr ignored", slog.String("state", string(state)))
		return "", nil
	}
	m.mu.Unlock()
	return m.issue(ctx, chatv1.CommandGenerateQR)
}

// ForceNewAuth unconditionally resets to disconnected and instructs the
// client to drop its credentials. The client is expected to come back with
// qr_ready on its own.
func (m *Machine) ForceNewAuth(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.state != chatv1.StateDisconnected {
		m.state = chatv1.StateDisconnected
		m.lastChange = time.Now()
		m.qr = ""
	}
	m.mu.Unlock()
	return m.issue(ctx, chatv1.CommandForceNewAuth)
}

func (m *Machine) issue(ctx context.Context, name string) (string, error) {
	cmd := chatv1.NewCommand(name)
	if err := m.pub.PublishCommand(ctx, cmd); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.evictLocked(time.Now())
	m.pending[cmd.RequestID] = PendingCommand{
		RequestID: cmd.RequestID,
		Command:   name,
		IssuedAt:  cmd.Timestamp,
	}
	m.mu.Unlock()
	m.log.Info("command issued",
		slog.String("command", name),
		slog.String("request_id", cmd.RequestID),
	)
	return cmd.RequestID, nil
}

// Pending returns commands still awaiting a status echo. Stale entries are
// evicted first; the machine itself never treats a stall as an error.
func (m *Machine) Pending() []PendingCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(time.Now())
	out := make([]PendingCommand, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, p)
	}
	return out
}

func (m *Machine) evictLocked(now time.Time) {
	for id, p := range m.pending {
		if now.Sub(p.IssuedAt) > m.pendingTTL {
			delete(m.pending, id)
		}
	}
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, QRCode: m.qr, LastStateChange: m.lastChange}
}

// State is a convenience accessor for the current state alone.
func (m *Machine) State() chatv1.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
