// Package attendance owns the queue of pending chat requests and the set
// of active chats per operator. All records are process-local; durability
// is delegated to an injected Store, whose failures degrade the router to
// in-memory operation instead of taking it down.
package attendance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrChatNotQueued      = errors.New("chat is not queued")
	ErrOperatorNotFound   = errors.New("operator not found")
	ErrOperatorAtCapacity = errors.New("operator at capacity")
)

// Store is the narrow persistence contract the router calls as an opaque
// side effect. Implementations live in pkg/store.
type Store interface {
	SaveChatRequest(ctx context.Context, req ChatRequest) error
	UpdateChatRequest(ctx context.Context, req ChatRequest) error
	ListOperators(ctx context.Context) ([]Operator, error)
}

// OperatorView pairs an operator with a snapshot of its active chats.
type OperatorView struct {
	Operator
	ActiveChats map[string]ActiveChat `json:"activeChats"`
}

type chatEntry struct {
	req      ChatRequest
	messages []chatv1.MessageEnvelope
	seen     map[string]struct{} // applied external message ids
	active   *ActiveChat         // set while attending
	closedAt time.Time           // set on close, drives pruning
}

type operatorEntry struct {
	op    Operator
	chats map[string]struct{} // chat ids currently attended
}

const defaultMaxChats = 3

// Router serializes every mutation under one lock; each operation is a
// single O(1) critical section, so concurrent readers always observe a
// consistent snapshot and two operators can never claim the same chat.
type Router struct {
	mu        sync.Mutex
	requests  map[string]*chatEntry
	byPhone   map[string]string // open chat per normalized phone
	order     []string          // pending chat ids, enqueue order
	operators map[string]*operatorEntry

	samples []responseSample
	window  time.Duration
	total   int

	defaultMax int

	store Store
	log   *slog.Logger
	now   func() time.Time
}

type Option func(*Router)

// WithResponseWindow bounds how long response-time samples stay in the
// average.
func WithResponseWindow(d time.Duration) Option {
	return func(r *Router) { r.window = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithDefaultMaxChats sets the capacity applied to operators registered
// without one.
func WithDefaultMaxChats(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.defaultMax = n
		}
	}
}

func NewRouter(st Store, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		requests:   make(map[string]*chatEntry),
		byPhone:    make(map[string]string),
		operators:  make(map[string]*operatorEntry),
		window:     defaultResponseWindow,
		defaultMax: defaultMaxChats,
		store:      st,
		log:        logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterOperator adds or updates an operator. Shrinking maxChats below
// the current active count is allowed; existing chats keep running and
// only new assignments are blocked.
func (r *Router) RegisterOperator(op Operator) {
	if op.MaxChats <= 0 {
		op.MaxChats = r.defaultMax
	}
	if op.Status == "" {
		op.Status = OperatorAvailable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.operators[op.ID]; ok {
		e.op = op
		return
	}
	r.operators[op.ID] = &operatorEntry{op: op, chats: make(map[string]struct{})}
}

// LoadOperators replaces the operator roster from the datastore.
func (r *Router) LoadOperators(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	ops, err := r.store.ListOperators(ctx)
	if err != nil {
		return err
	}
	for _, op := range ops {
		r.RegisterOperator(op)
	}
	return nil
}

func (r *Router) SetOperatorStatus(operatorID string, status OperatorStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.operators[operatorID]
	if !ok {
		return ErrOperatorNotFound
	}
	e.op.Status = status
	return nil
}

// Enqueue records an inbound message. While the phone has an unresolved
// request the message coalesces into it; while attending it is appended to
// the live chat. Re-delivery of an already-applied external id is a no-op,
// so at-least-once delivery never double-counts.
func (r *Router) Enqueue(ctx context.Context, phone string, msg chatv1.MessageEnvelope) (ChatRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = now
	}

	if id, ok := r.byPhone[phone]; ok {
		e := r.requests[id]
		if _, dup := e.seen[msg.ID]; dup {
			return e.req, nil
		}
		e.seen[msg.ID] = struct{}{}
		e.req.MessageCount++
		e.req.LastMessage = preview(msg)
		e.req.Timestamp = ts

		if e.req.Status == StatusAttending && e.active != nil {
			e.active.Messages = append(e.active.Messages, msg)
			e.active.MessageCount = len(e.active.Messages)
			e.active.LastActivity = now
		} else {
			e.messages = append(e.messages, msg)
		}
		r.persist(ctx, e.req, false)
		return e.req, nil
	}

	req := ChatRequest{
		ID:            uuid.NewString(),
		Phone:         phone,
		LastMessage:   preview(msg),
		Timestamp:     ts,
		MessageCount:  1,
		Status:        StatusQueued,
		FirstQueuedAt: ts,
	}
	e := &chatEntry{
		req:      req,
		messages: []chatv1.MessageEnvelope{msg},
		seen:     map[string]struct{}{msg.ID: {}},
	}
	r.requests[req.ID] = e
	r.byPhone[phone] = req.ID
	r.order = append(r.order, req.ID)
	r.total++
	r.persist(ctx, req, true)
	r.log.Info("chat queued", slog.String("chat_id", req.ID), slog.String("phone", phone))
	return req, nil
}

// Assign hands a queued chat to an operator. Fails without side effects
// when the chat is not queued or the operator is at capacity.
func (r *Router) Assign(ctx context.Context, chatID, operatorID string) (ActiveChat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.requests[chatID]
	if !ok {
		return ActiveChat{}, ErrChatNotFound
	}
	if e.req.Status != StatusQueued {
		return ActiveChat{}, ErrChatNotQueued
	}
	oe, ok := r.operators[operatorID]
	if !ok {
		return ActiveChat{}, ErrOperatorNotFound
	}
	if len(oe.chats) >= oe.op.MaxChats {
		return ActiveChat{}, ErrOperatorAtCapacity
	}

	now := r.now()
	e.req.Status = StatusAttending
	e.req.OperatorID = operatorID
	r.removeFromOrder(chatID)

	active := &ActiveChat{
		ID:           chatID,
		Phone:        e.req.Phone,
		OperatorID:   operatorID,
		StartTime:    now,
		LastActivity: now,
		MessageCount: len(e.messages),
		Messages:     e.messages,
	}
	e.active = active
	e.messages = nil
	oe.chats[chatID] = struct{}{}

	r.persist(ctx, e.req, false)
	r.log.Info("chat assigned",
		slog.String("chat_id", chatID),
		slog.String("operator_id", operatorID),
	)
	return snapshotChat(active), nil
}

// Close terminates a chat. Closing an already-closed chat is a no-op; a
// queued chat may also be closed (cancelled) without ever being assigned.
func (r *Router) Close(ctx context.Context, chatID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.requests[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if e.req.Status == StatusClosed {
		return nil
	}

	now := r.now()
	switch e.req.Status {
	case StatusAttending:
		if oe, ok := r.operators[e.req.OperatorID]; ok {
			delete(oe.chats, chatID)
		}
		if e.active != nil {
			r.samples = append(r.samples, responseSample{
				at:       now,
				response: e.active.StartTime.Sub(e.req.FirstQueuedAt),
			})
		}
	case StatusQueued:
		r.removeFromOrder(chatID)
	}

	e.req.Status = StatusClosed
	e.active = nil
	e.messages = nil
	e.closedAt = now
	delete(r.byPhone, e.req.Phone)
	r.pruneClosedLocked(now)
	r.persist(ctx, e.req, false)
	r.log.Info("chat closed", slog.String("chat_id", chatID))
	return nil
}

// Pending returns queued requests oldest-first. The ordering is advisory:
// any operator may still claim any queued chat.
func (r *Router) Pending() []ChatRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChatRequest, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.requests[id].req)
	}
	return out
}

// Chat returns the current request record for a chat id.
func (r *Router) Chat(chatID string) (ChatRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.requests[chatID]
	if !ok {
		return ChatRequest{}, ErrChatNotFound
	}
	return e.req, nil
}

// Operator returns an operator with a snapshot of its active chats.
func (r *Router) Operator(operatorID string) (OperatorView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	oe, ok := r.operators[operatorID]
	if !ok {
		return OperatorView{}, ErrOperatorNotFound
	}
	return r.viewLocked(oe), nil
}

// Operators returns every registered operator with its active chats.
func (r *Router) Operators() []OperatorView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OperatorView, 0, len(r.operators))
	for _, oe := range r.operators {
		out = append(out, r.viewLocked(oe))
	}
	return out
}

func (r *Router) viewLocked(oe *operatorEntry) OperatorView {
	v := OperatorView{Operator: oe.op, ActiveChats: make(map[string]ActiveChat, len(oe.chats))}
	for id := range oe.chats {
		if e, ok := r.requests[id]; ok && e.active != nil {
			v.ActiveChats[id] = snapshotChat(e.active)
		}
	}
	return v
}

func (r *Router) removeFromOrder(chatID string) {
	for i, id := range r.order {
		if id == chatID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Router) persist(ctx context.Context, req ChatRequest, create bool) {
	if r.store == nil {
		return
	}
	var err error
	if create {
		err = r.store.SaveChatRequest(ctx, req)
	} else {
		err = r.store.UpdateChatRequest(ctx, req)
	}
	if err != nil {
		// keep serving from memory; durability is best-effort here
		r.log.Warn("chat store write failed",
			slog.String("chat_id", req.ID),
			slog.Any("error", err),
		)
	}
}

func snapshotChat(a *ActiveChat) ActiveChat {
	out := *a
	out.Messages = append([]chatv1.MessageEnvelope(nil), a.Messages...)
	return out
}

func preview(msg chatv1.MessageEnvelope) string {
	if msg.Body != "" {
		return msg.Body
	}
	return "[" + string(msg.Type) + "]"
}
