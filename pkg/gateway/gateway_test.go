package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/attendance"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/codec"
	"github.com/jntcloudcod2019/mypregiato-sub003/pkg/pubsub"
	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []pubsub.Message
	queues    []string
	failTimes int // fail the first N publishes
}

func (f *fakeBroker) Publish(_ context.Context, queue string, msg pubsub.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTimes > 0 {
		f.failTimes--
		return errors.New("broker rejected")
	}
	f.published = append(f.published, msg)
	f.queues = append(f.queues, queue)
	return nil
}

func newTestGateway(t *testing.T) (*Gateway, *fakeBroker) {
	t.Helper()
	broker := &fakeBroker{}
	router := attendance.NewRouter(nil, nil)
	gw := New(broker, router, Config{RetryDelay: time.Millisecond}, nil)
	return gw, broker
}

func connect(t *testing.T, gw *Gateway) {
	t.Helper()
	for _, s := range []chatv1.ConnectionState{
		chatv1.StateQRReady, chatv1.StateConnecting, chatv1.StateConnected,
	} {
		gw.Session().Observe(chatv1.StatusUpdate{State: s, Timestamp: time.Now()})
	}
}

func TestHandleInboundMessageQueuesChat(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	payload := []byte(`{"id":"m1","from":"5511999999999@c.us","type":"text","body":"Olá"}`)
	if err := gw.HandleInbound(ctx, payload); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}

	pending := gw.Router().Pending()
	if len(pending) != 1 {
		t.Fatalf("want one pending chat, got %d", len(pending))
	}
	if pending[0].Phone != "5511999999999" || pending[0].MessageCount != 1 {
		t.Fatalf("unexpected request: %+v", pending[0])
	}
}

func TestHandleInboundDuplicateDelivery(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	payload := []byte(`{"id":"m1","from":"551199@c.us","type":"text","body":"oi"}`)
	gw.HandleInbound(ctx, payload)
	gw.HandleInbound(ctx, payload) // at-least-once re-delivery

	pending := gw.Router().Pending()
	if len(pending) != 1 || pending[0].MessageCount != 1 {
		t.Fatalf("duplicate delivery double-applied: %+v", pending)
	}
}

func TestHandleInboundMissingSenderRejected(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	// sender-less messages must be rejected as poison, never coalesced
	// into a phantom chat keyed by the empty phone
	for _, payload := range []string{
		`{"id":"x1","type":"text","body":"a"}`,
		`{"id":"x2","type":"text","body":"b"}`,
	} {
		if err := gw.HandleInbound(ctx, []byte(payload)); !errors.Is(err, pubsub.ErrPoison) {
			t.Fatalf("want ErrPoison for %s, got %v", payload, err)
		}
	}
	if pending := gw.Router().Pending(); len(pending) != 0 {
		t.Fatalf("sender-less message queued: %+v", pending)
	}
}

func TestHandleInboundOwnMessageIgnored(t *testing.T) {
	gw, _ := newTestGateway(t)
	payload := []byte(`{"id":"m1","from":"551199@c.us","type":"text","body":"oi","isFromMe":true}`)
	if err := gw.HandleInbound(context.Background(), payload); err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if len(gw.Router().Pending()) != 0 {
		t.Fatalf("own message enqueued")
	}
}

func TestHandleInboundPoison(t *testing.T) {
	gw, _ := newTestGateway(t)
	err := gw.HandleInbound(context.Background(), []byte(`{broken`))
	if !errors.Is(err, pubsub.ErrPoison) {
		t.Fatalf("want ErrPoison, got %v", err)
	}
}

func TestHandleInboundStatusUpdatesSession(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	gw.HandleInbound(ctx, []byte(`{"status":"qr_ready","qrCode":"data:image/png;base64,AA"}`))
	if gw.Session().State() != chatv1.StateQRReady {
		t.Fatalf("status not applied: %s", gw.Session().State())
	}

	// status piggybacked on a message updates session and queues the chat
	gw.HandleInbound(ctx, []byte(`{"id":"m1","from":"551199@c.us","type":"text","body":"oi","status":"connecting"}`))
	if gw.Session().State() != chatv1.StateConnecting {
		t.Fatalf("piggybacked status not applied: %s", gw.Session().State())
	}
	if len(gw.Router().Pending()) != 1 {
		t.Fatalf("message part not dispatched")
	}
}

func TestSendMessageRequiresConnectedSession(t *testing.T) {
	gw, broker := newTestGateway(t)
	msg := chatv1.MessageEnvelope{
		ID: "out1", From: "5511000000000", To: "551199",
		Body: "Olá", Type: chatv1.MediaText,
	}
	if err := gw.SendMessage(context.Background(), msg); !errors.Is(err, ErrSessionNotReady) {
		t.Fatalf("want ErrSessionNotReady, got %v", err)
	}
	if len(broker.published) != 0 {
		t.Fatalf("message published while disconnected")
	}
}

func TestSendMessagePublishesDurably(t *testing.T) {
	gw, broker := newTestGateway(t)
	connect(t, gw)

	msg := chatv1.MessageEnvelope{
		ID: "out1", From: "5511000000000", To: "551199",
		Body: "Olá", Type: chatv1.MediaText,
	}
	if err := gw.SendMessage(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(broker.published) != 1 {
		t.Fatalf("want one publish, got %d", len(broker.published))
	}
	if broker.queues[0] != pubsub.DefaultOutgoingQueue {
		t.Fatalf("wrong queue: %s", broker.queues[0])
	}

	env, err := codec.Decode(broker.published[0].Body)
	if err != nil {
		t.Fatalf("published body undecodable: %v", err)
	}
	if env.Kind != chatv1.KindMessage || !env.Message.IsFromMe {
		t.Fatalf("unexpected outbound envelope: %+v", env)
	}
}

func TestSendMessageEmptyTextRejected(t *testing.T) {
	gw, broker := newTestGateway(t)
	connect(t, gw)
	msg := chatv1.MessageEnvelope{ID: "out1", From: "5511000000000", Type: chatv1.MediaText}
	if err := gw.SendMessage(context.Background(), msg); err == nil {
		t.Fatalf("empty outbound text must be rejected")
	}
	if len(broker.published) != 0 {
		t.Fatalf("invalid message published")
	}
}

func TestPublishRetriesKeepSameID(t *testing.T) {
	gw, broker := newTestGateway(t)
	connect(t, gw)
	broker.failTimes = 2

	msg := chatv1.MessageEnvelope{
		ID: "out1", From: "5511000000000", To: "551199",
		Body: "Olá", Type: chatv1.MediaText,
	}
	if err := gw.SendMessage(context.Background(), msg); err != nil {
		t.Fatalf("send after retries: %v", err)
	}
	if len(broker.published) != 1 || broker.published[0].ID != "out1" {
		t.Fatalf("resend changed identity: %+v", broker.published)
	}
}

func TestPublishFailureSurfaced(t *testing.T) {
	gw, broker := newTestGateway(t)
	connect(t, gw)
	broker.failTimes = 100

	msg := chatv1.MessageEnvelope{
		ID: "out1", From: "5511000000000", To: "551199",
		Body: "Olá", Type: chatv1.MediaText,
	}
	if err := gw.SendMessage(context.Background(), msg); !errors.Is(err, ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}
}

func TestGenerateQRPublishesCommand(t *testing.T) {
	gw, broker := newTestGateway(t)
	id, err := gw.Session().GenerateQR(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(broker.published) != 1 {
		t.Fatalf("want one publish, got %d", len(broker.published))
	}
	env, err := codec.Decode(broker.published[0].Body)
	if err != nil {
		t.Fatalf("command undecodable: %v", err)
	}
	if env.Kind != chatv1.KindCommand || env.Command.Command != chatv1.CommandGenerateQR {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if env.Command.RequestID != id || broker.published[0].ID != id {
		t.Fatalf("requestId not propagated")
	}
}
