package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rental-marketplace/backend/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu      sync.Mutex
	streams []string
	events  []events.Event
	err     error
	block   bool
}

func (p *recordingPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	if p.block {
		<-ctx.Done()
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.streams = append(p.streams, stream)
	p.events = append(p.events, event)
	return nil
}

func TestDispatcherPublishesToStream(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, time.Second, zap.NewNop())
	id := uuid.New()

	d.Notify(context.Background(), events.EventMilestoneChanged, id, map[string]any{"milestone_type": "keys_transferred"})
	d.Notify(context.Background(), events.EventVerificationStatusChanged, id, nil)

	require.Len(t, pub.events, 2)
	assert.Equal(t, []string{events.StreamEscrow, events.StreamVerification}, pub.streams)
	assert.Equal(t, id.String(), pub.events[0].EntityID)
	assert.Equal(t, events.EventMilestoneChanged, pub.events[0].Type)
	assert.False(t, pub.events[0].OccurredAt.IsZero())
}

func TestDispatcherSwallowsFailures(t *testing.T) {
	d := NewDispatcher(&recordingPublisher{err: errors.New("redis down")}, time.Second, zap.NewNop())
	assert.NotPanics(t, func() {
		d.Notify(context.Background(), events.EventTransactionCreated, uuid.New(), nil)
	})
}

func TestDispatcherBoundsSlowPublisher(t *testing.T) {
	d := NewDispatcher(&recordingPublisher{block: true}, 20*time.Millisecond, zap.NewNop())

	start := time.Now()
	d.Notify(context.Background(), events.EventTransactionCreated, uuid.New(), nil)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatcherIgnoresCallerCancellation(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(pub, time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Notify(ctx, events.EventTransactionCreated, uuid.New(), nil)
	assert.Len(t, pub.events, 1)
}

func TestShippedTemplatesRender(t *testing.T) {
	tpl, err := LoadTemplates("templates.yaml")
	require.NoError(t, err)

	// payload as it arrives from the bus, numbers decoded as float64
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"transaction_id": "7d0c",
		"tenant_name": "Ada Obi",
		"tenant_email": "ada@example.com",
		"tenant_phone": "+2348030000000",
		"transaction_type": "rent_deposit",
		"amount": 10000000,
		"total_charged": 10250000,
		"status": "funds_held",
		"old_status": "pending",
		"milestone_type": "funds_deposited",
		"milestone_status": "completed"
	}`), &payload))

	msg, ok, err := tpl.Render(events.EventTransactionCreated, ChannelEmail, payload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", msg.To)
	assert.Equal(t, "Escrow opened for rent_deposit", msg.Subject)
	assert.Contains(t, msg.Body, "102500.00")
	assert.Contains(t, msg.Body, "100000.00")

	assert.Equal(t, []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}, tpl.Channels(events.EventTransactionStatusChanged))
	for _, ch := range tpl.Channels(events.EventTransactionStatusChanged) {
		msg, ok, err := tpl.Render(events.EventTransactionStatusChanged, ch, payload)
		require.NoError(t, err, ch)
		require.True(t, ok, ch)
		assert.Contains(t, msg.Body, "funds_held")
	}

	msg, ok, err = tpl.Render(events.EventMilestoneChanged, ChannelWhatsApp, payload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "+2348030000000", msg.To)
}

func TestRenderWithoutRecipientIsSkipped(t *testing.T) {
	tpl, err := LoadTemplates("templates.yaml")
	require.NoError(t, err)

	_, ok, err := tpl.Render(events.EventTransactionStatusChanged, ChannelSMS, map[string]any{"status": "released"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = tpl.Render("unknown_event", ChannelEmail, map[string]any{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenderMissingFieldFails(t *testing.T) {
	tpl, err := ParseTemplates([]byte(`
milestone_changed:
  sms:
    to: tenant_phone
    body: "{{.milestone_type}} is {{.milestone_status}}"
`))
	require.NoError(t, err)

	_, _, err = tpl.Render(events.EventMilestoneChanged, ChannelSMS, map[string]any{"tenant_phone": "+234", "milestone_type": "keys_transferred"})
	assert.Error(t, err)
}

func TestParseTemplatesRejectsBadConfig(t *testing.T) {
	tests := map[string]string{
		"unknown channel": "transaction_created:\n  pigeon:\n    to: tenant_email\n    body: hi\n",
		"missing to":      "transaction_created:\n  email:\n    body: hi\n",
		"bad template":    "transaction_created:\n  email:\n    to: tenant_email\n    body: \"{{.x\"\n",
		"not yaml":        "- [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTemplates([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestMoney(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(102500), "1025.00"},
		{int(5), "0.05"},
		{float64(250), "2.50"},
		{json.Number("100000"), "1000.00"},
	}
	for _, tt := range tests {
		got, err := money(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := money("ten")
	assert.Error(t, err)
}

func TestSenderPostsMessage(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, time.Second, zap.NewNop())
	err := s.Send(context.Background(), Message{Channel: ChannelSMS, To: "+234", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, Message{Channel: ChannelSMS, To: "+234", Body: "hello"}, got)
}

func TestSenderReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "provider unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, time.Second, zap.NewNop())
	err := s.Send(context.Background(), Message{Channel: ChannelEmail, To: "a@b.co", Body: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type recordingSender struct {
	sent []Message
	fail map[Channel]bool
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	if s.fail[msg.Channel] {
		return errors.New("provider down")
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestBridgeFansOutChannels(t *testing.T) {
	tpl, err := LoadTemplates("templates.yaml")
	require.NoError(t, err)
	sender := &recordingSender{fail: map[Channel]bool{ChannelSMS: true}}
	b := NewBridge(tpl, sender, zap.NewNop())

	sent := b.Handle(context.Background(), events.Event{
		Type:     events.EventTransactionStatusChanged,
		EntityID: "tx-1",
		Payload: map[string]any{
			"transaction_id": "tx-1",
			"tenant_name":    "Ada Obi",
			"tenant_email":   "ada@example.com",
			"tenant_phone":   "+2348030000000",
			"amount":         float64(100000),
			"status":         "released",
			"old_status":     "funds_held",
		},
	})

	assert.Equal(t, 2, sent)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, ChannelEmail, sender.sent[0].Channel)
	assert.Equal(t, ChannelWhatsApp, sender.sent[1].Channel)
}
