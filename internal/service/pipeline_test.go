package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gowa-relay/config"
	"gowa-relay/internal/model"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeClient) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeClient) SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	f.record("presence:" + string(state))
	return nil
}

func (f *fakeClient) MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error {
	f.record("markread")
	return nil
}

func (f *fakeClient) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	f.record("download")
	return []byte("audio-bytes"), nil
}

func (f *fakeClient) RejectCall(ctx context.Context, callFrom types.JID, callID string) error {
	f.record("reject:" + callID)
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendText(ctx context.Context, to types.JID, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, to.String()+"|"+text)
	f.mu.Unlock()
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StaleThreshold:  time.Minute,
		MinRoundTrip:    time.Millisecond,
		SnapshotFile:    filepath.Join(t.TempDir(), "snapshot.json"),
		PipelineBacklog: 16,
	}
}

func newTestPipeline(t *testing.T, cfg *config.Config, registry *Registry, sender replySender) *Pipeline {
	t.Helper()
	snapshots := model.NewSnapshotStore(cfg.SnapshotFile)
	p := NewPipeline(cfg, registry, snapshots, sender)
	p.sleep = func(time.Duration) {}
	return p
}

func textEvent(chat types.JID, body string, ts time.Time) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:   chat,
				Sender: chat,
			},
			ID:        "MSG1",
			Timestamp: ts,
		},
		Message: &waE2E.Message{Conversation: proto.String(body)},
	}
}

func TestProcessMessageChoreography(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["type"] != "text" || payload["message"] != "hello" {
			t.Errorf("unexpected payload: %v", payload)
		}
		if payload["eventId"] == "" {
			t.Error("missing eventId")
		}
		json.NewEncoder(w).Encode(map[string]string{"reply": "hi there"})
	}))
	defer srv.Close()

	registry := newTestRegistry(t, "")
	registry.Insert(srv.URL)

	client := &fakeClient{}
	sender := &fakeSender{}
	p := newTestPipeline(t, testConfig(t), registry, sender)

	chat := types.NewJID("628123456789", types.DefaultUserServer)
	p.processMessage(client, textEvent(chat, "hello", time.Now()))

	want := []string{"presence:composing", "markread", "presence:paused"}
	if len(client.calls) != len(want) {
		t.Fatalf("calls = %v", client.calls)
	}
	for i := range want {
		if client.calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, client.calls[i], want[i])
		}
	}

	if len(sender.sent) != 1 || sender.sent[0] != chat.String()+"|hi there" {
		t.Fatalf("reply not routed back: %v", sender.sent)
	}
}

func TestProcessMessageNoReplyNoSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	registry := newTestRegistry(t, "")
	registry.Insert(srv.URL)

	sender := &fakeSender{}
	p := newTestPipeline(t, testConfig(t), registry, sender)

	chat := types.NewJID("628123456789", types.DefaultUserServer)
	p.processMessage(&fakeClient{}, textEvent(chat, "hello", time.Now()))

	if len(sender.sent) != 0 {
		t.Fatalf("unexpected reply send: %v", sender.sent)
	}
}

func TestShouldDropFilters(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPipeline(t, cfg, newTestRegistry(t, ""), &fakeSender{})

	now := time.Now()
	user := types.NewJID("628123456789", types.DefaultUserServer)

	tests := []struct {
		name string
		evt  *events.Message
		want bool
	}{
		{
			name: "normal message kept",
			evt:  textEvent(user, "hi", now),
			want: false,
		},
		{
			name: "status broadcast dropped",
			evt:  textEvent(types.NewJID("status", types.BroadcastServer), "hi", now),
			want: true,
		},
		{
			name: "newsletter dropped",
			evt:  textEvent(types.NewJID("123", types.NewsletterServer), "hi", now),
			want: true,
		},
		{
			name: "own message dropped",
			evt: func() *events.Message {
				e := textEvent(user, "hi", now)
				e.Info.IsFromMe = true
				return e
			}(),
			want: true,
		},
		{
			name: "59s old kept",
			evt:  textEvent(user, "hi", now.Add(-59*time.Second)),
			want: false,
		},
		{
			name: "61s old dropped",
			evt:  textEvent(user, "hi", now.Add(-61*time.Second)),
			want: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := p.shouldDrop(tc.evt, now)
			if got != tc.want {
				t.Fatalf("shouldDrop = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestShouldDropAllowlist(t *testing.T) {
	cfg := testConfig(t)
	cfg.Allowlist = []string{"628111111111"}
	p := newTestPipeline(t, cfg, newTestRegistry(t, ""), &fakeSender{})

	now := time.Now()

	allowed := textEvent(types.NewJID("628111111111", types.DefaultUserServer), "hi", now)
	if drop, _ := p.shouldDrop(allowed, now); drop {
		t.Fatal("allowlisted sender should pass")
	}

	// device suffix on the sender must not defeat the match
	withDevice := textEvent(types.NewJID("628999999999", types.DefaultUserServer), "hi", now)
	withDevice.Info.Sender = types.NewJID("628111111111", types.DefaultUserServer)
	if drop, _ := p.shouldDrop(withDevice, now); drop {
		t.Fatal("allowlisted participant should pass")
	}

	blocked := textEvent(types.NewJID("628222222222", types.DefaultUserServer), "hi", now)
	if drop, _ := p.shouldDrop(blocked, now); !drop {
		t.Fatal("non-allowlisted sender should drop")
	}
}

func TestClassifyMessage(t *testing.T) {
	base := types.MessageInfo{
		MessageSource: types.MessageSource{
			Chat: types.NewJID("628123", types.DefaultUserServer),
		},
		Timestamp: time.Now(),
	}

	t.Run("conversation", func(t *testing.T) {
		content, _, ok := classifyMessage(&events.Message{
			Info:    base,
			Message: &waE2E.Message{Conversation: proto.String("plain")},
		})
		if !ok || content.Kind != "text" || content.Text != "plain" {
			t.Fatalf("content = %+v ok=%v", content, ok)
		}
	})

	t.Run("extended text with quote", func(t *testing.T) {
		content, _, ok := classifyMessage(&events.Message{
			Info: base,
			Message: &waE2E.Message{
				ExtendedTextMessage: &waE2E.ExtendedTextMessage{
					Text: proto.String("quoted reply"),
					ContextInfo: &waE2E.ContextInfo{
						StanzaID: proto.String("ORIG42"),
					},
				},
			},
		})
		if !ok || content.Text != "quoted reply" || content.ReplyTo != "ORIG42" {
			t.Fatalf("content = %+v ok=%v", content, ok)
		}
	})

	t.Run("voice note passes mime gate", func(t *testing.T) {
		content, _, ok := classifyMessage(&events.Message{
			Info: base,
			Message: &waE2E.Message{
				AudioMessage: &waE2E.AudioMessage{
					Mimetype: proto.String("audio/ogg; codecs=opus"),
				},
			},
		})
		if !ok || content.Kind != "audio" || content.Media == nil {
			t.Fatalf("content = %+v ok=%v", content, ok)
		}
	})

	t.Run("image dropped", func(t *testing.T) {
		_, _, ok := classifyMessage(&events.Message{
			Info: base,
			Message: &waE2E.Message{
				ImageMessage: &waE2E.ImageMessage{Mimetype: proto.String("image/jpeg")},
			},
		})
		if ok {
			t.Fatal("image should not be forwarded")
		}
	})

	t.Run("pdf document dropped", func(t *testing.T) {
		_, _, ok := classifyMessage(&events.Message{
			Info: base,
			Message: &waE2E.Message{
				DocumentMessage: &waE2E.DocumentMessage{Mimetype: proto.String("application/pdf")},
			},
		})
		if ok {
			t.Fatal("pdf should not be forwarded")
		}
	})

	t.Run("plain text document kept", func(t *testing.T) {
		content, _, ok := classifyMessage(&events.Message{
			Info: base,
			Message: &waE2E.Message{
				DocumentMessage: &waE2E.DocumentMessage{
					Mimetype: proto.String("text/plain"),
					Caption:  proto.String("notes"),
				},
			},
		})
		if !ok || content.Kind != "text" || content.Media.Caption != "notes" {
			t.Fatalf("content = %+v ok=%v", content, ok)
		}
	})

	t.Run("empty message dropped", func(t *testing.T) {
		if _, _, ok := classifyMessage(&events.Message{Info: base, Message: &waE2E.Message{}}); ok {
			t.Fatal("empty message should drop")
		}
	})
}

func TestForwardableMime(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/csv", true},
		{"audio/ogg; codecs=opus", true},
		{"audio/mpeg", true},
		{"image/jpeg", false},
		{"application/pdf", false},
		{"video/mp4", false},
		{"", false},
	}
	for _, tc := range tests {
		if got := forwardableMime(tc.mime); got != tc.want {
			t.Errorf("forwardableMime(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}

func TestEpochToTime(t *testing.T) {
	sec := int64(1700000000)
	if got := EpochToTime(sec); got.Unix() != sec {
		t.Fatalf("seconds: got %v", got)
	}

	ms := int64(1700000000123)
	if got := EpochToTime(ms); got.UnixMilli() != ms {
		t.Fatalf("millis: got %v", got)
	}

	if got := EpochToTime(0); !got.IsZero() {
		t.Fatalf("zero: got %v", got)
	}
	if got := EpochToTime(-5); !got.IsZero() {
		t.Fatalf("negative: got %v", got)
	}
}

func TestPipelineSerializesJobs(t *testing.T) {
	p := newTestPipeline(t, testConfig(t), newTestRegistry(t, ""), &fakeSender{})
	go p.Run()
	defer p.Stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		p.enqueue(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if i == 9 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("jobs did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", order)
		}
	}
}

func TestMarkReadWithPresencePulse(t *testing.T) {
	chat := types.NewJID("628123456789", types.DefaultUserServer)
	ids := []types.MessageID{"MSG1", "MSG2"}

	client := &fakeClient{}
	if err := MarkReadWithPresence(context.Background(), client, chat, chat, ids, true); err != nil {
		t.Fatalf("with presence: %v", err)
	}

	want := []string{"presence:composing", "markread", "presence:paused"}
	if len(client.calls) != len(want) {
		t.Fatalf("calls = %v", client.calls)
	}
	for i := range want {
		if client.calls[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, client.calls[i], want[i])
		}
	}
}

func TestMarkReadWithoutPresence(t *testing.T) {
	chat := types.NewJID("628123456789", types.DefaultUserServer)

	client := &fakeClient{}
	if err := MarkReadWithPresence(context.Background(), client, chat, chat, []types.MessageID{"MSG1"}, false); err != nil {
		t.Fatalf("without presence: %v", err)
	}

	if len(client.calls) != 1 || client.calls[0] != "markread" {
		t.Fatalf("calls = %v, want markread only", client.calls)
	}
}

func TestProcessCallRejectsAndBroadcasts(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		json.NewDecoder(r.Body).Decode(&payload)
		received <- payload
	}))
	defer srv.Close()

	registry := newTestRegistry(t, "")
	registry.Insert(srv.URL)

	p := newTestPipeline(t, testConfig(t), registry, &fakeSender{})
	client := &fakeClient{}

	p.processCall(client, &events.CallOffer{
		BasicCallMeta: types.BasicCallMeta{
			From:      types.NewJID("628123456789", types.DefaultUserServer),
			CallID:    "CALL7",
			Timestamp: time.Now(),
		},
	})

	if len(client.calls) != 1 || client.calls[0] != "reject:CALL7" {
		t.Fatalf("calls = %v", client.calls)
	}

	select {
	case payload := <-received:
		if payload["type"] != "call" {
			t.Fatalf("payload = %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never arrived")
	}
}
