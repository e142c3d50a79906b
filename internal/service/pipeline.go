package service

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"time"

	"gowa-relay/config"
	"gowa-relay/internal/helper"
	"gowa-relay/internal/model"
	"gowa-relay/internal/service/ai"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Pause between the "paused" presence and the actual reply send.
const replySettleDelay = 250 * time.Millisecond

// waClient is the slice of the transport client the pipeline needs.
// *whatsmeow.Client satisfies it; tests substitute a fake.
type waClient interface {
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error
	Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error)
	RejectCall(ctx context.Context, callFrom types.JID, callID string) error
}

// replySender sends the webhook-chosen reply back into the chat.
type replySender interface {
	SendText(ctx context.Context, to types.JID, text string) error
}

// inboundMedia is the downloaded attachment forwarded to subscribers.
type inboundMedia struct {
	MimeType string `json:"mimeType"`
	Caption  string `json:"caption,omitempty"`
	Data     string `json:"data"` // base64
}

// inboundContent is the classified shape of one inbound message.
type inboundContent struct {
	Kind    string // "text" or "audio"
	Text    string
	Media   *inboundMedia
	ReplyTo string // stanza id of the quoted message, if any
}

// Pipeline serializes inbound transport events through a single worker so
// webhook dispatches never interleave, then fans each message out to the
// subscriber registry and routes the first reply back into the chat.
type Pipeline struct {
	jobs chan func()
	quit chan struct{}

	registry  *Registry
	snapshots *model.SnapshotStore
	sender    replySender
	cfg       *config.Config

	allowlist map[string]bool

	// Injection points for tests.
	sleep   func(time.Duration)
	aiReply func(ctx context.Context, message string) (string, error)
}

func NewPipeline(cfg *config.Config, registry *Registry, snapshots *model.SnapshotStore, sender replySender) *Pipeline {
	backlog := cfg.PipelineBacklog
	if backlog <= 0 {
		backlog = 256
	}

	allow := make(map[string]bool)
	for _, entry := range cfg.Allowlist {
		if n := helper.NormalizeNumber(entry); n != "" {
			allow[n] = true
		}
	}

	return &Pipeline{
		jobs:      make(chan func(), backlog),
		quit:      make(chan struct{}),
		registry:  registry,
		snapshots: snapshots,
		sender:    sender,
		cfg:       cfg,
		allowlist: allow,
		sleep:     time.Sleep,
		aiReply:   ai.GenerateReply,
	}
}

// Run drains the queue until Stop. One job at a time, in arrival order.
func (p *Pipeline) Run() {
	for {
		select {
		case job := <-p.jobs:
			job()
		case <-p.quit:
			return
		}
	}
}

func (p *Pipeline) Stop() {
	close(p.quit)
}

func (p *Pipeline) enqueue(job func()) {
	select {
	case p.jobs <- job:
	case <-p.quit:
	}
}

func (p *Pipeline) EnqueueMessage(client waClient, evt *events.Message) {
	p.enqueue(func() { p.processMessage(client, evt) })
}

func (p *Pipeline) EnqueueCall(client waClient, evt *events.CallOffer) {
	p.enqueue(func() { p.processCall(client, evt) })
}

func (p *Pipeline) EnqueueHistorySync(evt *events.HistorySync) {
	p.enqueue(func() { p.processHistorySync(evt) })
}

func (p *Pipeline) processMessage(client waClient, evt *events.Message) {
	if drop, reason := p.shouldDrop(evt, time.Now()); drop {
		if reason != "" {
			log.Printf("pipeline: dropping message %s (%s)", evt.Info.ID, reason)
		}
		return
	}

	content, downloadable, ok := classifyMessage(evt)
	if !ok {
		return
	}

	ctx := context.Background()

	if content.Media != nil && downloadable != nil {
		data, err := client.Download(ctx, downloadable)
		if err != nil {
			log.Printf("pipeline: download failed for %s: %v", evt.Info.ID, err)
			return
		}
		content.Media.Data = base64.StdEncoding.EncodeToString(data)
	}

	chat, err := helper.NormalizeChatJID(evt.Info.Chat.String())
	if err != nil {
		log.Printf("pipeline: bad chat jid %s: %v", evt.Info.Chat, err)
		return
	}

	if err := client.SendChatPresence(ctx, chat, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		log.Printf("pipeline: composing presence failed: %v", err)
	}

	payload := map[string]interface{}{
		"eventId":   uuid.NewString(),
		"from":      chat.String(),
		"type":      content.Kind,
		"timestamp": evt.Info.Timestamp.UnixMilli(),
	}
	if content.Text != "" {
		payload["message"] = content.Text
	}
	if content.Media != nil {
		payload["media"] = content.Media
	}
	if content.ReplyTo != "" {
		payload["replyToMessageId"] = content.ReplyTo
	}

	started := time.Now()
	results := p.registry.DispatchAndCollect(payload)

	if err := client.MarkRead(ctx, []types.MessageID{evt.Info.ID}, time.Now(), evt.Info.Chat, evt.Info.Sender); err != nil {
		log.Printf("pipeline: mark read failed: %v", err)
	}

	reply := FirstReply(results)
	if reply == "" && config.AIEnabled && content.Text != "" {
		if aiText, err := p.aiReply(ctx, content.Text); err != nil {
			log.Printf("pipeline: ai reply failed: %v", err)
		} else {
			reply = aiText
		}
	}

	// Hold the "composing" state so the round trip never looks instant.
	if elapsed := time.Since(started); elapsed < p.cfg.MinRoundTrip {
		p.sleep(p.cfg.MinRoundTrip - elapsed)
	}

	if err := client.SendChatPresence(ctx, chat, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
		log.Printf("pipeline: paused presence failed: %v", err)
	}

	if reply == "" {
		return
	}
	p.sleep(replySettleDelay)

	if err := p.sender.SendText(ctx, chat, reply); err != nil {
		log.Printf("pipeline: reply send failed: %v", err)
	}
}

// shouldDrop applies the inbound filters in order. The returned reason is
// empty for drops that are routine enough not to log.
func (p *Pipeline) shouldDrop(evt *events.Message, now time.Time) (bool, string) {
	chat := evt.Info.Chat
	if chat.Server == types.BroadcastServer || chat.Server == types.NewsletterServer {
		return true, ""
	}

	if evt.Info.IsFromMe {
		return true, ""
	}

	if len(p.allowlist) > 0 {
		sender := helper.NormalizeNumber(evt.Info.Sender.User)
		chatNum := helper.NormalizeNumber(chat.User)
		if !p.allowlist[sender] && !p.allowlist[chatNum] {
			return true, "sender not in allowlist"
		}
	}

	if isStale(evt.Info.Timestamp, now, p.cfg.StaleThreshold) {
		return true, "stale"
	}

	return false, ""
}

// isStale reports whether a message is older than the threshold. The zero
// timestamp is never stale; the boundary itself is not stale.
func isStale(ts, now time.Time, threshold time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	return now.Sub(ts) > threshold
}

// forwardableMime gates what is forwarded to subscribers: plain text parts
// always pass, attachments only when their mime type is text or audio.
func forwardableMime(mime string) bool {
	return strings.HasPrefix(mime, "text/") || strings.HasPrefix(mime, "audio/")
}

// classifyMessage extracts the forwardable content of a message. Returns
// ok=false for shapes that are filtered out (unsupported types, media with
// a mime type outside the text/audio gate).
func classifyMessage(evt *events.Message) (*inboundContent, whatsmeow.DownloadableMessage, bool) {
	msg := evt.Message
	if msg == nil {
		return nil, nil, false
	}

	if text := msg.GetConversation(); text != "" {
		return &inboundContent{Kind: "text", Text: text}, nil, true
	}

	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return &inboundContent{
			Kind:    "text",
			Text:    ext.GetText(),
			ReplyTo: ext.GetContextInfo().GetStanzaID(),
		}, nil, true
	}

	if audio := msg.GetAudioMessage(); audio != nil {
		mime := audio.GetMimetype()
		if !forwardableMime(mime) {
			return nil, nil, false
		}
		return &inboundContent{
			Kind:    "audio",
			Media:   &inboundMedia{MimeType: mime},
			ReplyTo: audio.GetContextInfo().GetStanzaID(),
		}, audio, true
	}

	if doc := msg.GetDocumentMessage(); doc != nil {
		return classifyDocument(doc, doc.GetContextInfo().GetStanzaID())
	}

	if wrapped := msg.GetDocumentWithCaptionMessage(); wrapped != nil {
		if doc := wrapped.GetMessage().GetDocumentMessage(); doc != nil {
			return classifyDocument(doc, doc.GetContextInfo().GetStanzaID())
		}
	}

	// Images, video, stickers, polls, reactions and the rest never make it
	// to subscribers.
	return nil, nil, false
}

func classifyDocument(doc interface {
	GetMimetype() string
	GetCaption() string
}, replyTo string) (*inboundContent, whatsmeow.DownloadableMessage, bool) {
	mime := doc.GetMimetype()
	if !forwardableMime(mime) {
		return nil, nil, false
	}

	kind := "text"
	if strings.HasPrefix(mime, "audio/") {
		kind = "audio"
	}

	content := &inboundContent{
		Kind:    kind,
		Media:   &inboundMedia{MimeType: mime, Caption: doc.GetCaption()},
		ReplyTo: replyTo,
	}

	downloadable, _ := doc.(whatsmeow.DownloadableMessage)
	return content, downloadable, true
}

// ReadTransport is the client slice needed to acknowledge messages.
// *whatsmeow.Client satisfies it.
type ReadTransport interface {
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	MarkRead(ctx context.Context, ids []types.MessageID, timestamp time.Time, chat, sender types.JID, receiptTypeExtra ...types.ReceiptType) error
}

// MarkReadWithPresence sends read receipts, optionally wrapped in a
// composing/paused pulse so the chat briefly shows activity. Presence
// failures are logged, only the receipt itself is fatal.
func MarkReadWithPresence(ctx context.Context, client ReadTransport, chat, sender types.JID, ids []types.MessageID, withPresence bool) error {
	if withPresence {
		if err := client.SendChatPresence(ctx, chat, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
			log.Printf("presence before read failed: %v", err)
		}
	}

	if err := client.MarkRead(ctx, ids, time.Now(), chat, sender); err != nil {
		return err
	}

	if withPresence {
		if err := client.SendChatPresence(ctx, chat, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
			log.Printf("presence after read failed: %v", err)
		}
	}
	return nil
}

// processCall rejects the offer and tells subscribers someone tried to call.
func (p *Pipeline) processCall(client waClient, evt *events.CallOffer) {
	log.Printf("pipeline: rejecting call %s from %s", evt.CallID, evt.From)

	if err := client.RejectCall(context.Background(), evt.From, evt.CallID); err != nil {
		log.Printf("pipeline: reject call failed: %v", err)
	}

	p.registry.Broadcast(map[string]interface{}{
		"eventId":   uuid.NewString(),
		"type":      "call",
		"from":      evt.From.String(),
		"timestamp": evt.Timestamp.UnixMilli(),
	})
}

// processHistorySync flattens the sync blob into the chat/contact snapshot.
func (p *Pipeline) processHistorySync(evt *events.HistorySync) {
	var chats []model.Chat
	for _, conv := range evt.Data.GetConversations() {
		jid := conv.GetID()
		if jid == "" {
			continue
		}
		var last int64
		if t := EpochToTime(int64(conv.GetConversationTimestamp())); !t.IsZero() {
			last = t.UnixMilli()
		}
		chats = append(chats, model.Chat{
			JID:             jid,
			Name:            conv.GetName(),
			LastMessageTime: last,
		})
	}

	var contacts []model.Contact
	for _, pn := range evt.Data.GetPushnames() {
		jid := pn.GetID()
		if jid == "" {
			continue
		}
		contacts = append(contacts, model.Contact{JID: jid, Name: pn.GetPushname()})
	}

	if len(chats) == 0 && len(contacts) == 0 {
		return
	}
	if err := p.snapshots.Append(chats, contacts); err != nil {
		log.Printf("pipeline: snapshot append failed: %v", err)
	}
	log.Printf("pipeline: snapshot appended %d chats, %d contacts", len(chats), len(contacts))
}

// EpochToTime converts a protocol timestamp to time.Time, tolerating both
// second and millisecond precision: values below 10^12 are seconds.
func EpochToTime(v int64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v < 1_000_000_000_000 {
		return time.Unix(v, 0)
	}
	return time.UnixMilli(v)
}
