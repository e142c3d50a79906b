package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"

	"gowa-relay/internal/helper"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// MediaRequest is an outbound attachment, base64-encoded.
type MediaRequest struct {
	Kind      string `json:"kind"` // image, video, audio, document
	Data      string `json:"data"`
	MimeType  string `json:"mimeType"`
	Caption   string `json:"caption,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	VoiceNote bool   `json:"voiceNote,omitempty"` // audio only: send as push-to-talk
	Loop      bool   `json:"loop,omitempty"`      // video only: gif-style playback
}

type LocationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
	URL       string  `json:"url,omitempty"`
}

type PollRequest struct {
	Name        string   `json:"name"`
	Options     []string `json:"options"`
	MultiSelect bool     `json:"multiSelect,omitempty"`
}

type ContactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

// SendMessageRequest carries every outbound content shape. When more than
// one is set, precedence is media, location, poll, contact, then text.
type SendMessageRequest struct {
	To       string           `json:"to"`
	Message  string           `json:"message,omitempty"`
	ReplyTo  string           `json:"replyToMessageId,omitempty"`
	Media    *MediaRequest    `json:"media,omitempty"`
	Location *LocationRequest `json:"location,omitempty"`
	Poll     *PollRequest     `json:"poll,omitempty"`
	Contact  *ContactRequest  `json:"contact,omitempty"`
}

type SendResult struct {
	MessageID string `json:"messageId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// contentKind resolves which content shape a request carries.
func contentKind(req *SendMessageRequest) string {
	switch {
	case req.Media != nil:
		return "media"
	case req.Location != nil:
		return "location"
	case req.Poll != nil:
		return "poll"
	case req.Contact != nil:
		return "contact"
	case strings.TrimSpace(req.Message) != "":
		return "text"
	default:
		return ""
	}
}

// Send delivers one outbound message. Transport failures that look like a
// dead socket get exactly one retry behind EnsureConnected; anything still
// failing resolves to an empty result, not an error, so callers keep going.
func (m *SessionManager) Send(ctx context.Context, req *SendMessageRequest) (*SendResult, error) {
	to, err := helper.NormalizeChatJID(req.To)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	client := m.Client()
	if client == nil {
		m.EnsureConnected(ctx)
		if client = m.Client(); client == nil {
			log.Println("send: no client available, dropping message")
			return &SendResult{}, nil
		}
	}

	msg, err := m.buildContent(ctx, client, to, req)
	if err != nil {
		log.Printf("send: could not build content: %v", err)
		return &SendResult{}, nil
	}

	resp, err := client.SendMessage(ctx, to, msg)
	if err != nil && isClosedConn(err) {
		log.Printf("send: connection looks dead (%v), retrying once", err)
		m.EnsureConnected(ctx)
		if retry := m.Client(); retry != nil {
			resp, err = retry.SendMessage(ctx, to, msg)
		}
	}
	if err != nil {
		log.Printf("send: delivery to %s failed: %v", to, err)
		return &SendResult{}, nil
	}

	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp.Unix()}, nil
}

// SendText is the plain-text path used for webhook replies.
func (m *SessionManager) SendText(ctx context.Context, to types.JID, text string) error {
	client := m.Client()
	if client == nil {
		return errors.New("no active client")
	}
	_, err := client.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (m *SessionManager) buildContent(ctx context.Context, client *whatsmeow.Client, to types.JID, req *SendMessageRequest) (*waE2E.Message, error) {
	switch contentKind(req) {
	case "media":
		return buildMediaMessage(ctx, client, req.Media)
	case "location":
		return buildLocationMessage(req.Location), nil
	case "poll":
		return buildPollMessage(client, req.Poll)
	case "contact":
		return buildContactMessage(req.Contact), nil
	case "text":
		return buildTextMessage(req.Message, req.ReplyTo, to), nil
	default:
		return nil, errors.New("no content in request")
	}
}

func buildTextMessage(text, replyTo string, chat types.JID) *waE2E.Message {
	if replyTo == "" {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(text),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(replyTo),
				Participant:   proto.String(chat.String()),
				QuotedMessage: &waE2E.Message{Conversation: proto.String("")},
			},
		},
	}
}

func buildMediaMessage(ctx context.Context, client *whatsmeow.Client, media *MediaRequest) (*waE2E.Message, error) {
	data, err := base64.StdEncoding.DecodeString(media.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 media data: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty media data")
	}

	switch media.Kind {
	case "image":
		resp, err := client.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("image upload failed: %w", err)
		}
		img := &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}
		if thumb, err := helper.JPEGThumbnail(data, media.MimeType); err == nil {
			img.JPEGThumbnail = thumb
		}
		return &waE2E.Message{ImageMessage: img}, nil

	case "audio":
		resp, err := client.Upload(ctx, data, whatsmeow.MediaAudio)
		if err != nil {
			return nil, fmt.Errorf("audio upload failed: %w", err)
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.MimeType),
			PTT:           proto.Bool(media.VoiceNote),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}}, nil

	case "video":
		resp, err := client.Upload(ctx, data, whatsmeow.MediaVideo)
		if err != nil {
			return nil, fmt.Errorf("video upload failed: %w", err)
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			GifPlayback:   proto.Bool(media.Loop),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}}, nil

	case "document":
		resp, err := client.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, fmt.Errorf("document upload failed: %w", err)
		}
		name := media.FileName
		if name == "" {
			name = "document"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(name),
			FileName:      proto.String(name),
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.MimeType),
			URL:           &resp.URL,
			DirectPath:    &resp.DirectPath,
			MediaKey:      resp.MediaKey,
			FileEncSHA256: resp.FileEncSHA256,
			FileSHA256:    resp.FileSHA256,
			FileLength:    &resp.FileLength,
		}}, nil

	default:
		return nil, fmt.Errorf("unsupported media kind %q", media.Kind)
	}
}

func buildLocationMessage(loc *LocationRequest) *waE2E.Message {
	return &waE2E.Message{LocationMessage: &waE2E.LocationMessage{
		DegreesLatitude:  proto.Float64(loc.Latitude),
		DegreesLongitude: proto.Float64(loc.Longitude),
		Name:             proto.String(loc.Name),
		Address:          proto.String(loc.Address),
		URL:              proto.String(loc.URL),
	}}
}

func buildPollMessage(client *whatsmeow.Client, poll *PollRequest) (*waE2E.Message, error) {
	if strings.TrimSpace(poll.Name) == "" || len(poll.Options) < 2 {
		return nil, errors.New("poll needs a name and at least two options")
	}
	selectable := 1
	if poll.MultiSelect {
		selectable = len(poll.Options)
	}
	return client.BuildPollCreation(poll.Name, poll.Options, selectable), nil
}

func buildContactMessage(contact *ContactRequest) *waE2E.Message {
	return &waE2E.Message{ContactMessage: &waE2E.ContactMessage{
		DisplayName: proto.String(contact.Name),
		Vcard:       proto.String(buildVCard(contact)),
	}}
}

// buildVCard renders a minimal 3.0 vCard. The waid parameter wants bare
// digits, so the phone is stripped of spaces and any leading plus.
func buildVCard(contact *ContactRequest) string {
	waid := strings.ReplaceAll(contact.Phone, " ", "")
	waid = strings.TrimPrefix(waid, "+")

	var b strings.Builder
	b.WriteString("BEGIN:VCARD\n")
	b.WriteString("VERSION:3.0\n")
	b.WriteString("FN:" + contact.Name + "\n")
	b.WriteString(fmt.Sprintf("TEL;type=CELL;type=VOICE;waid=%s:+%s\n", waid, waid))
	if contact.Email != "" {
		b.WriteString("EMAIL:" + contact.Email + "\n")
	}
	b.WriteString("END:VCARD")
	return b.String()
}

// isClosedConn matches the errors a dead or half-open socket produces.
func isClosedConn(err error) bool {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrClientIsNil) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "websocket not connected") || strings.Contains(msg, "websocket disconnected")
}
