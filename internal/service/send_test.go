package service

import (
	"errors"
	"strings"
	"testing"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
)

func TestContentKindPrecedence(t *testing.T) {
	full := &SendMessageRequest{
		Message:  "text",
		Media:    &MediaRequest{Kind: "image"},
		Location: &LocationRequest{},
		Poll:     &PollRequest{},
		Contact:  &ContactRequest{},
	}
	if got := contentKind(full); got != "media" {
		t.Fatalf("full request: %q, want media", got)
	}

	full.Media = nil
	if got := contentKind(full); got != "location" {
		t.Fatalf("no media: %q, want location", got)
	}

	full.Location = nil
	if got := contentKind(full); got != "poll" {
		t.Fatalf("no location: %q, want poll", got)
	}

	full.Poll = nil
	if got := contentKind(full); got != "contact" {
		t.Fatalf("no poll: %q, want contact", got)
	}

	full.Contact = nil
	if got := contentKind(full); got != "text" {
		t.Fatalf("no contact: %q, want text", got)
	}

	if got := contentKind(&SendMessageRequest{Message: "   "}); got != "" {
		t.Fatalf("blank message: %q, want empty", got)
	}
}

func TestBuildVCardStripsPhone(t *testing.T) {
	card := buildVCard(&ContactRequest{
		Name:  "Jane Doe",
		Phone: "+62 812 3456 789",
		Email: "jane@example.com",
	})

	if !strings.Contains(card, "waid=628123456789:") {
		t.Fatalf("waid not stripped:\n%s", card)
	}
	if !strings.Contains(card, "FN:Jane Doe") {
		t.Fatalf("missing FN line:\n%s", card)
	}
	if !strings.Contains(card, "EMAIL:jane@example.com") {
		t.Fatalf("missing EMAIL line:\n%s", card)
	}
	if !strings.HasPrefix(card, "BEGIN:VCARD\nVERSION:3.0") {
		t.Fatalf("bad preamble:\n%s", card)
	}
	if !strings.HasSuffix(card, "END:VCARD") {
		t.Fatalf("bad terminator:\n%s", card)
	}
}

func TestBuildTextMessageQuoting(t *testing.T) {
	chat := types.NewJID("628123456789", types.DefaultUserServer)

	plain := buildTextMessage("hi", "", chat)
	if plain.GetConversation() != "hi" {
		t.Fatalf("plain text: %+v", plain)
	}
	if plain.GetExtendedTextMessage() != nil {
		t.Fatal("plain text must not build extended message")
	}

	quoted := buildTextMessage("hi", "STANZA1", chat)
	ext := quoted.GetExtendedTextMessage()
	if ext == nil {
		t.Fatal("quoted text must build extended message")
	}
	if ext.GetText() != "hi" || ext.GetContextInfo().GetStanzaID() != "STANZA1" {
		t.Fatalf("quoted text: %+v", ext)
	}
}

func TestBuildLocationMessage(t *testing.T) {
	msg := buildLocationMessage(&LocationRequest{
		Latitude:  -6.2,
		Longitude: 106.8,
		Name:      "Jakarta",
		Address:   "Jl. Sudirman 1",
		URL:       "https://maps.example.com/?q=-6.2,106.8",
	})

	loc := msg.GetLocationMessage()
	if loc.GetDegreesLatitude() != -6.2 || loc.GetDegreesLongitude() != 106.8 {
		t.Fatalf("coords: %+v", loc)
	}
	if loc.GetName() != "Jakarta" {
		t.Fatalf("name: %q", loc.GetName())
	}
	if loc.GetAddress() != "Jl. Sudirman 1" {
		t.Fatalf("address: %q", loc.GetAddress())
	}
	if loc.GetURL() != "https://maps.example.com/?q=-6.2,106.8" {
		t.Fatalf("url: %q", loc.GetURL())
	}
}

func TestIsClosedConn(t *testing.T) {
	if !isClosedConn(whatsmeow.ErrNotConnected) {
		t.Fatal("ErrNotConnected should match")
	}
	if !isClosedConn(errors.New("failed to send: websocket not connected")) {
		t.Fatal("wrapped message should match")
	}
	if isClosedConn(errors.New("server returned error 479")) {
		t.Fatal("unrelated error must not match")
	}
}
