package model

import (
	"path/filepath"
	"testing"
)

func TestSnapshotReadMissingFile(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshot.json"))

	snap, err := s.Read()
	if err != nil {
		t.Fatalf("read missing: %v", err)
	}
	if len(snap.Chats) != 0 || len(snap.Contacts) != 0 {
		t.Fatalf("missing file should be empty, got %+v", snap)
	}
}

func TestSnapshotAppendAccumulates(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "snapshot.json"))

	err := s.Append(
		[]Chat{{JID: "1@s.whatsapp.net", Name: "One", LastMessageTime: 1700000000000}},
		[]Contact{{JID: "1@s.whatsapp.net", Name: "One"}},
	)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}

	err = s.Append([]Chat{{JID: "2@s.whatsapp.net"}}, nil)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}

	snap, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(snap.Chats) != 2 || len(snap.Contacts) != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Chats[0].Name != "One" || snap.Chats[1].JID != "2@s.whatsapp.net" {
		t.Fatalf("chats out of order: %+v", snap.Chats)
	}
}

func TestSnapshotAppendNothingIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	s := NewSnapshotStore(path)

	if err := s.Append(nil, nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}

	snap, err := s.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(snap.Chats) != 0 {
		t.Fatalf("unexpected chats: %+v", snap.Chats)
	}
}
