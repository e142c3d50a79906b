package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Chat is one entry in the flat chat cache built from history syncs.
type Chat struct {
	JID             string `json:"jid"`
	Name            string `json:"name,omitempty"`
	LastMessageTime int64  `json:"lastMessageTime,omitempty"`
}

// Contact is one entry in the flat contact cache.
type Contact struct {
	JID  string `json:"jid"`
	Name string `json:"name,omitempty"`
}

// Snapshot is the whole persisted document. It is a best-effort cache,
// not a source of truth: appends are not deduplicated.
type Snapshot struct {
	Chats    []Chat    `json:"chats"`
	Contacts []Contact `json:"contacts"`
}

// SnapshotStore reads and writes the snapshot as one JSON file.
type SnapshotStore struct {
	mu   sync.Mutex
	path string
}

func NewSnapshotStore(path string) *SnapshotStore {
	return &SnapshotStore{path: path}
}

// Read returns the current snapshot. A missing file yields an empty snapshot.
func (s *SnapshotStore) Read() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *SnapshotStore) read() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Append merges new chats/contacts into the snapshot with a whole-file
// read-modify-write cycle.
func (s *SnapshotStore) Append(chats []Chat, contacts []Contact) error {
	if len(chats) == 0 && len(contacts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.read()
	if err != nil {
		return err
	}

	snap.Chats = append(snap.Chats, chats...)
	snap.Contacts = append(snap.Contacts, contacts...)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}
