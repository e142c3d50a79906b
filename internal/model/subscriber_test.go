package model

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSubscriberStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "webhooks.txt")
	s := NewSubscriberStore(path)

	urls, err := s.Load()
	if err != nil {
		t.Fatalf("load missing: %v", err)
	}
	if len(urls) != 0 {
		t.Fatalf("missing file should yield empty list, got %v", urls)
	}

	want := []string{"http://one.test", "http://two.test"}
	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	urls, err = s.Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(urls) != 2 || urls[0] != want[0] || urls[1] != want[1] {
		t.Fatalf("got %v, want %v", urls, want)
	}
}

func TestSubscriberStoreSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webhooks.txt")
	if err := os.WriteFile(path, []byte("http://one.test\n\n  \nhttp://two.test\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	urls, err := NewSubscriberStore(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(urls) != 2 {
		t.Fatalf("blank lines not skipped: %v", urls)
	}
}
