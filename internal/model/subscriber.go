package model

import (
	"os"
	"path/filepath"
	"strings"
)

// SubscriberStore persists the webhook URL list as a newline-delimited file.
type SubscriberStore struct {
	path string
}

func NewSubscriberStore(path string) *SubscriberStore {
	return &SubscriberStore{path: path}
}

// Load returns the stored URLs in file order. A missing file is an empty list.
func (s *SubscriberStore) Load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		if v := strings.TrimSpace(line); v != "" {
			urls = append(urls, v)
		}
	}
	return urls, nil
}

// Save rewrites the whole file with the given URLs.
func (s *SubscriberStore) Save(urls []string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	var b strings.Builder
	for _, u := range urls {
		b.WriteString(u)
		b.WriteString("\n")
	}
	return os.WriteFile(s.path, []byte(b.String()), 0o644)
}
