package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"gowa-relay/config"
	"gowa-relay/internal/model"
)

var ErrSubscriberNotFound = errors.New("webhook subscriber not found")

// DispatchResult is one subscriber's outcome for one dispatch. Failed calls
// are recorded (Succeeded=false) rather than omitted so the reply scan stays
// aligned with registration order.
type DispatchResult struct {
	URL        string                 `json:"url"`
	Succeeded  bool                   `json:"succeeded"`
	StatusCode int                    `json:"statusCode"`
	Response   map[string]interface{} `json:"response,omitempty"`
}

// Registry is the ordered, de-duplicated list of webhook subscribers plus
// the dispatch logic that notifies them.
type Registry struct {
	mu    sync.Mutex
	urls  []string
	store *model.SubscriberStore

	httpClient  *http.Client
	bearerToken string
}

func NewRegistry(store *model.SubscriberStore, timeout time.Duration, bearerToken string) *Registry {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Registry{
		store:       store,
		httpClient:  &http.Client{Timeout: timeout},
		bearerToken: bearerToken,
	}
}

// LoadInitial merges the persisted list with the env seed list and the
// optional seed file, in that order, and persists the result.
func (r *Registry) LoadInitial(seed []string, seedFile string) error {
	stored, err := r.store.Load()
	if err != nil {
		return err
	}

	merged := stored
	merged = append(merged, seed...)

	if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		merged = append(merged, config.SplitList(string(data))...)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool)
	r.urls = nil
	for _, u := range merged {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		r.urls = append(r.urls, u)
	}

	return r.store.Save(r.urls)
}

// Insert adds a URL to the end of the list. Duplicates and empty values
// are silent no-ops; returns whether anything was added.
func (r *Registry) Insert(url string) (bool, error) {
	url = trimURL(url)
	if url == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.urls {
		if existing == url {
			return false, nil
		}
	}

	r.urls = append(r.urls, url)
	return true, r.store.Save(r.urls)
}

// Delete removes the subscriber at the given 0-based index.
func (r *Registry) Delete(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if index < 0 || index >= len(r.urls) {
		return ErrSubscriberNotFound
	}

	r.urls = append(r.urls[:index], r.urls[index+1:]...)
	return r.store.Save(r.urls)
}

// List returns the subscribers in registration order.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.urls...)
}

// Broadcast POSTs the payload to every subscriber, fire-and-forget.
// Per-call failures are logged and do not block other subscribers.
func (r *Registry) Broadcast(payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhook: marshal error: %v", err)
		return
	}

	for _, url := range r.List() {
		go func(url string) {
			if res := r.post(url, body); !res.Succeeded {
				log.Printf("webhook: broadcast to %s failed (status=%d)", url, res.StatusCode)
			}
		}(url)
	}
}

// DispatchAndCollect POSTs the payload to every subscriber and waits for
// all of them, returning one result per subscriber in registration order.
func (r *Registry) DispatchAndCollect(payload interface{}) []DispatchResult {
	urls := r.List()
	results := make([]DispatchResult, len(urls))

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhook: marshal error: %v", err)
		for i, url := range urls {
			results[i] = DispatchResult{URL: url}
		}
		return results
	}

	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = r.post(url, body)
		}(i, url)
	}
	wg.Wait()

	return results
}

func (r *Registry) post(url string, body []byte) DispatchResult {
	result := DispatchResult{URL: url}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Printf("webhook: new request error: %v", err)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	if r.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearerToken)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		log.Printf("webhook: send to %s error: %v", url, err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Succeeded = resp.StatusCode >= 200 && resp.StatusCode < 300

	var parsed map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil {
		result.Response = parsed
	}

	return result
}

// FirstReply scans results in registration order and returns the first
// non-empty "reply" string a subscriber returned.
func FirstReply(results []DispatchResult) string {
	for _, res := range results {
		if res.Response == nil {
			continue
		}
		if reply, ok := res.Response["reply"].(string); ok && reply != "" {
			return reply
		}
	}
	return ""
}

func trimURL(url string) string {
	return strings.TrimSpace(url)
}
