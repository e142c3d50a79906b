package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gowa-relay/config"
	"gowa-relay/internal/ws"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type SessionState string

const (
	StateDisconnected SessionState = "disconnected"
	StateConnecting   SessionState = "connecting"
	StateAwaitingScan SessionState = "awaiting_scan"
	StateConnected    SessionState = "connected"
	StateClosing      SessionState = "closing"
)

// Fixed retry schedule for transient disconnects; the last entry repeats.
var reconnectBackoff = []time.Duration{
	1000 * time.Millisecond,
	2000 * time.Millisecond,
	2500 * time.Millisecond,
	3000 * time.Millisecond,
	4000 * time.Millisecond,
}

const maxReconnectAttempts = 5

// Delay between the deliberate close and the restart during a forced refresh.
const refreshSettleDelay = 1 * time.Second

// Health is a pure read of the session's condition.
type Health struct {
	Alive              bool   `json:"alive"`
	Connected          bool   `json:"connected"`
	HasClient          bool   `json:"hasClient"`
	ReconnectScheduled bool   `json:"reconnectScheduled"`
	SocketState        string `json:"socketState"`
}

// Action tags returned by EnsureConnected.
const (
	ActionAlreadyAlive       = "already_alive"
	ActionReconnectScheduled = "reconnect_scheduled"
	ActionStartCalled        = "start_called"
	ActionStartFailed        = "start_failed"
)

type startAttempt struct {
	done chan struct{}
	err  error
}

// SessionManager owns the one whatsmeow client handle for the process:
// its lifecycle, generation tagging, reconnect backoff and the periodic
// recovery/refresh timers. Nothing else mutates the handle.
type SessionManager struct {
	mu sync.Mutex

	container *sqlstore.Container
	client    *whatsmeow.Client

	generation       int64
	state            SessionState
	isConnected      bool
	reconnectAttempt int
	reconnectTimer   *time.Timer
	refreshing       bool
	inFlight         *startAttempt

	lastQR      string
	qrExpiresAt time.Time

	cfg      *config.Config
	pipeline *Pipeline
	Realtime ws.RealtimePublisher

	stopCh   chan struct{}
	stopOnce sync.Once

	// startFn lets tests substitute the connect attempt; nil means m.start.
	startFn func(ctx context.Context) error
}

func NewSessionManager(container *sqlstore.Container, cfg *config.Config) *SessionManager {
	return &SessionManager{
		container: container,
		state:     StateDisconnected,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// SetPipeline wires the inbound pipeline; must be called before Start.
func (m *SessionManager) SetPipeline(p *Pipeline) {
	m.pipeline = p
}

// Start establishes (or re-establishes) the transport session. Concurrent
// callers join the in-flight attempt instead of racing to create a second
// client handle.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if att := m.inFlight; att != nil {
		m.mu.Unlock()
		<-att.done
		return att.err
	}

	if m.state == StateConnected && m.client != nil && m.client.IsConnected() {
		m.mu.Unlock()
		log.Println("Session already connected, start is a no-op")
		return nil
	}

	att := &startAttempt{done: make(chan struct{})}
	m.inFlight = att
	startFn := m.startFn
	if startFn == nil {
		startFn = m.start
	}
	m.mu.Unlock()

	err := startFn(ctx)

	m.mu.Lock()
	att.err = err
	m.inFlight = nil
	m.mu.Unlock()
	close(att.done)

	return err
}

func (m *SessionManager) start(ctx context.Context) error {
	m.mu.Lock()

	// Detach the previous handle before minting a new one. Events from the
	// old generation are discarded by the generation guard either way.
	if old := m.client; old != nil {
		m.state = StateClosing
		m.client = nil
		m.mu.Unlock()
		old.Disconnect()
		m.mu.Lock()
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	device, err := m.container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		device = m.container.NewDevice()
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.client = client
	m.isConnected = false
	m.state = StateConnecting
	m.mu.Unlock()

	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(gen, client, evt)
	})

	if client.Store.ID == nil {
		// Not paired yet: surface QR codes until scanned or abandoned.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to get QR channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		m.setState(gen, StateAwaitingScan)
		go m.watchQR(gen, qrChan)
		return nil
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (m *SessionManager) watchQR(gen int64, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		switch {
		case evt.Event == "code":
			expiresAt := time.Now().Add(evt.Timeout)
			m.mu.Lock()
			if gen != m.generation {
				m.mu.Unlock()
				return
			}
			m.lastQR = evt.Code
			m.qrExpiresAt = expiresAt
			m.state = StateAwaitingScan
			m.mu.Unlock()

			m.publish(ws.WsEvent{
				Event: ws.EventQRGenerated,
				Data:  ws.QRGeneratedData{QRData: evt.Code, ExpiresAt: expiresAt},
			})

		case evt.Event == "success":
			m.clearQR(gen)
			m.publish(ws.WsEvent{Event: ws.EventQRSuccess})
			return

		default:
			// timeout or err-*: the pairing flow was abandoned, treat as a
			// permanent close (a fresh start will mint a new QR).
			log.Printf("QR flow ended without pairing: %s", evt.Event)
			m.clearQR(gen)
			m.handleClose(gen, true, evt.Event)
			m.publish(ws.WsEvent{Event: ws.EventQRTimeout, Data: map[string]interface{}{"reason": evt.Event}})
			return
		}
	}
}

func (m *SessionManager) clearQR(gen int64) {
	m.mu.Lock()
	if gen == m.generation {
		m.lastQR = ""
		m.qrExpiresAt = time.Time{}
	}
	m.mu.Unlock()
}

// handleEvent routes transport events. Events carrying a stale generation
// belong to a superseded handle and are discarded unconditionally.
func (m *SessionManager) handleEvent(gen int64, client *whatsmeow.Client, rawEvt interface{}) {
	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}

	switch evt := rawEvt.(type) {
	case *events.Connected:
		m.handleConnected(gen, client)

	case *events.PairSuccess:
		log.Println("✓ Pair success:", evt.ID.String())

	case *events.Disconnected:
		log.Println("⚠ Transport disconnected")
		m.handleClose(gen, false, "disconnected")

	case *events.StreamError:
		log.Printf("⚠ Stream error: %s", evt.Code)
		m.handleClose(gen, false, "stream_error")

	case *events.LoggedOut:
		log.Printf("✗ Logged out by server (reason %v)", evt.Reason)
		m.handleClose(gen, true, "logged_out")

	case *events.TemporaryBan:
		log.Printf("✗ Temporary ban: %v", evt)
		m.handleClose(gen, true, "temporary_ban")

	case *events.ClientOutdated:
		log.Println("✗ Client outdated, not retrying")
		m.handleClose(gen, true, "client_outdated")

	case *events.StreamReplaced:
		log.Println("⚠ Stream replaced by another session")
		m.handleClose(gen, true, "stream_replaced")

	case *events.Message:
		if m.pipeline != nil {
			m.pipeline.EnqueueMessage(client, evt)
		}

	case *events.CallOffer:
		if m.pipeline != nil {
			m.pipeline.EnqueueCall(client, evt)
		}

	case *events.HistorySync:
		if m.pipeline != nil {
			m.pipeline.EnqueueHistorySync(evt)
		}
	}
}

func (m *SessionManager) handleConnected(gen int64, client *whatsmeow.Client) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.isConnected = true
	m.state = StateConnected
	m.reconnectAttempt = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	jid := ""
	if client.Store.ID != nil {
		jid = client.Store.ID.String()
	}
	m.mu.Unlock()

	log.Println("✓ Connected! JID:", jid)
	m.publish(ws.WsEvent{Event: ws.EventSessionConnected, Data: map[string]interface{}{"jid": jid}})

	// Mark the device online so the phone shows the session as active.
	if err := client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
		log.Println("⚠ Failed to send presence:", err)
	}
}

// handleClose records a transport close and, for transient reasons outside
// a forced refresh, schedules the next reconnect attempt.
func (m *SessionManager) handleClose(gen int64, permanent bool, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}

	m.isConnected = false

	if permanent {
		m.state = StateDisconnected
		m.reconnectAttempt = 0
		if m.reconnectTimer != nil {
			m.reconnectTimer.Stop()
			m.reconnectTimer = nil
		}
		go m.publish(ws.WsEvent{Event: ws.EventSessionClosed, Data: map[string]interface{}{"reason": reason, "permanent": true}})
		return
	}

	if m.refreshing {
		// Deliberate close during a forced refresh, not a failure.
		log.Println("Close during refresh, reconnect suppressed")
		return
	}

	m.scheduleReconnectLocked(reason)
}

// scheduleReconnectLocked must be called with m.mu held.
func (m *SessionManager) scheduleReconnectLocked(reason string) {
	m.reconnectAttempt++
	if m.reconnectAttempt > maxReconnectAttempts {
		log.Printf("Retry budget exhausted after %d attempts, giving up", maxReconnectAttempts)
		m.state = StateDisconnected
		m.reconnectAttempt = 0
		go m.publish(ws.WsEvent{Event: ws.EventSessionClosed, Data: map[string]interface{}{"reason": reason, "permanent": false}})
		return
	}

	delay := backoffDelay(m.reconnectAttempt)
	attempt := m.reconnectAttempt
	log.Printf("Reconnect scheduled: attempt %d in %s (%s)", attempt, delay, reason)

	m.state = StateDisconnected
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()
		if err := m.Start(context.Background()); err != nil {
			log.Printf("Reconnect attempt %d failed: %v", attempt, err)
		}
	})

	go m.publish(ws.WsEvent{Event: ws.EventReconnectScheduled, Data: map[string]interface{}{"attempt": attempt, "delayMs": delay.Milliseconds()}})
}

// backoffDelay returns the wait before the given attempt (1-based),
// clamped to the last entry of the schedule.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(reconnectBackoff) {
		attempt = len(reconnectBackoff)
	}
	return reconnectBackoff[attempt-1]
}

// Health reports the session condition without side effects.
func (m *SessionManager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	hasClient := m.client != nil
	socketOpen := hasClient && m.client.IsConnected()

	return Health{
		Alive:              m.isConnected && hasClient && socketOpen,
		Connected:          m.isConnected,
		HasClient:          hasClient,
		ReconnectScheduled: m.reconnectTimer != nil,
		SocketState:        string(m.state),
	}
}

// EnsureConnected is a non-blocking health check that only starts the
// session when it is neither alive nor already mid-reconnect.
func (m *SessionManager) EnsureConnected(ctx context.Context) (Health, string) {
	h := m.Health()
	if h.Alive {
		return h, ActionAlreadyAlive
	}
	if h.ReconnectScheduled {
		return h, ActionReconnectScheduled
	}

	if err := m.Start(ctx); err != nil {
		log.Printf("EnsureConnected start failed: %v", err)
		return m.Health(), ActionStartFailed
	}
	return m.Health(), ActionStartCalled
}

// Refresh force-cycles the connection to counter silent half-open sockets.
// Overlapping refreshes no-op, and the deliberate close does not trigger
// the reconnect path.
func (m *SessionManager) Refresh(ctx context.Context) {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		log.Println("Refresh already in progress, skipping")
		return
	}
	m.refreshing = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	client := m.client
	if client != nil {
		m.state = StateClosing
	}
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
	time.Sleep(refreshSettleDelay)

	err := m.Start(ctx)

	m.mu.Lock()
	m.refreshing = false
	m.mu.Unlock()

	if err != nil {
		log.Printf("Refresh restart failed: %v", err)
	} else {
		log.Println("Session refreshed")
	}
}

// StartTimers arms the auto-recovery and forced-refresh loops.
func (m *SessionManager) StartTimers() {
	go m.recoveryLoop(m.cfg.RecoveryInterval)
	go m.refreshLoop(m.cfg.RefreshInterval)
}

func (m *SessionManager) recoveryLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, action := m.EnsureConnected(context.Background()); action != ActionAlreadyAlive {
				log.Printf("Auto-recovery check: %s", action)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *SessionManager) refreshLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Refresh(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Stop shuts down the timer loops and detaches the client.
func (m *SessionManager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.state = StateDisconnected
	m.isConnected = false
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	if client != nil {
		client.Disconnect()
	}
}

// Logout invalidates the credentials on the server side, best effort.
// The credential store is the source of truth; a failed network logout
// must not block local teardown.
func (m *SessionManager) Logout(ctx context.Context) {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.generation++ // orphan any in-flight events from the old handle
	m.state = StateDisconnected
	m.isConnected = false
	m.reconnectAttempt = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Logout(ctx); err != nil {
		log.Printf("Warning: failed to logout from server: %v", err)
	}
	client.Disconnect()
}

// Client returns the current handle for borrowed read-only use
// (sends, health, profile lookups). May be nil.
func (m *SessionManager) Client() *whatsmeow.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *SessionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isConnected
}

// LatestQR returns the current pairing challenge, if any.
func (m *SessionManager) LatestQR() (string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQR, m.qrExpiresAt
}

func (m *SessionManager) setState(gen int64, state SessionState) {
	m.mu.Lock()
	if gen == m.generation {
		m.state = state
	}
	m.mu.Unlock()
}

func (m *SessionManager) publish(event ws.WsEvent) {
	if m.Realtime != nil {
		m.Realtime.Publish(event)
	}
}
