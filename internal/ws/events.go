package ws

import "time"

// Event names pushed to the QR/status page.
const (
	EventQRGenerated        = "QR_GENERATED"
	EventQRSuccess          = "QR_SUCCESS"
	EventQRTimeout          = "QR_TIMEOUT"
	EventSessionConnected   = "SESSION_CONNECTED"
	EventSessionClosed      = "SESSION_CLOSED"
	EventSessionError       = "SESSION_ERROR"
	EventReconnectScheduled = "RECONNECT_SCHEDULED"
)

type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// QRGeneratedData is the payload for EventQRGenerated.
type QRGeneratedData struct {
	QRData    string    `json:"qr_data"`
	ExpiresAt time.Time `json:"expires_at"`
}
