package chat

import "time"

// ConnectionState values reported by the messaging client.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateQRReady      ConnectionState = "qr_ready"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// StatusUpdate carries the client's pairing/connection state. QRCode is an
// opaque image data URL, present only while a scan is pending.
type StatusUpdate struct {
	State     ConnectionState `json:"status"`
	QRCode    string          `json:"qrCode,omitempty"`
	RequestID string          `json:"requestId,omitempty"` // echoes the triggering command, if any
	Timestamp time.Time       `json:"timestamp"`
}

func (s *StatusUpdate) Validate() error {
	ve := &ValidationError{}
	switch s.State {
	case StateDisconnected, StateQRReady, StateConnecting, StateConnected:
	case "":
		ve.add("status", "required")
	default:
		ve.add("status", "unknown")
	}
	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}
