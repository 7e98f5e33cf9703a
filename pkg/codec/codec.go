// Package codec translates broker payloads to and from the chat/v1
// envelope contracts. Decoding normalizes phone identifiers and media
// attachments so everything past this point works with one canonical shape.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	chatv1 "github.com/jntcloudcod2019/mypregiato-sub003/pkg/schemas/chat/v1"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrEmptyText        = errors.New("empty text body")
)

// DecodeError wraps a decode failure with field context. Callers match the
// category with errors.Is against the sentinels above.
type DecodeError struct {
	Field  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(sentinel error, field, reason string) error {
	return &DecodeError{Field: field, Reason: reason, Err: sentinel}
}

// wireEnvelope is the superset of every field either queue may carry. The
// variant is discriminated by presence: command wins, then a bare status,
// otherwise it is a message.
type wireEnvelope struct {
	Command   string `json:"command,omitempty"`
	RequestID string `json:"requestId,omitempty"`

	Status chatv1.ConnectionState `json:"status,omitempty"`
	QRCode string                 `json:"qrCode,omitempty"`

	ID                string              `json:"id,omitempty"`
	ExternalMessageID string              `json:"externalMessageId,omitempty"`
	From              string              `json:"from,omitempty"`
	To                string              `json:"to,omitempty"`
	Body              string              `json:"body,omitempty"`
	Type              chatv1.MediaType    `json:"type,omitempty"`
	IsFromMe          bool                `json:"isFromMe,omitempty"`
	Attachment        *chatv1.Attachment  `json:"attachment,omitempty"`
	Location          *chatv1.Location    `json:"location,omitempty"`
	Contact           *chatv1.ContactCard `json:"contact,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Decode parses a broker payload into an Envelope.
func Decode(data []byte) (chatv1.Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return chatv1.Envelope{}, decodeErr(ErrMalformedPayload, "", err.Error())
	}

	if w.Command != "" {
		return chatv1.Envelope{
			Kind: chatv1.KindCommand,
			Command: &chatv1.CommandEnvelope{
				Command:   w.Command,
				RequestID: w.RequestID,
				Timestamp: w.Timestamp,
			},
		}, nil
	}

	hasMessage := w.ID != "" || w.ExternalMessageID != "" || w.Type != ""
	if !hasMessage {
		if w.Status == "" {
			return chatv1.Envelope{}, decodeErr(ErrMalformedPayload, "", "neither message, command nor status")
		}
		return chatv1.Envelope{
			Kind:   chatv1.KindStatus,
			Status: statusOf(w),
		}, nil
	}

	msg, err := decodeMessage(w)
	if err != nil {
		return chatv1.Envelope{}, err
	}
	env := chatv1.Envelope{Kind: chatv1.KindMessage, Message: msg}
	if w.Status != "" {
		env.Status = statusOf(w)
	}
	return env, nil
}

func statusOf(w wireEnvelope) *chatv1.StatusUpdate {
	return &chatv1.StatusUpdate{
		State:     w.Status,
		QRCode:    w.QRCode,
		RequestID: w.RequestID,
		Timestamp: w.Timestamp,
	}
}

func decodeMessage(w wireEnvelope) (*chatv1.MessageEnvelope, error) {
	id := w.ExternalMessageID
	if id == "" {
		id = w.ID
	}
	if id == "" {
		return nil, decodeErr(ErrMalformedPayload, "id", "missing message id")
	}
	from := NormalizePhone(w.From)
	if from == "" {
		return nil, decodeErr(ErrMalformedPayload, "from", "missing sender")
	}
	if w.Type == "" {
		return nil, decodeErr(ErrMalformedPayload, "type", "missing message type")
	}

	msg := &chatv1.MessageEnvelope{
		ID:        id,
		From:      from,
		To:        NormalizePhone(w.To),
		Body:      w.Body,
		Type:      w.Type,
		Timestamp: w.Timestamp,
		IsFromMe:  w.IsFromMe,
		Location:  w.Location,
		Contact:   w.Contact,
	}

	switch w.Type {
	case chatv1.MediaText:
		if w.Body == "" {
			return nil, decodeErr(ErrEmptyText, "body", "text message with empty body")
		}

	case chatv1.MediaAudio, chatv1.MediaImage, chatv1.MediaVideo, chatv1.MediaDocument:
		att, body, err := reconcileAttachment(w.Type, id, w.Body, w.Attachment)
		if err != nil {
			return nil, err
		}
		msg.Attachment = att
		msg.Body = body

	case chatv1.MediaLocation:
		if w.Location == nil {
			return nil, decodeErr(ErrMalformedPayload, "location", "location message without coordinates")
		}

	case chatv1.MediaContact:
		if w.Contact == nil {
			return nil, decodeErr(ErrMalformedPayload, "contact", "contact message without card")
		}

	default:
		return nil, decodeErr(ErrMalformedPayload, "type", "unknown message type "+string(w.Type))
	}

	return msg, nil
}

// Encode is the inverse of Decode. Encoding an already-normalized envelope
// and decoding it again yields the same envelope.
func Encode(env chatv1.Envelope) ([]byte, error) {
	switch env.Kind {
	case chatv1.KindCommand:
		if env.Command == nil {
			return nil, fmt.Errorf("encode: command envelope without command")
		}
		return json.Marshal(env.Command)

	case chatv1.KindStatus:
		if env.Status == nil {
			return nil, fmt.Errorf("encode: status envelope without status")
		}
		return json.Marshal(env.Status)

	case chatv1.KindMessage:
		if env.Message == nil {
			return nil, fmt.Errorf("encode: message envelope without message")
		}
		w := wireEnvelope{
			ID:         env.Message.ID,
			From:       env.Message.From,
			To:         env.Message.To,
			Body:       env.Message.Body,
			Type:       env.Message.Type,
			Timestamp:  env.Message.Timestamp,
			IsFromMe:   env.Message.IsFromMe,
			Attachment: env.Message.Attachment,
			Location:   env.Message.Location,
			Contact:    env.Message.Contact,
		}
		if env.Status != nil {
			w.Status = env.Status.State
			w.QRCode = env.Status.QRCode
			w.RequestID = env.Status.RequestID
		}
		return json.Marshal(w)
	}
	return nil, fmt.Errorf("encode: unknown envelope kind %q", env.Kind)
}
