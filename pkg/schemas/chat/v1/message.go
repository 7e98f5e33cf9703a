package chat

import "time"

// MessageEnvelope is one chat message, inbound or outbound. Transient:
// built by the codec, passed by value through router and producer, never
// mutated after creation.
type MessageEnvelope struct {
	// Provider message id; unique per direction.
	ID string `json:"id"`
	// From/To are normalized bare digit strings after decoding.
	From string `json:"from"`
	To   string `json:"to,omitempty"`
	// Body holds text, or may carry a data URL for media on the wire.
	Body string    `json:"body,omitempty"`
	Type MediaType `json:"type"`

	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"isFromMe,omitempty"`

	Attachment *Attachment  `json:"attachment,omitempty"`
	Location   *Location    `json:"location,omitempty"`
	Contact    *ContactCard `json:"contact,omitempty"`
}

// HasMedia reports whether the declared type requires an attachment.
func (m MessageEnvelope) HasMedia() bool {
	switch m.Type {
	case MediaAudio, MediaImage, MediaVideo, MediaDocument:
		return true
	}
	return false
}

func (m *MessageEnvelope) Validate() error {
	ve := &ValidationError{}
	if m.ID == "" {
		ve.add("id", "required")
	}
	if m.From == "" {
		ve.add("from", "required")
	}
	switch m.Type {
	case MediaText:
		if m.Body == "" {
			ve.add("body", "required for text")
		}
	case MediaAudio, MediaImage, MediaVideo, MediaDocument:
		if m.Body == "" && m.Attachment == nil {
			ve.add("attachment", "required for media")
		}
	case MediaLocation:
		if m.Location == nil {
			ve.add("location", "required for location")
		}
	case MediaContact:
		if m.Contact == nil {
			ve.add("contact", "required for contact")
		}
	case "":
		ve.add("type", "required")
	default:
		ve.add("type", "unknown")
	}
	if len(ve.Issues) > 0 {
		return ve
	}
	return nil
}
