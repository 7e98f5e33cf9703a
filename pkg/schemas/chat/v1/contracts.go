package chat

// EnvelopeKind discriminates the decoded variants carried over the broker.
type EnvelopeKind string

const (
	KindMessage EnvelopeKind = "message"
	KindCommand EnvelopeKind = "command"
	KindStatus  EnvelopeKind = "status"
)

// Envelope is the decoded union of everything that travels over the two
// gateway queues. Exactly one of Message/Command is set according to Kind;
// Status may additionally accompany a message, since the client piggybacks
// connection state onto regular traffic.
type Envelope struct {
	Kind    EnvelopeKind
	Message *MessageEnvelope
	Command *CommandEnvelope
	Status  *StatusUpdate
}

// MediaType classifies message content.
type MediaType string

const (
	MediaText     MediaType = "text"
	MediaAudio    MediaType = "audio"
	MediaImage    MediaType = "image"
	MediaVideo    MediaType = "video"
	MediaDocument MediaType = "document"
	MediaLocation MediaType = "location"
	MediaContact  MediaType = "contact"
)

// Attachment is the normalized media record. After decoding, MimeType and
// FileName are always populated for media messages.
type Attachment struct {
	DataURL  string `json:"dataUrl,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	FileName string `json:"fileName,omitempty"`
	MediaTyp string `json:"mediaType,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

type ContactCard struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
